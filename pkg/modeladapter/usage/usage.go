// Package usage tracks per-adapter call statistics.
package usage

import (
	"sync"
	"time"
)

// TokenCount holds prompt and completion token counts for a single LLM call.
type TokenCount struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns the sum of prompt and completion tokens.
func (tc TokenCount) Total() int {
	return tc.PromptTokens + tc.CompletionTokens
}

// Stats is a snapshot of a Tracker.
type Stats struct {
	Calls     int           `json:"calls"`
	Failures  int           `json:"failures"`
	Tokens    TokenCount    `json:"tokens"`
	TotalTime time.Duration `json:"total_time"`
	LastCall  time.Time     `json:"last_call,omitzero"`
}

// AverageTime returns the mean call duration, or zero with no calls.
func (s Stats) AverageTime() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Calls)
}

// SuccessRate returns the share of calls that succeeded, in [0, 1].
func (s Stats) SuccessRate() float64 {
	if s.Calls == 0 {
		return 0
	}
	return float64(s.Calls-s.Failures) / float64(s.Calls)
}

// Tracker accumulates call statistics across multiple LLM calls.
// It is safe for concurrent use. The zero value is ready to use.
type Tracker struct {
	mu    sync.Mutex
	stats Stats
	last  TokenCount
	seen  bool
}

// Record adds one call to the tracker.
func (t *Tracker) Record(tc TokenCount, elapsed time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Calls++
	if !success {
		t.stats.Failures++
	}
	t.stats.Tokens.PromptTokens += tc.PromptTokens
	t.stats.Tokens.CompletionTokens += tc.CompletionTokens
	t.stats.TotalTime += elapsed
	t.stats.LastCall = time.Now()

	if success {
		t.last = tc
		t.seen = true
	}
}

// Last returns the token count of the most recent successful call.
// The bool is false when no call has succeeded yet.
func (t *Tracker) Last() (TokenCount, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last, t.seen
}

// Total returns the aggregate token count across all calls.
func (t *Tracker) Total() TokenCount {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stats.Tokens
}

// Count returns the number of recorded calls.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stats.Calls
}

// Snapshot returns a copy of the current statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.stats
}

// Reset clears all recorded statistics.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats = Stats{}
	t.last = TokenCount{}
	t.seen = false
}
