// Package session keeps the transient, in-memory state of one user session:
// bounded optimization and test histories, current preferences and a task
// board for background work. Nothing is persisted.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/optimizer"
)

// HistoryLimit caps each history; the oldest entries are evicted first.
const HistoryLimit = 50

// DefaultRecent is the number of entries returned by the Recent helpers when
// n <= 0.
const DefaultRecent = 10

// Preferences are the selections a user last made.
type Preferences struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

// Session is safe for concurrent use.
type Session struct {
	id        string
	createdAt time.Time
	tasks     *Board

	mu            sync.RWMutex
	lastActive    time.Time
	prefs         Preferences
	optimizations []optimizer.Result
	tests         []abtest.Result
}

// New creates a Session. An empty id is replaced with a random one.
func New(id string) *Session {
	if id == "" {
		id = newID()
	}
	now := time.Now()
	return &Session{id: id, createdAt: now, lastActive: now, tasks: &Board{}}
}

func newID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session started.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActive returns the time of the last recorded action.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Tasks returns the session's task board.
func (s *Session) Tasks() *Board { return s.tasks }

// Preferences returns the current preferences.
func (s *Session) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetPreferences replaces the non-empty fields of p.
func (s *Session) SetPreferences(p Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Provider != "" {
		s.prefs.Provider = p.Provider
	}
	if p.Model != "" {
		s.prefs.Model = p.Model
	}
	if p.Strategy != "" {
		s.prefs.Strategy = p.Strategy
	}
	s.lastActive = time.Now()
}

// push appends v and drops the oldest entries beyond HistoryLimit.
func push[T any](list []T, v T) []T {
	list = append(list, v)
	if over := len(list) - HistoryLimit; over > 0 {
		list = slices.Delete(list, 0, over)
	}
	return list
}

// AddOptimization records an optimization result.
func (s *Session) AddOptimization(r optimizer.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.optimizations = push(s.optimizations, r)
	s.lastActive = time.Now()
}

// AddTest records a comparison result.
func (s *Session) AddTest(r abtest.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tests = push(s.tests, r)
	s.lastActive = time.Now()
}

// recent returns up to n entries, newest first.
func recent[T any](list []T, n int) []T {
	if n <= 0 {
		n = DefaultRecent
	}
	n = min(n, len(list))

	out := make([]T, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out
}

// RecentOptimizations returns up to n optimizations, newest first.
func (s *Session) RecentOptimizations(n int) []optimizer.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recent(s.optimizations, n)
}

// RecentTests returns up to n comparisons, newest first.
func (s *Session) RecentTests(n int) []abtest.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return recent(s.tests, n)
}

// Optimizations returns the full optimization history, oldest first.
func (s *Session) Optimizations() []optimizer.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.optimizations)
}

// Tests returns the full comparison history, oldest first.
func (s *Session) Tests() []abtest.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.tests)
}

// Clear drops both histories. Preferences are kept.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.optimizations = nil
	s.tests = nil
	s.lastActive = time.Now()
}

// Metrics aggregates the optimization history.
func (s *Session) Metrics() PerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m PerformanceMetrics
	for _, r := range s.optimizations {
		m.Add(r.Response.Success, r.Response.ResponseTime, r.Response.TokensUsed())
	}
	for _, r := range s.tests {
		m.Add(r.Original.Success, r.Original.ResponseTime, r.Original.TokensUsed())
		m.Add(r.Optimized.Success, r.Optimized.ResponseTime, r.Optimized.TokensUsed())
	}
	return m
}

// Snapshot is a JSON-friendly view of a session.
type Snapshot struct {
	ID            string             `json:"id"`
	CreatedAt     time.Time          `json:"created_at"`
	LastActive    time.Time          `json:"last_active"`
	Preferences   Preferences        `json:"preferences"`
	Optimizations []optimizer.Result `json:"optimization_history"`
	Tests         []abtest.Result    `json:"test_history"`
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ID:            s.id,
		CreatedAt:     s.createdAt,
		LastActive:    s.lastActive,
		Preferences:   s.prefs,
		Optimizations: slices.Clone(s.optimizations),
		Tests:         slices.Clone(s.tests),
	}
}
