package usage_test

import (
	"sync"
	"testing"
	"time"

	"github.com/germanamz/promptlab/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
)

func TestTokenCount_Total(t *testing.T) {
	tc := usage.TokenCount{PromptTokens: 100, CompletionTokens: 50}
	assert.Equal(t, 150, tc.Total())
}

func TestTracker_Record_And_Count(t *testing.T) {
	var tr usage.Tracker

	assert.Equal(t, 0, tr.Count())

	tr.Record(usage.TokenCount{PromptTokens: 10, CompletionTokens: 5}, time.Second, true)
	tr.Record(usage.TokenCount{}, 3*time.Second, false)

	s := tr.Snapshot()
	assert.Equal(t, 2, s.Calls)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, 2*time.Second, s.AverageTime())
	assert.InDelta(t, 0.5, s.SuccessRate(), 1e-9)
	assert.False(t, s.LastCall.IsZero())
}

func TestTracker_Last_IgnoresFailures(t *testing.T) {
	var tr usage.Tracker

	_, ok := tr.Last()
	assert.False(t, ok)

	tr.Record(usage.TokenCount{PromptTokens: 20, CompletionTokens: 10}, 0, true)
	tr.Record(usage.TokenCount{}, 0, false)

	tc, ok := tr.Last()
	assert.True(t, ok)
	assert.Equal(t, usage.TokenCount{PromptTokens: 20, CompletionTokens: 10}, tc)
}

func TestTracker_Total(t *testing.T) {
	var tr usage.Tracker

	tr.Record(usage.TokenCount{PromptTokens: 10, CompletionTokens: 5}, 0, true)
	tr.Record(usage.TokenCount{PromptTokens: 20, CompletionTokens: 10}, 0, true)

	total := tr.Total()
	assert.Equal(t, 30, total.PromptTokens)
	assert.Equal(t, 15, total.CompletionTokens)
	assert.Equal(t, 45, total.Total())
}

func TestTracker_Reset(t *testing.T) {
	var tr usage.Tracker

	tr.Record(usage.TokenCount{PromptTokens: 10}, time.Second, true)
	tr.Reset()

	assert.Equal(t, usage.Stats{}, tr.Snapshot())

	_, ok := tr.Last()
	assert.False(t, ok)
}

func TestStats_EmptyRates(t *testing.T) {
	var s usage.Stats

	assert.Zero(t, s.AverageTime())
	assert.Zero(t, s.SuccessRate())
}

func TestTracker_Concurrent_Record(t *testing.T) {
	var tr usage.Tracker

	const goroutines = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			tr.Record(usage.TokenCount{PromptTokens: 1, CompletionTokens: 1}, time.Millisecond, true)
		}()
	}

	wg.Wait()

	assert.Equal(t, goroutines, tr.Count())

	total := tr.Total()
	assert.Equal(t, goroutines, total.PromptTokens)
	assert.Equal(t, goroutines, total.CompletionTokens)
}
