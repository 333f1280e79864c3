package session

import (
	"encoding/json"
	"time"
)

// PerformanceMetrics aggregates model calls recorded in a session.
type PerformanceMetrics struct {
	Count     int
	Successes int
	Tokens    int
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// Add records one call.
func (m *PerformanceMetrics) Add(success bool, elapsed time.Duration, tokens int) {
	if m.Count == 0 || elapsed < m.MinTime {
		m.MinTime = elapsed
	}
	if elapsed > m.MaxTime {
		m.MaxTime = elapsed
	}
	m.Count++
	m.TotalTime += elapsed
	m.Tokens += tokens
	if success {
		m.Successes++
	}
}

// AverageTime returns the mean call duration, or zero with no calls.
func (m PerformanceMetrics) AverageTime() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalTime / time.Duration(m.Count)
}

// SuccessRate returns the share of successful calls in [0, 1].
func (m PerformanceMetrics) SuccessRate() float64 {
	if m.Count == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Count)
}

// MarshalJSON reports durations in seconds.
func (m PerformanceMetrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Count       int     `json:"count"`
		Successes   int     `json:"successes"`
		SuccessRate float64 `json:"success_rate"`
		Tokens      int     `json:"tokens"`
		TotalTime   float64 `json:"total_time"`
		AverageTime float64 `json:"average_time"`
		MinTime     float64 `json:"min_time"`
		MaxTime     float64 `json:"max_time"`
	}{
		Count:       m.Count,
		Successes:   m.Successes,
		SuccessRate: m.SuccessRate(),
		Tokens:      m.Tokens,
		TotalTime:   m.TotalTime.Seconds(),
		AverageTime: m.AverageTime().Seconds(),
		MinTime:     m.MinTime.Seconds(),
		MaxTime:     m.MaxTime.Seconds(),
	})
}
