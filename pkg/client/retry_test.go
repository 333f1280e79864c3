package client_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGenerator replays a fixed sequence of responses.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []modeladapter.ModelResponse
	calls     int
}

func (g *scriptedGenerator) next() modeladapter.ModelResponse {
	g.mu.Lock()
	defer g.mu.Unlock()

	i := min(g.calls, len(g.responses)-1)
	g.calls++
	return g.responses[i]
}

func (g *scriptedGenerator) Generate(context.Context, string, client.Target, *genconfig.GenerationConfig) (modeladapter.ModelResponse, error) {
	return g.next(), nil
}

func (g *scriptedGenerator) Chat(context.Context, []message.Message, client.Target, *genconfig.GenerationConfig) (modeladapter.ModelResponse, error) {
	return g.next(), nil
}

func ok() modeladapter.ModelResponse {
	return modeladapter.NewSuccess(provider.Ollama, "m", 0, modeladapter.Completion{Content: "done"})
}

func failure(kind modeladapter.FailureKind, meta map[string]any) modeladapter.ModelResponse {
	return modeladapter.NewFailure(provider.Ollama, "m", 0, kind, "failed", meta)
}

func status(code int) modeladapter.ModelResponse {
	return failure(modeladapter.FailureHTTPStatus, map[string]any{modeladapter.MetaStatusCode: code})
}

// newTestRetrying returns a Retrying with a fixed clock, no jitter and a
// sleep that records delays and advances the clock.
func newTestRetrying(inner client.Generator, opts client.RetryOpts) (*client.Retrying, *[]time.Duration) {
	r := client.NewRetrying(inner, opts)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var sleeps []time.Duration

	r.SetNowFunc(func() time.Time { return now })
	r.SetRandFunc(func() float64 { return 0.5 })
	r.SetSleepFunc(func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		now = now.Add(d)
		return nil
	})

	return r, &sleeps
}

func TestRetrying_PassthroughOnSuccess(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{ok()}}
	r, sleeps := newTestRetrying(g, client.RetryOpts{})

	resp, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, g.calls)
	assert.Empty(t, *sleeps)
}

func TestRetrying_BacksOffOnRetryableFailures(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{
		failure(modeladapter.FailureConnection, nil),
		status(503),
		ok(),
	}}
	r, sleeps := newTestRetrying(g, client.RetryOpts{BaseDelay: 100 * time.Millisecond})

	resp, err := r.Chat(context.Background(), []message.Message{message.User("hi")}, ollamaTarget, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, g.calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestRetrying_HonorsRetryAfter(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{
		failure(modeladapter.FailureHTTPStatus, map[string]any{
			modeladapter.MetaStatusCode: 429,
			modeladapter.MetaRetryAfter: (5 * time.Second).String(),
		}),
		ok(),
	}}
	r, sleeps := newTestRetrying(g, client.RetryOpts{BaseDelay: time.Second})

	resp, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, []time.Duration{5 * time.Second}, *sleeps)
}

func TestRetrying_DoesNotRetryPermanentFailures(t *testing.T) {
	tests := []struct {
		name string
		resp modeladapter.ModelResponse
	}{
		{"401", status(401)},
		{"404", status(404)},
		{"invalid response", failure(modeladapter.FailureInvalidResponse, nil)},
		{"request", failure(modeladapter.FailureRequest, nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &scriptedGenerator{responses: []modeladapter.ModelResponse{tt.resp, ok()}}
			r, sleeps := newTestRetrying(g, client.RetryOpts{})

			resp, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, 1, g.calls)
			assert.Empty(t, *sleeps)
		})
	}
}

func TestRetrying_ExhaustsRetries(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{failure(modeladapter.FailureTimeout, nil)}}
	r, sleeps := newTestRetrying(g, client.RetryOpts{MaxRetries: 2, BaseDelay: time.Second})

	resp, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, modeladapter.FailureTimeout, resp.ErrorKind)
	assert.Equal(t, 3, g.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *sleeps)
}

func TestRetrying_Jitter(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{status(500), ok()}}
	r, sleeps := newTestRetrying(g, client.RetryOpts{BaseDelay: time.Second})
	r.SetRandFunc(func() float64 { return 0 })

	_, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{750 * time.Millisecond}, *sleeps)
}

func TestRetrying_RequestsPerMinute(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{ok()}}
	r, sleeps := newTestRetrying(g, client.RetryOpts{RPM: 2})

	for range 3 {
		_, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, 3, g.calls)
	assert.Equal(t, []time.Duration{time.Minute}, *sleeps)
}

func TestRetrying_CancelledWhileWaiting(t *testing.T) {
	g := &scriptedGenerator{responses: []modeladapter.ModelResponse{ok()}}
	r := client.NewRetrying(g, client.RetryOpts{RPM: 1})

	_, err := r.Generate(context.Background(), "p", ollamaTarget, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := r.Generate(ctx, "p", ollamaTarget, nil)
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, g.calls)
}

func TestRetryable(t *testing.T) {
	assert.False(t, client.Retryable(ok()))
	assert.True(t, client.Retryable(failure(modeladapter.FailureConnection, nil)))
	assert.True(t, client.Retryable(status(429)))
	assert.True(t, client.Retryable(status(502)))
	assert.False(t, client.Retryable(status(400)))
	assert.False(t, client.Retryable(failure(modeladapter.FailureHTTPStatus, nil)))
}
