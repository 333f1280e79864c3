package client

import (
	"context"
	"math"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

// Generator is the call surface shared by Client and Retrying.
type Generator interface {
	Generate(ctx context.Context, prompt string, t Target, cfg *genconfig.GenerationConfig) (modeladapter.ModelResponse, error)
	Chat(ctx context.Context, msgs []message.Message, t Target, cfg *genconfig.GenerationConfig) (modeladapter.ModelResponse, error)
}

var (
	_ Generator = (*Client)(nil)
	_ Generator = (*Retrying)(nil)
)

// RetryOpts configures Retrying.
type RetryOpts struct {
	MaxRetries int           // Retries after the first attempt (default 3).
	BaseDelay  time.Duration // Initial backoff delay (default 1s).
	RPM        int           // Requests per minute across all targets (0 = no limit).
}

// Retrying wraps a Generator with exponential backoff and jitter on
// retryable failures and an optional requests-per-minute window. Failures
// that are not retryable, and the last failure once retries run out, are
// returned unchanged.
type Retrying struct {
	inner      Generator
	maxRetries int
	baseDelay  time.Duration
	rpm        int

	mu     sync.Mutex
	window []time.Time

	nowFunc   func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
	randFunc  func() float64
}

// NewRetrying wraps inner.
func NewRetrying(inner Generator, opts RetryOpts) *Retrying {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}

	return &Retrying{
		inner:      inner,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		rpm:        opts.RPM,
		nowFunc:    time.Now,
		sleepFunc:  contextSleep,
		randFunc:   rand.Float64,
	}
}

// SetNowFunc overrides the time source (for testing).
func (r *Retrying) SetNowFunc(fn func() time.Time) { r.nowFunc = fn }

// SetSleepFunc overrides the sleep function (for testing).
func (r *Retrying) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	r.sleepFunc = fn
}

// SetRandFunc overrides the random number generator (for testing).
func (r *Retrying) SetRandFunc(fn func() float64) { r.randFunc = fn }

func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Generate implements Generator.
func (r *Retrying) Generate(ctx context.Context, prompt string, t Target, cfg *genconfig.GenerationConfig) (modeladapter.ModelResponse, error) {
	return r.do(ctx, t, func() (modeladapter.ModelResponse, error) {
		return r.inner.Generate(ctx, prompt, t, cfg)
	})
}

// Chat implements Generator.
func (r *Retrying) Chat(ctx context.Context, msgs []message.Message, t Target, cfg *genconfig.GenerationConfig) (modeladapter.ModelResponse, error) {
	return r.do(ctx, t, func() (modeladapter.ModelResponse, error) {
		return r.inner.Chat(ctx, msgs, t, cfg)
	})
}

func (r *Retrying) do(ctx context.Context, t Target, call func() (modeladapter.ModelResponse, error)) (modeladapter.ModelResponse, error) {
	var resp modeladapter.ModelResponse
	for attempt := range r.maxRetries + 1 {
		if err := r.waitForCapacity(ctx); err != nil {
			if attempt > 0 {
				return resp, nil
			}
			return modeladapter.NewFailure(t.Provider, t.Model, 0, modeladapter.Classify(err), err.Error(), nil), nil
		}
		r.record()

		var err error
		resp, err = call()
		if err != nil || resp.Success || !Retryable(resp) {
			return resp, err
		}

		if attempt >= r.maxRetries {
			break
		}

		backoff := r.jitter(max(
			r.baseDelay*time.Duration(math.Pow(2, float64(attempt))), //nolint:mnd // exponential backoff
			retryAfter(resp),
		))

		if err := r.sleepFunc(ctx, backoff); err != nil {
			return resp, nil
		}
	}

	return resp, nil
}

// Retryable reports whether a failed response may succeed when repeated:
// connection and timeout failures, HTTP 429 and 5xx.
func Retryable(resp modeladapter.ModelResponse) bool {
	if resp.Success {
		return false
	}
	if resp.ErrorKind.Retryable() {
		return true
	}
	if resp.ErrorKind != modeladapter.FailureHTTPStatus {
		return false
	}

	code, ok := resp.Metadata[modeladapter.MetaStatusCode].(int)
	if !ok {
		return false
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func retryAfter(resp modeladapter.ModelResponse) time.Duration {
	s, ok := resp.Metadata[modeladapter.MetaRetryAfter].(string)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// jitter applies ±25% random jitter to a duration.
func (r *Retrying) jitter(d time.Duration) time.Duration {
	factor := 0.75 + r.randFunc()*0.5 //nolint:mnd // jitter range: ±25%
	return time.Duration(float64(d) * factor)
}

// pruneWindow drops requests older than one minute. Must be called with mu held.
func (r *Retrying) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(r.window) && !r.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.window = append(r.window[:0:0], r.window[i:]...)
	}
}

func (r *Retrying) record() {
	if r.rpm <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.window = append(r.window, r.nowFunc())
}

// waitForCapacity blocks until the request window has room.
func (r *Retrying) waitForCapacity(ctx context.Context) error {
	if r.rpm <= 0 {
		return nil
	}

	for {
		r.mu.Lock()
		now := r.nowFunc()
		r.pruneWindow(now)

		if len(r.window) < r.rpm {
			r.mu.Unlock()
			return nil
		}

		waitDur := max(r.window[0].Add(time.Minute).Sub(now), 0)
		r.mu.Unlock()

		const minWait = 10 * time.Millisecond
		if waitDur < minWait {
			waitDur = minWait
		}

		if err := r.sleepFunc(ctx, waitDur); err != nil {
			return err
		}
	}
}
