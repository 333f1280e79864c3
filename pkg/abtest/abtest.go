// Package abtest runs an original and an optimized prompt against the same
// model with the same test input and compares the two responses.
package abtest

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

// DefaultMaxTestLength caps the test input, in runes.
const DefaultMaxTestLength = 5000

// Request describes one comparison.
type Request struct {
	OriginalPrompt  string                      `json:"original_prompt"`
	OptimizedPrompt string                      `json:"optimized_prompt"`
	TestInput       string                      `json:"test_input"`
	Target          client.Target               `json:"target"`
	Config          *genconfig.GenerationConfig `json:"generation_config,omitempty"`
}

// Metrics compares the two responses. Lengths are in runes; times are in
// seconds. Differences are optimized minus original.
type Metrics struct {
	OriginalResponseTime  float64 `json:"original_response_time"`
	OptimizedResponseTime float64 `json:"optimized_response_time"`
	TimeDifference        float64 `json:"time_difference"`
	OriginalLength        int     `json:"original_length"`
	OptimizedLength       int     `json:"optimized_length"`
	LengthDifference      int     `json:"length_difference"`
	QualityRatio          float64 `json:"quality_ratio"`
	OriginalTokens        *int    `json:"original_tokens,omitempty"`
	OptimizedTokens       *int    `json:"optimized_tokens,omitempty"`
}

// Result is the outcome of one comparison. Failures of either side are
// recorded in its response and in Error.
type Result struct {
	Request   Request                    `json:"request"`
	Original  modeladapter.ModelResponse `json:"original_response"`
	Optimized modeladapter.ModelResponse `json:"optimized_response"`
	Metrics   Metrics                    `json:"metrics"`
	Error     string                     `json:"error,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
}

// Succeeded reports whether both sides succeeded.
func (r Result) Succeeded() bool { return r.Original.Success && r.Optimized.Success }

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMaxTestLength overrides the test input cap.
func WithMaxTestLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTestLength = n
		}
	}
}

// Service runs comparisons.
type Service struct {
	gen           client.Generator
	log           zerolog.Logger
	maxTestLength int
}

// New creates a Service.
func New(gen client.Generator, opts ...Option) *Service {
	s := &Service{gen: gen, log: zerolog.Nop(), maxTestLength: DefaultMaxTestLength}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) validate(req Request) error {
	if strings.TrimSpace(req.OriginalPrompt) == "" {
		return apperr.Validation("original_prompt", "must not be empty")
	}
	if strings.TrimSpace(req.OptimizedPrompt) == "" {
		return apperr.Validation("optimized_prompt", "must not be empty")
	}
	if strings.TrimSpace(req.TestInput) == "" {
		return apperr.Validation("test_input", "must not be empty")
	}
	if n := utf8.RuneCountInString(req.TestInput); n > s.maxTestLength {
		return apperr.Validation("test_input", "length %d exceeds the maximum of %d", n, s.maxTestLength)
	}
	return nil
}

// Combine joins a prompt and the test input the way both sides are sent.
func Combine(prompt, input string) string {
	return prompt + "\n\n" + input
}

// Compare runs both prompts concurrently. Only validation problems are
// returned as errors.
func (s *Service) Compare(ctx context.Context, req Request) (Result, error) {
	if err := s.validate(req); err != nil {
		return Result{}, err
	}

	var (
		wg                  sync.WaitGroup
		original, optimized modeladapter.ModelResponse
		origErr, optErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		original, origErr = s.gen.Generate(ctx, Combine(req.OriginalPrompt, req.TestInput), req.Target, req.Config)
	}()
	go func() {
		defer wg.Done()
		optimized, optErr = s.gen.Generate(ctx, Combine(req.OptimizedPrompt, req.TestInput), req.Target, req.Config)
	}()
	wg.Wait()

	original = orFailure(original, origErr, req.Target)
	optimized = orFailure(optimized, optErr, req.Target)

	res := Result{
		Request:   req,
		Original:  original,
		Optimized: optimized,
		Metrics:   ComputeMetrics(original, optimized),
		CreatedAt: time.Now(),
	}

	switch {
	case !original.Success && !optimized.Success:
		res.Error = "both calls failed: " + original.Error
	case !original.Success:
		res.Error = "original prompt failed: " + original.Error
	case !optimized.Success:
		res.Error = "optimized prompt failed: " + optimized.Error
	}

	ev := s.log.Info()
	if res.Error != "" {
		ev = s.log.Warn().Str("error", res.Error)
	}
	ev.Str("target", req.Target.Key()).Float64("quality_ratio", res.Metrics.QualityRatio).Msg("prompts compared")

	return res, nil
}

// CompareAsync runs Compare on its own goroutine.
func (s *Service) CompareAsync(ctx context.Context, req Request) <-chan AsyncResult {
	return modeladapter.Go(func() AsyncResult {
		r, err := s.Compare(ctx, req)
		return AsyncResult{Result: r, Err: err}
	})
}

// AsyncResult carries the outcome of CompareAsync.
type AsyncResult struct {
	Result Result
	Err    error
}

func orFailure(resp modeladapter.ModelResponse, err error, t client.Target) modeladapter.ModelResponse {
	if err == nil {
		return resp
	}
	return modeladapter.NewFailure(t.Provider, t.Model, 0, modeladapter.FailureRequest, err.Error(), nil)
}

// ComputeMetrics compares two responses. The quality ratio is the optimized
// length relative to the original, in percent, capped at 100.
func ComputeMetrics(original, optimized modeladapter.ModelResponse) Metrics {
	origLen := utf8.RuneCountInString(original.Content)
	optLen := utf8.RuneCountInString(optimized.Content)

	m := Metrics{
		OriginalResponseTime:  original.ResponseTime.Seconds(),
		OptimizedResponseTime: optimized.ResponseTime.Seconds(),
		OriginalLength:        origLen,
		OptimizedLength:       optLen,
		LengthDifference:      optLen - origLen,
		QualityRatio:          min(100, float64(optLen)/float64(max(origLen, 1))*100),
	}
	m.TimeDifference = m.OptimizedResponseTime - m.OriginalResponseTime

	if original.PromptTokens != nil || original.CompletionTokens != nil {
		m.OriginalTokens = modeladapter.IntPtr(original.TokensUsed())
	}
	if optimized.PromptTokens != nil || optimized.CompletionTokens != nil {
		m.OptimizedTokens = modeladapter.IntPtr(optimized.TokensUsed())
	}

	return m
}
