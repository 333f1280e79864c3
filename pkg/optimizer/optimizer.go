// Package optimizer rewrites prompts through a model call under a chosen
// optimization strategy and scores the result with simple text heuristics.
package optimizer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/templates"
)

// DefaultType is the strategy used when a request names none.
const DefaultType = "general"

// DefaultMaxPromptLength caps the original prompt, in runes.
const DefaultMaxPromptLength = 10000

// Request describes one optimization.
type Request struct {
	OriginalPrompt     string                      `json:"original_prompt"`
	Type               string                      `json:"optimization_type,omitempty"`
	Target             client.Target               `json:"target"`
	Config             *genconfig.GenerationConfig `json:"generation_config,omitempty"`
	CustomInstructions string                      `json:"custom_instructions,omitempty"`
}

func (r Request) typ() string {
	if r.Type == "" {
		return DefaultType
	}
	return r.Type
}

// Result is the outcome of one optimization. A failed model call yields a
// Result whose Response has Success == false and whose derived fields are
// empty.
type Result struct {
	Request         Request                    `json:"request"`
	OptimizedPrompt string                     `json:"optimized_prompt"`
	Suggestions     []string                   `json:"suggestions"`
	Response        modeladapter.ModelResponse `json:"response"`
	Metrics         *Metrics                   `json:"metrics,omitempty"`
	TemplateUsed    string                     `json:"template_used,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
}

// Succeeded reports whether the model call succeeded.
func (r Result) Succeeded() bool { return r.Response.Success }

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMaxPromptLength overrides the prompt length cap.
func WithMaxPromptLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPromptLength = n
		}
	}
}

// Service runs optimizations against a Generator.
type Service struct {
	gen             client.Generator
	store           *templates.Store
	log             zerolog.Logger
	maxPromptLength int
}

// New creates a Service.
func New(gen client.Generator, store *templates.Store, opts ...Option) *Service {
	s := &Service{
		gen:             gen,
		store:           store,
		log:             zerolog.Nop(),
		maxPromptLength: DefaultMaxPromptLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Validate reports the errors Optimize would return before calling the model.
func (s *Service) Validate(req Request) error {
	if strings.TrimSpace(req.OriginalPrompt) == "" {
		return apperr.Validation("original_prompt", "must not be empty")
	}
	if n := utf8.RuneCountInString(req.OriginalPrompt); n > s.maxPromptLength {
		return apperr.Validation("original_prompt", "length %d exceeds the maximum of %d", n, s.maxPromptLength)
	}
	if req.Target.Model == "" {
		return apperr.Validation("model", "must be specified")
	}

	key := templates.Key(templates.Optimization, req.typ())
	if !s.store.Exists(key) {
		return &apperr.TemplateError{Key: key, Msg: "optimization template not found"}
	}
	return nil
}

// Optimize rewrites req.OriginalPrompt. Validation and template errors are
// returned; every later failure is reported through a failed Result.
func (s *Service) Optimize(ctx context.Context, req Request) (Result, error) {
	if err := s.Validate(req); err != nil {
		return Result{}, err
	}

	typ := req.typ()
	key := templates.Key(templates.Optimization, typ)

	prompt, err := s.store.Get(key, templates.Context{
		OriginalPrompt:     req.OriginalPrompt,
		CustomInstructions: req.CustomInstructions,
	})
	if err != nil {
		return Result{}, err
	}

	resp, err := s.gen.Generate(ctx, prompt, req.Target, req.Config)
	if err == nil && !resp.Success {
		err = &apperr.ModelError{
			Provider: string(req.Target.Provider),
			Model:    req.Target.Model,
			Msg:      "model call failed: " + resp.Error,
		}
	}
	if err != nil {
		s.log.Error().Err(err).Str("type", typ).Str("target", req.Target.Key()).Msg("prompt optimization failed")
		return failed(req, resp, err), nil
	}

	optimized := ExtractOptimizedPrompt(resp.Content)
	metrics := ComputeMetrics(req.OriginalPrompt, optimized)

	s.log.Info().Str("type", typ).Str("target", req.Target.Key()).Float64("overall", metrics.OverallImprovement).Msg("prompt optimized")

	return Result{
		Request:         req,
		OptimizedPrompt: optimized,
		Suggestions:     Suggestions(req.OriginalPrompt, optimized, typ),
		Response:        resp,
		Metrics:         &metrics,
		TemplateUsed:    key,
		CreatedAt:       time.Now(),
	}, nil
}

// failed builds the Result for a call that did not produce usable content.
// A successful-looking response is replaced so Success is always false.
func failed(req Request, resp modeladapter.ModelResponse, err error) Result {
	out := resp
	if resp.Success || resp.Error == "" {
		out = modeladapter.NewFailure(req.Target.Provider, req.Target.Model, resp.ResponseTime, modeladapter.FailureUnknown, err.Error(), nil)
	} else {
		out.Error = err.Error()
	}

	return Result{
		Request:     req,
		Suggestions: []string{},
		Response:    out,
		CreatedAt:   time.Now(),
	}
}

// OptimizeAsync runs Optimize on its own goroutine.
func (s *Service) OptimizeAsync(ctx context.Context, req Request) <-chan AsyncResult {
	return modeladapter.Go(func() AsyncResult {
		r, err := s.Optimize(ctx, req)
		return AsyncResult{Result: r, Err: err}
	})
}

// AsyncResult carries the outcome of OptimizeAsync.
type AsyncResult struct {
	Result Result
	Err    error
}

// EvaluationPrompt renders the evaluation template comparing two prompts.
func (s *Service) EvaluationPrompt(original, optimized, typ string) (string, error) {
	if typ == "" {
		typ = "comparison"
	}
	return s.store.Get(templates.Key(templates.Evaluation, typ), templates.Context{
		OriginalPrompt:  original,
		OptimizedPrompt: optimized,
	})
}

// TestPrompt renders the testing template that combines a prompt with test
// content.
func (s *Service) TestPrompt(prompt, testContent, typ string) (string, error) {
	if typ == "" {
		typ = "simple"
	}
	out, err := s.store.Get(templates.Key(templates.Testing, typ), templates.Context{
		OriginalPrompt: prompt,
		TestContent:    testContent,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Types lists the optimization strategies.
func (s *Service) Types() []templates.TypeInfo {
	return s.store.Types(templates.Optimization)
}

// RoleSuggestions returns persona suggestions for the content type detected
// in text.
func (s *Service) RoleSuggestions(text string) templates.RoleSuggestion {
	return s.store.RoleSuggestions(DetectContentType(text))
}

var contentKeywords = []struct {
	contentType string
	keywords    []string
}{
	{"code", []string{"代码", "编程", "算法", "函数", "code", "programming"}},
	{"writing", []string{"写作", "文章", "文案", "创作", "writing", "article"}},
	{"analysis", []string{"分析", "数据", "研究", "评估", "analysis", "research"}},
}

// DetectContentType classifies text as code, writing, analysis or general
// by keyword.
func DetectContentType(text string) string {
	lower := strings.ToLower(text)
	for _, ck := range contentKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(lower, kw) {
				return ck.contentType
			}
		}
	}
	return "general"
}

// Diff returns a unified diff from original to optimized. It is empty when
// both are equal.
func Diff(original, optimized string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(optimized),
		FromFile: "original",
		ToFile:   "optimized",
		Context:  3,
	}

	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", fmt.Errorf("optimizer: diff: %w", err)
	}
	return out, nil
}
