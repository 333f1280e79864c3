package client

import (
	"net/http"
	"time"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/anthropic"
	"github.com/germanamz/promptlab/pkg/providers/ollama"
	"github.com/germanamz/promptlab/pkg/providers/openai"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

// Spec is everything a Factory needs to build one adapter instance.
type Spec struct {
	Provider     provider.ID
	Model        string
	BaseURL      string
	APIKey       string //nolint:gosec // configuration field, not a hardcoded secret
	Timeout      time.Duration
	Defaults     genconfig.GenerationConfig // Catalog defaults for the model.
	Policy       genconfig.MergePolicy
	StaticModels []modeladapter.ModelInfo // Fallback catalog for the provider.
	HTTPClient   *http.Client
}

// Factory builds an adapter from a Spec. Missing credentials and other setup
// problems are returned as errors; they are never deferred to call time.
type Factory func(Spec) (modeladapter.Adapter, error)

// DefaultFactories returns the built-in factory for every known provider.
func DefaultFactories() map[provider.ID]Factory {
	out := make(map[provider.ID]Factory, len(provider.All()))
	for _, id := range provider.All() {
		switch id.Family() {
		case provider.FamilyLocal:
			out[id] = newOllama
		case provider.FamilyOpenAI:
			out[id] = newOpenAI
		case provider.FamilyAnthropic:
			out[id] = newAnthropic
		}
	}
	return out
}

func newOllama(s Spec) (modeladapter.Adapter, error) {
	if s.Model == "" {
		return nil, apperr.Configuration("model name is required")
	}
	a := ollama.New(s.BaseURL, s.Model)
	apply(a.ModelAdapter, s)
	return a, nil
}

func newOpenAI(s Spec) (modeladapter.Adapter, error) {
	a, err := openai.New(s.Provider, s.BaseURL, s.APIKey, s.Model)
	if err != nil {
		return nil, err
	}
	apply(a.ModelAdapter, s)
	return a, nil
}

func newAnthropic(s Spec) (modeladapter.Adapter, error) {
	a, err := anthropic.New(s.BaseURL, s.APIKey, s.Model)
	if err != nil {
		return nil, err
	}
	apply(a.ModelAdapter, s)
	return a, nil
}

// apply copies the per-instance settings onto the shared adapter base.
// Provider-specific limits set by the constructor are left alone.
func apply(ma *modeladapter.ModelAdapter, s Spec) {
	ma.Timeout = s.Timeout
	ma.Client = s.HTTPClient
	ma.Defaults = s.Defaults
	ma.Policy = s.Policy
	ma.StaticModels = s.StaticModels
}
