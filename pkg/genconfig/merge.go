package genconfig

import (
	"slices"
	"strings"

	"github.com/germanamz/promptlab/pkg/apperr"
)

// MergePolicy decides how a caller config is layered over catalog defaults.
type MergePolicy string

const (
	// PolicyExplicit lets every explicitly set caller field win over the
	// catalog default, including values equal to a global default.
	PolicyExplicit MergePolicy = "explicit"
	// PolicySentinel treats a caller field equal to its global construction
	// default as "not set", so the catalog default replaces it. A caller who
	// deliberately asks for temperature 0.7 on a model whose catalog default
	// is 0.3 gets 0.3.
	PolicySentinel MergePolicy = "sentinel"
)

// ParsePolicy converts a name into a MergePolicy. An empty name selects
// PolicyExplicit.
func ParsePolicy(s string) (MergePolicy, error) {
	switch MergePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyExplicit:
		return PolicyExplicit, nil
	case PolicySentinel:
		return PolicySentinel, nil
	}
	return "", apperr.Configuration("unknown merge policy %q", s)
}

// Merge layers caller over catalog. A nil caller yields the catalog defaults.
// The result is not passed through Effective.
func (p MergePolicy) Merge(catalog GenerationConfig, caller *GenerationConfig) GenerationConfig {
	if caller == nil {
		return catalog.Clone()
	}
	if p == PolicySentinel {
		return mergeSentinel(catalog, *caller)
	}
	return Merge(catalog, *caller)
}

// Merge returns base with every set field of override applied on top.
func Merge(base, override GenerationConfig) GenerationConfig {
	out := base.Clone()
	out.Temperature = pick(out.Temperature, override.Temperature)
	out.TopP = pick(out.TopP, override.TopP)
	out.TopK = pick(out.TopK, override.TopK)
	out.MaxTokens = pick(out.MaxTokens, override.MaxTokens)
	out.Stream = pick(out.Stream, override.Stream)
	out.SystemPrompt = pick(out.SystemPrompt, override.SystemPrompt)
	out.FrequencyPenalty = pick(out.FrequencyPenalty, override.FrequencyPenalty)
	out.PresencePenalty = pick(out.PresencePenalty, override.PresencePenalty)
	out.RepeatPenalty = pick(out.RepeatPenalty, override.RepeatPenalty)
	if override.StopSequences != nil {
		out.StopSequences = slices.Clone(override.StopSequences)
	}
	return out
}

func pick[T any](base, override Opt[T]) Opt[T] {
	if override.IsSet() {
		return override
	}
	return base
}

// mergeSentinel starts from the caller and lets a catalog value replace any
// field still at its construction default.
func mergeSentinel(catalog, caller GenerationConfig) GenerationConfig {
	out := caller.Clone()
	out.Temperature = sentinel(caller.Temperature, DefaultTemperature, catalog.Temperature)
	out.TopP = sentinel(caller.TopP, DefaultTopP, catalog.TopP)
	out.MaxTokens = sentinel(caller.MaxTokens, DefaultMaxTokens, catalog.MaxTokens)
	out.Stream = sentinel(caller.Stream, false, catalog.Stream)
	out.FrequencyPenalty = sentinel(caller.FrequencyPenalty, 0, catalog.FrequencyPenalty)
	out.PresencePenalty = sentinel(caller.PresencePenalty, 0, catalog.PresencePenalty)

	// Fields whose construction default is "absent".
	out.TopK = pick(catalog.TopK, caller.TopK)
	out.SystemPrompt = pick(catalog.SystemPrompt, caller.SystemPrompt)
	out.RepeatPenalty = pick(catalog.RepeatPenalty, caller.RepeatPenalty)
	if caller.StopSequences == nil {
		out.StopSequences = slices.Clone(catalog.StopSequences)
	}
	return out
}

func sentinel[T comparable](caller Opt[T], def T, catalog Opt[T]) Opt[T] {
	if caller.Or(def) != def {
		return caller
	}
	if catalog.IsSet() {
		return catalog
	}
	return caller
}
