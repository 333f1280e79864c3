// Package genconfig defines the sampling parameters for a single model call.
//
// Every scalar field is an [Opt]: unset fields are dropped from [GenerationConfig.ToMap]
// and from JSON, so a merge never overwrites a catalog default with an absent
// value. Numeric fields are validated against provider limits and rejected,
// never clamped.
package genconfig

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	"github.com/germanamz/promptlab/pkg/apperr"
)

// Global construction defaults, used when neither the caller nor the model
// catalog sets a value.
const (
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
	DefaultMaxTokens   = 4096
)

// Map keys used by ToMap and FromMap.
const (
	KeyTemperature      = "temperature"
	KeyTopP             = "top_p"
	KeyTopK             = "top_k"
	KeyMaxTokens        = "max_tokens"
	KeyStopSequences    = "stop_sequences"
	KeyStream           = "stream"
	KeySystemPrompt     = "system_prompt"
	KeyFrequencyPenalty = "frequency_penalty"
	KeyPresencePenalty  = "presence_penalty"
	KeyRepeatPenalty    = "repeat_penalty"
)

// GenerationConfig holds the tunable decoding parameters for one call.
// The zero value has every field unset.
type GenerationConfig struct {
	Temperature      Opt[float64] `json:"temperature,omitzero"`
	TopP             Opt[float64] `json:"top_p,omitzero"`
	TopK             Opt[int]     `json:"top_k,omitzero"`
	MaxTokens        Opt[int]     `json:"max_tokens,omitzero"`
	StopSequences    []string     `json:"stop_sequences,omitempty"`
	Stream           Opt[bool]    `json:"stream,omitzero"` // Only false is accepted.
	SystemPrompt     Opt[string]  `json:"system_prompt,omitzero"`
	FrequencyPenalty Opt[float64] `json:"frequency_penalty,omitzero"`
	PresencePenalty  Opt[float64] `json:"presence_penalty,omitzero"`
	RepeatPenalty    Opt[float64] `json:"repeat_penalty,omitzero"`
}

// Defaults returns a config with the three global defaults set explicitly.
func Defaults() GenerationConfig {
	return GenerationConfig{
		Temperature: Some(DefaultTemperature),
		TopP:        Some(DefaultTopP),
		MaxTokens:   Some(DefaultMaxTokens),
	}
}

// Effective returns a copy with the global defaults filled into unset
// temperature, top_p and max_tokens.
func (c GenerationConfig) Effective() GenerationConfig {
	out := c.Clone()
	if !out.Temperature.IsSet() {
		out.Temperature = Some(DefaultTemperature)
	}
	if !out.TopP.IsSet() {
		out.TopP = Some(DefaultTopP)
	}
	if !out.MaxTokens.IsSet() {
		out.MaxTokens = Some(DefaultMaxTokens)
	}
	return out
}

// Clone returns a deep copy.
func (c GenerationConfig) Clone() GenerationConfig {
	out := c
	out.StopSequences = slices.Clone(c.StopSequences)
	return out
}

// Limits bounds the accepted parameter ranges for a provider.
type Limits struct {
	MaxTemperature float64 // Inclusive upper bound for temperature.
	MaxTokens      int     // Upper bound for max_tokens; 0 means no known bound.
}

// DefaultLimits are the bounds accepted by OpenAI-compatible and local backends.
var DefaultLimits = Limits{MaxTemperature: 2}

// Validate reports the first field outside the accepted range as a
// ValidationError. Unset fields are not checked.
func (c GenerationConfig) Validate(l Limits) error {
	maxTemp := l.MaxTemperature
	if maxTemp <= 0 {
		maxTemp = DefaultLimits.MaxTemperature
	}

	if v, ok := c.Temperature.Get(); ok && (math.IsNaN(v) || v < 0 || v > maxTemp) {
		return apperr.Validation(KeyTemperature, "must be between 0 and %g, got %g", maxTemp, v)
	}
	if v, ok := c.TopP.Get(); ok && (math.IsNaN(v) || v < 0 || v > 1) {
		return apperr.Validation(KeyTopP, "must be between 0 and 1, got %g", v)
	}
	if v, ok := c.TopK.Get(); ok && v < 1 {
		return apperr.Validation(KeyTopK, "must be at least 1, got %d", v)
	}
	if v, ok := c.MaxTokens.Get(); ok {
		if v <= 0 {
			return apperr.Validation(KeyMaxTokens, "must be positive, got %d", v)
		}
		if l.MaxTokens > 0 && v > l.MaxTokens {
			return apperr.Validation(KeyMaxTokens, "must not exceed %d, got %d", l.MaxTokens, v)
		}
	}
	if v, ok := c.FrequencyPenalty.Get(); ok && (math.IsNaN(v) || v < -2 || v > 2) {
		return apperr.Validation(KeyFrequencyPenalty, "must be between -2 and 2, got %g", v)
	}
	if v, ok := c.PresencePenalty.Get(); ok && (math.IsNaN(v) || v < -2 || v > 2) {
		return apperr.Validation(KeyPresencePenalty, "must be between -2 and 2, got %g", v)
	}
	if v, ok := c.RepeatPenalty.Get(); ok && (math.IsNaN(v) || v <= 0) {
		return apperr.Validation(KeyRepeatPenalty, "must be positive, got %g", v)
	}
	for i, s := range c.StopSequences {
		if s == "" {
			return apperr.Validation(KeyStopSequences, "entry %d is empty", i)
		}
	}
	// Responses are always delivered whole.
	if v, ok := c.Stream.Get(); ok && v {
		return apperr.Validation(KeyStream, "streaming responses are not supported")
	}

	return nil
}

// ToMap returns the set fields keyed by their wire names. Unset fields are
// absent, never nil.
func (c GenerationConfig) ToMap() map[string]any {
	m := make(map[string]any)
	putOpt(m, KeyTemperature, c.Temperature)
	putOpt(m, KeyTopP, c.TopP)
	putOpt(m, KeyTopK, c.TopK)
	putOpt(m, KeyMaxTokens, c.MaxTokens)
	if len(c.StopSequences) > 0 {
		m[KeyStopSequences] = slices.Clone(c.StopSequences)
	}
	putOpt(m, KeyStream, c.Stream)
	putOpt(m, KeySystemPrompt, c.SystemPrompt)
	putOpt(m, KeyFrequencyPenalty, c.FrequencyPenalty)
	putOpt(m, KeyPresencePenalty, c.PresencePenalty)
	putOpt(m, KeyRepeatPenalty, c.RepeatPenalty)
	return m
}

func putOpt[T any](m map[string]any, key string, o Opt[T]) {
	if v, ok := o.Get(); ok {
		m[key] = v
	}
}

// FromMap builds a config from a map produced by ToMap, a decoded JSON object
// or a YAML mapping. Unknown keys are ignored; nil values leave a field unset.
func FromMap(m map[string]any) (GenerationConfig, error) {
	var c GenerationConfig
	var err error

	if c.Temperature, err = floatOpt(m, KeyTemperature); err != nil {
		return c, err
	}
	if c.TopP, err = floatOpt(m, KeyTopP); err != nil {
		return c, err
	}
	if c.TopK, err = intOpt(m, KeyTopK); err != nil {
		return c, err
	}
	if c.MaxTokens, err = intOpt(m, KeyMaxTokens); err != nil {
		return c, err
	}
	if c.FrequencyPenalty, err = floatOpt(m, KeyFrequencyPenalty); err != nil {
		return c, err
	}
	if c.PresencePenalty, err = floatOpt(m, KeyPresencePenalty); err != nil {
		return c, err
	}
	if c.RepeatPenalty, err = floatOpt(m, KeyRepeatPenalty); err != nil {
		return c, err
	}

	if raw, ok := m[KeyStream]; ok && raw != nil {
		b, ok := raw.(bool)
		if !ok {
			return c, apperr.Validation(KeyStream, "expected bool, got %T", raw)
		}
		c.Stream = Some(b)
	}

	if raw, ok := m[KeySystemPrompt]; ok && raw != nil {
		s, ok := raw.(string)
		if !ok {
			return c, apperr.Validation(KeySystemPrompt, "expected string, got %T", raw)
		}
		c.SystemPrompt = Some(s)
	}

	if raw, ok := m[KeyStopSequences]; ok && raw != nil {
		switch v := raw.(type) {
		case []string:
			c.StopSequences = slices.Clone(v)
		case []any:
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return c, apperr.Validation(KeyStopSequences, "expected strings, got %T", item)
				}
				c.StopSequences = append(c.StopSequences, s)
			}
		default:
			return c, apperr.Validation(KeyStopSequences, "expected list, got %T", raw)
		}
	}

	return c, nil
}

func floatOpt(m map[string]any, key string) (Opt[float64], error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return None[float64](), nil
	}

	switch v := raw.(type) {
	case float64:
		return Some(v), nil
	case float32:
		return Some(float64(v)), nil
	case int:
		return Some(float64(v)), nil
	case int64:
		return Some(float64(v)), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return None[float64](), apperr.Validation(key, "invalid number %q", v.String())
		}
		return Some(f), nil
	}

	return None[float64](), apperr.Validation(key, "expected number, got %T", raw)
}

func intOpt(m map[string]any, key string) (Opt[int], error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return None[int](), nil
	}

	switch v := raw.(type) {
	case int:
		return Some(v), nil
	case int64:
		return Some(int(v)), nil
	case float64:
		if v != math.Trunc(v) {
			return None[int](), apperr.Validation(key, "expected integer, got %g", v)
		}
		return Some(int(v)), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return None[int](), apperr.Validation(key, "invalid integer %q", v.String())
		}
		return Some(int(n)), nil
	}

	return None[int](), apperr.Validation(key, "expected integer, got %T", raw)
}

// String renders the set fields for logging.
func (c GenerationConfig) String() string {
	return fmt.Sprint(c.ToMap())
}
