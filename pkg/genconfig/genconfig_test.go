package genconfig_test

import (
	"encoding/json"
	"testing"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMap_DropsUnsetFields(t *testing.T) {
	c := genconfig.GenerationConfig{
		Temperature: genconfig.Some(0.2),
		TopK:        genconfig.Some(40),
	}

	m := c.ToMap()

	assert.Equal(t, map[string]any{"temperature": 0.2, "top_k": 40}, m)
	assert.NotContains(t, m, "top_p")
	assert.NotContains(t, m, "stop_sequences")
}

func TestToMap_KeepsExplicitZeroValues(t *testing.T) {
	c := genconfig.GenerationConfig{
		Temperature: genconfig.Some(0.0),
		Stream:      genconfig.Some(false),
	}

	assert.Equal(t, map[string]any{"temperature": 0.0, "stream": false}, c.ToMap())
}

func TestFromMap_RoundTrip(t *testing.T) {
	c := genconfig.GenerationConfig{
		Temperature:      genconfig.Some(1.1),
		TopP:             genconfig.Some(0.5),
		TopK:             genconfig.Some(20),
		MaxTokens:        genconfig.Some(256),
		StopSequences:    []string{"###"},
		Stream:           genconfig.Some(true),
		SystemPrompt:     genconfig.Some("be brief"),
		FrequencyPenalty: genconfig.Some(0.3),
		PresencePenalty:  genconfig.Some(-0.4),
		RepeatPenalty:    genconfig.Some(1.05),
	}

	got, err := genconfig.FromMap(c.ToMap())
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestFromMap_DecodedJSONNumbers(t *testing.T) {
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"temperature":0.3,"max_tokens":8192,"top_k":50,"stop_sequences":["a","b"],"unknown":1}`), &m))

	c, err := genconfig.FromMap(m)
	require.NoError(t, err)

	assert.Equal(t, genconfig.Some(0.3), c.Temperature)
	assert.Equal(t, genconfig.Some(8192), c.MaxTokens)
	assert.Equal(t, genconfig.Some(50), c.TopK)
	assert.Equal(t, []string{"a", "b"}, c.StopSequences)
	assert.False(t, c.TopP.IsSet())
}

func TestFromMap_RejectsWrongTypes(t *testing.T) {
	_, err := genconfig.FromMap(map[string]any{"temperature": "hot"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	_, err = genconfig.FromMap(map[string]any{"max_tokens": 1.5})
	require.Error(t, err)
}

func TestValidate_RejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name  string
		cfg   genconfig.GenerationConfig
		field string
	}{
		{"temperature high", genconfig.GenerationConfig{Temperature: genconfig.Some(2.5)}, "temperature"},
		{"temperature negative", genconfig.GenerationConfig{Temperature: genconfig.Some(-0.1)}, "temperature"},
		{"top_p", genconfig.GenerationConfig{TopP: genconfig.Some(1.2)}, "top_p"},
		{"top_k", genconfig.GenerationConfig{TopK: genconfig.Some(0)}, "top_k"},
		{"max_tokens", genconfig.GenerationConfig{MaxTokens: genconfig.Some(0)}, "max_tokens"},
		{"frequency_penalty", genconfig.GenerationConfig{FrequencyPenalty: genconfig.Some(3.0)}, "frequency_penalty"},
		{"repeat_penalty", genconfig.GenerationConfig{RepeatPenalty: genconfig.Some(0.0)}, "repeat_penalty"},
		{"stop", genconfig.GenerationConfig{StopSequences: []string{""}}, "stop_sequences"},
		{"stream", genconfig.GenerationConfig{Stream: genconfig.Some(true)}, "stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(genconfig.DefaultLimits)
			require.Error(t, err)

			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestValidate_StreamFalseAccepted(t *testing.T) {
	c := genconfig.GenerationConfig{Stream: genconfig.Some(false)}
	require.NoError(t, c.Validate(genconfig.DefaultLimits))
}

func TestValidate_ProviderLimits(t *testing.T) {
	c := genconfig.GenerationConfig{Temperature: genconfig.Some(1.5), MaxTokens: genconfig.Some(9000)}

	require.NoError(t, c.Validate(genconfig.DefaultLimits))
	require.Error(t, c.Validate(genconfig.Limits{MaxTemperature: 1}))
	require.Error(t, c.Validate(genconfig.Limits{MaxTemperature: 2, MaxTokens: 8192}))
}

func TestValidate_DoesNotClamp(t *testing.T) {
	c := genconfig.GenerationConfig{Temperature: genconfig.Some(5.0)}

	_ = c.Validate(genconfig.DefaultLimits)

	assert.Equal(t, genconfig.Some(5.0), c.Temperature)
}

func TestEffective_FillsGlobalDefaults(t *testing.T) {
	c := genconfig.GenerationConfig{Temperature: genconfig.Some(0.1)}.Effective()

	assert.Equal(t, 0.1, c.Temperature.Or(0))
	assert.Equal(t, genconfig.DefaultTopP, c.TopP.Or(0))
	assert.Equal(t, genconfig.DefaultMaxTokens, c.MaxTokens.Or(0))
	assert.False(t, c.TopK.IsSet())
}

func TestJSON_OmitsUnset(t *testing.T) {
	c := genconfig.GenerationConfig{MaxTokens: genconfig.Some(10)}

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"max_tokens":10}`, string(data))

	var back genconfig.GenerationConfig
	require.NoError(t, json.Unmarshal([]byte(`{"max_tokens":10,"temperature":null}`), &back))
	assert.Equal(t, c, back)
}
