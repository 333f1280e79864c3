package genconfig_test

import (
	"testing"

	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalogDefaults() genconfig.GenerationConfig {
	return genconfig.GenerationConfig{Temperature: genconfig.Some(0.3)}
}

// A caller asking for the global default temperature loses to the catalog
// under the sentinel policy.
func TestMerge_SentinelOverridesGlobalDefault(t *testing.T) {
	caller := genconfig.GenerationConfig{Temperature: genconfig.Some(genconfig.DefaultTemperature)}

	got := genconfig.PolicySentinel.Merge(catalogDefaults(), &caller)

	assert.Equal(t, 0.3, got.Temperature.Or(-1))
}

func TestMerge_ExplicitKeepsCallerValue(t *testing.T) {
	caller := genconfig.GenerationConfig{Temperature: genconfig.Some(genconfig.DefaultTemperature)}

	got := genconfig.PolicyExplicit.Merge(catalogDefaults(), &caller)

	assert.Equal(t, genconfig.DefaultTemperature, got.Temperature.Or(-1))
}

func TestMerge_SentinelKeepsNonDefaultCallerValue(t *testing.T) {
	caller := genconfig.GenerationConfig{Temperature: genconfig.Some(1.2)}

	got := genconfig.PolicySentinel.Merge(catalogDefaults(), &caller)

	assert.Equal(t, 1.2, got.Temperature.Or(-1))
}

func TestMerge_UnsetCallerFieldsFallBackToCatalog(t *testing.T) {
	catalog := genconfig.GenerationConfig{
		Temperature:   genconfig.Some(0.8),
		TopK:          genconfig.Some(50),
		RepeatPenalty: genconfig.Some(1.05),
		MaxTokens:     genconfig.Some(8192),
	}
	caller := genconfig.GenerationConfig{MaxTokens: genconfig.Some(100)}

	for _, p := range []genconfig.MergePolicy{genconfig.PolicyExplicit, genconfig.PolicySentinel} {
		got := p.Merge(catalog, &caller)

		assert.Equal(t, 0.8, got.Temperature.Or(-1), p)
		assert.Equal(t, 50, got.TopK.Or(-1), p)
		assert.Equal(t, 1.05, got.RepeatPenalty.Or(-1), p)
		assert.Equal(t, 100, got.MaxTokens.Or(-1), p)
	}
}

func TestMerge_NilCallerReturnsCatalog(t *testing.T) {
	got := genconfig.PolicyExplicit.Merge(catalogDefaults(), nil)

	assert.Equal(t, catalogDefaults(), got)
}

func TestMerge_DoesNotAliasStopSequences(t *testing.T) {
	caller := genconfig.GenerationConfig{StopSequences: []string{"END"}}

	got := genconfig.Merge(genconfig.GenerationConfig{}, caller)
	got.StopSequences[0] = "changed"

	assert.Equal(t, "END", caller.StopSequences[0])
}

func TestParsePolicy(t *testing.T) {
	p, err := genconfig.ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, genconfig.PolicyExplicit, p)

	p, err = genconfig.ParsePolicy("Sentinel")
	require.NoError(t, err)
	assert.Equal(t, genconfig.PolicySentinel, p)

	_, err = genconfig.ParsePolicy("random")
	require.Error(t, err)
}
