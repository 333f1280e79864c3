package provider_test

import (
	"testing"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	id, err := provider.Parse(" DeepSeek ")
	require.NoError(t, err)
	assert.Equal(t, provider.DeepSeek, id)

	id, err = provider.Parse("ernie")
	require.NoError(t, err)
	assert.Equal(t, provider.Qianfan, id)
}

func TestParse_Unknown(t *testing.T) {
	_, err := provider.Parse("skynet")
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestFamily(t *testing.T) {
	assert.Equal(t, provider.FamilyLocal, provider.Ollama.Family())
	assert.Equal(t, provider.FamilyAnthropic, provider.Anthropic.Family())

	for _, id := range []provider.ID{provider.OpenAI, provider.DeepSeek, provider.VLLM, provider.Moonshot, provider.Qwen, provider.ChatGLM, provider.Qianfan} {
		assert.Equal(t, provider.FamilyOpenAI, id.Family(), id)
	}

	assert.Equal(t, provider.FamilyUnknown, provider.ID("nope").Family())
}

func TestRequiresAPIKey(t *testing.T) {
	assert.False(t, provider.Ollama.RequiresAPIKey())
	assert.False(t, provider.VLLM.RequiresAPIKey())
	assert.True(t, provider.OpenAI.RequiresAPIKey())
	assert.True(t, provider.Anthropic.RequiresAPIKey())
}

func TestAll_ReturnsCopy(t *testing.T) {
	ids := provider.All()
	ids[0] = "mutated"

	assert.Equal(t, provider.Ollama, provider.All()[0])
	assert.Len(t, provider.All(), 9)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "CHATGLM", provider.ChatGLM.EnvPrefix())
}

func TestDefaultBaseURL(t *testing.T) {
	for _, id := range provider.All() {
		assert.NotEmpty(t, id.DefaultBaseURL(), id)
	}
	assert.Equal(t, "http://localhost:11434", provider.Ollama.DefaultBaseURL())
	assert.Equal(t, "https://dashscope.aliyuncs.com/compatible-mode/v1", provider.Qwen.DefaultBaseURL())
	assert.Empty(t, provider.ID("nope").DefaultBaseURL())
}
