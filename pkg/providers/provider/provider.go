// Package provider defines the identity of every supported LLM backend.
package provider

import (
	"strings"

	"github.com/germanamz/promptlab/pkg/apperr"
)

// ID identifies an LLM backend. It is used as part of the adapter cache key.
type ID string

const (
	Ollama    ID = "ollama"
	VLLM      ID = "vllm"
	OpenAI    ID = "openai"
	DeepSeek  ID = "deepseek"
	Moonshot  ID = "moonshot"
	Qwen      ID = "qwen"
	ChatGLM   ID = "chatglm"
	Qianfan   ID = "qianfan"
	Anthropic ID = "anthropic"
)

// Family groups providers that share a wire protocol.
type Family int

const (
	FamilyUnknown Family = iota
	// FamilyLocal is the local inference daemon REST dialect (/api/generate, /api/chat, /api/tags).
	FamilyLocal
	// FamilyOpenAI covers every backend exposing the Chat Completions wire shape.
	FamilyOpenAI
	// FamilyAnthropic is the Messages API.
	FamilyAnthropic
)

func (f Family) String() string {
	switch f {
	case FamilyLocal:
		return "local"
	case FamilyOpenAI:
		return "openai-compatible"
	case FamilyAnthropic:
		return "anthropic"
	}
	return "unknown"
}

var all = []ID{Ollama, VLLM, OpenAI, DeepSeek, Moonshot, Qwen, ChatGLM, Qianfan, Anthropic}

var displayNames = map[ID]string{
	Ollama:    "Ollama",
	VLLM:      "vLLM",
	OpenAI:    "OpenAI",
	DeepSeek:  "DeepSeek",
	Moonshot:  "Moonshot",
	Qwen:      "Qwen (DashScope)",
	ChatGLM:   "ChatGLM (Zhipu)",
	Qianfan:   "Qianfan (Baidu)",
	Anthropic: "Anthropic",
}

var defaultBaseURLs = map[ID]string{
	Ollama:    "http://localhost:11434",
	VLLM:      "http://localhost:8000/v1",
	OpenAI:    "https://api.openai.com/v1",
	DeepSeek:  "https://api.deepseek.com",
	Moonshot:  "https://api.moonshot.cn/v1",
	Qwen:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
	ChatGLM:   "https://open.bigmodel.cn/api/paas/v4",
	Qianfan:   "https://qianfan.baidubce.com/v2",
	Anthropic: "https://api.anthropic.com",
}

// All returns every known provider in display order.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

// Parse converts a case-insensitive name into an ID. "ernie" is accepted as
// an alias for Qianfan.
func Parse(s string) (ID, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "ernie" {
		return Qianfan, nil
	}

	id := ID(name)
	if !id.Valid() {
		return "", apperr.Configuration("unknown provider %q", s)
	}
	return id, nil
}

// Valid reports whether id is a known provider.
func (id ID) Valid() bool {
	_, ok := displayNames[id]
	return ok
}

// String returns the underlying string value.
func (id ID) String() string { return string(id) }

// DisplayName returns a human-readable name.
func (id ID) DisplayName() string {
	if n, ok := displayNames[id]; ok {
		return n
	}
	return string(id)
}

// Family returns the wire protocol family of id.
func (id ID) Family() Family {
	switch id {
	case Ollama:
		return FamilyLocal
	case VLLM, OpenAI, DeepSeek, Moonshot, Qwen, ChatGLM, Qianfan:
		return FamilyOpenAI
	case Anthropic:
		return FamilyAnthropic
	}
	return FamilyUnknown
}

// RequiresAPIKey reports whether the provider is unusable without a key.
// Self-hosted backends only need a reachable base URL.
func (id ID) RequiresAPIKey() bool {
	return id != Ollama && id != VLLM
}

// EnvPrefix returns the environment variable prefix used for this provider's
// settings, e.g. "DEEPSEEK" for DEEPSEEK_API_KEY.
func (id ID) EnvPrefix() string {
	return strings.ToUpper(string(id))
}

// DefaultBaseURL returns the endpoint used when no base URL is configured.
// OpenAI-compatible URLs include the version segment, so adapters append
// only the resource path.
func (id ID) DefaultBaseURL() string {
	return defaultBaseURLs[id]
}
