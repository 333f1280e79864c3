// Package ollama provides an Adapter for a local Ollama daemon.
package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

const (
	generatePath = "/api/generate"
	chatPath     = "/api/chat"
	tagsPath     = "/api/tags"
	showPath     = "/api/show"

	checkTimeout = 5 * time.Second
	listTimeout  = 10 * time.Second
)

// Fallbacks for daemon models missing from the catalog.
const (
	defaultContextLength = 4096
	defaultDescription   = "Local model"
	defaultCategory      = "general"
)

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for the Ollama REST API.
type Adapter struct {
	*modeladapter.ModelAdapter
}

// New creates an Adapter for model served by the daemon at baseURL. An empty
// baseURL selects the stock local address. The daemon needs no API key.
func New(baseURL, model string) *Adapter {
	if baseURL == "" {
		baseURL = provider.Ollama.DefaultBaseURL()
	}

	ma := modeladapter.New(strings.TrimSuffix(baseURL, "/"), modeladapter.Auth{}, nil)
	ma.Provider = provider.Ollama
	ma.Name = model

	return &Adapter{ModelAdapter: ma}
}

// Provider returns provider.Ollama.
func (a *Adapter) Provider() provider.ID { return a.ModelAdapter.Provider }

// Model returns the bound model name.
func (a *Adapter) Model() string { return a.Name }

// Limits returns the accepted parameter ranges.
func (a *Adapter) Limits() genconfig.Limits { return a.ModelAdapter.Limits }

// CheckConnection lists the daemon's models under a short timeout.
func (a *Adapter) CheckConnection(ctx context.Context) modeladapter.ConnectionStatus {
	start := time.Now()
	timeout := a.CheckBound(checkTimeout)

	ctx, cancel := a.WithTimeout(ctx, timeout)
	defer cancel()

	var resp tagsResponse
	if err := a.GetJSON(ctx, tagsPath, &resp); err != nil {
		return a.Disconnected(start, timeout, err)
	}

	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}

	return a.Connected(start, names, fmt.Sprintf("connected, %d models installed", len(names)))
}

// AvailableModels lists installed models enriched with catalog descriptors.
// When the daemon cannot be reached the static catalog is returned.
func (a *Adapter) AvailableModels(ctx context.Context) ([]modeladapter.ModelInfo, error) {
	ctx, cancel := a.WithTimeout(ctx, listTimeout)
	defer cancel()

	var resp tagsResponse
	if err := a.GetJSON(ctx, tagsPath, &resp); err != nil {
		return a.AvailableOrStatic(nil, fmt.Errorf("ollama: list models: %w", err))
	}

	out := make([]modeladapter.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		info := a.describe(m.Name)
		info.Available = true
		info.Size = m.Size
		info.ModifiedAt = m.ModifiedAt
		out = append(out, info)
	}

	return out, nil
}

// ShowModel fetches details for name from the daemon. A model the daemon
// does not know is reported from the catalog as unavailable; an error is
// returned only when neither source has it.
func (a *Adapter) ShowModel(ctx context.Context, name string) (modeladapter.ModelInfo, error) {
	if name == "" {
		name = a.Name
	}

	ctx, cancel := a.WithTimeout(ctx, listTimeout)
	defer cancel()

	var resp showResponse
	err := a.PostJSON(ctx, showPath, showRequest{Name: name}, &resp)

	info, known := a.match(name)
	if err != nil {
		if !known {
			return modeladapter.ModelInfo{}, fmt.Errorf("ollama: show %s: %w", name, err)
		}
		info.Name = name
		info.Available = false
		return info, nil
	}

	info = a.describe(name)
	info.Available = true
	if resp.Details.ParameterSize != "" {
		if info.Parameters == nil {
			info.Parameters = map[string]any{}
		}
		info.Parameters["parameter_size"] = resp.Details.ParameterSize
	}
	if resp.ModifiedAt != "" {
		info.ModifiedAt = resp.ModifiedAt
	}

	return info, nil
}

// Generate sends a single prompt to /api/generate.
func (a *Adapter) Generate(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) modeladapter.ModelResponse {
	start := time.Now()

	gc, err := a.ResolveConfig(cfg)
	if err != nil {
		return a.Failed(start, err)
	}

	req := generateRequest{
		Model:   a.Name,
		Prompt:  prompt,
		Stream:  false,
		Options: buildOptions(gc),
	}
	if sp, ok := gc.SystemPrompt.Get(); ok && sp != "" {
		req.System = sp
	}

	ctx, cancel := a.WithTimeout(ctx, 0)
	defer cancel()

	var resp generateResponse
	if err := a.PostJSON(ctx, generatePath, req, &resp); err != nil {
		return a.Failed(start, err)
	}

	return a.Succeeded(start, resp.completion(resp.Response))
}

// GenerateAsync runs Generate on its own goroutine.
func (a *Adapter) GenerateAsync(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) <-chan modeladapter.ModelResponse {
	return modeladapter.Go(func() modeladapter.ModelResponse { return a.Generate(ctx, prompt, cfg) })
}

// Chat sends a conversation to /api/chat. A configured system prompt is
// prepended unless the conversation already carries one.
func (a *Adapter) Chat(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) modeladapter.ModelResponse {
	start := time.Now()

	gc, err := a.ResolveConfig(cfg)
	if err != nil {
		return a.Failed(start, err)
	}

	req := chatRequest{
		Model:   a.Name,
		Stream:  false,
		Options: buildOptions(gc),
	}
	if sp, ok := gc.SystemPrompt.Get(); ok && sp != "" && !message.HasSystem(msgs) {
		req.Messages = append(req.Messages, apiMessage{Role: "system", Content: sp})
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, apiMessage{Role: m.Role.String(), Content: m.Content})
	}

	ctx, cancel := a.WithTimeout(ctx, 0)
	defer cancel()

	var resp chatResponse
	if err := a.PostJSON(ctx, chatPath, req, &resp); err != nil {
		return a.Failed(start, err)
	}

	return a.Succeeded(start, resp.completion(resp.Message.Content))
}

// ChatAsync runs Chat on its own goroutine.
func (a *Adapter) ChatAsync(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) <-chan modeladapter.ModelResponse {
	return modeladapter.Go(func() modeladapter.ModelResponse { return a.Chat(ctx, msgs, cfg) })
}

// match finds the catalog entry for name, first by exact name and then by
// family, so "qwen2.5:7b" resolves to the "qwen2.5:latest" entry while
// "qwen2.5-coder:7b" does not.
func (a *Adapter) match(name string) (modeladapter.ModelInfo, bool) {
	if m, ok := a.FindStatic(name); ok {
		return m, true
	}
	for _, m := range a.StaticCatalog() {
		family, _, _ := strings.Cut(m.Name, ":")
		if name == family || strings.HasPrefix(name, family+":") {
			return m, true
		}
	}
	return modeladapter.ModelInfo{}, false
}

func (a *Adapter) describe(name string) modeladapter.ModelInfo {
	info, ok := a.match(name)
	if !ok {
		return modeladapter.ModelInfo{
			Name:          name,
			DisplayName:   name,
			Provider:      provider.Ollama,
			Description:   defaultDescription,
			Category:      defaultCategory,
			ContextLength: defaultContextLength,
			Parameters:    genconfig.Defaults().ToMap(),
		}
	}
	info.Name = name
	info.Provider = provider.Ollama
	if info.ContextLength == 0 {
		info.ContextLength = defaultContextLength
	}
	return info
}

// --- request types ---

type options struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"top_p,omitempty"`
	NumPredict       *int     `json:"num_predict,omitempty"`
	TopK             *int     `json:"top_k,omitempty"`
	Stop             []string `json:"stop,omitempty"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	System  string  `json:"system,omitempty"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []apiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  options      `json:"options"`
}

type showRequest struct {
	Name string `json:"name"`
}

// --- response types ---

// stats is the timing and token block shared by generate and chat replies.
type stats struct {
	DoneReason         string `json:"done_reason"`
	TotalDuration      int64  `json:"total_duration"`
	LoadDuration       int64  `json:"load_duration"`
	PromptEvalCount    *int   `json:"prompt_eval_count"`
	PromptEvalDuration int64  `json:"prompt_eval_duration"`
	EvalCount          *int   `json:"eval_count"`
	EvalDuration       int64  `json:"eval_duration"`
}

func (s stats) completion(content string) modeladapter.Completion {
	meta := map[string]any{
		"total_duration":       s.TotalDuration,
		"load_duration":        s.LoadDuration,
		"prompt_eval_duration": s.PromptEvalDuration,
		"eval_duration":        s.EvalDuration,
	}
	if s.DoneReason != "" {
		meta[modeladapter.MetaFinishReason] = s.DoneReason
	}

	return modeladapter.Completion{
		Content:          content,
		PromptTokens:     s.PromptEvalCount,
		CompletionTokens: s.EvalCount,
		Metadata:         meta,
	}
}

type generateResponse struct {
	stats
	Response string `json:"response"`
}

type chatResponse struct {
	stats
	Message apiMessage `json:"message"`
}

type tagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		Size       int64  `json:"size"`
		ModifiedAt string `json:"modified_at"`
	} `json:"models"`
}

type showResponse struct {
	ModifiedAt string `json:"modified_at"`
	Details    struct {
		Family        string `json:"family"`
		ParameterSize string `json:"parameter_size"`
	} `json:"details"`
}

// --- conversion helpers ---

func buildOptions(gc genconfig.GenerationConfig) options {
	return options{
		Temperature:      gc.Temperature.Ptr(),
		TopP:             gc.TopP.Ptr(),
		NumPredict:       gc.MaxTokens.Ptr(),
		TopK:             gc.TopK.Ptr(),
		Stop:             gc.StopSequences,
		RepeatPenalty:    gc.RepeatPenalty.Ptr(),
		FrequencyPenalty: gc.FrequencyPenalty.Ptr(),
		PresencePenalty:  gc.PresencePenalty.Ptr(),
	}
}
