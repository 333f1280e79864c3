// Package anthropic provides an Adapter for the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

const (
	messagesPath = "/v1/messages"
	modelsPath   = "/v1/models"

	apiVersion   = "2023-06-01"
	checkTimeout = 10 * time.Second
)

// Limits are the parameter bounds the Messages API accepts.
var Limits = genconfig.Limits{MaxTemperature: 1}

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for the Anthropic Messages API.
type Adapter struct {
	*modeladapter.ModelAdapter
}

// New creates an Adapter configured for the Anthropic API.
// An empty baseURL selects "https://api.anthropic.com".
func New(baseURL, apiKey, model string) (*Adapter, error) {
	if apiKey == "" {
		return nil, apperr.Configuration("ANTHROPIC_API_KEY is not set")
	}
	if model == "" {
		return nil, apperr.Configuration("model name is required")
	}
	if baseURL == "" {
		baseURL = provider.Anthropic.DefaultBaseURL()
	}

	ma := modeladapter.New(strings.TrimSuffix(baseURL, "/"), modeladapter.Auth{
		Key:    apiKey,
		Header: "x-api-key",
	}, nil)
	ma.Provider = provider.Anthropic
	ma.Name = model
	ma.Limits = Limits
	ma.Headers = map[string]string{
		"anthropic-version": apiVersion,
	}

	return &Adapter{ModelAdapter: ma}, nil
}

// Provider returns provider.Anthropic.
func (a *Adapter) Provider() provider.ID { return a.ModelAdapter.Provider }

// Model returns the bound model name.
func (a *Adapter) Model() string { return a.Name }

// Limits returns the accepted parameter ranges.
func (a *Adapter) Limits() genconfig.Limits { return a.ModelAdapter.Limits }

// CheckConnection lists the account's models.
func (a *Adapter) CheckConnection(ctx context.Context) modeladapter.ConnectionStatus {
	start := time.Now()
	timeout := a.CheckBound(checkTimeout)

	ctx, cancel := a.WithTimeout(ctx, timeout)
	defer cancel()

	var resp modelsResponse
	if err := a.GetJSON(ctx, modelsPath, &resp); err != nil {
		return a.Disconnected(start, timeout, err)
	}

	names := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		names = append(names, m.ID)
	}

	return a.Connected(start, names, fmt.Sprintf("connected, %d models available", len(names)))
}

// AvailableModels lists the account's models, falling back to the static
// catalog when the listing fails.
func (a *Adapter) AvailableModels(ctx context.Context) ([]modeladapter.ModelInfo, error) {
	ctx, cancel := a.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var resp modelsResponse
	if err := a.GetJSON(ctx, modelsPath, &resp); err != nil {
		return a.AvailableOrStatic(nil, fmt.Errorf("anthropic: list models: %w", err))
	}

	out := make([]modeladapter.ModelInfo, 0, len(resp.Data))
	for _, m := range resp.Data {
		info, ok := a.FindStatic(m.ID)
		if !ok {
			info = modeladapter.ModelInfo{
				Name:          m.ID,
				DisplayName:   m.DisplayName,
				Provider:      provider.Anthropic,
				ContextLength: 200000,
			}
		}
		info.Available = true
		out = append(out, info)
	}

	return out, nil
}

// Generate sends prompt as a single user turn.
func (a *Adapter) Generate(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) modeladapter.ModelResponse {
	return a.Chat(ctx, []message.Message{message.User(prompt)}, cfg)
}

// GenerateAsync runs Generate on its own goroutine.
func (a *Adapter) GenerateAsync(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) <-chan modeladapter.ModelResponse {
	return modeladapter.Go(func() modeladapter.ModelResponse { return a.Generate(ctx, prompt, cfg) })
}

// Chat sends a conversation to the Messages API. System messages are lifted
// into the top-level system field.
func (a *Adapter) Chat(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) modeladapter.ModelResponse {
	start := time.Now()

	gc, err := a.ResolveConfig(cfg)
	if err != nil {
		return a.Failed(start, err)
	}

	req := a.buildRequest(msgs, gc)

	ctx, cancel := a.WithTimeout(ctx, 0)
	defer cancel()

	var resp apiResponse
	if err := a.PostJSON(ctx, messagesPath, req, &resp); err != nil {
		return a.Failed(start, err)
	}

	return a.Succeeded(start, resp.completion())
}

// ChatAsync runs Chat on its own goroutine.
func (a *Adapter) ChatAsync(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) <-chan modeladapter.ModelResponse {
	return modeladapter.Go(func() modeladapter.ModelResponse { return a.Chat(ctx, msgs, cfg) })
}

// --- request types ---

type apiRequest struct {
	Model         string       `json:"model"`
	MaxTokens     int          `json:"max_tokens"`
	System        string       `json:"system,omitempty"`
	Messages      []apiMessage `json:"messages"`
	Temperature   *float64     `json:"temperature,omitempty"`
	TopP          *float64     `json:"top_p,omitempty"`
	TopK          *int         `json:"top_k,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- response types ---

type apiResponse struct {
	ID         string         `json:"id"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      apiUsage       `json:"usage"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type modelsResponse struct {
	Data []struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"data"`
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message, gc genconfig.GenerationConfig) apiRequest {
	system, rest := message.SplitSystem(msgs)
	if system == "" {
		system = gc.SystemPrompt.Or("")
	}

	req := apiRequest{
		Model:         a.Name,
		MaxTokens:     gc.MaxTokens.Or(genconfig.DefaultMaxTokens),
		System:        system,
		Temperature:   gc.Temperature.Ptr(),
		TopP:          gc.TopP.Ptr(),
		TopK:          gc.TopK.Ptr(),
		StopSequences: gc.StopSequences,
	}

	req.Messages = make([]apiMessage, 0, len(rest))
	for _, m := range rest {
		req.Messages = append(req.Messages, apiMessage{Role: m.Role.String(), Content: m.Content})
	}

	return req
}

func (r apiResponse) completion() modeladapter.Completion {
	var text strings.Builder
	for _, b := range r.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}

	meta := map[string]any{}
	if r.ID != "" {
		meta["id"] = r.ID
	}
	if r.StopReason != "" {
		meta[modeladapter.MetaFinishReason] = r.StopReason
	}

	return modeladapter.Completion{
		Content:          text.String(),
		PromptTokens:     modeladapter.IntPtr(r.Usage.InputTokens),
		CompletionTokens: modeladapter.IntPtr(r.Usage.OutputTokens),
		Metadata:         meta,
	}
}
