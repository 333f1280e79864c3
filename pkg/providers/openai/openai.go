// Package openai provides an Adapter for any backend exposing the OpenAI Chat
// Completions wire shape: OpenAI itself, vLLM gateways, DeepSeek, Moonshot,
// DashScope, Zhipu and Qianfan.
package openai

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

// Paths are relative to a base URL that already carries the version segment
// (e.g. "https://api.openai.com/v1").
const (
	completionsPath = "/chat/completions"
	modelsPath      = "/models"

	checkTimeout = 10 * time.Second
)

var _ modeladapter.Adapter = (*Adapter)(nil)

// Adapter implements modeladapter.Adapter for the Chat Completions API.
type Adapter struct {
	*modeladapter.ModelAdapter

	estimator modeladapter.TokenEstimator
}

// New creates an Adapter bound to model on backend p. An empty baseURL selects
// the provider's default endpoint. A provider that requires a key fails with
// a configuration error when apiKey is empty.
func New(p provider.ID, baseURL, apiKey, model string) (*Adapter, error) {
	if p.Family() != provider.FamilyOpenAI {
		return nil, apperr.Configuration("provider %q does not speak the OpenAI protocol", p)
	}
	if apiKey == "" && p.RequiresAPIKey() {
		return nil, apperr.Configuration("%s_API_KEY is not set", p.EnvPrefix())
	}
	if baseURL == "" {
		baseURL = p.DefaultBaseURL()
	}
	if model == "" {
		return nil, apperr.Configuration("model name is required")
	}

	ma := modeladapter.New(strings.TrimSuffix(baseURL, "/"), modeladapter.Auth{Key: apiKey}, nil)
	ma.Provider = p
	ma.Name = model

	return &Adapter{ModelAdapter: ma}, nil
}

// Provider returns the backend identity.
func (a *Adapter) Provider() provider.ID { return a.ModelAdapter.Provider }

// Model returns the bound model name.
func (a *Adapter) Model() string { return a.Name }

// Limits returns the accepted parameter ranges.
func (a *Adapter) Limits() genconfig.Limits { return a.ModelAdapter.Limits }

// CheckConnection lists the backend's models.
func (a *Adapter) CheckConnection(ctx context.Context) modeladapter.ConnectionStatus {
	start := time.Now()
	timeout := a.CheckBound(checkTimeout)

	ctx, cancel := a.WithTimeout(ctx, timeout)
	defer cancel()

	var resp modelsResponse
	if err := a.GetJSON(ctx, modelsPath, &resp); err != nil {
		return a.Disconnected(start, timeout, err)
	}

	names := resp.names()

	return a.Connected(start, names, fmt.Sprintf("connected, %d models available", len(names)))
}

// AvailableModels lists the backend's models, described from the static
// catalog where an entry exists. On failure the static catalog is returned.
func (a *Adapter) AvailableModels(ctx context.Context) ([]modeladapter.ModelInfo, error) {
	ctx, cancel := a.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var resp modelsResponse
	if err := a.GetJSON(ctx, modelsPath, &resp); err != nil {
		return a.AvailableOrStatic(nil, fmt.Errorf("%s: list models: %w", a.Provider(), err))
	}

	out := make([]modeladapter.ModelInfo, 0, len(resp.Data))
	for _, name := range resp.names() {
		info, ok := a.FindStatic(name)
		if !ok {
			info = modeladapter.ModelInfo{
				Name:        name,
				DisplayName: name,
				Provider:    a.Provider(),
			}
		}
		info.Available = true
		out = append(out, info)
	}

	return out, nil
}

// Generate sends prompt as a single user message, preceded by the configured
// system prompt.
func (a *Adapter) Generate(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) modeladapter.ModelResponse {
	return a.Chat(ctx, []message.Message{message.User(prompt)}, cfg)
}

// GenerateAsync runs Generate on its own goroutine.
func (a *Adapter) GenerateAsync(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) <-chan modeladapter.ModelResponse {
	return modeladapter.Go(func() modeladapter.ModelResponse { return a.Generate(ctx, prompt, cfg) })
}

// Chat sends a conversation to the completions endpoint.
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
	if err := a.PostJSON(ctx, completionsPath, req, &resp); err != nil {
		return a.Failed(start, err)
	}

	if len(resp.Choices) == 0 {
		return a.Failed(start, fmt.Errorf("%w: empty choices in response", modeladapter.ErrInvalidResponse))
	}

	return a.Succeeded(start, a.completion(resp, msgs))
}

// ChatAsync runs Chat on its own goroutine.
func (a *Adapter) ChatAsync(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) <-chan modeladapter.ModelResponse {
	return modeladapter.Go(func() modeladapter.ModelResponse { return a.Chat(ctx, msgs, cfg) })
}

// --- request types ---

type apiRequest struct {
	Model            string       `json:"model"`
	Messages         []apiMessage `json:"messages"`
	Temperature      *float64     `json:"temperature,omitempty"`
	TopP             *float64     `json:"top_p,omitempty"`
	MaxTokens        *int         `json:"max_tokens,omitempty"`
	Stop             []string     `json:"stop,omitempty"`
	FrequencyPenalty *float64     `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64     `json:"presence_penalty,omitempty"`
	Stream           bool         `json:"stream"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- response types ---

type apiResponse struct {
	ID                string      `json:"id"`
	Model             string      `json:"model"`
	SystemFingerprint string      `json:"system_fingerprint"`
	Choices           []apiChoice `json:"choices"`
	Usage             *apiUsage   `json:"usage"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (r modelsResponse) names() []string {
	names := make([]string, 0, len(r.Data))
	for _, m := range r.Data {
		names = append(names, m.ID)
	}
	return names
}

// --- conversion helpers ---

func (a *Adapter) buildRequest(msgs []message.Message, gc genconfig.GenerationConfig) apiRequest {
	req := apiRequest{
		Model:            a.Name,
		Temperature:      gc.Temperature.Ptr(),
		TopP:             gc.TopP.Ptr(),
		MaxTokens:        gc.MaxTokens.Ptr(),
		Stop:             gc.StopSequences,
		FrequencyPenalty: gc.FrequencyPenalty.Ptr(),
		PresencePenalty:  gc.PresencePenalty.Ptr(),
		Stream:           false,
	}

	req.Messages = make([]apiMessage, 0, len(msgs)+1)
	if sp, ok := gc.SystemPrompt.Get(); ok && sp != "" && !message.HasSystem(msgs) {
		req.Messages = append(req.Messages, apiMessage{Role: "system", Content: sp})
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, apiMessage{Role: m.Role.String(), Content: m.Content})
	}

	return req
}

func (a *Adapter) completion(resp apiResponse, msgs []message.Message) modeladapter.Completion {
	choice := resp.Choices[0]

	c := modeladapter.Completion{
		Content:  choice.Message.Content,
		Metadata: map[string]any{},
	}
	if resp.ID != "" {
		c.Metadata["id"] = resp.ID
	}
	if choice.FinishReason != "" {
		c.Metadata[modeladapter.MetaFinishReason] = choice.FinishReason
	}
	if resp.SystemFingerprint != "" {
		c.Metadata["system_fingerprint"] = resp.SystemFingerprint
	}

	if resp.Usage != nil {
		c.PromptTokens = modeladapter.IntPtr(resp.Usage.PromptTokens)
		c.CompletionTokens = modeladapter.IntPtr(resp.Usage.CompletionTokens)
		c.Metadata[modeladapter.MetaTotalTokens] = resp.Usage.TotalTokens
	} else {
		// Some gateways omit usage entirely.
		a.estimator.FillEstimates(&c, msgs)
	}

	return c
}
