package modeladapter

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/germanamz/promptlab/pkg/modeladapter/usage"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

// Well-known metadata keys.
const (
	MetaStatusCode      = "status_code"
	MetaRetryAfter      = "retry_after"
	MetaFinishReason    = "finish_reason"
	MetaTotalTokens     = "total_tokens"
	MetaTokensEstimated = "tokens_estimated"
)

// Completion carries the parsed result of a successful call into NewSuccess.
type Completion struct {
	Content          string
	PromptTokens     *int
	CompletionTokens *int
	Cost             *float64
	Metadata         map[string]any
}

func (c Completion) tokenCount() usage.TokenCount {
	var tc usage.TokenCount
	if c.PromptTokens != nil {
		tc.PromptTokens = *c.PromptTokens
	}
	if c.CompletionTokens != nil {
		tc.CompletionTokens = *c.CompletionTokens
	}
	return tc
}

// IntPtr returns a pointer to v. Adapters use it for optional token counts.
func IntPtr(v int) *int { return &v }

// ModelResponse is the normalized result of a generate or chat call. Success
// and failure both travel in this value; remote failures are never returned
// as Go errors. A response is built once and never modified afterwards.
type ModelResponse struct {
	Content          string         `json:"content"`
	Model            string         `json:"model"`
	Provider         provider.ID    `json:"provider"`
	Success          bool           `json:"success"`
	ResponseTime     time.Duration  `json:"-"`
	PromptTokens     *int           `json:"prompt_tokens,omitempty"`
	CompletionTokens *int           `json:"completion_tokens,omitempty"`
	Cost             *float64       `json:"cost,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	Error            string         `json:"error,omitempty"`
	ErrorKind        FailureKind    `json:"error_kind,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// NewSuccess builds a successful response. Metadata is copied.
func NewSuccess(p provider.ID, model string, elapsed time.Duration, c Completion) ModelResponse {
	return ModelResponse{
		Content:          c.Content,
		Model:            model,
		Provider:         p,
		Success:          true,
		ResponseTime:     elapsed,
		PromptTokens:     clonePtr(c.PromptTokens),
		CompletionTokens: clonePtr(c.CompletionTokens),
		Cost:             clonePtr(c.Cost),
		Metadata:         maps.Clone(c.Metadata),
		CreatedAt:        time.Now(),
	}
}

// NewFailure builds a failed response with empty content.
func NewFailure(p provider.ID, model string, elapsed time.Duration, kind FailureKind, msg string, meta map[string]any) ModelResponse {
	return ModelResponse{
		Model:        model,
		Provider:     p,
		Success:      false,
		ResponseTime: elapsed,
		Metadata:     maps.Clone(meta),
		Error:        msg,
		ErrorKind:    kind,
		CreatedAt:    time.Now(),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// TokensUsed returns prompt plus completion tokens, counting absent values as zero.
func (r ModelResponse) TokensUsed() int {
	n := 0
	if r.PromptTokens != nil {
		n += *r.PromptTokens
	}
	if r.CompletionTokens != nil {
		n += *r.CompletionTokens
	}
	return n
}

// Meta returns a metadata value.
func (r ModelResponse) Meta(key string) (any, bool) {
	v, ok := r.Metadata[key]
	return v, ok
}

// MarshalJSON adds response_time in seconds.
func (r ModelResponse) MarshalJSON() ([]byte, error) {
	type alias ModelResponse
	return json.Marshal(struct {
		alias
		ResponseTime float64 `json:"response_time"`
		TokensUsed   int     `json:"tokens_used"`
	}{alias(r), r.ResponseTime.Seconds(), r.TokensUsed()})
}

// ConnectionStatus is the result of a connection check.
type ConnectionStatus struct {
	Provider     provider.ID   `json:"provider"`
	Connected    bool          `json:"connected"`
	Message      string        `json:"message"`
	CheckedAt    time.Time     `json:"checked_at"`
	Models       []string      `json:"models,omitempty"`
	Error        string        `json:"error,omitempty"`
	ResponseTime time.Duration `json:"-"`
}

// MarshalJSON adds response_time in seconds.
func (s ConnectionStatus) MarshalJSON() ([]byte, error) {
	type alias ConnectionStatus
	return json.Marshal(struct {
		alias
		ResponseTime float64 `json:"response_time"`
	}{alias(s), s.ResponseTime.Seconds()})
}

// ModelInfo is a catalog entry for a selectable model.
type ModelInfo struct {
	Name          string         `json:"name"`
	DisplayName   string         `json:"display_name"`
	Provider      provider.ID    `json:"provider"`
	Description   string         `json:"description,omitempty"`
	Category      string         `json:"category,omitempty"`
	ContextLength int            `json:"context_length,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	Available     bool           `json:"available"`
	Size          int64          `json:"size,omitempty"`
	ModifiedAt    string         `json:"modified_at,omitempty"`
}

// Clone returns a copy that shares no maps with m.
func (m ModelInfo) Clone() ModelInfo {
	out := m
	out.Parameters = maps.Clone(m.Parameters)
	return out
}

// ModelNames returns the names of infos, in order.
func ModelNames(infos []ModelInfo) []string {
	names := make([]string, 0, len(infos))
	for _, m := range infos {
		names = append(names, m.Name)
	}
	return slices.Clip(names)
}
