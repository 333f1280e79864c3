package modeladapter

import (
	"context"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

// Adapter is the capability set every provider backend implements. Generate
// and Chat report remote failures inside the returned ModelResponse; they
// never return them as errors.
type Adapter interface {
	// Provider returns the backend identity the adapter is bound to.
	Provider() provider.ID
	// Model returns the model the adapter is bound to.
	Model() string
	// Limits returns the parameter bounds the backend accepts. Callers
	// validate configs against them before any request is sent.
	Limits() genconfig.Limits
	// CheckConnection checks the backend. It never fails; an unreachable
	// backend yields Connected == false.
	CheckConnection(ctx context.Context) ConnectionStatus
	// AvailableModels returns the remote catalog, falling back to the static
	// catalog when the remote listing fails.
	AvailableModels(ctx context.Context) ([]ModelInfo, error)
	Generate(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) ModelResponse
	GenerateAsync(ctx context.Context, prompt string, cfg *genconfig.GenerationConfig) <-chan ModelResponse
	Chat(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) ModelResponse
	ChatAsync(ctx context.Context, msgs []message.Message, cfg *genconfig.GenerationConfig) <-chan ModelResponse
}

// Go runs fn on its own goroutine and delivers the single result on a
// buffered channel, so the goroutine exits even if nobody receives.
func Go[T any](fn func() T) <-chan T {
	ch := make(chan T, 1)
	go func() {
		ch <- fn()
	}()
	return ch
}

// AvailableOrStatic wraps a remote listing with the static fallback: on
// error the static catalog is returned instead, and the error surfaces only
// when no static catalog exists.
func (a *ModelAdapter) AvailableOrStatic(models []ModelInfo, err error) ([]ModelInfo, error) {
	if err == nil {
		return models, nil
	}
	if static := a.StaticCatalog(); len(static) > 0 {
		return static, nil
	}
	return nil, err
}
