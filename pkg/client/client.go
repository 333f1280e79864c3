package client

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/catalog"
	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/modeladapter/usage"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/germanamz/promptlab/pkg/settings"
)

// transientModel names the adapter built only to list a provider's models
// when the catalog has no entry for it.
const transientModel = "temp"

// Target selects a (provider, model) pair. Zero fields fall back to the
// client's default.
type Target struct {
	Provider provider.ID `json:"provider,omitempty"`
	Model    string      `json:"model,omitempty"`
}

// Key returns the adapter cache key "provider:model".
func (t Target) Key() string { return string(t.Provider) + ":" + t.Model }

func (t Target) String() string { return t.Key() }

// Result carries the outcome of an async call.
type Result struct {
	Response modeladapter.ModelResponse
	Err      error
}

// Observer is notified after every completed generate or chat call.
type Observer func(t Target, resp modeladapter.ModelResponse)

// Option configures a Client.
type Option func(*Client)

// WithDefault sets the default target. Its adapter is built eagerly by New
// and a construction failure is returned from New.
func WithDefault(p provider.ID, model string) Option {
	return func(c *Client) {
		c.def = Target{Provider: p, Model: model}
		c.eager = true
	}
}

// WithLogger sets the logger used for call logging.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithCatalog replaces the built-in model catalog.
func WithCatalog(cat *catalog.Catalog) Option {
	return func(c *Client) { c.catalog = cat }
}

// WithFactory overrides the adapter factory for one provider.
func WithFactory(p provider.ID, f Factory) Option {
	return func(c *Client) { c.factories[p] = f }
}

// WithHTTPClient sets the HTTP client handed to every adapter.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithObserver registers a call observer, e.g. for metrics.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, o) }
}

// cacheEntry builds its adapter exactly once. ready is guarded by Client.mu
// and set after a successful build.
type cacheEntry struct {
	once    sync.Once
	adapter modeladapter.Adapter
	err     error
	ready   bool
}

// Client is the single entry point over every provider. It resolves targets,
// owns the adapter cache and logs each call. It is safe for concurrent use.
type Client struct {
	settings   settings.Settings
	catalog    *catalog.Catalog
	factories  map[provider.ID]Factory
	httpClient *http.Client
	log        zerolog.Logger
	observers  []Observer
	def        Target
	eager      bool

	mu       sync.Mutex
	adapters map[string]*cacheEntry
}

// New creates a Client. Without WithDefault the settings' default target is
// used; its adapter is built lazily, so a missing key for the default
// provider does not fail construction.
func New(s settings.Settings, opts ...Option) (*Client, error) {
	c := &Client{
		settings:  s.Resolve(),
		catalog:   catalog.Builtin(),
		factories: DefaultFactories(),
		log:       zerolog.Nop(),
		adapters:  make(map[string]*cacheEntry),
	}

	p, m := c.settings.DefaultTarget()
	c.def = Target{Provider: p, Model: m}

	for _, opt := range opts {
		opt(c)
	}

	if c.eager {
		if _, _, err := c.adapter(c.def); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Settings returns the resolved settings the client was built with.
func (c *Client) Settings() settings.Settings { return c.settings }

// Catalog returns the model catalog.
func (c *Client) Catalog() *catalog.Catalog { return c.catalog }

// DefaultTarget returns the target used when a call names none.
func (c *Client) DefaultTarget() Target { return c.def }

// Logger returns the client's logger.
func (c *Client) Logger() zerolog.Logger { return c.log }

// Resolve fills t from the default target. An explicit provider without a
// model selects the provider's first catalog model. It fails with a
// configuration error when no provider can be determined.
func (c *Client) Resolve(t Target) (Target, error) {
	if t.Provider == "" && t.Model == "" {
		t = c.def
	} else if t.Provider == "" {
		t.Provider = c.def.Provider
	}

	if t.Provider == "" {
		return t, apperr.Configuration("no provider specified and no default configured")
	}
	if !t.Provider.Valid() {
		return t, apperr.Configuration("unknown provider %q", t.Provider)
	}

	if t.Model == "" {
		m, ok := c.catalog.DefaultModel(t.Provider)
		if !ok {
			return t, apperr.Configuration("no model specified for provider %s", t.Provider)
		}
		t.Model = m
	}

	return t, nil
}

// adapter returns the cached adapter for t, building it on first use.
// Construction errors are wrapped in apperr.ModelError and are not cached.
func (c *Client) adapter(t Target) (modeladapter.Adapter, Target, error) {
	t, err := c.Resolve(t)
	if err != nil {
		return nil, t, err
	}

	key := t.Key()

	c.mu.Lock()
	e, ok := c.adapters[key]
	if !ok {
		e = &cacheEntry{}
		c.adapters[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.adapter, e.err = c.build(t)
	})

	if e.err != nil {
		c.mu.Lock()
		if c.adapters[key] == e {
			delete(c.adapters, key)
		}
		c.mu.Unlock()
		return nil, t, e.err
	}

	c.mu.Lock()
	e.ready = true
	c.mu.Unlock()

	return e.adapter, t, nil
}

// build constructs an uncached adapter for t.
func (c *Client) build(t Target) (modeladapter.Adapter, error) {
	f, ok := c.factories[t.Provider]
	if !ok {
		return nil, &apperr.ModelError{
			Provider: string(t.Provider),
			Model:    t.Model,
			Msg:      "create adapter",
			Err:      apperr.Configuration("no adapter factory for provider %q", t.Provider),
		}
	}

	ps := c.settings.Provider(t.Provider)
	a, err := f(Spec{
		Provider:     t.Provider,
		Model:        t.Model,
		BaseURL:      ps.BaseURL,
		APIKey:       ps.APIKey,
		Timeout:      ps.TimeoutDuration(),
		Defaults:     c.catalog.Defaults(t.Provider, t.Model),
		Policy:       c.settings.Policy(),
		StaticModels: c.catalog.Models(t.Provider),
		HTTPClient:   c.httpClient,
	})
	if err != nil {
		c.log.Error().Err(err).Str("provider", string(t.Provider)).Str("model", t.Model).Msg("adapter construction failed")
		return nil, &apperr.ModelError{Provider: string(t.Provider), Model: t.Model, Msg: "create adapter", Err: err}
	}

	c.log.Debug().Str("provider", string(t.Provider)).Str("model", t.Model).Msg("adapter created")

	return a, nil
}

// ValidatePrompt rejects blank prompts and prompts longer than the configured
// maximum (in runes).
func (c *Client) ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return apperr.Validation("prompt", "must not be empty")
	}
	if n := utf8.RuneCountInString(prompt); c.settings.MaxPromptLength > 0 && n > c.settings.MaxPromptLength {
		return apperr.Validation("prompt", "length %d exceeds the maximum of %d", n, c.settings.MaxPromptLength)
	}
	return nil
}

// validateConfig checks the caller's config against the bounds of the
// adapter that will serve it, so out-of-range values never reach the wire.
func validateConfig(a modeladapter.Adapter, cfg *genconfig.GenerationConfig) error {
	if cfg == nil {
		return nil
	}
	return cfg.Validate(a.Limits())
}

// Generate sends prompt to the target's adapter. The error is non-nil only
// for validation and setup failures; remote failures are reported in the
// response.
func (c *Client) Generate(ctx context.Context, prompt string, t Target, cfg *genconfig.GenerationConfig) (modeladapter.ModelResponse, error) {
	if err := c.ValidatePrompt(prompt); err != nil {
		return modeladapter.ModelResponse{}, err
	}
	a, t, err := c.adapter(t)
	if err != nil {
		return modeladapter.ModelResponse{}, err
	}
	if err := validateConfig(a, cfg); err != nil {
		return modeladapter.ModelResponse{}, err
	}

	c.logRequest("generate", t, utf8.RuneCountInString(prompt))
	resp := a.Generate(ctx, prompt, cfg)
	c.logResponse("generate", t, resp)

	return resp, nil
}

// Chat sends a conversation to the target's adapter.
func (c *Client) Chat(ctx context.Context, msgs []message.Message, t Target, cfg *genconfig.GenerationConfig) (modeladapter.ModelResponse, error) {
	if err := message.Validate(msgs); err != nil {
		return modeladapter.ModelResponse{}, err
	}
	if n := message.TotalLength(msgs); c.settings.MaxPromptLength > 0 && n > c.settings.MaxPromptLength {
		return modeladapter.ModelResponse{}, apperr.Validation("messages", "total length %d exceeds the maximum of %d", n, c.settings.MaxPromptLength)
	}
	a, t, err := c.adapter(t)
	if err != nil {
		return modeladapter.ModelResponse{}, err
	}
	if err := validateConfig(a, cfg); err != nil {
		return modeladapter.ModelResponse{}, err
	}

	c.logRequest("chat", t, message.TotalLength(msgs))
	resp := a.Chat(ctx, msgs, cfg)
	c.logResponse("chat", t, resp)

	return resp, nil
}

// GenerateAsync runs Generate on its own goroutine.
func (c *Client) GenerateAsync(ctx context.Context, prompt string, t Target, cfg *genconfig.GenerationConfig) <-chan Result {
	return modeladapter.Go(func() Result {
		resp, err := c.Generate(ctx, prompt, t, cfg)
		return Result{Response: resp, Err: err}
	})
}

// ChatAsync runs Chat on its own goroutine.
func (c *Client) ChatAsync(ctx context.Context, msgs []message.Message, t Target, cfg *genconfig.GenerationConfig) <-chan Result {
	return modeladapter.Go(func() Result {
		resp, err := c.Chat(ctx, msgs, t, cfg)
		return Result{Response: resp, Err: err}
	})
}

func (c *Client) logRequest(op string, t Target, length int) {
	c.log.Info().
		Str("op", op).
		Str("provider", string(t.Provider)).
		Str("model", t.Model).
		Int("prompt_length", length).
		Msg("model request")
}

func (c *Client) logResponse(op string, t Target, resp modeladapter.ModelResponse) {
	if resp.Success {
		c.log.Info().
			Str("op", op).
			Str("provider", string(t.Provider)).
			Str("model", t.Model).
			Bool("success", true).
			Dur("response_time", resp.ResponseTime).
			Int("tokens", resp.TokensUsed()).
			Msg("model response")
	} else {
		c.log.Warn().
			Str("op", op).
			Str("provider", string(t.Provider)).
			Str("model", t.Model).
			Str("error_kind", string(resp.ErrorKind)).
			Dur("response_time", resp.ResponseTime).
			Str("error", resp.Error).
			Msg("model error")
	}

	for _, o := range c.observers {
		o(t, resp)
	}
}

// CheckConnection checks the target's backend. It never fails: setup errors
// and adapter panics are reported as a disconnected status.
func (c *Client) CheckConnection(ctx context.Context, t Target) (st modeladapter.ConnectionStatus) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("target", t.Key()).Msg("connection check panicked")
			st = modeladapter.ConnectionStatus{
				Provider:     t.Provider,
				Message:      "connection check failed",
				CheckedAt:    time.Now(),
				Error:        fmt.Sprint(r),
				ResponseTime: time.Since(start),
			}
		}
	}()

	a, resolved, err := c.adapter(t)
	if err != nil {
		return modeladapter.ConnectionStatus{
			Provider:     resolved.Provider,
			Message:      "not configured",
			CheckedAt:    time.Now(),
			Error:        err.Error(),
			ResponseTime: time.Since(start),
		}
	}

	st = a.CheckConnection(ctx)
	c.log.Debug().Str("target", resolved.Key()).Bool("connected", st.Connected).Msg("connection checked")

	return st
}

// AvailableProviders returns the providers with usable configuration and a
// registered factory.
func (c *Client) AvailableProviders() []provider.ID {
	var out []provider.ID
	for _, id := range c.settings.AvailableProviders() {
		if _, ok := c.factories[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// AvailableModels lists the models of p through a transient, uncached
// adapter. An empty p fans out over every available provider concurrently
// and concatenates the results in provider order, skipping providers whose
// listing fails.
func (c *Client) AvailableModels(ctx context.Context, p provider.ID) ([]modeladapter.ModelInfo, error) {
	if p != "" {
		return c.providerModels(ctx, p)
	}

	providers := c.AvailableProviders()
	results := make([][]modeladapter.ModelInfo, len(providers))

	var wg sync.WaitGroup
	for i, id := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			defer func() {
				if r := recover(); r != nil {
					c.log.Error().Interface("panic", r).Str("provider", string(id)).Msg("model listing panicked")
				}
			}()

			models, err := c.providerModels(ctx, id)
			if err != nil {
				c.log.Warn().Err(err).Str("provider", string(id)).Msg("skipping provider in model listing")
				return
			}
			results[i] = models
		}()
	}
	wg.Wait()

	var out []modeladapter.ModelInfo
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func (c *Client) providerModels(ctx context.Context, p provider.ID) ([]modeladapter.ModelInfo, error) {
	if !p.Valid() {
		return nil, apperr.Configuration("unknown provider %q", p)
	}

	model, ok := c.catalog.DefaultModel(p)
	if !ok {
		model = transientModel
	}

	a, err := c.build(Target{Provider: p, Model: model})
	if err != nil {
		return nil, err
	}

	return a.AvailableModels(ctx)
}

// ClearAdapterCache drops every cached adapter.
func (c *Client) ClearAdapterCache() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.adapters)
}

// CachedAdapters returns the keys of the cached adapters, sorted.
func (c *Client) CachedAdapters() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.adapters))
	for k, e := range c.adapters {
		if e.ready {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// usageReporter is implemented by adapters embedding modeladapter.ModelAdapter.
type usageReporter interface {
	UsageTracker() *usage.Tracker
}

// AdapterStats returns per-adapter call statistics keyed like the cache.
func (c *Client) AdapterStats() map[string]usage.Stats {
	c.mu.Lock()
	adapters := make(map[string]modeladapter.Adapter, len(c.adapters))
	for k, e := range c.adapters {
		if e.ready {
			adapters[k] = e.adapter
		}
	}
	c.mu.Unlock()

	out := make(map[string]usage.Stats, len(adapters))
	for k, a := range adapters {
		if ur, ok := a.(usageReporter); ok {
			out[k] = ur.UsageTracker().Snapshot()
		}
	}
	return out
}
