package modeladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter/usage"
	"github.com/germanamz/promptlab/pkg/providers/provider"
)

// DefaultTimeout bounds a single generate or chat call when the adapter has
// no Timeout configured.
const DefaultTimeout = 60 * time.Second

// maxErrorBody caps how much of a non-2xx body is kept in the error string.
const maxErrorBody = 4096

var (
	// ErrInvalidRequest marks failures building a request locally.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidResponse marks a 2xx response whose body could not be parsed.
	ErrInvalidResponse = errors.New("invalid response")
)

// StatusError is returned for non-2xx HTTP responses. Body holds at most the
// first 4 KiB of the server-supplied error body.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// ParseRetryAfter parses the Retry-After header value as either seconds (integer)
// or an HTTP-date (RFC 7231). Returns zero if unparseable or if the date is in the past.
func ParseRetryAfter(val string) time.Duration {
	if val == "" {
		return 0
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Auth holds authentication settings for an LLM provider API.
type Auth struct {
	Key    string // API key value.
	Header string // Header name (default: "Authorization").
	Scheme string // Scheme prefix (default: "Bearer" when Header is "Authorization").
}

// ModelAdapter holds the state shared by every provider adapter: identity,
// endpoint, auth, timeout, catalog defaults and usage statistics. Concrete
// adapters embed it and add their own wire types.
type ModelAdapter struct {
	Provider     provider.ID                // Backend identity.
	Name         string                     // Model identifier (e.g. "deepseek-chat").
	Auth         Auth                       // Authentication settings.
	BaseURL      string                     // API base URL (no trailing slash).
	Client       *http.Client               // HTTP client; nil selects a shared default.
	Headers      map[string]string          // Extra headers applied to every request.
	Timeout      time.Duration              // Per-call timeout; zero means DefaultTimeout.
	CheckTimeout time.Duration              // Connection check bound; zero selects the adapter's own.
	Defaults     genconfig.GenerationConfig // Catalog defaults for this model.
	Policy       genconfig.MergePolicy      // How caller configs are layered over Defaults.
	Limits       genconfig.Limits           // Accepted parameter ranges.
	StaticModels []ModelInfo                // Fallback catalog when the remote listing fails.
	Usage        usage.Tracker              // Call and token statistics.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a ModelAdapter with the given settings.
// A nil client falls back to a shared default client at call time.
func New(baseURL string, auth Auth, client *http.Client) *ModelAdapter {
	return &ModelAdapter{
		Auth:    auth,
		BaseURL: baseURL,
		Client:  client,
	}
}

// ProviderID returns the backend identity.
func (a *ModelAdapter) ProviderID() provider.ID { return a.Provider }

// ModelName returns the model this adapter is bound to.
func (a *ModelAdapter) ModelName() string { return a.Name }

// UsageTracker returns the adapter's call statistics.
func (a *ModelAdapter) UsageTracker() *usage.Tracker { return &a.Usage }

// CallTimeout returns the effective per-call timeout.
func (a *ModelAdapter) CallTimeout() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return DefaultTimeout
}

// httpClient returns the configured client or a cached default whose
// transport bounds connection setup. Call duration is bounded per request
// through the context.
func (a *ModelAdapter) httpClient() *http.Client {
	if a.Client != nil {
		return a.Client
	}

	a.clientOnce.Do(func() {
		a.defaultClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})

	return a.defaultClient
}

// CheckBound returns CheckTimeout when set, def otherwise.
func (a *ModelAdapter) CheckBound(def time.Duration) time.Duration {
	if a.CheckTimeout > 0 {
		return a.CheckTimeout
	}
	return def
}

// WithTimeout derives a context bounded by timeout, or by CallTimeout when
// timeout is zero.
func (a *ModelAdapter) WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = a.CallTimeout()
	}
	return context.WithTimeout(ctx, timeout)
}

// ResolveConfig layers cfg over the catalog defaults using the adapter's
// merge policy, fills global defaults and validates the result.
func (a *ModelAdapter) ResolveConfig(cfg *genconfig.GenerationConfig) (genconfig.GenerationConfig, error) {
	merged := a.Policy.Merge(a.Defaults, cfg).Effective()
	if err := merged.Validate(a.Limits); err != nil {
		return merged, err
	}
	return merged, nil
}

// NewRequest builds an *http.Request with the base URL, auth, and custom
// headers already applied.
func (a *ModelAdapter) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return nil, err
	}

	if a.Auth.Key != "" {
		header, value := a.authHeader()
		req.Header.Set(header, value)
	}

	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

func (a *ModelAdapter) authHeader() (string, string) {
	header := a.Auth.Header
	if header == "" {
		header = "Authorization"
	}

	value := a.Auth.Key
	if header == "Authorization" {
		scheme := a.Auth.Scheme
		if scheme == "" {
			scheme = "Bearer"
		}
		value = scheme + " " + value
	} else if a.Auth.Scheme != "" {
		value = a.Auth.Scheme + " " + value
	}

	return header, value
}

// Do sends the request using the configured HTTP client.
func (a *ModelAdapter) Do(req *http.Request) (*http.Response, error) {
	return a.httpClient().Do(req) //nolint:gosec // URL is built from trusted BaseURL config, not user input.
}

// PostJSON marshals payload as JSON, sends a POST to the given path,
// checks for a 2xx status, and unmarshals the response body into dest.
// If dest is nil the response body is discarded after the status check.
func (a *ModelAdapter) PostJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %w", ErrInvalidRequest, err)
	}

	req, err := a.NewRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrInvalidRequest, err)
	}

	req.Header.Set("Content-Type", "application/json")

	return a.doJSON(req, dest)
}

// GetJSON sends a GET to the given path and unmarshals a 2xx body into dest.
func (a *ModelAdapter) GetJSON(ctx context.Context, path string, dest any) error {
	req, err := a.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrInvalidRequest, err)
	}

	return a.doJSON(req, dest)
}

func (a *ModelAdapter) doJSON(req *http.Request, dest any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := a.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if dest == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: decode response: %w", ErrInvalidResponse, err)
	}

	return nil
}

// Succeeded builds a successful response for this adapter and records it in
// the usage tracker.
func (a *ModelAdapter) Succeeded(start time.Time, c Completion) ModelResponse {
	elapsed := time.Since(start)
	a.Usage.Record(c.tokenCount(), elapsed, true)
	return NewSuccess(a.Provider, a.Name, elapsed, c)
}

// Failed builds a failed response from err and records it in the usage
// tracker. The error string names the failure kind.
func (a *ModelAdapter) Failed(start time.Time, err error) ModelResponse {
	elapsed := time.Since(start)
	a.Usage.Record(usage.TokenCount{}, elapsed, false)

	kind, msg := Describe(err, a.CallTimeout())

	var meta map[string]any
	var se *StatusError
	if errors.As(err, &se) {
		meta = map[string]any{MetaStatusCode: se.StatusCode}
		if se.RetryAfter > 0 {
			meta[MetaRetryAfter] = se.RetryAfter.String()
		}
	}

	return NewFailure(a.Provider, a.Name, elapsed, kind, msg, meta)
}

// Connected builds a successful ConnectionStatus.
func (a *ModelAdapter) Connected(start time.Time, models []string, msg string) ConnectionStatus {
	return ConnectionStatus{
		Provider:     a.Provider,
		Connected:    true,
		Message:      msg,
		CheckedAt:    time.Now(),
		Models:       slices.Clone(models),
		ResponseTime: time.Since(start),
	}
}

// Disconnected builds a failed ConnectionStatus from err.
func (a *ModelAdapter) Disconnected(start time.Time, timeout time.Duration, err error) ConnectionStatus {
	kind, msg := Describe(err, timeout)
	return ConnectionStatus{
		Provider:     a.Provider,
		Connected:    false,
		Message:      fmt.Sprintf("%s is unreachable (%s)", a.Provider.DisplayName(), kind),
		CheckedAt:    time.Now(),
		Error:        msg,
		ResponseTime: time.Since(start),
	}
}

// StaticCatalog returns a copy of the fallback catalog.
func (a *ModelAdapter) StaticCatalog() []ModelInfo {
	out := make([]ModelInfo, len(a.StaticModels))
	for i, m := range a.StaticModels {
		out[i] = m.Clone()
	}
	return out
}

// FindStatic returns the static catalog entry for name, if any.
func (a *ModelAdapter) FindStatic(name string) (ModelInfo, bool) {
	for _, m := range a.StaticModels {
		if m.Name == name {
			return m.Clone(), true
		}
	}
	return ModelInfo{}, false
}
