package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/apperr"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/optimizer"
	"github.com/germanamz/promptlab/pkg/session"
	"github.com/germanamz/promptlab/pkg/settings"
	"github.com/germanamz/promptlab/pkg/templates"
)

const reply = "优化后的提示词：\n请分步骤解释递归"

// fakeOllama serves the Ollama endpoints the adapter calls and counts
// generate requests.
func fakeOllama(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/generate":
			calls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"response": reply, "done": true, "prompt_eval_count": 4, "eval_count": 6,
			})
		case "/api/chat":
			calls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message": map[string]string{"role": "assistant", "content": "chat reply"},
				"done":    true,
			})
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5:latest","size":1}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	return srv
}

type fixture struct {
	mux     http.Handler
	session *session.Session
	calls   *atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	calls := &atomic.Int32{}
	srv := fakeOllama(t, calls)
	metrics := NewMetrics()

	c, err := client.New(settings.Settings{
		DefaultProvider: "ollama",
		DefaultModel:    "qwen2.5:latest",
		Providers:       map[string]settings.ProviderSettings{"ollama": {BaseURL: srv.URL}},
	}, client.WithObserver(metrics.ObserveModel))
	require.NoError(t, err)

	store, err := templates.New()
	require.NoError(t, err)

	sess := session.New("test")
	mux := NewMux(Deps{
		Client:    c,
		Optimizer: optimizer.New(c, store),
		ABTest:    abtest.New(c),
		Templates: store,
		Session:   sess,
		Metrics:   metrics,
		Logger:    zerolog.Nop(),
	})

	return &fixture{mux: mux, session: sess, calls: calls}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestProviders(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody[map[string][]providerInfo](t, w)
	require.NotEmpty(t, body["providers"])
	first := body["providers"][0]
	assert.Equal(t, "ollama", string(first.ID))
	assert.True(t, first.Available)
	assert.True(t, first.Default)
}

func TestModels(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/models?provider=ollama", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string][]map[string]any](t, w)
	require.Len(t, body["models"], 1)
	assert.Equal(t, "qwen2.5:latest", body["models"][0]["name"])

	w = f.do(t, http.MethodGet, "/models?provider=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	errBody := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, http.StatusBadRequest, errBody.Code)
	assert.Contains(t, errBody.Error, "unknown provider")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeBody[map[string]any](t, w)["connected"].(bool))

	w = f.do(t, http.MethodGet, "/status?provider=openai", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[map[string]any](t, w)
	assert.False(t, body["connected"].(bool))
	assert.Contains(t, body["error"], "OPENAI_API_KEY")
}

func TestGenerate(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/generate", map[string]any{
		"prompt": "hello",
		"config": map[string]any{"temperature": 0.3, "max_tokens": 64},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody[map[string]any](t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, reply, body["content"])
	assert.EqualValues(t, 10, body["tokens_used"])
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestGenerate_Errors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"blank prompt", map[string]any{"prompt": "  "}, http.StatusBadRequest},
		{"bad temperature", map[string]any{"prompt": "x", "config": map[string]any{"temperature": 9}}, http.StatusBadRequest},
		{"unknown provider", map[string]any{"prompt": "x", "provider": "nope"}, http.StatusBadRequest},
		{"missing key", map[string]any{"prompt": "x", "provider": "deepseek"}, http.StatusBadRequest},
		{"bad json", "not an object", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/generate", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, tt.want, decodeBody[ErrorResponse](t, w).Code)
		})
	}
	assert.Zero(t, f.calls.Load())
}

func TestGenerate_RequiresJSON(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"x"}`))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestChat(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/chat", map[string]any{
		"messages": []map[string]string{
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hi"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "chat reply", decodeBody[map[string]any](t, w)["content"])

	w = f.do(t, http.MethodPost, "/chat", map[string]any{"messages": []map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimize_RecordsHistory(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/optimize", map[string]any{
		"prompt":            "解释递归",
		"optimization_type": "logical",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decodeBody[optimizer.Result](t, w)
	assert.Equal(t, "请分步骤解释递归", res.OptimizedPrompt)
	assert.Equal(t, "optimization/logical", res.TemplateUsed)

	w = f.do(t, http.MethodGet, "/session/history?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decodeBody[struct {
		Preferences   session.Preferences `json:"preferences"`
		Optimizations []optimizer.Result  `json:"optimizations"`
		Tests         []abtest.Result     `json:"tests"`
	}](t, w)
	require.Len(t, hist.Optimizations, 1)
	assert.Empty(t, hist.Tests)
	assert.Equal(t, session.Preferences{Provider: "ollama", Model: "qwen2.5:latest", Strategy: "logical"}, hist.Preferences)
}

func TestOptimize_UnknownType(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/optimize", map[string]any{"prompt": "p", "optimization_type": "poetic"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, w).Error, "optimization/poetic")
	assert.Zero(t, f.calls.Load())
}

func TestCompare(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/compare", map[string]any{
		"original_prompt":  "翻译",
		"optimized_prompt": "请专业地翻译",
		"test_input":       "hello",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody[map[string]any](t, w)
	assert.NotContains(t, body, "error")
	assert.EqualValues(t, 2, f.calls.Load())
	assert.Len(t, f.session.Tests(), 1)

	w = f.do(t, http.MethodPost, "/compare", map[string]any{"original_prompt": "a", "optimized_prompt": "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptimizeTask(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/tasks/optimize", map[string]any{"prompt": "解释递归"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	id := decodeBody[map[string]string](t, w)["task_id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "/tasks/"+id, w.Header().Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := f.session.Tasks().Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, task.Status)

	w = f.do(t, http.MethodGet, "/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeBody[map[string]any](t, w)
	assert.Equal(t, "completed", got["status"])
	assert.Equal(t, "optimization", got["task_type"])

	w = f.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[map[string][]session.Task](t, w)["tasks"], 1)

	w = f.do(t, http.MethodDelete, "/tasks/"+id, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOptimizeTask_ValidatesUpFront(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/tasks/optimize", map[string]any{"prompt": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.session.Tasks().List(session.Filter{}))
}

func TestGetTask_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/tasks/task-99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodDelete, "/tasks/task-99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplates(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all := decodeBody[map[string][]templates.TypeInfo](t, w)
	assert.Len(t, all["optimization"], 6)
	assert.Len(t, all["evaluation"], 1)

	w = f.do(t, http.MethodGet, "/templates?category=testing", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[map[string][]templates.TypeInfo](t, w)["testing"], 1)
}

func TestSessionMetricsAndClear(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/optimize", map[string]any{"prompt": "p"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/session/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody[struct {
		Session struct {
			Count       int     `json:"count"`
			SuccessRate float64 `json:"success_rate"`
			Tokens      int     `json:"tokens"`
		} `json:"session"`
		Cached []string `json:"cached_adapters"`
	}](t, w)
	assert.Equal(t, 1, body.Session.Count)
	assert.InDelta(t, 1.0, body.Session.SuccessRate, 1e-9)
	assert.Equal(t, 10, body.Session.Tokens)
	assert.Equal(t, []string{"ollama:qwen2.5:latest"}, body.Cached)

	w = f.do(t, http.MethodDelete, "/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, f.session.Optimizations())
}

func TestHistory_BadLimit(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/session/history?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/generate", map[string]any{"prompt": "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, `promptlab_http_requests_total{method="POST",path="/generate",status="200"} 1`)
	assert.Contains(t, body, `promptlab_model_calls_total{model="qwen2.5:latest",provider="ollama",success="true"} 1`)
	assert.Contains(t, body, `promptlab_model_tokens_total{kind="completion",model="qwen2.5:latest",provider="ollama"} 6`)
}

func TestCORS(t *testing.T) {
	calls := &atomic.Int32{}
	srv := fakeOllama(t, calls)
	c, err := client.New(settings.Settings{Providers: map[string]settings.ProviderSettings{"ollama": {BaseURL: srv.URL}}})
	require.NoError(t, err)

	mux := NewMux(Deps{Client: c, Session: session.New(""), CORSOrigins: []string{"http://ui.local"}, Logger: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	req.Header.Set("Origin", "http://ui.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, "http://ui.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketBatch(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	jobs := []wsRequest{
		{ID: "a", Prompt: "one"},
		{ID: "b", Messages: nil, Prompt: ""},
		{ID: "c", Prompt: "three", targetRequest: targetRequest{Provider: "nope"}},
	}
	for _, j := range jobs {
		require.NoError(t, wsjson.Write(ctx, conn, j))
	}

	replies := map[string]wsReply{}
	for range jobs {
		var r wsReply
		require.NoError(t, wsjson.Read(ctx, conn, &r))
		replies[r.ID] = r
	}

	require.NotNil(t, replies["a"].Response)
	assert.Equal(t, reply, replies["a"].Response.Content)

	require.NotNil(t, replies["b"].Error)
	assert.Equal(t, http.StatusBadRequest, replies["b"].Error.Code)

	require.NotNil(t, replies["c"].Error)
	assert.Contains(t, replies["c"].Error.Error, "unknown provider")

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("prompt", "empty"), http.StatusBadRequest},
		{&apperr.TemplateError{Key: "optimization/x", Msg: "missing"}, http.StatusNotFound},
		{apperr.Configuration("no key"), http.StatusBadRequest},
		{&apperr.ModelError{Provider: "ollama", Msg: "create adapter", Err: apperr.Configuration("no key")}, http.StatusBadRequest},
		{&apperr.ModelError{Provider: "ollama", Msg: "boom"}, http.StatusBadGateway},
		{fmt.Errorf("wrap: %w", session.ErrTaskNotFound), http.StatusNotFound},
		{errors.New("other"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
