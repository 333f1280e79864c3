package ollama_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/modeladapter"
	"github.com/germanamz/promptlab/pkg/providers/ollama"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ollama.Adapter) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	a := ollama.New(srv.URL, "qwen2.5:latest")

	return srv, a
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("failed to encode response: %v", err)
	}
}

func readBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("failed to unmarshal body: %v", err)
	}

	return req
}

func TestGenerate_Success(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		req := readBody(t, r)
		assert.Equal(t, "qwen2.5:latest", req["model"])
		assert.Equal(t, "Explain recursion", req["prompt"])
		assert.Equal(t, false, req["stream"])
		assert.Equal(t, "be brief", req["system"])

		opts, ok := req["options"].(map[string]any)
		require.True(t, ok)
		assert.InDelta(t, 0.2, opts["temperature"], 1e-9)
		assert.InDelta(t, 0.9, opts["top_p"], 1e-9)
		assert.InDelta(t, 4096, opts["num_predict"], 1e-9)
		assert.InDelta(t, 50, opts["top_k"], 1e-9)

		writeJSON(t, w, map[string]any{
			"response":          "Recursion is...",
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 12,
			"eval_count":        30,
			"total_duration":    5000,
			"eval_duration":     4000,
		})
	})

	adapter.Defaults = genconfig.GenerationConfig{TopK: genconfig.Some(50)}

	cfg := genconfig.GenerationConfig{
		Temperature:  genconfig.Some(0.2),
		SystemPrompt: genconfig.Some("be brief"),
	}
	resp := adapter.Generate(context.Background(), "Explain recursion", &cfg)

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "Recursion is...", resp.Content)
	assert.Equal(t, provider.Ollama, resp.Provider)
	assert.Equal(t, 42, resp.TokensUsed())
	assert.Equal(t, int64(5000), resp.Metadata["total_duration"])
	assert.Equal(t, "stop", resp.Metadata[modeladapter.MetaFinishReason])
}

func TestGenerate_HTTPError(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'qwen2.5:latest' not found"}`))
	})

	resp := adapter.Generate(context.Background(), "hi", nil)

	assert.False(t, resp.Success)
	assert.Empty(t, resp.Content)
	assert.Equal(t, modeladapter.FailureHTTPStatus, resp.ErrorKind)
	assert.Contains(t, resp.Error, "HTTP 404")
	assert.Contains(t, resp.Error, "not found")
}

func TestGenerate_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	adapter := ollama.New(url, "qwen2.5:latest")
	resp := adapter.Generate(context.Background(), "hi", nil)

	assert.False(t, resp.Success)
	assert.Empty(t, resp.Content)
	assert.Equal(t, modeladapter.FailureConnection, resp.ErrorKind)
	assert.Contains(t, resp.Error, "connection failed")
}

func TestGenerate_InvalidConfigIsRequestFailure(t *testing.T) {
	called := false
	_, adapter := newTestServer(t, func(http.ResponseWriter, *http.Request) {
		called = true
	})

	cfg := genconfig.GenerationConfig{TopP: genconfig.Some(1.5)}
	resp := adapter.Generate(context.Background(), "hi", &cfg)

	assert.False(t, called)
	assert.False(t, resp.Success)
	assert.Equal(t, modeladapter.FailureRequest, resp.ErrorKind)
	assert.Contains(t, resp.Error, "top_p")
}

func TestChat_PrependsSystemPrompt(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		req := readBody(t, r)
		msgs, ok := req["messages"].([]any)
		require.True(t, ok)
		require.Len(t, msgs, 2)

		first, _ := msgs[0].(map[string]any)
		assert.Equal(t, "system", first["role"])
		assert.Equal(t, "sys", first["content"])

		writeJSON(t, w, map[string]any{
			"message":    map[string]any{"role": "assistant", "content": "hello"},
			"eval_count": 1,
		})
	})

	cfg := genconfig.GenerationConfig{SystemPrompt: genconfig.Some("sys")}
	resp := adapter.Chat(context.Background(), []message.Message{message.User("hi")}, &cfg)

	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "hello", resp.Content)
	assert.Nil(t, resp.PromptTokens)
	require.NotNil(t, resp.CompletionTokens)
	assert.Equal(t, 1, *resp.CompletionTokens)
}

func TestChatAsync(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"message": map[string]any{"role": "assistant", "content": "async"},
		})
	})

	resp := <-adapter.ChatAsync(context.Background(), []message.Message{message.User("hi")}, nil)

	assert.True(t, resp.Success)
	assert.Equal(t, "async", resp.Content)
}

func TestCheckConnection(t *testing.T) {
	t.Run("connected", func(t *testing.T) {
		_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/tags", r.URL.Path)
			writeJSON(t, w, map[string]any{
				"models": []map[string]any{{"name": "qwen2.5:7b"}, {"name": "llama3.2:latest"}},
			})
		})

		st := adapter.CheckConnection(context.Background())
		assert.True(t, st.Connected)
		assert.Equal(t, []string{"qwen2.5:7b", "llama3.2:latest"}, st.Models)
		assert.Contains(t, st.Message, "2 models")
	})

	t.Run("server error", func(t *testing.T) {
		_, adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		st := adapter.CheckConnection(context.Background())
		assert.False(t, st.Connected)
		assert.NotEmpty(t, st.Message)
		assert.Contains(t, st.Error, "HTTP 500")
	})
}

func TestAvailableModels_MergesCatalog(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, map[string]any{
			"models": []map[string]any{
				{"name": "qwen2.5:7b", "size": 4700000000, "modified_at": "2024-10-01T00:00:00Z"},
				{"name": "mistral:latest", "size": 1},
				{"name": "qwen2.5-coder:7b", "size": 2},
			},
		})
	})

	adapter.StaticModels = []modeladapter.ModelInfo{{
		Name:          "qwen2.5:latest",
		DisplayName:   "Qwen 2.5",
		Provider:      provider.Ollama,
		ContextLength: 32768,
	}}

	models, err := adapter.AvailableModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 3)

	assert.Equal(t, "qwen2.5:7b", models[0].Name)
	assert.Equal(t, "Qwen 2.5", models[0].DisplayName)
	assert.Equal(t, 32768, models[0].ContextLength)
	assert.Equal(t, int64(4700000000), models[0].Size)
	assert.True(t, models[0].Available)

	assert.Equal(t, "mistral:latest", models[1].DisplayName)
	assert.Equal(t, 4096, models[1].ContextLength)

	// A longer family name sharing the prefix is a different model.
	assert.Equal(t, "qwen2.5-coder:7b", models[2].DisplayName)
	assert.Equal(t, 4096, models[2].ContextLength)
}

func TestAvailableModels_FallsBackToStatic(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := adapter.AvailableModels(context.Background())
	require.Error(t, err)

	adapter.StaticModels = []modeladapter.ModelInfo{{Name: "qwen2.5:latest"}}

	models, err := adapter.AvailableModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5:latest"}, modeladapter.ModelNames(models))
}

func TestShowModel(t *testing.T) {
	_, adapter := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/show", r.URL.Path)

		req := readBody(t, r)
		if req["name"] != "qwen2.5:latest" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(t, w, map[string]any{
			"details": map[string]any{"parameter_size": "7.6B"},
		})
	})

	info, err := adapter.ShowModel(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, info.Available)
	assert.Equal(t, "7.6B", info.Parameters["parameter_size"])

	_, err = adapter.ShowModel(context.Background(), "unknown")
	require.Error(t, err)

	adapter.StaticModels = []modeladapter.ModelInfo{{Name: "llama3.2:latest", DisplayName: "Llama"}}

	info, err = adapter.ShowModel(context.Background(), "llama3.2:latest")
	require.NoError(t, err)
	assert.False(t, info.Available)
	assert.Equal(t, "Llama", info.DisplayName)
}

func TestCheckConnection_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc // nil means nothing listens at the address
		kind    modeladapter.FailureKind
		errText string
	}{
		{
			name: "timeout",
			handler: func(_ http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			kind:    modeladapter.FailureTimeout,
			errText: "timed out after 50ms",
		},
		{
			name:    "refused",
			kind:    modeladapter.FailureConnection,
			errText: "connection failed",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			kind:    modeladapter.FailureHTTPStatus,
			errText: "HTTP 500",
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"models": [`))
			},
			kind:    modeladapter.FailureInvalidResponse,
			errText: "malformed response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			if tt.handler == nil {
				srv.Close()
			} else {
				t.Cleanup(srv.Close)
			}

			adapter := ollama.New(srv.URL, "qwen2.5:latest")
			adapter.CheckTimeout = 50 * time.Millisecond

			start := time.Now()
			st := adapter.CheckConnection(context.Background())

			assert.False(t, st.Connected)
			assert.Equal(t, provider.Ollama, st.Provider)
			assert.Contains(t, st.Message, string(tt.kind))
			assert.Contains(t, st.Error, tt.errText)
			assert.Empty(t, st.Models)
			assert.Less(t, time.Since(start), 5*time.Second)
		})
	}
}
