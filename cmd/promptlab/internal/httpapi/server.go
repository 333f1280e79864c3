// Package httpapi serves the promptlab operations over HTTP and WebSocket.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/germanamz/promptlab/pkg/abtest"
	"github.com/germanamz/promptlab/pkg/chats/message"
	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/genconfig"
	"github.com/germanamz/promptlab/pkg/optimizer"
	"github.com/germanamz/promptlab/pkg/providers/provider"
	"github.com/germanamz/promptlab/pkg/session"
	"github.com/germanamz/promptlab/pkg/templates"
)

// DefaultMaxBodyBytes caps JSON request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Deps are the services behind the API. Gen defaults to Client; Metrics is
// optional.
type Deps struct {
	Client       *client.Client
	Gen          client.Generator
	Optimizer    *optimizer.Service
	ABTest       *abtest.Service
	Templates    *templates.Store
	Session      *session.Session
	Metrics      *Metrics
	Logger       zerolog.Logger
	CORSOrigins  []string
	MaxBodyBytes int64
}

type server struct {
	Deps
}

// NewMux builds the router.
func NewMux(d Deps) http.Handler {
	if d.Gen == nil {
		d.Gen = d.Client
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &server{Deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(d.Logger))
	r.Use(middleware.Recoverer)
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	if len(d.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.Handler().ServeHTTP)
	}

	r.Get("/providers", s.handleProviders)
	r.Get("/models", s.handleModels)
	r.Get("/status", s.handleStatus)
	r.Get("/templates", s.handleTemplates)

	r.Post("/generate", s.handleGenerate)
	r.Post("/chat", s.handleChat)
	r.Post("/optimize", s.handleOptimize)
	r.Post("/compare", s.handleCompare)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/optimize", s.handleOptimizeTask)
		r.Get("/{id}", s.handleGetTask)
		r.Delete("/{id}", s.handleCancelTask)
	})

	r.Route("/session", func(r chi.Router) {
		r.Get("/history", s.handleHistory)
		r.Get("/metrics", s.handleSessionMetrics)
		r.Delete("/", s.handleClearSession)
	})

	r.Get("/ws", s.handleWS)

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			ev := log.Info()
			if ww.Status() >= http.StatusInternalServerError {
				ev = log.Warn()
			}
			if rid := middleware.GetReqID(r.Context()); rid != "" {
				ev = ev.Str("request_id", rid)
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("dur", time.Since(start)).
				Msg("http request")
		})
	}
}

// decodeJSON enforces the content type and body limit, then decodes v.
func (s *server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

type targetRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (s *server) target(p, model string) (client.Target, error) {
	var t client.Target
	if p != "" {
		id, err := provider.Parse(p)
		if err != nil {
			return client.Target{}, err
		}
		t.Provider = id
	}
	t.Model = model
	return s.Client.Resolve(t)
}

type providerInfo struct {
	ID        provider.ID `json:"id"`
	Name      string      `json:"name"`
	Available bool        `json:"available"`
	Default   bool        `json:"default"`
}

func (s *server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	available := make(map[provider.ID]bool)
	for _, id := range s.Client.AvailableProviders() {
		available[id] = true
	}
	def := s.Client.DefaultTarget().Provider

	out := make([]providerInfo, 0, len(provider.All()))
	for _, id := range provider.All() {
		out = append(out, providerInfo{ID: id, Name: id.DisplayName(), Available: available[id], Default: id == def})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": out})
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	var p provider.ID
	if name := r.URL.Query().Get("provider"); name != "" {
		id, err := provider.Parse(name)
		if err != nil {
			writeError(w, err)
			return
		}
		p = id
	}

	models, err := s.Client.AvailableModels(r.Context(), p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	t, err := s.target(r.URL.Query().Get("provider"), r.URL.Query().Get("model"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Client.CheckConnection(r.Context(), t))
}

func (s *server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	if c := r.URL.Query().Get("category"); c != "" {
		writeJSON(w, http.StatusOK, map[string]any{c: s.Templates.Types(templates.Category(c))})
		return
	}
	writeJSON(w, http.StatusOK, s.Templates.All())
}

type generateRequest struct {
	targetRequest
	Prompt string                      `json:"prompt"`
	Config *genconfig.GenerationConfig `json:"config"`
}

// handleGenerate answers 200 with the normalized response for remote
// failures too; only request and setup problems are HTTP errors.
func (s *server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	t, err := s.target(req.Provider, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.Gen.Generate(r.Context(), req.Prompt, t, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type chatRequest struct {
	targetRequest
	Messages []message.Message          `json:"messages"`
	Config   *genconfig.GenerationConfig `json:"config"`
}

func (s *server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	t, err := s.target(req.Provider, req.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.Gen.Chat(r.Context(), req.Messages, t, req.Config)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type optimizeRequest struct {
	targetRequest
	Prompt             string                      `json:"prompt"`
	Type               string                      `json:"optimization_type"`
	CustomInstructions string                      `json:"custom_instructions"`
	Config             *genconfig.GenerationConfig `json:"config"`
}

func (s *server) optimizerRequest(req optimizeRequest) (optimizer.Request, error) {
	t, err := s.target(req.Provider, req.Model)
	if err != nil {
		return optimizer.Request{}, err
	}
	out := optimizer.Request{
		OriginalPrompt:     req.Prompt,
		Type:               req.Type,
		Target:             t,
		Config:             req.Config,
		CustomInstructions: req.CustomInstructions,
	}
	return out, s.Optimizer.Validate(out)
}

func (s *server) remember(req optimizer.Request) {
	s.Session.SetPreferences(session.Preferences{
		Provider: string(req.Target.Provider),
		Model:    req.Target.Model,
		Strategy: req.Type,
	})
}

func (s *server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var body optimizeRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}
	req, err := s.optimizerRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Optimizer.Optimize(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	s.Session.AddOptimization(res)
	s.remember(req)

	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleOptimizeTask(w http.ResponseWriter, r *http.Request) {
	var body optimizeRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}
	req, err := s.optimizerRequest(body)
	if err != nil {
		writeError(w, err)
		return
	}

	// The task outlives the request.
	id := s.Session.Tasks().Run(context.WithoutCancel(r.Context()), "optimization", func(ctx context.Context) (any, error) {
		res, err := s.Optimizer.Optimize(ctx, req)
		if err != nil {
			return nil, err
		}
		s.Session.AddOptimization(res)
		if !res.Succeeded() {
			return nil, fmt.Errorf("optimization failed: %s", res.Response.Error)
		}
		return res, nil
	})
	s.remember(req)

	w.Header().Set("Location", "/tasks/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.Session.Tasks().Get(id)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("task %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.Tasks().Cancel(chi.URLParam(r, "id")); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusConflict
		}
		writeJSONError(w, status, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tasks := s.Session.Tasks().List(session.Filter{
		Status: session.Status(q.Get("status")),
		Type:   q.Get("type"),
	})
	if tasks == nil {
		tasks = []session.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type compareRequest struct {
	targetRequest
	OriginalPrompt  string                      `json:"original_prompt"`
	OptimizedPrompt string                      `json:"optimized_prompt"`
	TestInput       string                      `json:"test_input"`
	Config          *genconfig.GenerationConfig `json:"config"`
}

func (s *server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var body compareRequest
	if !s.decodeJSON(w, r, &body) {
		return
	}
	t, err := s.target(body.Provider, body.Model)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := s.ABTest.Compare(r.Context(), abtest.Request{
		OriginalPrompt:  body.OriginalPrompt,
		OptimizedPrompt: body.OptimizedPrompt,
		TestInput:       body.TestInput,
		Target:          t,
		Config:          body.Config,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.Session.AddTest(res)

	writeJSON(w, http.StatusOK, res)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    s.Session.ID(),
		"preferences":   s.Session.Preferences(),
		"optimizations": s.Session.RecentOptimizations(limit),
		"tests":         s.Session.RecentTests(limit),
	})
}

func (s *server) handleSessionMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session":         s.Session.Metrics(),
		"adapters":        s.Client.AdapterStats(),
		"cached_adapters": s.Client.CachedAdapters(),
	})
}

func (s *server) handleClearSession(w http.ResponseWriter, _ *http.Request) {
	s.Session.Clear()
	w.WriteHeader(http.StatusNoContent)
}
