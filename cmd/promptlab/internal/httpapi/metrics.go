package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/germanamz/promptlab/pkg/client"
	"github.com/germanamz/promptlab/pkg/modeladapter"
)

const namespace = "promptlab"

// Metrics holds the Prometheus collectors for the HTTP layer and for model
// calls. Each instance owns its registry so servers built in tests do not
// collide.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge

	modelCallsTotal    *prometheus.CounterVec
	modelCallDuration  *prometheus.HistogramVec
	modelTokensTotal   *prometheus.CounterVec
	modelFailuresTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors, including the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"path", "method", "status"},
		),
		httpInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "In-flight HTTP requests",
			},
		),
		modelCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "calls_total",
				Help:      "Total number of model calls",
			},
			[]string{"provider", "model", "success"},
		),
		modelCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "call_duration_seconds",
				Help:      "Duration of model calls in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		modelTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "tokens_total",
				Help:      "Total tokens reported by model calls",
			},
			[]string{"provider", "model", "kind"},
		),
		modelFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "failures_total",
				Help:      "Failed model calls by failure kind",
			},
			[]string{"provider", "kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpInflight,
		m.modelCallsTotal,
		m.modelCallDuration,
		m.modelTokensTotal,
		m.modelFailuresTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveModel records one model call. It matches client.Observer.
func (m *Metrics) ObserveModel(t client.Target, resp modeladapter.ModelResponse) {
	p := string(t.Provider)
	m.modelCallsTotal.WithLabelValues(p, t.Model, strconv.FormatBool(resp.Success)).Inc()
	m.modelCallDuration.WithLabelValues(p, t.Model).Observe(resp.ResponseTime.Seconds())

	if resp.PromptTokens != nil {
		m.modelTokensTotal.WithLabelValues(p, t.Model, "prompt").Add(float64(*resp.PromptTokens))
	}
	if resp.CompletionTokens != nil {
		m.modelTokensTotal.WithLabelValues(p, t.Model, "completion").Add(float64(*resp.CompletionTokens))
	}
	if !resp.Success {
		m.modelFailuresTotal.WithLabelValues(p, string(resp.ErrorKind)).Inc()
	}
}

// Middleware instruments requests.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		m.httpInflight.Inc()
		defer m.httpInflight.Dec()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routePatternOrPath(r)
		code := strconv.Itoa(status)
		m.httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		m.httpRequestDuration.WithLabelValues(path, r.Method, code).Observe(time.Since(start).Seconds())
	})
}

// routePatternOrPath returns the chi route pattern if available, otherwise
// falls back to URL path. This avoids high-cardinality label values.
func routePatternOrPath(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
