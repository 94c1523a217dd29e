package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the daemon's Prometheus surface.
type Metrics struct {
	// RequestCounter counts dispatched workspace requests.
	// Labels: kind (chatbot/spawn|process/spawn|process/sigkill|process/update), outcome (ok|error)
	RequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures completion latency in seconds.
	// Labels: dialect, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts completions by dialect, model and outcome.
	// Labels: dialect, model, outcome (ok|error|stopped)
	LLMRequestCounter *prometheus.CounterVec

	// ToolExecutions counts spawned tool processes by terminal result.
	// Labels: tool, result (success|stopped|failure)
	ToolExecutions *prometheus.CounterVec

	// ActiveSupervisors gauges how many workspace locks this replica holds.
	ActiveSupervisors prometheus.Gauge
}

// NewMetrics registers the daemon metrics on a fresh registry and returns
// both.
func NewMetrics() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndp_workspace_requests_total",
				Help: "Workspace requests dispatched, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ndp_llm_request_duration_seconds",
				Help:    "Completion latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"dialect", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndp_llm_requests_total",
				Help: "Completions issued, by dialect, model and outcome",
			},
			[]string{"dialect", "model", "outcome"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndp_tool_executions_total",
				Help: "Tool processes finished, by tool and terminal result",
			},
			[]string{"tool", "result"},
		),
		ActiveSupervisors: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndp_active_supervisors",
				Help: "Workspace supervisor locks held by this replica",
			},
		),
	}
	return m, reg
}

// All observation helpers tolerate a nil receiver so call sites never
// have to guard against metrics being disabled.

// ObserveRequest records one dispatched workspace request.
func (m *Metrics) ObserveRequest(kind, outcome string) {
	if m == nil {
		return
	}
	m.RequestCounter.WithLabelValues(kind, outcome).Inc()
}

// ObserveCompletion records one finished completion.
func (m *Metrics) ObserveCompletion(dialect, model string, elapsed time.Duration, outcome string) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(dialect, model).Observe(elapsed.Seconds())
	m.LLMRequestCounter.WithLabelValues(dialect, model, outcome).Inc()
}

// ObserveTool records one finished tool process.
func (m *Metrics) ObserveTool(tool, result string) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, result).Inc()
}

// SupervisorUp and SupervisorDown track held workspace locks.
func (m *Metrics) SupervisorUp() {
	if m == nil {
		return
	}
	m.ActiveSupervisors.Inc()
}

func (m *Metrics) SupervisorDown() {
	if m == nil {
		return
	}
	m.ActiveSupervisors.Dec()
}

// Serve exposes /metrics on addr until ctx is done. A zero addr disables
// the listener.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics listener failed", "addr", addr, "error", err)
		}
	}()
}
