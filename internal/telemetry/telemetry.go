package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
	"github.com/mohammad-safakhou/newsletter/internal/runstore"
)

const namespace = "newsletter"

// Telemetry owns the prometheus collectors for pipeline runs. A nil
// *Telemetry is valid and records nothing.
type Telemetry struct {
	registry     *prometheus.Registry
	nodeOutcomes *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	nodeRetries  *prometheus.CounterVec
	runs         *prometheus.CounterVec

	pushURL string
	job     string
}

// New registers the collectors. It returns nil when telemetry is disabled.
func New(cfg config.TelemetryConfig) *Telemetry {
	if !cfg.Enabled {
		return nil
	}
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
		nodeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_outcomes_total",
			Help:      "Plan nodes by kind and terminal status.",
		}, []string{"kind", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Wall time spent on a plan node, retries included.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"kind"}),
		nodeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_retries_total",
			Help:      "Capability retries by kind.",
		}, []string{"kind"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by status.",
		}, []string{"status"}),
		pushURL: cfg.PushgatewayURL,
		job:     cfg.Job,
	}
	t.registry.MustRegister(t.nodeOutcomes, t.nodeDuration, t.nodeRetries, t.runs)
	return t
}

// ExecutorMetrics returns the callbacks the executor reports through.
func (t *Telemetry) ExecutorMetrics() executor.Metrics {
	if t == nil {
		return executor.Metrics{}
	}
	return executor.Metrics{
		RetryCounter: func(ctx context.Context, node planner.TaskNode, attempt int) {
			t.nodeRetries.WithLabelValues(string(node.Kind)).Inc()
		},
		Duration: func(ctx context.Context, node planner.TaskNode, d time.Duration) {
			t.nodeDuration.WithLabelValues(string(node.Kind)).Observe(d.Seconds())
		},
		Outcome: func(ctx context.Context, node planner.TaskNode, status planner.Status) {
			t.nodeOutcomes.WithLabelValues(string(node.Kind), string(status)).Inc()
		},
	}
}

// ObserveRun counts a finished run under its summary status.
func (t *Telemetry) ObserveRun(res executor.Result) {
	if t == nil {
		return
	}
	t.runs.WithLabelValues(runstore.RunStatus(res)).Inc()
}

// Registry exposes the collectors, mainly for tests.
func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

// Handler serves the metrics in the prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	if t == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Push sends the current values to the configured pushgateway. One-shot CLI
// runs end before any scrape, so they push instead.
func (t *Telemetry) Push(ctx context.Context) error {
	if t == nil || t.pushURL == "" {
		return nil
	}
	if err := push.New(t.pushURL, t.job).Gatherer(t.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
