package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

func TestDisabledTelemetryIsNoop(t *testing.T) {
	tel := New(config.TelemetryConfig{})
	if tel != nil {
		t.Fatalf("expected nil telemetry when disabled")
	}
	m := tel.ExecutorMetrics()
	if m.Outcome != nil || m.Duration != nil || m.RetryCounter != nil {
		t.Fatalf("expected empty metrics")
	}
	tel.ObserveRun(executor.Result{})
	if err := tel.Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func TestExecutorMetricsRecord(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true})
	m := tel.ExecutorMetrics()
	ctx := context.Background()
	pdf := planner.TaskNode{ID: planner.NodeMakePDF, Kind: capability.KindMakePDF}

	m.RetryCounter(ctx, pdf, 1)
	m.RetryCounter(ctx, pdf, 2)
	m.Outcome(ctx, pdf, planner.StatusFailed)
	m.Duration(ctx, pdf, 2*time.Second)

	if got := testutil.ToFloat64(tel.nodeRetries.WithLabelValues("make_pdf")); got != 2 {
		t.Fatalf("retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(tel.nodeOutcomes.WithLabelValues("make_pdf", "failed")); got != 1 {
		t.Fatalf("outcomes = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(tel.nodeDuration); got != 1 {
		t.Fatalf("duration series = %d, want 1", got)
	}

	tel.ObserveRun(executor.Result{FinalErr: "model unavailable"})
	if got := testutil.ToFloat64(tel.runs.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed runs = %v, want 1", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	tel := New(config.TelemetryConfig{Enabled: true})
	tel.ObserveRun(executor.Result{})

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `newsletter_runs_total{status="completed"} 1`) {
		t.Fatalf("missing run counter in:\n%s", rec.Body.String())
	}
}

func TestPushSendsToGateway(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tel := New(config.TelemetryConfig{Enabled: true, PushgatewayURL: srv.URL, Job: "newsletter"})
	tel.ObserveRun(executor.Result{})
	if err := tel.Push(context.Background()); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if path != "/metrics/job/newsletter" {
		t.Fatalf("unexpected push path %q", path)
	}
}

func TestPushReportsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tel := New(config.TelemetryConfig{Enabled: true, PushgatewayURL: srv.URL, Job: "newsletter"})
	if err := tel.Push(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}
