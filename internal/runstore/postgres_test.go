package runstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

func TestPostgresStartRunInsertsRunAndNodes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStoreWithDB(db)
	rc := testRunContext("run-1", time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC))
	plan := testPlan(t, testRegistry(t), rc, "quantum computing", intent.Flags{})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO newsletter_runs (run_id, topic, base_filename, status, plan, warnings, started_at)`)).
		WithArgs("run-1", "quantum computing", rc.BaseFilename, StatusRunning, sqlmock.AnyArg(), sqlmock.AnyArg(), rc.Timestamp.UTC()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO newsletter_run_nodes (run_id, node_id, position, kind, status)`)).
		WithArgs("run-1", planner.NodeResearch, 0, string(capability.KindResearch), string(planner.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO newsletter_run_nodes (run_id, node_id, position, kind, status)`)).
		WithArgs("run-1", planner.NodeWrite, 1, string(capability.KindWrite), string(planner.StatusPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := st.StartRun(context.Background(), rc, plan); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresStartRunRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStoreWithDB(db)
	rc := testRunContext("run-1", time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC))
	plan := testPlan(t, testRegistry(t), rc, "go", intent.Flags{})

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO newsletter_runs`)).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := st.StartRun(context.Background(), rc, plan); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresNodeAndRunUpdates(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStoreWithDB(db)
	node := planner.TaskNode{ID: planner.NodeResearch, Kind: capability.KindResearch}
	started := time.Date(2024, 5, 3, 14, 7, 10, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE newsletter_run_nodes SET status=$3, attempts=$4`)).
		WithArgs("run-1", planner.NodeResearch, string(planner.StatusRunning), 1, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE newsletter_run_nodes`)).
		WithArgs("run-1", planner.NodeResearch, string(planner.StatusDone), 1, sqlmock.AnyArg(), "", sqlmock.AnyArg(), started, int64(1500)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE newsletter_runs SET status=$2, final=$3, final_error=$4, finished_at=NOW() WHERE run_id=$1`)).
		WithArgs("run-1", StatusCompleted, sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ctx := context.Background()
	if err := st.NodeStarted(ctx, "run-1", node, 0); err != nil {
		t.Fatalf("NodeStarted: %v", err)
	}
	entry := executor.LogEntry{
		NodeID:    planner.NodeResearch,
		Kind:      capability.KindResearch,
		Outcome:   planner.StatusDone,
		Artifact:  capability.Text("notes"),
		Attempts:  1,
		StartedAt: started,
		Duration:  1500 * time.Millisecond,
	}
	if err := st.NodeFinished(ctx, "run-1", entry); err != nil {
		t.Fatalf("NodeFinished: %v", err)
	}
	res := executor.Result{
		Final:    capability.Text("article"),
		Statuses: map[string]planner.Status{planner.NodeResearch: planner.StatusDone},
	}
	if err := st.FinishRun(ctx, "run-1", res); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := NewPostgresStoreWithDB(db)
	started := time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC)
	finished := started.Add(time.Minute)

	runRows := sqlmock.NewRows([]string{"run_id", "topic", "base_filename", "status", "plan", "warnings", "final", "final_error", "started_at", "finished_at"}).
		AddRow("run-1", "go", "newsletter_20240503_140709", StatusPartial, []byte(`{"version":"v1","tasks":[]}`), "{\"email skipped\"}", []byte(`{"type":"text","value":"article"}`), "", started, finished)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM newsletter_runs WHERE run_id=$1`)).
		WithArgs("run-1").
		WillReturnRows(runRows)

	nodeRows := sqlmock.NewRows([]string{"node_id", "kind", "status", "attempts", "artifact", "error", "notes", "started_at", "duration_ms"}).
		AddRow("research", "research", "done", 1, []byte(`{"type":"text","value":"notes"}`), "", "{}", started, int64(1200)).
		AddRow("make_pdf", "make_pdf", "failed", 2, []byte(`{"type":"status","value":"disk full"}`), "disk full", "{}", started, int64(30)).
		AddRow("send_email", "send_email", "pending", 0, nil, "", "{}", nil, int64(0))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM newsletter_run_nodes`)).
		WithArgs("run-1").
		WillReturnRows(nodeRows)

	rec, err := st.Get(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusPartial || len(rec.Warnings) != 1 || rec.Warnings[0] != "email skipped" {
		t.Fatalf("unexpected run: %+v", rec)
	}
	if rec.Final == nil || rec.Final.Value != "article" {
		t.Fatalf("unexpected final: %+v", rec.Final)
	}
	if rec.FinishedAt == nil || !rec.FinishedAt.Equal(finished) {
		t.Fatalf("unexpected finished_at: %v", rec.FinishedAt)
	}
	if len(rec.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(rec.Nodes))
	}
	pdf, _ := rec.Node("make_pdf")
	if pdf.Status != planner.StatusFailed || pdf.Attempts != 2 || pdf.Error != "disk full" {
		t.Fatalf("unexpected make_pdf: %+v", pdf)
	}
	research, _ := rec.Node("research")
	if research.Duration != 1200*time.Millisecond || research.Artifact.Value != "notes" {
		t.Fatalf("unexpected research: %+v", research)
	}
	email, _ := rec.Node("send_email")
	if email.StartedAt != nil || email.Artifact.Value != "" {
		t.Fatalf("expected untouched pending node, got %+v", email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM newsletter_runs WHERE run_id=$1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	if _, err := NewPostgresStoreWithDB(db).Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostgresList(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"run_id", "topic", "base_filename", "status", "plan", "warnings", "final", "final_error", "started_at", "finished_at"}).
		AddRow("run-2", "b", "weekly", StatusRunning, nil, "{}", nil, "", now, nil).
		AddRow("run-1", "a", "newsletter_x", StatusFailed, nil, "{}", nil, "model unavailable", now.Add(-time.Hour), now)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM newsletter_runs ORDER BY started_at DESC LIMIT $1`)).
		WithArgs(10).
		WillReturnRows(rows)

	runs, err := NewPostgresStoreWithDB(db).List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-2" || runs[0].FinishedAt != nil || runs[1].FinalError != "model unavailable" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}
