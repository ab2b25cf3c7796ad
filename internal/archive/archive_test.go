package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

func memIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(config.ArchiveConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSearchRanksMatchingArticle(t *testing.T) {
	idx := memIndex(t)
	at := time.Date(2024, 5, 3, 14, 7, 9, 0, time.UTC)
	entries := []Entry{
		{RunID: "r1", Topic: "quantum computing", BaseFilename: "newsletter_1", Article: "Qubits and quantum error correction are maturing quickly.", Files: []string{"outputs/newsletter_1.pdf"}, CreatedAt: at},
		{RunID: "r2", Topic: "gardening", BaseFilename: "newsletter_2", Article: "Tomatoes need sun and steady watering.", CreatedAt: at},
	}
	for _, e := range entries {
		if err := idx.Add(e); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	hits, err := idx.Search("qubits", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	h := hits[0]
	if h.RunID != "r1" || h.Topic != "quantum computing" || h.Rank != 1 {
		t.Fatalf("unexpected hit: %+v", h)
	}
	if len(h.Files) != 1 || h.Files[0] != "outputs/newsletter_1.pdf" {
		t.Fatalf("unexpected files: %v", h.Files)
	}
	if !h.CreatedAt.Equal(at) {
		t.Fatalf("unexpected created_at: %v", h.CreatedAt)
	}
	if h.Snippet == "" {
		t.Fatalf("expected snippet")
	}
}

func TestAddSkipsEmptyArticleAndReplaces(t *testing.T) {
	idx := memIndex(t)
	if err := idx.Add(Entry{RunID: "r1"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	for _, body := range []string{"first draft", "second draft"} {
		if err := idx.Add(Entry{RunID: "r2", Article: body}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	n, err := idx.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
	if hits, _ := idx.Search("", 5); hits != nil {
		t.Fatalf("expected no hits for empty query")
	}
}

func TestOpenPersistsToPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.bleve")
	idx, err := Open(config.ArchiveConfig{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := idx.Add(Entry{RunID: "r1", Topic: "rust", Article: "Borrow checker improvements"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(config.ArchiveConfig{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	hits, err := reopened.Search("borrow", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].RunID != "r1" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestRecorderIndexesWrittenArticle(t *testing.T) {
	idx := memIndex(t)
	rec := NewRecorder(nil, idx)
	ctx := context.Background()
	rc := artifact.RunContext{RunID: "run-1", BaseFilename: "newsletter_x", Timestamp: time.Now()}
	plan := planner.Plan{Nodes: []*planner.TaskNode{
		{ID: planner.NodeResearch, Kind: capability.KindResearch, Params: capability.Params{Topic: "fusion energy"}},
		{ID: planner.NodeWrite, Kind: capability.KindWrite, DependsOn: []string{planner.NodeResearch}},
	}}
	if err := rec.StartRun(ctx, rc, plan); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	res := executor.Result{Log: []executor.LogEntry{
		{NodeID: planner.NodeResearch, Outcome: planner.StatusDone, Artifact: capability.Text("notes")},
		{NodeID: planner.NodeWrite, Outcome: planner.StatusDone, Artifact: capability.Text("Tokamak records were broken this spring.")},
	}}
	if err := rec.FinishRun(ctx, "run-1", res); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	hits, err := idx.Search("tokamak", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Topic != "fusion energy" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestRecorderSkipsFailedWrite(t *testing.T) {
	idx := memIndex(t)
	rec := NewRecorder(nil, idx)
	ctx := context.Background()
	rc := artifact.RunContext{RunID: "run-2", Timestamp: time.Now()}
	if err := rec.StartRun(ctx, rc, planner.Plan{}); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	res := executor.Result{Log: []executor.LogEntry{
		{NodeID: planner.NodeWrite, Outcome: planner.StatusFailed, Artifact: capability.Status("model unavailable"), Error: "model unavailable"},
	}}
	if err := rec.FinishRun(ctx, "run-2", res); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if n, _ := idx.Count(); n != 0 {
		t.Fatalf("expected empty index, got %d", n)
	}
}
