package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

// Recorder wraps a checkpointer and indexes the written article when a run
// finishes.
type Recorder struct {
	next  executor.Checkpointer
	index *Index

	mu   sync.Mutex
	runs map[string]Entry
}

// NewRecorder decorates next. A nil next records nothing besides the index.
func NewRecorder(next executor.Checkpointer, index *Index) *Recorder {
	if next == nil {
		next = executor.NewNoopCheckpointer()
	}
	return &Recorder{next: next, index: index, runs: make(map[string]Entry)}
}

func (r *Recorder) StartRun(ctx context.Context, rc artifact.RunContext, plan planner.Plan) error {
	topic := ""
	if len(plan.Nodes) > 0 {
		topic = plan.Nodes[0].Params.Topic
	}
	r.mu.Lock()
	r.runs[rc.RunID] = Entry{RunID: rc.RunID, Topic: topic, BaseFilename: rc.BaseFilename, CreatedAt: rc.Timestamp}
	r.mu.Unlock()
	return r.next.StartRun(ctx, rc, plan)
}

func (r *Recorder) NodeStarted(ctx context.Context, runID string, node planner.TaskNode, attempt int) error {
	return r.next.NodeStarted(ctx, runID, node, attempt)
}

func (r *Recorder) NodeFinished(ctx context.Context, runID string, entry executor.LogEntry) error {
	return r.next.NodeFinished(ctx, runID, entry)
}

func (r *Recorder) FinishRun(ctx context.Context, runID string, result executor.Result) error {
	err := r.next.FinishRun(ctx, runID, result)

	r.mu.Lock()
	entry, ok := r.runs[runID]
	delete(r.runs, runID)
	r.mu.Unlock()
	if !ok {
		return err
	}
	write, found := result.Entry(planner.NodeWrite)
	if !found || write.Outcome != planner.StatusDone || write.Artifact.Type != capability.ArtifactText {
		return err
	}
	entry.Article = write.Artifact.Value
	entry.Files = result.Files()
	if indexErr := r.index.Add(entry); indexErr != nil {
		err = errors.Join(err, fmt.Errorf("archive run %s: %w", runID, indexErr))
	}
	return err
}

var _ executor.Checkpointer = (*Recorder)(nil)
