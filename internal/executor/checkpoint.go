package executor

import (
	"context"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

// Checkpointer records run progress as it happens. Errors are logged by the
// executor and never stop a run.
type Checkpointer interface {
	StartRun(ctx context.Context, rc artifact.RunContext, plan planner.Plan) error
	NodeStarted(ctx context.Context, runID string, node planner.TaskNode, attempt int) error
	NodeFinished(ctx context.Context, runID string, entry LogEntry) error
	FinishRun(ctx context.Context, runID string, result Result) error
}

// NoopCheckpointer is a default implementation that records nothing.
type NoopCheckpointer struct{}

// NewNoopCheckpointer returns a checkpointer that does nothing.
func NewNoopCheckpointer() *NoopCheckpointer { return &NoopCheckpointer{} }

func (NoopCheckpointer) StartRun(ctx context.Context, rc artifact.RunContext, plan planner.Plan) error {
	return nil
}
func (NoopCheckpointer) NodeStarted(ctx context.Context, runID string, node planner.TaskNode, attempt int) error {
	return nil
}
func (NoopCheckpointer) NodeFinished(ctx context.Context, runID string, entry LogEntry) error {
	return nil
}
func (NoopCheckpointer) FinishRun(ctx context.Context, runID string, result Result) error {
	return nil
}

var _ Checkpointer = NoopCheckpointer{}
