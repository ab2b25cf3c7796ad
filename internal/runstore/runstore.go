package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// NodeRecord is the persisted state of one plan node.
type NodeRecord struct {
	NodeID    string              `json:"node_id"`
	Kind      capability.Kind     `json:"kind"`
	Status    planner.Status      `json:"status"`
	Attempts  int                 `json:"attempts"`
	Artifact  capability.Artifact `json:"artifact"`
	Error     string              `json:"error,omitempty"`
	Notes     []string            `json:"notes,omitempty"`
	StartedAt *time.Time          `json:"started_at,omitempty"`
	Duration  time.Duration       `json:"duration"`
}

// RunRecord is the persisted history of one pipeline run.
type RunRecord struct {
	RunID        string               `json:"run_id"`
	Topic        string               `json:"topic"`
	BaseFilename string               `json:"base_filename"`
	Status       string               `json:"status"`
	Plan         json.RawMessage      `json:"plan,omitempty"`
	Warnings     []string             `json:"warnings,omitempty"`
	Nodes        []NodeRecord         `json:"nodes"`
	Final        *capability.Artifact `json:"final,omitempty"`
	FinalError   string               `json:"final_error,omitempty"`
	StartedAt    time.Time            `json:"started_at"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
}

// Node returns the record for a node id.
func (r RunRecord) Node(id string) (NodeRecord, bool) {
	for _, n := range r.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return NodeRecord{}, false
}

// Store persists run history. It satisfies executor.Checkpointer so the
// executor writes progress as nodes finish.
type Store interface {
	executor.Checkpointer
	Get(ctx context.Context, runID string) (RunRecord, error)
	List(ctx context.Context, limit int) ([]RunRecord, error)
	Close() error
}

// New opens the configured backend. "none" returns a nil store.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, cfg.Redis)
	case "postgres":
		return NewPostgresStore(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// newRunRecord builds the initial record written by StartRun.
func newRunRecord(rc artifact.RunContext, plan planner.Plan) (RunRecord, error) {
	topic := ""
	if len(plan.Nodes) > 0 {
		topic = plan.Nodes[0].Params.Topic
	}
	doc, err := planner.MarshalDocument(plan.Document(rc, topic))
	if err != nil {
		return RunRecord{}, fmt.Errorf("encode plan: %w", err)
	}
	rec := RunRecord{
		RunID:        rc.RunID,
		Topic:        topic,
		BaseFilename: rc.BaseFilename,
		Status:       StatusRunning,
		Plan:         doc,
		Warnings:     append([]string(nil), plan.Warnings...),
		StartedAt:    rc.Timestamp.UTC(),
	}
	for _, n := range plan.Nodes {
		rec.Nodes = append(rec.Nodes, NodeRecord{NodeID: n.ID, Kind: n.Kind, Status: planner.StatusPending})
	}
	return rec, nil
}

func startedNode(node planner.TaskNode, attempt int, at time.Time) NodeRecord {
	at = at.UTC()
	return NodeRecord{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Status:    planner.StatusRunning,
		Attempts:  attempt + 1,
		StartedAt: &at,
	}
}

func finishedNode(entry executor.LogEntry) NodeRecord {
	started := entry.StartedAt.UTC()
	return NodeRecord{
		NodeID:    entry.NodeID,
		Kind:      entry.Kind,
		Status:    entry.Outcome,
		Attempts:  entry.Attempts,
		Artifact:  entry.Artifact,
		Error:     entry.Error,
		Notes:     append([]string(nil), entry.Notes...),
		StartedAt: &started,
		Duration:  entry.Duration,
	}
}

// RunStatus summarises an execution result.
func RunStatus(res executor.Result) string {
	switch {
	case res.FinalErr != "":
		return StatusFailed
	case res.Failed() > 0:
		return StatusPartial
	default:
		return StatusCompleted
	}
}

// mergeNode replaces the record for n.NodeID, appending unknown nodes.
func mergeNode(nodes []NodeRecord, n NodeRecord) []NodeRecord {
	for i := range nodes {
		if nodes[i].NodeID == n.NodeID {
			nodes[i] = n
			return nodes
		}
	}
	return append(nodes, n)
}
