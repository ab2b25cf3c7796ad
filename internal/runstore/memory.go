package runstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/executor"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

// MemoryStore keeps run history in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*RunRecord), now: time.Now}
}

func (s *MemoryStore) StartRun(ctx context.Context, rc artifact.RunContext, plan planner.Plan) error {
	rec, err := newRunRecord(rc, plan)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.runs[rc.RunID] = &rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) NodeStarted(ctx context.Context, runID string, node planner.TaskNode, attempt int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	rec.Nodes = mergeNode(rec.Nodes, startedNode(node, attempt, s.now()))
	return nil
}

func (s *MemoryStore) NodeFinished(ctx context.Context, runID string, entry executor.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	rec.Nodes = mergeNode(rec.Nodes, finishedNode(entry))
	return nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, runID string, result executor.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.runs[runID]
	if !ok {
		return ErrNotFound
	}
	finished := s.now().UTC()
	final := result.Final
	rec.Status = RunStatus(result)
	rec.Final = &final
	rec.FinalError = result.FinalErr
	rec.FinishedAt = &finished
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[runID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return copyRecord(*rec), nil
}

// List returns the most recent runs first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	out := make([]RunRecord, 0, len(s.runs))
	for _, rec := range s.runs {
		out = append(out, copyRecord(*rec))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func copyRecord(r RunRecord) RunRecord {
	r.Nodes = append([]NodeRecord(nil), r.Nodes...)
	r.Warnings = append([]string(nil), r.Warnings...)
	return r
}

var _ Store = (*MemoryStore)(nil)
