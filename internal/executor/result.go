package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/planner"
)

// LogEntry records one completed or failed node.
type LogEntry struct {
	NodeID    string              `json:"node_id"`
	Kind      capability.Kind     `json:"kind"`
	Outcome   planner.Status      `json:"outcome"`
	Artifact  capability.Artifact `json:"artifact"`
	Error     string              `json:"error,omitempty"`
	Notes     []string            `json:"notes,omitempty"`
	Attempts  int                 `json:"attempts"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration"`
}

// Result is the outcome of one execution. Final is the artifact of the
// plan's last node; FinalErr is set when that node failed.
type Result struct {
	Final       capability.Artifact       `json:"final"`
	FinalNodeID string                    `json:"final_node_id"`
	FinalErr    string                    `json:"final_error,omitempty"`
	Log         []LogEntry                `json:"log"`
	Statuses    map[string]planner.Status `json:"statuses"`
}

// Entry returns the log entry for a node.
func (r Result) Entry(id string) (LogEntry, bool) {
	for _, e := range r.Log {
		if e.NodeID == id {
			return e, true
		}
	}
	return LogEntry{}, false
}

// Failed counts failed nodes.
func (r Result) Failed() int {
	n := 0
	for _, s := range r.Statuses {
		if s == planner.StatusFailed {
			n++
		}
	}
	return n
}

// Files lists file artifacts produced by successful nodes, without duplicates.
func (r Result) Files() []string {
	var out []string
	seen := map[string]bool{}
	for _, e := range r.Log {
		if e.Outcome == planner.StatusDone && e.Artifact.Type == capability.ArtifactFile && !seen[e.Artifact.Value] {
			seen[e.Artifact.Value] = true
			out = append(out, e.Artifact.Value)
		}
	}
	return out
}

// runState is the mutable per-run view shared by concurrently running nodes.
type runState struct {
	mu        sync.Mutex
	plan      []*planner.TaskNode
	nodes     map[string]*planner.TaskNode
	artifacts map[string]capability.Artifact
	errs      map[string]string
	log       []LogEntry
}

func newRunState(plan planner.Plan) *runState {
	st := &runState{
		plan:      plan.Nodes,
		nodes:     make(map[string]*planner.TaskNode, len(plan.Nodes)),
		artifacts: make(map[string]capability.Artifact, len(plan.Nodes)),
		errs:      make(map[string]string),
	}
	for _, n := range plan.Nodes {
		n.Status = planner.StatusPending
		st.nodes[n.ID] = n
	}
	return st
}

// ready returns pending nodes whose dependencies are all terminal.
func (s *runState) ready() []*planner.TaskNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*planner.TaskNode
	for _, n := range s.plan {
		if n.Status != planner.StatusPending {
			continue
		}
		ok := true
		for _, dep := range n.Deps() {
			if !s.nodes[dep].Status.Terminal() {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, n)
		}
	}
	return out
}

func (s *runState) setStatus(n *planner.TaskNode, status planner.Status) {
	s.mu.Lock()
	n.Status = status
	s.mu.Unlock()
}

func (s *runState) failure(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok || n.Status != planner.StatusFailed {
		return "", false
	}
	return s.errs[id], true
}

func (s *runState) record(n *planner.TaskNode, entry LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.Status = entry.Outcome
	s.artifacts[n.ID] = entry.Artifact
	if entry.Outcome == planner.StatusFailed {
		s.errs[n.ID] = entry.Error
	}
	s.log = append(s.log, entry)
}

// resolve copies the node's parameters and substitutes bound artifacts.
// Attachments whose producing branch failed are dropped with a note.
func (s *runState) resolve(n *planner.TaskNode) (capability.Params, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	params := n.Params.Clone()
	for _, b := range n.Bindings {
		art, ok := s.artifacts[b.From]
		if !ok || s.nodes[b.From].Status != planner.StatusDone {
			return params, nil, fmt.Errorf("no artifact from %s for %s", b.From, b.Param)
		}
		if err := params.Set(b.Param, art.Value); err != nil {
			return params, nil, err
		}
	}

	if len(params.AttachmentPaths) == 0 {
		return params, nil, nil
	}
	var notes []string
	kept := params.AttachmentPaths[:0]
	for _, path := range params.AttachmentPaths {
		if failed := s.failedProducer(path); failed != "" {
			notes = append(notes, fmt.Sprintf("dropped attachment %s: %s failed", path, failed))
			continue
		}
		kept = append(kept, path)
	}
	params.AttachmentPaths = kept
	return params, notes, nil
}

// failedProducer names the failed node responsible for path, if any. Caller
// holds the lock.
func (s *runState) failedProducer(path string) string {
	for _, n := range s.plan {
		if n.Params.OutputPath != path {
			continue
		}
		if n.Status == planner.StatusFailed {
			return n.ID
		}
		for _, other := range s.plan {
			if other.Status != planner.StatusFailed {
				continue
			}
			for _, b := range other.Bindings {
				if b.From == n.ID && b.Param == capability.ParamFilePath {
					return other.ID
				}
			}
		}
	}
	return ""
}

func (s *runState) result(plan planner.Plan) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := Result{
		Log:      append([]LogEntry(nil), s.log...),
		Statuses: make(map[string]planner.Status, len(s.nodes)),
	}
	for id, n := range s.nodes {
		res.Statuses[id] = n.Status
	}
	if last := plan.Last(); last != nil {
		res.FinalNodeID = last.ID
		res.Final = s.artifacts[last.ID]
		res.FinalErr = s.errs[last.ID]
	}
	return res
}
