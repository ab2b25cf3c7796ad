package planner

import (
	"github.com/mohammad-safakhou/newsletter/internal/capability"
)

// Status tracks a node through execution.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool { return s == StatusDone || s == StatusFailed }

// Deterministic node ids.
const (
	NodeResearch  = "research"
	NodeWrite     = "write"
	NodeMakePDF   = "make_pdf"
	NodeSavePDF   = "save_pdf"
	NodeMakeAudio = "make_audio"
	NodeSaveAudio = "save_audio"
	NodeSendEmail = "send_email"
)

// Binding fills Param from the artifact produced by node From.
type Binding struct {
	Param capability.Param `json:"param"`
	From  string           `json:"from"`
}

// TaskNode is one step of a plan. DependsOn lists strict data dependencies;
// After lists nodes that only have to reach a terminal state first.
type TaskNode struct {
	ID        string            `json:"id"`
	Kind      capability.Kind   `json:"kind"`
	Params    capability.Params `json:"params"`
	Bindings  []Binding         `json:"bindings,omitempty"`
	DependsOn []string          `json:"depends_on,omitempty"`
	After     []string          `json:"after,omitempty"`
	Status    Status            `json:"status"`
}

// Deps returns every node that must finish before n starts.
func (n *TaskNode) Deps() []string {
	out := make([]string, 0, len(n.DependsOn)+len(n.After))
	out = append(out, n.DependsOn...)
	for _, id := range n.After {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

// Plan is an ordered task list; Nodes is a valid topological order.
type Plan struct {
	Nodes    []*TaskNode `json:"nodes"`
	Warnings []string    `json:"warnings,omitempty"`
}

// Node looks a node up by id.
func (p Plan) Node(id string) (*TaskNode, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

// IDs returns node ids in plan order.
func (p Plan) IDs() []string {
	out := make([]string, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.ID
	}
	return out
}

// KindsInOrder returns each node's kind in plan order.
func (p Plan) KindsInOrder() []capability.Kind {
	out := make([]capability.Kind, len(p.Nodes))
	for i, n := range p.Nodes {
		out[i] = n.Kind
	}
	return out
}

// Kinds returns the distinct capabilities the plan needs.
func (p Plan) Kinds() []capability.Kind {
	var out []capability.Kind
	seen := map[capability.Kind]bool{}
	for _, n := range p.Nodes {
		if !seen[n.Kind] {
			seen[n.Kind] = true
			out = append(out, n.Kind)
		}
	}
	return out
}

// Last returns the final node, whose artifact is the run's headline result.
func (p Plan) Last() *TaskNode {
	if len(p.Nodes) == 0 {
		return nil
	}
	return p.Nodes[len(p.Nodes)-1]
}

// Clone deep-copies the plan so a run can mutate statuses freely.
func (p Plan) Clone() Plan {
	out := Plan{Warnings: append([]string(nil), p.Warnings...)}
	for _, n := range p.Nodes {
		c := *n
		c.Params = n.Params.Clone()
		c.Bindings = append([]Binding(nil), n.Bindings...)
		c.DependsOn = append([]string(nil), n.DependsOn...)
		c.After = append([]string(nil), n.After...)
		out.Nodes = append(out.Nodes, &c)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
