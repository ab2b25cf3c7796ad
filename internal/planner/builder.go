package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/internal/intent"
)

// ErrCoreStepUnavailable means research or write has no bound capability.
var ErrCoreStepUnavailable = errors.New("core step unavailable")

// Availability reports which step kinds can run.
type Availability interface {
	Has(kind capability.Kind) bool
}

// Builder turns a Request into a Plan using fixed rules.
type Builder struct {
	registry      Availability
	subjectPrefix string
}

// NewBuilder returns a Builder consulting registry for available steps.
func NewBuilder(registry Availability, subjectPrefix string) *Builder {
	return &Builder{registry: registry, subjectPrefix: subjectPrefix}
}

// Build emits research and write, then the requested pdf and audio branches,
// then email. The same Request and RunContext always yield the same plan.
func (b *Builder) Build(req intent.Request, rc artifact.RunContext) (Plan, error) {
	for _, core := range []capability.Kind{capability.KindResearch, capability.KindWrite} {
		if !b.registry.Has(core) {
			return Plan{}, fmt.Errorf("%w: %s", ErrCoreStepUnavailable, core)
		}
	}

	var plan Plan
	add := func(n *TaskNode) *TaskNode {
		n.Status = StatusPending
		plan.Nodes = append(plan.Nodes, n)
		return n
	}
	warn := func(format string, args ...interface{}) {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf(format, args...))
	}

	add(&TaskNode{
		ID:     NodeResearch,
		Kind:   capability.KindResearch,
		Params: capability.Params{Topic: req.Topic},
	})
	add(&TaskNode{
		ID:        NodeWrite,
		Kind:      capability.KindWrite,
		Params:    capability.Params{Topic: req.Topic},
		Bindings:  []Binding{{Param: capability.ParamText, From: NodeResearch}},
		DependsOn: []string{NodeResearch},
	})

	// Tails of the optional branches in emission order.
	var tails []string
	var attachments []string

	branch := func(wanted bool, makeID, saveID string, kind capability.Kind, ext, label string) {
		if !wanted {
			return
		}
		if !b.registry.Has(kind) {
			warn("%s requested but no %s capability is available; skipping", label, kind)
			return
		}
		path := rc.Path(ext)
		add(&TaskNode{
			ID:   makeID,
			Kind: kind,
			Params: capability.Params{
				Topic:        req.Topic,
				BaseFilename: rc.BaseFilename,
				OutputPath:   path,
			},
			Bindings:  []Binding{{Param: capability.ParamText, From: NodeWrite}},
			DependsOn: []string{NodeWrite},
		})
		attachments = append(attachments, path)
		if !b.registry.Has(capability.KindConfirmSave) {
			warn("%s will not be confirmed on disk: no %s capability is available", label, capability.KindConfirmSave)
			tails = append(tails, makeID)
			return
		}
		add(&TaskNode{
			ID:        saveID,
			Kind:      capability.KindConfirmSave,
			Params:    capability.Params{BaseFilename: rc.BaseFilename},
			Bindings:  []Binding{{Param: capability.ParamFilePath, From: makeID}},
			DependsOn: []string{makeID},
		})
		tails = append(tails, saveID)
	}
	branch(req.Flags.PDF, NodeMakePDF, NodeSavePDF, capability.KindMakePDF, artifact.ExtPDF, "pdf")
	branch(req.Flags.Audio, NodeMakeAudio, NodeSaveAudio, capability.KindMakeAudio, artifact.ExtAudio, "audio")

	if req.Flags.Email {
		switch {
		case len(req.Recipients) == 0:
			warn("email requested but no recipients are configured; skipping")
		case !b.registry.Has(capability.KindSendEmail):
			warn("email requested but no %s capability is available; skipping", capability.KindSendEmail)
		default:
			add(&TaskNode{
				ID:   NodeSendEmail,
				Kind: capability.KindSendEmail,
				Params: capability.Params{
					Topic:           req.Topic,
					BaseFilename:    rc.BaseFilename,
					Recipients:      append([]string(nil), req.Recipients...),
					Subject:         b.subject(req.Topic),
					AttachmentPaths: attachments,
				},
				Bindings:  []Binding{{Param: capability.ParamBody, From: NodeWrite}},
				DependsOn: []string{NodeWrite},
				After:     append([]string(nil), tails...),
			})
		}
	}
	return plan, nil
}

func (b *Builder) subject(topic string) string {
	prefix := strings.TrimSpace(b.subjectPrefix)
	if prefix == "" {
		return topic
	}
	return prefix + ": " + topic
}
