package capability

import (
	"context"
	"fmt"
)

// Kind names a pipeline step.
type Kind string

const (
	KindResearch    Kind = "research"
	KindWrite       Kind = "write"
	KindMakePDF     Kind = "make_pdf"
	KindMakeAudio   Kind = "make_audio"
	KindSendEmail   Kind = "send_email"
	KindConfirmSave Kind = "confirm_local_save"
)

// AllKinds lists every step kind in canonical order.
func AllKinds() []Kind {
	return []Kind{KindResearch, KindWrite, KindMakePDF, KindMakeAudio, KindSendEmail, KindConfirmSave}
}

// Valid reports whether k is a known step kind.
func (k Kind) Valid() bool {
	for _, known := range AllKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts a string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown step kind %q", s)
	}
	return k, nil
}

// ArtifactType classifies what a step produces.
type ArtifactType string

const (
	ArtifactText   ArtifactType = "text"
	ArtifactFile   ArtifactType = "file"
	ArtifactStatus ArtifactType = "status"
)

// Artifact is the immutable value produced by a completed step.
// Note carries a soft warning that does not make the step fail.
type Artifact struct {
	Type  ArtifactType `json:"type"`
	Value string       `json:"value"`
	Note  string       `json:"note,omitempty"`
}

func Text(v string) Artifact    { return Artifact{Type: ArtifactText, Value: v} }
func File(path string) Artifact { return Artifact{Type: ArtifactFile, Value: path} }
func Status(v string) Artifact  { return Artifact{Type: ArtifactStatus, Value: v} }

// Param names a capability input so ancestor artifacts can be bound into it.
type Param string

const (
	ParamTopic           Param = "topic"
	ParamBaseFilename    Param = "base_filename"
	ParamOutputPath      Param = "output_path"
	ParamRecipient       Param = "recipient"
	ParamSubject         Param = "subject"
	ParamBody            Param = "body"
	ParamText            Param = "text"
	ParamFilePath        Param = "file_path"
	ParamAttachmentPaths Param = "attachment_paths"
)

// Params are the named inputs handed to a capability.
type Params struct {
	Topic           string   `json:"topic,omitempty"`
	BaseFilename    string   `json:"base_filename,omitempty"`
	OutputPath      string   `json:"output_path,omitempty"`
	Recipients      []string `json:"recipient,omitempty"`
	Subject         string   `json:"subject,omitempty"`
	Body            string   `json:"body,omitempty"`
	Text            string   `json:"text,omitempty"`
	FilePath        string   `json:"file_path,omitempty"`
	AttachmentPaths []string `json:"attachment_paths,omitempty"`
}

// Set assigns value to the named parameter. Attachment paths append.
func (p *Params) Set(param Param, value string) error {
	switch param {
	case ParamTopic:
		p.Topic = value
	case ParamBaseFilename:
		p.BaseFilename = value
	case ParamOutputPath:
		p.OutputPath = value
	case ParamRecipient:
		p.Recipients = append(p.Recipients, value)
	case ParamSubject:
		p.Subject = value
	case ParamBody:
		p.Body = value
	case ParamText:
		p.Text = value
	case ParamFilePath:
		p.FilePath = value
	case ParamAttachmentPaths:
		p.AttachmentPaths = append(p.AttachmentPaths, value)
	default:
		return fmt.Errorf("unknown parameter %q", param)
	}
	return nil
}

// Clone returns a deep copy so executors never mutate a plan's parameters.
func (p Params) Clone() Params {
	out := p
	out.Recipients = append([]string(nil), p.Recipients...)
	out.AttachmentPaths = append([]string(nil), p.AttachmentPaths...)
	return out
}

// Capability performs one step. A returned error is a recoverable failure
// of that step only.
type Capability interface {
	Invoke(ctx context.Context, params Params) (Artifact, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, params Params) (Artifact, error)

func (f CapabilityFunc) Invoke(ctx context.Context, params Params) (Artifact, error) {
	return f(ctx, params)
}
