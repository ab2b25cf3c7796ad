package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mohammad-safakhou/newsletter/internal/artifact"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
)

//go:embed plan_schema.json
var planSchemaJSON string

// PlanDocumentVersion is the current document format.
const PlanDocumentVersion = "v1"

// PlanDocument represents the canonical JSON form of a plan, persisted with run history.
type PlanDocument struct {
	Version        string                 `json:"version"`
	PlanID         string                 `json:"plan_id,omitempty"`
	CreatedAt      string                 `json:"created_at,omitempty"`
	Description    string                 `json:"description,omitempty"`
	BaseFilename   string                 `json:"base_filename,omitempty"`
	ExecutionOrder []string               `json:"execution_order,omitempty"`
	Tasks          []PlanTask             `json:"tasks"`
	Edges          []PlanEdge             `json:"edges,omitempty"`
	Warnings       []string               `json:"warnings,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// PlanTask models a single node in the plan DAG.
type PlanTask struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Parameters capability.Params `json:"parameters"`
	Bindings   []Binding         `json:"bindings,omitempty"`
	DependsOn  []string          `json:"depends_on,omitempty"`
	After      []string          `json:"after,omitempty"`
	Status     string            `json:"status,omitempty"`
}

// PlanEdge connects two tasks in the graph. Kind is "data" for strict
// dependencies and "order" for ordering-only ones.
type PlanEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind,omitempty"`
}

// Document renders the plan for storage and the HTTP API.
func (p Plan) Document(rc artifact.RunContext, topic string) PlanDocument {
	doc := PlanDocument{
		Version:        PlanDocumentVersion,
		PlanID:         rc.RunID,
		CreatedAt:      rc.Timestamp.UTC().Format(time.RFC3339),
		Description:    topic,
		BaseFilename:   rc.BaseFilename,
		ExecutionOrder: p.IDs(),
		Warnings:       append([]string(nil), p.Warnings...),
	}
	for _, n := range p.Nodes {
		doc.Tasks = append(doc.Tasks, PlanTask{
			ID:         n.ID,
			Type:       string(n.Kind),
			Parameters: n.Params,
			Bindings:   n.Bindings,
			DependsOn:  n.DependsOn,
			After:      n.After,
			Status:     string(n.Status),
		})
		for _, dep := range n.DependsOn {
			doc.Edges = append(doc.Edges, PlanEdge{From: dep, To: n.ID, Kind: "data"})
		}
		for _, dep := range n.After {
			doc.Edges = append(doc.Edges, PlanEdge{From: dep, To: n.ID, Kind: "order"})
		}
	}
	return doc
}

var (
	compileOnce sync.Once
	planSchema  *jsonschema.Schema
	compileErr  error
)

// PlanSchema returns the compiled JSON Schema for plan documents.
func PlanSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("plan_schema.json", strings.NewReader(planSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("plan_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile planner schema: %w", err)
			return
		}
		planSchema = schema
	})
	return planSchema, compileErr
}

// ValidatePlanDocument validates the provided JSON bytes against the plan schema.
func ValidatePlanDocument(data []byte) error {
	schema, err := PlanSchema()
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("plan does not match schema: %w", err)
	}
	return nil
}

// MarshalDocument encodes and validates a plan document.
func MarshalDocument(doc PlanDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	if err := ValidatePlanDocument(data); err != nil {
		return nil, err
	}
	return data, nil
}
