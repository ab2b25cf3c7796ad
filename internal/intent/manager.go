package intent

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed intent_schema.json
var intentSchemaJSON string

// Generator is the slice of the language-model provider the manager needs.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// ManagerExtractor asks the language model to read the request and falls
// back to keyword rules whenever the answer is unusable. Recipient gating is
// identical in both paths.
type ManagerExtractor struct {
	llm      Generator
	fallback *KeywordExtractor
	logger   *log.Logger
}

// NewManagerExtractor wires the model-backed extractor.
func NewManagerExtractor(llm Generator, fallback *KeywordExtractor, logger *log.Logger) *ManagerExtractor {
	if logger == nil {
		logger = log.Default()
	}
	return &ManagerExtractor{llm: llm, fallback: fallback, logger: logger}
}

// IntentDocument is the JSON answer expected from the model.
type IntentDocument struct {
	Topic        string `json:"topic"`
	PDF          bool   `json:"pdf"`
	Audio        bool   `json:"audio"`
	Email        bool   `json:"email"`
	Recipient    string `json:"recipient"`
	BaseFilename string `json:"base_filename"`
}

const managerSystemPrompt = `You are the editor in chief of a newsletter desk. Read the user's request and decide which deliverables they want.
Respond ONLY with a JSON object of this shape:
{"topic": "short topic", "pdf": false, "audio": false, "email": false, "recipient": "", "base_filename": ""}
Set pdf when they want a PDF or document, audio when they want audio or an mp3, email when they want it emailed.
Leave recipient and base_filename empty unless the request names them explicitly. Do not add any other text.`

func (m *ManagerExtractor) Extract(ctx context.Context, raw string) (Request, []string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Request{}, nil, ErrEmptyRequest
	}
	out, err := m.llm.Generate(ctx, managerSystemPrompt, text)
	if err != nil {
		return m.fallbackExtract(ctx, text, fmt.Sprintf("intent model failed (%v); using keyword rules", err))
	}
	doc, err := ParseIntentDocument(out)
	if err != nil {
		m.logger.Printf("unusable intent document: %v", err)
		return m.fallbackExtract(ctx, text, "intent model returned an unusable answer; using keyword rules")
	}
	requested := Flags{PDF: doc.PDF, Audio: doc.Audio, Email: doc.Email}
	recipient := strings.TrimSpace(doc.Recipient)
	if recipient != "" && !emailAddress.MatchString(recipient) {
		recipient = ""
	}
	req, warnings := m.fallback.finish(text, strings.TrimSpace(doc.Topic), requested, recipient, doc.BaseFilename)
	return req, warnings, nil
}

func (m *ManagerExtractor) fallbackExtract(ctx context.Context, text, warning string) (Request, []string, error) {
	req, warnings, err := m.fallback.Extract(ctx, text)
	if err != nil {
		return Request{}, nil, err
	}
	return req, append([]string{warning}, warnings...), nil
}

var (
	compileOnce  sync.Once
	intentSchema *jsonschema.Schema
	compileErr   error
)

// IntentSchema returns the compiled JSON Schema for model intent documents.
func IntentSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("intent_schema.json", strings.NewReader(intentSchemaJSON)); err != nil {
			compileErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, err := compiler.Compile("intent_schema.json")
		if err != nil {
			compileErr = fmt.Errorf("compile intent schema: %w", err)
			return
		}
		intentSchema = schema
	})
	return intentSchema, compileErr
}

// ParseIntentDocument strips code fences, validates the JSON against the
// intent schema and decodes it.
func ParseIntentDocument(out string) (IntentDocument, error) {
	body := stripFences(out)
	schema, err := IntentSchema()
	if err != nil {
		return IntentDocument{}, err
	}
	var generic interface{}
	if err := json.Unmarshal([]byte(body), &generic); err != nil {
		return IntentDocument{}, fmt.Errorf("intent is not valid JSON: %w", err)
	}
	if err := schema.Validate(generic); err != nil {
		return IntentDocument{}, fmt.Errorf("intent does not match schema: %w", err)
	}
	var doc IntentDocument
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return IntentDocument{}, err
	}
	return doc, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
