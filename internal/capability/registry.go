package capability

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolCard represents registry metadata for a step capability.
type ToolCard struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	Kind        Kind                   `json:"kind"`
	Requires    []ArtifactType         `json:"requires,omitempty"`
	Produces    ArtifactType           `json:"produces"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	SideEffects []string               `json:"side_effects,omitempty"`
	Checksum    string                 `json:"checksum,omitempty"`
	Signature   string                 `json:"signature,omitempty"`
}

// DefaultToolCards describes the built-in newsletter steps.
func DefaultToolCards() []ToolCard {
	object := func(required ...string) map[string]interface{} {
		s := map[string]interface{}{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type":    "object",
		}
		if len(required) > 0 {
			s["required"] = required
		}
		return s
	}
	return []ToolCard{
		{Name: "research", Version: "v1", Description: "Searches the web and summarises current sources", Kind: KindResearch, Produces: ArtifactText, InputSchema: object("topic"), SideEffects: []string{"network", "llm"}},
		{Name: "writer", Version: "v1", Description: "Writes the newsletter article", Kind: KindWrite, Requires: []ArtifactType{ArtifactText}, Produces: ArtifactText, InputSchema: object("topic", "text"), SideEffects: []string{"llm"}},
		{Name: "pdf", Version: "v1", Description: "Renders the article to a PDF file", Kind: KindMakePDF, Requires: []ArtifactType{ArtifactText}, Produces: ArtifactFile, InputSchema: object("text", "output_path"), SideEffects: []string{"filesystem"}},
		{Name: "audio", Version: "v1", Description: "Converts the article to speech", Kind: KindMakeAudio, Requires: []ArtifactType{ArtifactText}, Produces: ArtifactFile, InputSchema: object("text", "output_path"), SideEffects: []string{"network", "filesystem"}},
		{Name: "email", Version: "v1", Description: "Sends the article with attachments", Kind: KindSendEmail, Requires: []ArtifactType{ArtifactText}, Produces: ArtifactStatus, InputSchema: object("recipient", "subject", "body"), SideEffects: []string{"smtp"}},
		{Name: "local_save", Version: "v1", Description: "Confirms a produced file exists locally", Kind: KindConfirmSave, Requires: []ArtifactType{ArtifactFile}, Produces: ArtifactFile, InputSchema: object("file_path"), SideEffects: []string{"filesystem"}},
	}
}

var (
	// ErrToolMissing indicates a required tool is not registered.
	ErrToolMissing = errors.New("required tool missing")
	// ErrUnbound indicates a kind has a card but no capability behind it.
	ErrUnbound = errors.New("capability not bound")
)

// Registry holds validated ToolCards keyed by kind and the capabilities bound to them.
type Registry struct {
	mu    sync.RWMutex
	tools map[Kind]ToolCard
	bound map[Kind]Capability
}

// NewRegistry validates ToolCards and ensures required tools exist. When no
// required kinds are given, research and write are required.
func NewRegistry(cards []ToolCard, signingSecret string, required []string) (*Registry, error) {
	reg := &Registry{tools: make(map[Kind]ToolCard), bound: make(map[Kind]Capability)}
	for _, tc := range cards {
		if err := ValidateToolCard(tc); err != nil {
			return nil, fmt.Errorf("tool %s@%s invalid: %w", tc.Name, tc.Version, err)
		}
		if tc.Checksum != "" {
			if err := VerifyChecksum(tc); err != nil {
				return nil, fmt.Errorf("tool %s@%s: %w", tc.Name, tc.Version, err)
			}
		}
		if err := validateSignature(tc, signingSecret); err != nil {
			return nil, fmt.Errorf("tool %s@%s signature invalid: %w", tc.Name, tc.Version, err)
		}
		existing, ok := reg.tools[tc.Kind]
		if !ok || versionGreater(tc.Version, existing.Version) {
			reg.tools[tc.Kind] = tc
		}
	}
	if len(required) == 0 {
		required = []string{string(KindResearch), string(KindWrite)}
	}
	for _, r := range required {
		if _, ok := reg.tools[Kind(r)]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrToolMissing, r)
		}
	}
	return reg, nil
}

// Tool returns the ToolCard for a kind.
func (r *Registry) Tool(kind Kind) (ToolCard, bool) {
	if r == nil {
		return ToolCard{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tc, ok := r.tools[kind]
	return tc, ok
}

// Bind attaches the capability that performs kind. The kind must have a card.
func (r *Registry) Bind(kind Kind, c Capability) error {
	if c == nil {
		return fmt.Errorf("bind %s: nil capability", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[kind]; !ok {
		return fmt.Errorf("%w: %s", ErrToolMissing, kind)
	}
	r.bound[kind] = c
	return nil
}

// Lookup returns the capability bound to kind.
func (r *Registry) Lookup(kind Kind) (Capability, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnbound, kind)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.bound[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnbound, kind)
	}
	return c, nil
}

// Has reports whether kind is available to plans.
func (r *Registry) Has(kind Kind) bool {
	_, err := r.Lookup(kind)
	return err == nil
}

// Kinds lists the bound kinds in canonical order.
func (r *Registry) Kinds() []Kind {
	var out []Kind
	for _, k := range AllKinds() {
		if r.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// Cards returns the selected card per kind in canonical order.
func (r *Registry) Cards() []ToolCard {
	var out []ToolCard
	for _, k := range AllKinds() {
		if tc, ok := r.Tool(k); ok {
			out = append(out, tc)
		}
	}
	return out
}

// ValidateToolCard checks required fields and that the input schema compiles.
func ValidateToolCard(tc ToolCard) error {
	if strings.TrimSpace(tc.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(tc.Version) == "" {
		return fmt.Errorf("version is required")
	}
	if !tc.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", tc.Kind)
	}
	switch tc.Produces {
	case ArtifactText, ArtifactFile, ArtifactStatus:
	default:
		return fmt.Errorf("unknown produced artifact type %q", tc.Produces)
	}
	if tc.InputSchema == nil {
		return nil
	}
	raw, err := json.Marshal(tc.InputSchema)
	if err != nil {
		return fmt.Errorf("encode input schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("toolcard://%s/%s/input.json", tc.Name, tc.Version)
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("input schema: %w", err)
	}
	if _, err := compiler.Compile(url); err != nil {
		return fmt.Errorf("input schema: %w", err)
	}
	return nil
}

// VerifyChecksum compares the stored checksum with the card payload.
func VerifyChecksum(tc ToolCard) error {
	sum, err := ComputeChecksum(tc)
	if err != nil {
		return err
	}
	if sum != tc.Checksum {
		return fmt.Errorf("checksum mismatch")
	}
	return nil
}

// ComputeChecksum returns a deterministic hash of the ToolCard payload (excluding checksum and signature).
func ComputeChecksum(tc ToolCard) (string, error) {
	payload := map[string]interface{}{
		"name":         tc.Name,
		"version":      tc.Version,
		"description":  tc.Description,
		"kind":         tc.Kind,
		"requires":     tc.Requires,
		"produces":     tc.Produces,
		"input_schema": tc.InputSchema,
		"side_effects": tc.SideEffects,
	}
	normalized, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// SignToolCard computes an HMAC signature using the signing secret.
func SignToolCard(tc ToolCard, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("signing secret is empty")
	}
	checksum, err := ComputeChecksum(tc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(checksum))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SignAll returns cards with checksum and signature filled in.
func SignAll(cards []ToolCard, secret string) ([]ToolCard, error) {
	out := make([]ToolCard, len(cards))
	for i, tc := range cards {
		sum, err := ComputeChecksum(tc)
		if err != nil {
			return nil, err
		}
		tc.Checksum = sum
		if secret != "" {
			sig, err := SignToolCard(tc, secret)
			if err != nil {
				return nil, err
			}
			tc.Signature = sig
		}
		out[i] = tc
	}
	return out, nil
}

func validateSignature(tc ToolCard, secret string) error {
	if secret == "" {
		return nil
	}
	expected, err := SignToolCard(tc, secret)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(tc.Signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func versionGreater(a, b string) bool {
	if a == b {
		return false
	}
	// naive semver compare
	return compareVersions(splitVersion(a), splitVersion(b)) > 0
}

func splitVersion(v string) []int {
	parts := strings.Split(strings.TrimPrefix(v, "v"), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		fmt.Sscanf(p, "%d", &out[i])
	}
	return out
}

func compareVersions(a, b []int) int {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		ai, bi := 0, 0
		if i < len(a) {
			ai = a[i]
		}
		if i < len(b) {
			bi = b[i]
		}
		if ai > bi {
			return 1
		}
		if ai < bi {
			return -1
		}
	}
	return 0
}
