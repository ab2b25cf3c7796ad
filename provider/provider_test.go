package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
)

func TestNewProviderRequiresKey(t *testing.T) {
	cases := []config.LLMConfig{
		{Backend: "openai"},
		{Backend: "gemini"},
		{Backend: "llama", OpenAI: config.OpenAIConfig{APIKey: "sk"}},
	}
	for _, cfg := range cases {
		if _, err := NewProvider(cfg, nil); !errors.Is(err, ErrBackendInit) {
			t.Fatalf("backend %q: expected ErrBackendInit, got %v", cfg.Backend, err)
		}
	}
}

func TestNewProviderSelectsBackend(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Backend: "Gemini", Gemini: config.GeminiConfig{APIKey: "g"}}, nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if p == nil {
		t.Fatalf("expected provider")
	}
	if NewSpeaker(config.LLMConfig{}, config.AudioConfig{}, nil) != nil {
		t.Fatalf("expected no speaker without an openai key")
	}
}

type flaky struct {
	failures int
	calls    int
}

func (f *flaky) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("transient")
	}
	return "ok", nil
}

func TestWithRetry(t *testing.T) {
	inner := &flaky{failures: 2}
	out, err := WithRetry(inner, 2, time.Millisecond).Generate(context.Background(), "", "x")
	if err != nil || out != "ok" {
		t.Fatalf("expected success after retries, got %q %v", out, err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}

	exhausted := &flaky{failures: 5}
	if _, err := WithRetry(exhausted, 1, time.Millisecond).Generate(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error once retries are exhausted")
	}
	if exhausted.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", exhausted.calls)
	}
}
