package provider

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	gemini_provider "github.com/mohammad-safakhou/newsletter/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/newsletter/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI Client = config.BackendOpenAI
	Gemini Client = config.BackendGemini
)

// ErrBackendInit is the one fatal error of a run: the language-model backend
// could not be constructed.
var ErrBackendInit = errors.New("language model backend unavailable")

// Provider is the interface that all LLM implementations must satisfy
type Provider interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Speaker converts text to mp3 audio.
type Speaker interface {
	Speak(ctx context.Context, model, voice, text string) ([]byte, error)
}

// NewProvider resolves the configured backend once. A nil logger disables
// request tracing.
func NewProvider(cfg config.LLMConfig, logger *log.Logger) (Provider, error) {
	var p Provider
	switch Client(strings.ToLower(cfg.Backend)) {
	case OpenAI:
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrBackendInit)
		}
		p = openai_provider.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model,
			cfg.OpenAI.Temperature, cfg.OpenAI.MaxTokens, cfg.OpenAI.Timeout, logger)
	case Gemini:
		if strings.TrimSpace(cfg.Gemini.APIKey) == "" {
			return nil, fmt.Errorf("%w: GOOGLE_API_KEY not set", ErrBackendInit)
		}
		p = gemini_provider.NewGeminiClient(cfg.Gemini.APIKey, cfg.Gemini.BaseURL, cfg.Gemini.Model,
			cfg.Gemini.Temperature, cfg.Gemini.Timeout, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider %q", ErrBackendInit, cfg.Backend)
	}
	if cfg.MaxRetries > 0 {
		p = WithRetry(p, cfg.MaxRetries, time.Second)
	}
	return p, nil
}

// NewSpeaker returns the OpenAI speech client, or nil when no OpenAI key is
// configured.
func NewSpeaker(cfg config.LLMConfig, audio config.AudioConfig, logger *log.Logger) Speaker {
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return nil
	}
	return openai_provider.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model,
		cfg.OpenAI.Temperature, cfg.OpenAI.MaxTokens, audio.Timeout, logger)
}

type retrying struct {
	inner   Provider
	retries int
	delay   time.Duration
}

// WithRetry retries failed generations up to retries extra times.
func WithRetry(p Provider, retries int, delay time.Duration) Provider {
	return &retrying{inner: p, retries: retries, delay: delay}
}

func (r *retrying) Generate(ctx context.Context, system, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.retries; attempt++ {
		out, err := r.inner.Generate(ctx, system, prompt)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == r.retries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.delay * time.Duration(attempt+1)):
		}
	}
	return "", lastErr
}
