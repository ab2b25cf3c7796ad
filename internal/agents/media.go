package agents

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/provider"
	"github.com/mohammad-safakhou/newsletter/tools/pdf"
)

// PDF renders the article to the planned output path.
type PDF struct {
	renderer *pdf.Renderer
}

func NewPDF(renderer *pdf.Renderer) *PDF {
	if renderer == nil {
		renderer = pdf.NewRenderer()
	}
	return &PDF{renderer: renderer}
}

func (a *PDF) Invoke(ctx context.Context, p capability.Params) (capability.Artifact, error) {
	if strings.TrimSpace(p.Text) == "" {
		return capability.Artifact{}, errors.New("pdf needs article text")
	}
	fallback, err := a.renderer.Render(p.OutputPath, p.Topic, p.Text)
	if err != nil {
		return capability.Artifact{}, err
	}
	art := capability.File(p.OutputPath)
	if fallback {
		art.Note = "article could not be encoded; pdf holds placeholder text"
	}
	return art, nil
}

// maxSpeechChars is the longest input the speech endpoint accepts.
const maxSpeechChars = 4096

var markdownNoise = regexp.MustCompile("[#*_`>]+")

// Audio reads the article aloud into an mp3 file.
type Audio struct {
	speaker provider.Speaker
	cfg     config.AudioConfig
}

func NewAudio(speaker provider.Speaker, cfg config.AudioConfig) *Audio {
	return &Audio{speaker: speaker, cfg: cfg}
}

func (a *Audio) Invoke(ctx context.Context, p capability.Params) (capability.Artifact, error) {
	if a.speaker == nil {
		return capability.Artifact{}, errors.New("text-to-speech is not configured")
	}
	text := strings.TrimSpace(markdownNoise.ReplaceAllString(p.Text, ""))
	if text == "" {
		return capability.Artifact{}, errors.New("audio needs article text")
	}
	var note string
	if r := []rune(text); len(r) > maxSpeechChars {
		text = string(r[:maxSpeechChars])
		note = fmt.Sprintf("article truncated to %d characters for speech", maxSpeechChars)
	}
	data, err := a.speaker.Speak(ctx, a.cfg.Model, a.cfg.Voice, text)
	if err != nil {
		return capability.Artifact{}, fmt.Errorf("generate audio: %w", err)
	}
	if err := writeFile(p.OutputPath, data); err != nil {
		return capability.Artifact{}, err
	}
	art := capability.File(p.OutputPath)
	art.Note = note
	return art, nil
}

func writeFile(path string, data []byte) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("output path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
