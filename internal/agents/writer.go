package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newsletter/internal/capability"
)

const writerSystemPrompt = `You are a newsletter writer who turns research notes into clear, engaging articles for a general technical audience.
Write a three paragraph article formatted as markdown with a single top level heading.
Keep every factual claim traceable to the notes and keep their source references.`

// Writer turns research notes into the newsletter article.
type Writer struct {
	llm Generator
}

func NewWriter(llm Generator) *Writer { return &Writer{llm: llm} }

func (w *Writer) Invoke(ctx context.Context, p capability.Params) (capability.Artifact, error) {
	if strings.TrimSpace(p.Text) == "" {
		return capability.Artifact{}, errors.New("writer needs research notes")
	}
	prompt := fmt.Sprintf("Compose an insightful article on %s.\n\nResearch notes:\n%s", p.Topic, p.Text)
	article, err := w.llm.Generate(ctx, writerSystemPrompt, prompt)
	if err != nil {
		return capability.Artifact{}, fmt.Errorf("write article: %w", err)
	}
	article = stripFence(article)
	if article == "" {
		return capability.Artifact{}, errors.New("article is empty")
	}
	return capability.Text(article), nil
}

// stripFence removes a ```markdown fence some models wrap answers in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
