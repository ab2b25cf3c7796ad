package agents

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/internal/capability"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch"
	"github.com/mohammad-safakhou/newsletter/tools/web_search"
	"github.com/mohammad-safakhou/newsletter/tools/web_search/models"
)

const researchSystemPrompt = `You are a senior technology researcher preparing notes for a newsletter writer.
Identify the most important recent developments and the next big trend for the given topic.
Write a two paragraph report. Ground claims in the supplied sources when there are any and cite them by number like [1].
Do not invent sources.`

// Research gathers sources for a topic and asks the model for a report.
type Research struct {
	llm      Generator
	searcher web_search.WebSearcher
	fetcher  web_fetch.WebFetcher
	sources  config.SourcesConfig
	logger   *log.Logger
}

func NewResearch(llm Generator, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher, sources config.SourcesConfig, logger *log.Logger) *Research {
	return &Research{llm: llm, searcher: searcher, fetcher: fetcher, sources: sources, logger: orDiscard(logger)}
}

func (r *Research) Invoke(ctx context.Context, p capability.Params) (capability.Artifact, error) {
	topic := strings.TrimSpace(p.Topic)
	if topic == "" {
		return capability.Artifact{}, errors.New("research needs a topic")
	}

	var note string
	results, err := r.discover(ctx, topic)
	if err != nil {
		r.logger.Printf("web search for %q failed: %v", topic, err)
		note = "web search unavailable; report relies on model knowledge"
	}
	pages := r.fetch(ctx, results)

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	if len(results) > 0 {
		b.WriteString("\nSources:\n")
		for i, res := range results {
			fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n", i+1, res.Title, res.URL, res.Snippet)
			if text := pages[res.URL]; text != "" {
				fmt.Fprintf(&b, "Extract: %s\n", text)
			}
		}
	}

	report, err := r.llm.Generate(ctx, researchSystemPrompt, b.String())
	if err != nil {
		return capability.Artifact{}, fmt.Errorf("research report: %w", err)
	}
	report = strings.TrimSpace(report)
	if report == "" {
		return capability.Artifact{}, errors.New("research report is empty")
	}
	if len(results) > 0 {
		var refs strings.Builder
		refs.WriteString("\n\nSources:\n")
		for i, res := range results {
			fmt.Fprintf(&refs, "[%d] %s\n", i+1, res.URL)
		}
		report += refs.String()
	}
	art := capability.Text(report)
	art.Note = note
	return art, nil
}

// discover returns search results allowed by the source policy.
func (r *Research) discover(ctx context.Context, topic string) ([]models.Result, error) {
	if r.searcher == nil {
		return nil, nil
	}
	raw, err := r.searcher.Discover(ctx, topic, r.sources.WebSearch.MaxResults, r.sources.Policy.Allow)
	if err != nil {
		return nil, err
	}
	out := make([]models.Result, 0, len(raw))
	for _, res := range raw {
		if res.URL == "" || !r.sources.Policy.Permits(res.URL) {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

// fetch downloads the first pages and returns their readable text by url.
// Failed pages are skipped.
func (r *Research) fetch(ctx context.Context, results []models.Result) map[string]string {
	pages := map[string]string{}
	if r.fetcher == nil {
		return pages
	}
	limit := r.sources.Fetch.MaxPages
	for i, res := range results {
		if i >= limit {
			break
		}
		page, err := r.fetcher.Exec(ctx, res.URL)
		if err != nil {
			r.logger.Printf("fetch %s: %v", res.URL, err)
			continue
		}
		pages[res.URL] = clip(page.Text, 2000)
	}
	return pages
}

func clip(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max])
}
