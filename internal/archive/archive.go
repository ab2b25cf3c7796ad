package archive

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/mohammad-safakhou/newsletter/config"
)

const snippetChars = 240

// Entry is one finished article.
type Entry struct {
	RunID        string    `json:"run_id"`
	Topic        string    `json:"topic"`
	BaseFilename string    `json:"base_filename"`
	Article      string    `json:"article"`
	Files        []string  `json:"files,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Hit is a ranked search result.
type Hit struct {
	RunID        string    `json:"run_id"`
	Topic        string    `json:"topic"`
	BaseFilename string    `json:"base_filename"`
	Snippet      string    `json:"snippet"`
	Files        []string  `json:"files,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	Score        float64   `json:"score"`
	Rank         int       `json:"rank"`
}

// Index is a BM25 full-text index over past articles.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
}

// Open creates or reopens the index. An empty path keeps it in memory.
func Open(cfg config.ArchiveConfig) (*Index, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, err
		}
		return &Index{bleve: idx}, nil
	}
	idx, err := bleve.Open(cfg.Path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(cfg.Path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", cfg.Path, err)
	}
	return &Index{bleve: idx}, nil
}

// Add indexes an article under its run id, replacing an earlier version.
func (x *Index) Add(e Entry) error {
	if strings.TrimSpace(e.Article) == "" {
		return nil
	}
	doc := map[string]interface{}{
		"run_id":        e.RunID,
		"topic":         e.Topic,
		"base_filename": e.BaseFilename,
		"article":       e.Article,
		"files":         e.Files,
		"created_at":    e.CreatedAt.UTC().Format(time.RFC3339),
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.bleve.Index(e.RunID, doc)
}

// Search runs a query-string query and returns up to k hits.
func (x *Index) Search(q string, k int) ([]Hit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(q), k, 0, false)
	req.Fields = []string{"topic", "base_filename", "article", "files", "created_at"}
	req.Highlight = bleve.NewHighlightWithStyle("html")

	x.mu.RLock()
	res, err := x.bleve.Search(req)
	x.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, len(res.Hits))
	for i, h := range res.Hits {
		hit := Hit{
			RunID:        h.ID,
			Topic:        stringField(h.Fields["topic"]),
			BaseFilename: stringField(h.Fields["base_filename"]),
			Files:        stringsField(h.Fields["files"]),
			Score:        h.Score,
			Rank:         i + 1,
		}
		if ts, err := time.Parse(time.RFC3339, stringField(h.Fields["created_at"])); err == nil {
			hit.CreatedAt = ts
		}
		if frags := h.Fragments["article"]; len(frags) > 0 {
			hit.Snippet = frags[0]
		} else {
			hit.Snippet = snippet(stringField(h.Fields["article"]))
		}
		out = append(out, hit)
	}
	return out, nil
}

// Count returns the number of indexed articles.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.bleve.DocCount()
}

func (x *Index) Close() error { return x.bleve.Close() }

func stringField(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		if len(t) > 0 {
			return stringField(t[0])
		}
	}
	return ""
}

// stringsField reads a stored field that holds one value as a scalar and
// several as a slice.
func stringsField(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= snippetChars {
		return text
	}
	return string(r[:snippetChars]) + "..."
}
