package web_search

import (
	"context"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/tools/web_search/brave"
	"github.com/mohammad-safakhou/newsletter/tools/web_search/models"
	"github.com/mohammad-safakhou/newsletter/tools/web_search/serper"
)

type WebSearcher interface {
	Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

var (
	ErrUnsupportedProvider = &Error{"unsupported provider"}
	ErrMissingAPIKey       = &Error{"search api key not configured"}
)

// NewWebSearcher builds the configured search provider.
func NewWebSearcher(cfg config.WebSearchConfig) (WebSearcher, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch Provider(strings.ToLower(strings.TrimSpace(cfg.Provider))) {
	case SerperProvider:
		if cfg.SerperAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return serper.Search{ApiKey: cfg.SerperAPIKey, Endpoint: cfg.Endpoint, Client: client}, nil
	case BraveProvider:
		if cfg.BraveAPIKey == "" {
			return nil, ErrMissingAPIKey
		}
		return brave.Search{ApiKey: cfg.BraveAPIKey, Endpoint: cfg.Endpoint, Client: client}, nil
	default:
		return nil, ErrUnsupportedProvider
	}
}
