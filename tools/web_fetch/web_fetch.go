package web_fetch

import (
	"context"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsletter/config"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/plain"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 20000
)

type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
	OffFetcherType      FetcherType = "off"
)

type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

var ErrUnsupportedFetcher = &Error{"unsupported fetcher type"}

// NewWebFetcher returns nil without error when fetching is switched off.
func NewWebFetcher(cfg config.FetchConfig, maxChars int) (WebFetcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch FetcherType(strings.ToLower(strings.TrimSpace(cfg.Mode))) {
	case HTTPFetcherType, "":
		return &plain.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	case OffFetcherType:
		return nil, nil
	default:
		return nil, ErrUnsupportedFetcher
	}
}
