package plain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/extract"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

const maxBodyBytes = 4 << 20

// Fetch downloads a page over plain HTTP.
type Fetch struct {
	Timeout  time.Duration
	MaxChars int
	Client   *http.Client
}

func (f Fetch) Exec(ctx context.Context, url string) (models.Result, error) {
	if strings.TrimSpace(url) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	t0 := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", "NewsletterBot/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return models.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return models.Result{URL: url, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.Result{}, err
	}
	return extract.Readable(url, string(body), resp.StatusCode, f.MaxChars, t0), nil
}
