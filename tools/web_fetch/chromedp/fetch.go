package chromedp

import (
	"context"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/extract"
	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

const (
	defaultUserAgent = "NewsletterBot/1.0"
	// statusUnrendered marks pages that never produced a response.
	statusUnrendered = 599
)

// Fetch renders pages in headless Chrome so articles assembled by scripts
// are readable. Every call runs its own browser.
type Fetch struct {
	Timeout   time.Duration
	MaxChars  int
	UserAgent string
	// Settle waits this long after the body is ready for late scripts.
	Settle time.Duration
}

func (f Fetch) Exec(ctx context.Context, rawURL string) (models.Result, error) {
	u, err := neturl.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return models.Result{}, fmt.Errorf("invalid url %q", rawURL)
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	start := time.Now()
	html, status, err := f.render(ctx, u.String())
	if err != nil {
		return models.Result{URL: u.String(), Status: status, RenderMS: int(time.Since(start).Milliseconds())}, fmt.Errorf("render %s: %w", u, err)
	}
	return extract.Readable(u.String(), html, status, f.MaxChars, start), nil
}

func (f Fetch) render(ctx context.Context, url string) (string, int, error) {
	ua := f.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.UserAgent(ua), chromedp.DisableGPU)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return "", statusUnrendered, err
	}
	status := 200
	if resp != nil {
		status = int(resp.Status)
	}
	if status >= 400 {
		return "", status, fmt.Errorf("status %d", status)
	}

	var html string
	actions := []chromedp.Action{chromedp.WaitReady("body", chromedp.ByQuery)}
	if f.Settle > 0 {
		actions = append(actions, chromedp.Sleep(f.Settle))
	}
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return "", status, err
	}
	return html, status, nil
}
