package extract

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/mohammad-safakhou/newsletter/tools/web_fetch/models"
)

// Readable runs readability over raw HTML and trims the text to maxChars runes.
func Readable(rawURL, html string, status, maxChars int, started time.Time) models.Result {
	sum := sha1.Sum([]byte(html))
	res := models.Result{
		URL:      rawURL,
		Status:   status,
		HTMLHash: hex.EncodeToString(sum[:]),
		RenderMS: int(time.Since(started) / time.Millisecond),
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(html), u)
	if err != nil {
		return res
	}
	text := strings.TrimSpace(article.TextContent)
	if maxChars > 0 {
		if r := []rune(text); len(r) > maxChars {
			text = string(r[:maxChars])
		}
	}
	res.Title = strings.TrimSpace(article.Title)
	res.Byline = strings.TrimSpace(article.Byline)
	res.SiteName = article.SiteName
	res.Text = text
	return res
}
