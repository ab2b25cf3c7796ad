package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/newsletter/tools/web_search/models"
)

const DefaultEndpoint = "https://google.serper.dev/search"

type Search struct {
	ApiKey   string
	Endpoint string
	Client   *http.Client
}

func (s Search) Discover(ctx context.Context, q string, k int, sites []string) ([]models.Result, error) {
	// https://serper.dev/ docs
	query := q
	if len(sites) > 0 {
		parts := make([]string, 0, len(sites))
		for _, site := range sites {
			parts = append(parts, "site:"+site)
		}
		query = q + " (" + strings.Join(parts, " OR ") + ")"
	}
	body, err := json.Marshal(map[string]any{"q": query, "num": k})
	if err != nil {
		return nil, err
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("serper search status %d", resp.StatusCode)
	}
	var raw struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var out []models.Result
	for i, it := range raw.Organic {
		if k > 0 && i >= k {
			break
		}
		out = append(out, models.Result{Title: it.Title, URL: it.Link, Snippet: it.Snippet, Date: it.Date})
	}
	return out, nil
}
