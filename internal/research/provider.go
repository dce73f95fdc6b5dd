package research

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/podenginelabs/podengine/internal/config"
)

// NewProvider builds the search backend selected by config.
func NewProvider(cfg config.SearchConfig) (Provider, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockProvider(), nil
	case "duckduckgo":
		return NewDuckDuckGoProvider(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown search mode %q", cfg.Mode)
	}
}

type mockProvider struct {
	clock func() time.Time
}

// NewMockProvider returns a provider with deterministic simulated results,
// used for development and tests.
func NewMockProvider() Provider {
	return &mockProvider{clock: time.Now}
}

func (m *mockProvider) Search(ctx context.Context, query string, maxResults int) ([]Source, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	slug := strings.ReplaceAll(query, " ", "-")
	now := m.clock().UTC()
	results := []Source{
		{
			Title:       fmt.Sprintf("Research Result 1: %s", query),
			Snippet:     fmt.Sprintf("A comprehensive overview of %s. Recent developments show significant progress with multiple breakthroughs reported by leading researchers.", query),
			URL:         fmt.Sprintf("https://example.com/research/%s/1", slug),
			RetrievedAt: now,
		},
		{
			Title:       fmt.Sprintf("Expert Analysis: Understanding %s", query),
			Snippet:     fmt.Sprintf("Experts analyzing %s have found several key insights. The implications could reshape how we think about this topic.", query),
			URL:         fmt.Sprintf("https://example.com/analysis/%s/2", slug),
			RetrievedAt: now,
		},
		{
			Title:       fmt.Sprintf("Latest News on %s", query),
			Snippet:     fmt.Sprintf("Breaking developments in %s have captured attention worldwide. Industry leaders are responding with new strategies.", query),
			URL:         fmt.Sprintf("https://example.com/news/%s/3", slug),
			RetrievedAt: now,
		},
	}
	if maxResults > 0 && maxResults < len(results) {
		results = results[:maxResults]
	}
	return results, nil
}

type duckduckgoProvider struct {
	endpoint string
	client   *http.Client
	clock    func() time.Time
}

// NewDuckDuckGoProvider scrapes the HTML search endpoint. The lite HTML
// frontend needs no API key, which keeps the research stage dependency-free
// at runtime.
func NewDuckDuckGoProvider(endpoint string, timeout time.Duration) Provider {
	return &duckduckgoProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		clock:    time.Now,
	}
}

func (d *duckduckgoProvider) Search(ctx context.Context, query string, maxResults int) ([]Source, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "podengine/0.1 (+https://github.com/podenginelabs/podengine)")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	now := d.clock().UTC()
	var sources []Source
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if maxResults > 0 && len(sources) >= maxResults {
			return false
		}
		link := sel.Find(".result__a")
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").Text())
		if title == "" && snippet == "" {
			return true
		}
		sources = append(sources, Source{
			Title:       title,
			Snippet:     snippet,
			URL:         cleanResultURL(href),
			RetrievedAt: now,
		})
		return true
	})
	return sources, nil
}

// cleanResultURL unwraps the redirect links the HTML frontend returns
// (//duckduckgo.com/l/?uddg=<encoded target>).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return href
}
