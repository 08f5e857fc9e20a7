// Package research fetches and filters the external research feed the
// decision cycle scores sentiment from.
package research

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"automatic-succotash/internal/domain"
	"automatic-succotash/internal/provider"
)

// Collector is the research boundary the cycle consumes. Implementations
// return deduplicated, time-filtered items.
type Collector interface {
	Collect(ctx context.Context, symbol, query string) ([]domain.ResearchItem, error)
}

// GoogleNewsCollector pulls headline items from the Google News RSS search
// feed, bounded by a lookback window and a token-bucket limiter.
type GoogleNewsCollector struct {
	client   *http.Client
	limiter  *provider.RateLimiter
	tracer   trace.Tracer
	lookback time.Duration
	maxItems int
}

func NewGoogleNewsCollector(tracer trace.Tracer, lookback time.Duration, maxItems int) *GoogleNewsCollector {
	if lookback < time.Hour {
		lookback = time.Hour
	}
	if maxItems <= 0 {
		maxItems = 20
	}
	return &GoogleNewsCollector{
		client:   &http.Client{Timeout: 20 * time.Second},
		limiter:  provider.NewRateLimiter(30, 2*time.Second),
		tracer:   tracer,
		lookback: lookback,
		maxItems: maxItems,
	}
}

func (c *GoogleNewsCollector) Collect(ctx context.Context, symbol, query string) ([]domain.ResearchItem, error) {
	_, span := c.tracer.Start(ctx, "research.collect-google-news")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	lookbackHours := int(c.lookback / time.Hour)
	feedURL := fmt.Sprintf(
		"https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en",
		url.QueryEscape(fmt.Sprintf("%s when:%dh", query, lookbackHours)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	req.Header.Set("User-Agent", "automatic-succotash/0.1")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("news fetch error %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return ParseNewsFeed(body, time.Now().UTC().Add(-c.lookback), c.maxItems)
}

// ParseNewsFeed decodes a Google News RSS payload. Items older than the
// cutoff are dropped; items without a parseable date are kept.
func ParseNewsFeed(body []byte, cutoff time.Time, maxItems int) ([]domain.ResearchItem, error) {
	var rss struct {
		Channel struct {
			Items []struct {
				Title       string `xml:"title"`
				Link        string `xml:"link"`
				Description string `xml:"description"`
				Source      string `xml:"source"`
				PubDate     string `xml:"pubDate"`
			} `xml:"item"`
		} `xml:"channel"`
	}
	if err := xml.Unmarshal(body, &rss); err != nil {
		return nil, fmt.Errorf("decode news payload: %w", err)
	}

	items := make([]domain.ResearchItem, 0, min(maxItems, len(rss.Channel.Items)))
	for _, row := range rss.Channel.Items {
		title := strings.TrimSpace(row.Title)
		if title == "" {
			continue
		}

		var publishedAt *time.Time
		if published := parseNewsDate(row.PubDate); !published.IsZero() {
			if published.Before(cutoff) {
				continue
			}
			publishedAt = &published
		}

		items = append(items, domain.ResearchItem{
			Title:       title,
			Description: htmlStrip(row.Description),
			Source:      strings.TrimSpace(row.Source),
			SourceType:  domain.SourceNews,
			Link:        strings.TrimSpace(row.Link),
			PublishedAt: publishedAt,
		})
		if len(items) >= maxItems {
			break
		}
	}
	return items, nil
}

func parseNewsDate(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	layouts := []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822, time.RFC3339}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func htmlStrip(in string) string {
	if strings.TrimSpace(in) == "" {
		return ""
	}
	var b strings.Builder
	inside := false
	for _, r := range in {
		switch r {
		case '<':
			inside = true
			continue
		case '>':
			inside = false
			continue
		}
		if !inside {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
