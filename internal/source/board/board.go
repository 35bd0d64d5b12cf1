// Package board fetches posts from a message-board style platform. It talks
// to the board's JSON listing endpoint and falls back to scraping the HTML
// page when the endpoint is unavailable.
package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/tradewatch/sentinel/internal/pipeline"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20
	mediaCapBytes  = 2 << 20
)

// Config holds board connection settings.
type Config struct {
	// BaseURL is the board root, e.g. https://boards.example.com.
	BaseURL string
	// UserAgent is sent on every request; boards reject empty agents.
	UserAgent string
	Timeout   time.Duration
	// FetchMedia downloads linked media bytes for image classification.
	FetchMedia bool
}

// Source implements pipeline.Source against a board.
type Source struct {
	cfg    Config
	httpc  *http.Client
	logger *zap.Logger
}

// NewSource constructs a board Source.
func NewSource(cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sentinel/1.0"
	}
	return &Source{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type listingPost struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url"`
	Author   string `json:"author"`
	PostedAt string `json:"posted_at"`
}

// Fetch pulls up to limit posts from one board section.
func (s *Source) Fetch(ctx context.Context, source string, limit int) ([]pipeline.RawItem, error) {
	if strings.TrimSpace(s.cfg.BaseURL) == "" {
		return nil, &pipeline.ConfigurationError{Collaborator: "board source", Reason: "base URL is empty"}
	}

	items, err := s.fetchListing(ctx, source, limit)
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		s.logger.Debug("listing endpoint missing, scraping HTML", zap.String("source", source))
		items, err = s.scrapePage(ctx, source, limit)
		if err != nil {
			return nil, err
		}
	}

	if s.cfg.FetchMedia {
		for i := range items {
			if items[i].MediaURL == "" {
				continue
			}
			media, err := s.fetchMedia(ctx, items[i].MediaURL)
			if err != nil {
				s.logger.Warn("media fetch failed",
					zap.String("url", items[i].MediaURL), zap.Error(err))
				continue
			}
			items[i].Media = media
		}
	}
	return items, nil
}

type notFoundError struct{ url string }

func (e *notFoundError) Error() string { return "not found: " + e.url }

func isNotFound(err error) bool {
	var nf *notFoundError
	return errors.As(err, &nf)
}

func (s *Source) fetchListing(ctx context.Context, source string, limit int) ([]pipeline.RawItem, error) {
	url := fmt.Sprintf("%s/%s/listing.json?limit=%d", strings.TrimRight(s.cfg.BaseURL, "/"), source, limit)
	body, err := s.get(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}

	var posts []listingPost
	if err := json.Unmarshal(body, &posts); err != nil {
		return nil, &pipeline.TransientError{Source: source, Err: fmt.Errorf("decode listing: %w", err)}
	}

	items := make([]pipeline.RawItem, 0, len(posts))
	for _, p := range posts {
		if len(items) >= limit {
			break
		}
		posted, _ := time.Parse(time.RFC3339, p.PostedAt)
		items = append(items, pipeline.RawItem{
			ID:       p.ID,
			Title:    p.Title,
			Text:     p.Body,
			MediaURL: p.MediaURL,
			Source:   source,
			Author:   p.Author,
			Posted:   posted,
		})
	}
	return items, nil
}

func (s *Source) scrapePage(ctx context.Context, source string, limit int) ([]pipeline.RawItem, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), source)
	body, err := s.get(ctx, url, "text/html")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, &pipeline.TransientError{Source: source, Err: fmt.Errorf("parse page: %w", err)}
	}

	var items []pipeline.RawItem
	doc.Find("article.post").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		id, _ := sel.Attr("data-post-id")
		if id == "" {
			return true
		}
		item := pipeline.RawItem{
			ID:     id,
			Title:  strings.TrimSpace(sel.Find(".post-title").First().Text()),
			Text:   strings.TrimSpace(sel.Find(".post-body").First().Text()),
			Author: strings.TrimSpace(sel.Find(".post-author").First().Text()),
			Source: source,
		}
		if href, ok := sel.Find(".post-media img").First().Attr("src"); ok {
			item.MediaURL = href
		}
		if ts, ok := sel.Find("time").First().Attr("datetime"); ok {
			item.Posted, _ = time.Parse(time.RFC3339, ts)
		}
		items = append(items, item)
		return len(items) < limit
	})
	return items, nil
}

func (s *Source) fetchMedia(ctx context.Context, url string) ([]byte, error) {
	body, err := s.get(ctx, url, "")
	if err != nil {
		return nil, err
	}
	if len(body) > mediaCapBytes {
		body = body[:mediaCapBytes]
	}
	return body, nil
}

func (s *Source) get(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &pipeline.TransientError{Source: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, &notFoundError{url: url}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &pipeline.ConfigurationError{
			Collaborator: "board source",
			Reason:       fmt.Sprintf("rejected with status %d", resp.StatusCode),
		}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &pipeline.TransientError{
			Source: url,
			Err:    fmt.Errorf("status %d", resp.StatusCode),
		}
	default:
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &pipeline.TransientError{Source: url, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
