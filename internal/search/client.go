// Package search is the web search capability adapter. An empty result set
// is a valid answer, not an error.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/config"
	"github.com/kabuai/orchestrator/internal/metrics"
	"github.com/kabuai/orchestrator/internal/models"
)

// SearchError wraps provider failures.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Searcher is the capability contract the search pipeline consumes.
type Searcher interface {
	SearchWeb(ctx context.Context, query string) ([]models.SearchItem, error)
}

// HTTPClient talks to the search sidecar.
type HTTPClient struct {
	base   string
	http   *http.Client
	logger *zap.Logger
}

// NewHTTPClient builds the client from config.
func NewHTTPClient(cfg config.ProviderConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		base:   cfg.BaseURL,
		http:   &http.Client{Timeout: config.Timeout(cfg.TimeoutMs, 15*time.Second)},
		logger: logger,
	}
}

// SearchWeb implements Searcher.
func (c *HTTPClient) SearchWeb(ctx context.Context, query string) ([]models.SearchItem, error) {
	start := time.Now()
	items, err := c.search(ctx, query)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.CapabilityCalls.WithLabelValues("search", status).Inc()
	metrics.CapabilityLatency.WithLabelValues("search").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &SearchError{Query: query, Err: err}
	}
	return items, nil
}

func (c *HTTPClient) search(ctx context.Context, query string) ([]models.SearchItem, error) {
	u := fmt.Sprintf("%s/search?q=%s", c.base, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search-service status %d", resp.StatusCode)
	}
	var envelope struct {
		Items []models.SearchItem `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return envelope.Items, nil
}
