// Package marketdata is the instrument data capability adapter.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/config"
	"github.com/kabuai/orchestrator/internal/metrics"
	"github.com/kabuai/orchestrator/internal/models"
)

// ErrNotFound is returned when no instrument matches the identifier.
// Not-found is a valid provider answer, distinct from DataProviderError.
var ErrNotFound = errors.New("instrument not found")

// DataProviderError wraps provider failures.
type DataProviderError struct {
	Identifier string
	Err        error
}

func (e *DataProviderError) Error() string {
	return fmt.Sprintf("market data %q: %v", e.Identifier, e.Err)
}

func (e *DataProviderError) Unwrap() error { return e.Err }

// Provider is the capability contract the stock pipeline consumes.
type Provider interface {
	// FetchInstrumentData resolves a ticker or company name to the full
	// instrument record. Returns ErrNotFound when nothing matches.
	FetchInstrumentData(ctx context.Context, identifier string) (*models.InstrumentData, error)
}

// HTTPClient talks to the market data sidecar.
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
		http:   &http.Client{Timeout: config.Timeout(cfg.TimeoutMs, 20*time.Second)},
		logger: logger,
	}
}

// FetchInstrumentData implements Provider.
func (c *HTTPClient) FetchInstrumentData(ctx context.Context, identifier string) (*models.InstrumentData, error) {
	start := time.Now()
	data, err := c.fetch(ctx, identifier)
	status := "ok"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "error"
	}
	metrics.CapabilityCalls.WithLabelValues("market_data", status).Inc()
	metrics.CapabilityLatency.WithLabelValues("market_data").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &DataProviderError{Identifier: identifier, Err: err}
	}
	return data, nil
}

func (c *HTTPClient) fetch(ctx context.Context, identifier string) (*models.InstrumentData, error) {
	u := fmt.Sprintf("%s/instruments/%s", c.base, url.PathEscape(identifier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("market-data status %d", resp.StatusCode)
	}
	var data models.InstrumentData
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if data.Metadata.Symbol == "" {
		return nil, ErrNotFound
	}
	return &data, nil
}
