// Package llm is the inference capability consumed by the supervisor and
// the worker pipelines. One HTTP client serves three named tiers; callers
// pick the tier per call, never a concrete model.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kabuai/orchestrator/internal/circuitbreaker"
	"github.com/kabuai/orchestrator/internal/config"
	"github.com/kabuai/orchestrator/internal/metrics"
	"github.com/kabuai/orchestrator/internal/models"
)

// Tier selects one named configuration of the inference capability.
type Tier string

const (
	TierLight    Tier = "light"
	TierStandard Tier = "standard"
	TierHeavy    Tier = "heavy"
)

// InferenceError wraps provider and schema-validation failures.
type InferenceError struct {
	Op  string
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Inference is the capability contract the orchestration core consumes.
// Implementations must return *InferenceError on provider or schema failure.
type Inference interface {
	// GenerateStructured asks for a schema-constrained object and decodes it
	// into out.
	GenerateStructured(ctx context.Context, tier Tier, messages []models.Message, schema json.RawMessage, out any) error
	// GenerateText produces free text. When onChunk is non-nil it receives
	// incremental fragments in arrival order; the full text is returned
	// either way.
	GenerateText(ctx context.Context, tier Tier, messages []models.Message, onChunk func(string)) (string, error)
}

// HTTPClient talks to the llm-service sidecar. Calls are paced by a token
// bucket and guarded by a circuit breaker; induced backoff delays a call but
// never reorders the stream.
type HTTPClient struct {
	base    string
	tiers   map[Tier]config.Tier
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *zap.Logger
}

// NewHTTPClient builds the client from config.
func NewHTTPClient(cfg config.LLMConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateRPS > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateRPS), burst)
	}
	return &HTTPClient{
		base: cfg.BaseURL,
		tiers: map[Tier]config.Tier{
			TierLight:    cfg.Light,
			TierStandard: cfg.Standard,
			TierHeavy:    cfg.Heavy,
		},
		http:    &http.Client{Timeout: config.Timeout(cfg.TimeoutMs, 2*time.Minute)},
		limiter: limiter,
		breaker: circuitbreaker.New("llm", circuitbreaker.DefaultConfig(), logger),
		logger:  logger,
	}
}

type generateRequest struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Messages    []models.Message `json:"messages"`
	Schema      json.RawMessage  `json:"schema,omitempty"`
}

// GenerateStructured implements Inference.
func (c *HTTPClient) GenerateStructured(ctx context.Context, tier Tier, messages []models.Message, schema json.RawMessage, out any) error {
	start := time.Now()
	err := c.withGuards(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(generateRequest{
			Model:       c.tiers[tier].Model,
			Temperature: c.tiers[tier].Temperature,
			MaxTokens:   c.tiers[tier].MaxTokens,
			Messages:    messages,
			Schema:      schema,
		})
		if err != nil {
			return err
		}
		resp, err := c.post(ctx, "/v1/structured", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("llm-service status %d", resp.StatusCode)
		}
		var envelope struct {
			Output json.RawMessage `json:"output"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(envelope.Output) == 0 {
			return fmt.Errorf("empty structured output")
		}
		if err := json.Unmarshal(envelope.Output, out); err != nil {
			return fmt.Errorf("schema mismatch: %w", err)
		}
		return nil
	})
	c.observe("structured", start, err)
	if err != nil {
		return &InferenceError{Op: "structured", Err: err}
	}
	return nil
}

// GenerateText implements Inference. The stream endpoint emits one JSON
// object per line with a delta fragment; a blank delta ends the stream.
func (c *HTTPClient) GenerateText(ctx context.Context, tier Tier, messages []models.Message, onChunk func(string)) (string, error) {
	start := time.Now()
	var full bytes.Buffer
	err := c.withGuards(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(generateRequest{
			Model:       c.tiers[tier].Model,
			Temperature: c.tiers[tier].Temperature,
			MaxTokens:   c.tiers[tier].MaxTokens,
			Messages:    messages,
		})
		if err != nil {
			return err
		}
		resp, err := c.post(ctx, "/v1/stream", body)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("llm-service status %d", resp.StatusCode)
		}
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var frame struct {
				Delta string `json:"delta"`
				Done  bool   `json:"done"`
			}
			if err := json.Unmarshal(line, &frame); err != nil {
				return fmt.Errorf("decode stream frame: %w", err)
			}
			if frame.Delta != "" {
				full.WriteString(frame.Delta)
				if onChunk != nil {
					onChunk(frame.Delta)
				}
			}
			if frame.Done {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			return fmt.Errorf("read stream: %w", err)
		}
		return nil
	})
	c.observe("text", start, err)
	if err != nil {
		return "", &InferenceError{Op: "text", Err: err}
	}
	return full.String(), nil
}

func (c *HTTPClient) withGuards(ctx context.Context, fn func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.breaker.Execute(ctx, fn)
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.http.Do(req)
}

func (c *HTTPClient) observe(op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.CapabilityCalls.WithLabelValues("llm_"+op, status).Inc()
	metrics.CapabilityLatency.WithLabelValues("llm_" + op).Observe(time.Since(start).Seconds())
}
