// Package circuitbreaker guards the external capability clients. A tripped
// breaker fails fast instead of queueing more calls behind a dead provider.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State of the breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when half-open probes are exhausted.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds breaker thresholds.
type Config struct {
	MaxRequests      uint32        // probes allowed in half-open
	Timeout          time.Duration // open -> half-open delay
	FailureThreshold uint32        // consecutive failures to trip
	SuccessThreshold uint32        // half-open successes to close
}

// DefaultConfig returns the defaults used for capability clients.
func DefaultConfig() Config {
	return Config{
		MaxRequests:      3,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
	}
}

type counts struct {
	requests             uint32
	consecutiveSuccesses uint32
	consecutiveFailures  uint32
}

// Breaker implements the circuit breaker pattern around a single capability.
type Breaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	generation uint64
	counts     counts
	expiry     time.Time
}

// New returns a closed breaker.
func New(name string, config Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold == 0 {
		config = DefaultConfig()
	}
	return &Breaker{name: name, config: config, logger: logger, state: StateClosed}
}

// Execute runs fn under the breaker. Context errors count as failures so a
// hung provider eventually trips the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := b.beforeCall()
	if err != nil {
		return err
	}
	callErr := fn(ctx)
	b.afterCall(gen, callErr == nil)
	return callErr
}

// CurrentState reports the breaker state, advancing open -> half-open when
// the timeout has elapsed.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked(time.Now())
	return b.state
}

func (b *Breaker) beforeCall() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.refreshLocked(now)

	switch b.state {
	case StateOpen:
		return b.generation, ErrOpen
	case StateHalfOpen:
		if b.counts.requests >= b.config.MaxRequests {
			return b.generation, ErrTooManyRequests
		}
	}
	b.counts.requests++
	return b.generation, nil
}

func (b *Breaker) afterCall(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return // state changed mid-call; stale result
	}
	if success {
		b.counts.consecutiveSuccesses++
		b.counts.consecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.consecutiveSuccesses >= b.config.SuccessThreshold {
			b.transitionLocked(StateClosed, time.Now())
		}
		return
	}
	b.counts.consecutiveFailures++
	b.counts.consecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.counts.consecutiveFailures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen, time.Now())
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen, time.Now())
	}
}

func (b *Breaker) refreshLocked(now time.Time) {
	if b.state == StateOpen && now.After(b.expiry) {
		b.transitionLocked(StateHalfOpen, now)
	}
}

func (b *Breaker) transitionLocked(to State, now time.Time) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	b.generation++
	b.counts = counts{}
	if to == StateOpen {
		b.expiry = now.Add(b.config.Timeout)
	}
	b.logger.Info("circuit breaker state change",
		zap.String("name", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
