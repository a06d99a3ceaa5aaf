// Package workers implements the three worker pipelines the supervisor can
// dispatch to. Each pipeline is a short internal state machine over the
// external capabilities; every failure is converted at the pipeline boundary
// into a delta that hands control back to the supervisor with a
// role-attributed, user-safe message and cleared result slots.
package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/marketdata"
	"github.com/kabuai/orchestrator/internal/metrics"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/search"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

// Scope is the view a worker receives: the step's two-message frame plus
// read access to the shared result slots. Workers never see the full
// conversation and never mutate the session directly.
type Scope struct {
	Frame   []models.Message
	Session *state.Session
}

// Worker is the pipeline contract. Run always returns a delta; failures are
// carried in-band (apology message, cleared slots, control back to the
// supervisor) and never as a raw error.
type Worker interface {
	Role() string
	Run(ctx context.Context, sc Scope, emit streaming.EmitFunc) *state.Delta
}

// Deps bundles the external capabilities injected into every pipeline.
type Deps struct {
	LLM    llm.Inference
	Search search.Searcher
	Market marketdata.Provider
	Logger *zap.Logger
}

// New returns the fixed worker set keyed by role.
func New(deps Deps) map[string]Worker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return map[string]Worker{
		agents.StockAgent:    &StockWorker{deps: deps},
		agents.SearchAgent:   &SearchWorker{deps: deps},
		agents.AnalyzerAgent: &AnalyzerWorker{deps: deps},
	}
}

// failure builds the standard error outcome: one role-attributed message,
// control back to the supervisor, plus any slot clears from mutate.
func failure(role, msg string, mutate func(*state.Delta)) *state.Delta {
	d := &state.Delta{
		Messages: []models.Message{models.AI(msg, role)},
		Next:     state.Str(agents.Supervisor),
	}
	if mutate != nil {
		mutate(d)
	}
	metrics.WorkerRuns.WithLabelValues(role, "error").Inc()
	return d
}

// succeed stamps metrics for a completed pipeline.
func succeed(role string, start time.Time) {
	metrics.WorkerRuns.WithLabelValues(role, "ok").Inc()
	metrics.WorkerDuration.WithLabelValues(role).Observe(time.Since(start).Seconds())
}
