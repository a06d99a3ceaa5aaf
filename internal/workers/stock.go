package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/marketdata"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/prompts"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

// SummaryLength controls how verbose the instrument summary is.
const SummaryLength = "medium"

const (
	errNoIdentifier   = "I couldn't find any stock data. Could you please provide a valid stock symbol or company name?"
	errFetchFailed    = "I encountered an error while fetching stock information"
	errSummaryFailed  = "I'm sorry, but I encountered an error while generating the stock summary"
	nodeFetch         = "fetch_instrument"
	nodeSummarize     = "summarize_instrument"
	toolFetchData     = "fetch_instrument_data"
)

var identifierSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"ticker_or_name": {"type": "string", "description": "Ticker symbol of the stock or the company name, empty if none"}
	},
	"required": ["ticker_or_name"]
}`)

// StockWorker resolves an instrument identifier from the scoped request,
// fetches market data unless the exact identifier is already cached, and
// summarizes the record.
type StockWorker struct {
	deps Deps
}

func (w *StockWorker) Role() string { return agents.StockAgent }

// Run executes fetch then summarize. A cached identifier short-circuits the
// external fetch entirely.
func (w *StockWorker) Run(ctx context.Context, sc Scope, emit streaming.EmitFunc) *state.Delta {
	start := time.Now()
	log := w.deps.Logger

	emit(streaming.Task(nodeFetch, streaming.DirectionEnter))
	identifier, err := w.extractIdentifier(ctx, sc.Frame)
	if err != nil || identifier == "" {
		emit(streaming.Task(nodeFetch, streaming.DirectionLeave))
		log.Error("identifier extraction failed", zap.Error(err))
		return failure(agents.StockAgent, errNoIdentifier, func(d *state.Delta) {
			d.Ticker = state.Str("")
			d.InstrumentCleared = true
			d.InstrumentSummary = state.Str("")
		})
	}

	// Exact-identifier cache rule: same resolved identifier means the data
	// and its summary are already in state, so skip the fetch and the
	// re-summarization and just report the cached summary.
	if sc.Session.InstrumentData != nil && sc.Session.Ticker == identifier {
		emit(streaming.Task(nodeFetch, streaming.DirectionLeave))
		log.Debug("instrument already cached", zap.String("ticker", identifier))
		succeed(agents.StockAgent, start)
		return &state.Delta{
			Messages: []models.Message{models.AI(sc.Session.InstrumentSummary, agents.StockAgent)},
			Next:     state.Str(agents.Supervisor),
		}
	}

	emit(streaming.Tool(toolFetchData, map[string]any{"identifier": identifier}))
	data, err := w.deps.Market.FetchInstrumentData(ctx, identifier)
	emit(streaming.Task(nodeFetch, streaming.DirectionLeave))
	if err != nil {
		if errors.Is(err, marketdata.ErrNotFound) {
			log.Warn("instrument not found", zap.String("identifier", identifier))
			return failure(agents.StockAgent, errNoIdentifier, func(d *state.Delta) {
				d.Ticker = state.Str(identifier)
				d.InstrumentCleared = true
				d.InstrumentSummary = state.Str("")
			})
		}
		log.Error("instrument fetch failed", zap.String("identifier", identifier), zap.Error(err))
		return failure(agents.StockAgent, errFetchFailed, func(d *state.Delta) {
			d.Ticker = state.Str("")
			d.InstrumentCleared = true
			d.InstrumentSummary = state.Str("")
		})
	}

	emit(streaming.Task(nodeSummarize, streaming.DirectionEnter))
	summary, err := w.summarize(ctx, sc.Frame, data, emit)
	emit(streaming.Task(nodeSummarize, streaming.DirectionLeave))
	if err != nil || summary == "" {
		log.Error("instrument summary failed", zap.String("ticker", data.Metadata.Symbol), zap.Error(err))
		return failure(agents.StockAgent, errSummaryFailed, func(d *state.Delta) {
			d.InstrumentCleared = true
			d.InstrumentSummary = state.Str("")
		})
	}

	succeed(agents.StockAgent, start)
	return &state.Delta{
		Messages:          []models.Message{models.AI(summary, agents.StockAgent)},
		Next:              state.Str(agents.Supervisor),
		Ticker:            state.Str(data.Metadata.Symbol),
		InstrumentData:    data,
		InstrumentSummary: state.Str(summary),
	}
}

func (w *StockWorker) extractIdentifier(ctx context.Context, frame []models.Message) (string, error) {
	messages := append([]models.Message{models.System(prompts.FetchIdentifier, agents.StockAgent)}, frame...)
	var out struct {
		TickerOrName string `json:"ticker_or_name"`
	}
	if err := w.deps.LLM.GenerateStructured(ctx, llm.TierHeavy, messages, identifierSchema, &out); err != nil {
		return "", err
	}
	return out.TickerOrName, nil
}

func (w *StockWorker) summarize(ctx context.Context, frame []models.Message, data *models.InstrumentData, emit streaming.EmitFunc) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal instrument data: %w", err)
	}
	messages := append([]models.Message{
		models.System(fmt.Sprintf(prompts.InstrumentSummary, SummaryLength), agents.StockAgent),
		models.System(string(raw), agents.StockAgent),
	}, frame...)
	return w.deps.LLM.GenerateText(ctx, llm.TierStandard, messages, func(chunk string) {
		emit(streaming.Chunk(agents.StockAgent, chunk))
	})
}
