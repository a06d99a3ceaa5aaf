package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/prompts"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

// AnalysisLength controls how verbose the final report is.
const AnalysisLength = "short"

const (
	errMissingInputs  = "Some of the required data was not provided. Please provide me the latest data."
	errAnalysisFailed = "I was unable to analyze the provided data. Could you please try again?"
	nodeAnalyze       = "perform_analysis"
)

var analysisSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"analysis_text": {"type": "string", "description": "The full analysis report"},
		"analysis_score": {"type": "number", "description": "Overall score between 0.000 and 1.000, 3 decimal places"}
	},
	"required": ["analysis_text", "analysis_score"]
}`)

// AnalyzerWorker produces the final report. It requires the other two
// workers' output; missing prerequisites return control immediately without
// touching the inference capability.
type AnalyzerWorker struct {
	deps Deps
}

func (w *AnalyzerWorker) Role() string { return agents.AnalyzerAgent }

func (w *AnalyzerWorker) Run(ctx context.Context, sc Scope, emit streaming.EmitFunc) *state.Delta {
	start := time.Now()
	log := w.deps.Logger
	s := sc.Session

	if s.Ticker == "" || s.InstrumentData == nil || s.InstrumentSummary == "" ||
		len(s.SearchItems) == 0 || s.SearchSummary == "" {
		log.Warn("analysis prerequisites missing", zap.String("ticker", s.Ticker))
		return failure(agents.AnalyzerAgent, errMissingInputs, func(d *state.Delta) {
			d.AnalysisText = state.Str("")
			d.ScoreCleared = true
		})
	}

	emit(streaming.Task(nodeAnalyze, streaming.DirectionEnter))
	text, score, err := w.analyze(ctx, sc)
	emit(streaming.Task(nodeAnalyze, streaming.DirectionLeave))
	if err != nil || text == "" {
		log.Error("analysis failed", zap.String("ticker", s.Ticker), zap.Error(err))
		return failure(agents.AnalyzerAgent, errAnalysisFailed, func(d *state.Delta) {
			d.AnalysisText = state.Str("")
			d.ScoreCleared = true
		})
	}

	succeed(agents.AnalyzerAgent, start)
	return &state.Delta{
		Messages:      []models.Message{models.AI(text, agents.AnalyzerAgent)},
		Next:          state.Str(agents.Supervisor),
		AnalysisText:  state.Str(text),
		AnalysisScore: state.Float(score),
	}
}

func (w *AnalyzerWorker) analyze(ctx context.Context, sc Scope) (string, float64, error) {
	s := sc.Session
	data, err := json.Marshal(struct {
		Metadata   models.InstrumentMetadata `json:"metadata"`
		Company    models.CompanyDetails     `json:"company"`
		Prices     []models.PricePoint       `json:"prices"`
		Financials models.Financials         `json:"financials"`
	}{s.InstrumentData.Metadata, s.InstrumentData.Company, s.InstrumentData.Prices, s.InstrumentData.Financials})
	if err != nil {
		return "", 0, fmt.Errorf("marshal instrument data: %w", err)
	}
	results, err := json.Marshal(s.SearchItems)
	if err != nil {
		return "", 0, fmt.Errorf("marshal search items: %w", err)
	}

	system := fmt.Sprintf(prompts.Analysis,
		s.Ticker, data, s.InstrumentSummary, results,
		AggregateSentiment(s.SearchItems), s.SearchSummary, AnalysisLength)
	messages := append([]models.Message{models.System(system, agents.AnalyzerAgent)}, sc.Frame...)
	messages = append(messages,
		models.System("Given the conversation with the user, analyze the data and give a professional and detailed analysis along with the analysis score.", agents.AnalyzerAgent))

	var out struct {
		AnalysisText  string   `json:"analysis_text"`
		AnalysisScore *float64 `json:"analysis_score"`
	}
	if err := w.deps.LLM.GenerateStructured(ctx, llm.TierHeavy, messages, analysisSchema, &out); err != nil {
		return "", 0, err
	}
	if out.AnalysisScore == nil {
		return "", 0, fmt.Errorf("missing analysis score")
	}
	return out.AnalysisText, ClampScore(*out.AnalysisScore), nil
}

// AggregateSentiment is the confidence-weighted sum of item sentiment.
func AggregateSentiment(items []models.SearchItem) float64 {
	var score float64
	for _, it := range items {
		score += it.SentimentScore * it.Confidence
	}
	return score
}

// ClampScore rounds to 3 decimals and clamps into [0, 1].
func ClampScore(v float64) float64 {
	v = math.Round(v*1000) / 1000
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
