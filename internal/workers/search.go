package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/prompts"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

const (
	errNoQuery       = "I was unable to generate a search query"
	errSearchFailed  = "I'm sorry, but I encountered an error while searching for news"
	errNoResults     = "I couldn't find any search results. Could you ask something more specific?"
	errBadSentiment  = "I was unable to generate sentiment scores"
	errNewsSummary   = "I'm sorry, but I encountered an error while summarizing news"
	nodeGenerateQ    = "generate_query"
	nodeScoreNews    = "score_sentiment"
	nodeSummarizeNew = "summarize_news"
	toolWebSearch    = "web_search"
)

var querySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Query to search for. Must be 3-5 words"}
	},
	"required": ["query"]
}`)

var sentimentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"sentiment_scores": {"type": "array", "items": {"type": "number"}, "description": "Sentiment scores for each search result, in order"},
		"confidence_scores": {"type": "array", "items": {"type": "number"}, "description": "Confidence scores for each sentiment score, in order"}
	},
	"required": ["sentiment_scores", "confidence_scores"]
}`)

// SearchWorker runs three ordered stages: generate a short query and search
// the web, score every item's sentiment in one batched call, then summarize
// the items against the user's question. Later stages short-circuit when
// there is nothing to process.
type SearchWorker struct {
	deps Deps
}

func (w *SearchWorker) Role() string { return agents.SearchAgent }

func (w *SearchWorker) Run(ctx context.Context, sc Scope, emit streaming.EmitFunc) *state.Delta {
	start := time.Now()
	log := w.deps.Logger

	// Stage 1: query generation + web search.
	emit(streaming.Task(nodeGenerateQ, streaming.DirectionEnter))
	query, err := w.generateQuery(ctx, sc)
	if err != nil || query == "" {
		emit(streaming.Task(nodeGenerateQ, streaming.DirectionLeave))
		log.Error("query generation failed", zap.Error(err))
		return failure(agents.SearchAgent, errNoQuery, func(d *state.Delta) {
			d.SearchQuery = state.Str("")
			d.SearchItems = state.Items(nil)
		})
	}

	emit(streaming.Tool(toolWebSearch, map[string]any{"query": query}))
	items, err := w.deps.Search.SearchWeb(ctx, query)
	emit(streaming.Task(nodeGenerateQ, streaming.DirectionLeave))
	if err != nil {
		log.Error("web search failed", zap.String("query", query), zap.Error(err))
		return failure(agents.SearchAgent, errSearchFailed, func(d *state.Delta) {
			d.SearchQuery = state.Str("")
			d.SearchItems = state.Items(nil)
		})
	}
	if len(items) == 0 {
		// Empty result set is a valid provider answer, but with nothing to
		// score or summarize the role has nothing for the user.
		log.Warn("search returned no items", zap.String("query", query))
		return failure(agents.SearchAgent, errNoResults, func(d *state.Delta) {
			d.SearchQuery = state.Str(query)
			d.SearchItems = state.Items(nil)
		})
	}

	// Stage 2: batched sentiment scoring. The whole batch is rejected on any
	// count or range violation; items are never partially mutated.
	emit(streaming.Task(nodeScoreNews, streaming.DirectionEnter))
	scored, err := w.scoreSentiment(ctx, items)
	emit(streaming.Task(nodeScoreNews, streaming.DirectionLeave))
	if err != nil {
		log.Error("sentiment scoring failed", zap.Int("items", len(items)), zap.Error(err))
		return failure(agents.SearchAgent, errBadSentiment, nil)
	}

	// Stage 3: summarize against the original question.
	emit(streaming.Task(nodeSummarizeNew, streaming.DirectionEnter))
	summary, err := w.summarize(ctx, sc.Frame, scored, emit)
	emit(streaming.Task(nodeSummarizeNew, streaming.DirectionLeave))
	if err != nil || summary == "" {
		log.Error("news summary failed", zap.Error(err))
		return failure(agents.SearchAgent, errNewsSummary, func(d *state.Delta) {
			d.SearchSummary = state.Str("")
		})
	}

	succeed(agents.SearchAgent, start)
	return &state.Delta{
		Messages:      []models.Message{models.AI(summary, agents.SearchAgent)},
		Next:          state.Str(agents.Supervisor),
		SearchQuery:   state.Str(query),
		SearchItems:   state.Items(scored),
		SearchSummary: state.Str(summary),
	}
}

func (w *SearchWorker) generateQuery(ctx context.Context, sc Scope) (string, error) {
	system := fmt.Sprintf(prompts.SearchQuery, sc.Session.Ticker, sc.Session.InstrumentSummary)
	messages := append([]models.Message{models.System(system, agents.SearchAgent)}, sc.Frame...)
	var out struct {
		Query string `json:"query"`
	}
	if err := w.deps.LLM.GenerateStructured(ctx, llm.TierStandard, messages, querySchema, &out); err != nil {
		return "", err
	}
	return out.Query, nil
}

// scoreSentiment enriches a copy of items with one batched inference call.
func (w *SearchWorker) scoreSentiment(ctx context.Context, items []models.SearchItem) ([]models.SearchItem, error) {
	payload, err := json.Marshal(newsDigest(items))
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	messages := []models.Message{
		models.System(prompts.Sentiment, agents.SearchAgent),
		models.Human(string(payload)),
	}
	var out struct {
		SentimentScores  []float64 `json:"sentiment_scores"`
		ConfidenceScores []float64 `json:"confidence_scores"`
	}
	if err := w.deps.LLM.GenerateStructured(ctx, llm.TierLight, messages, sentimentSchema, &out); err != nil {
		return nil, err
	}
	if len(out.SentimentScores) != len(items) || len(out.ConfidenceScores) != len(items) {
		return nil, fmt.Errorf("score count mismatch: %d sentiments, %d confidences, %d items",
			len(out.SentimentScores), len(out.ConfidenceScores), len(items))
	}
	for i := range items {
		if out.SentimentScores[i] < -1 || out.SentimentScores[i] > 1 {
			return nil, fmt.Errorf("sentiment score out of range: %f", out.SentimentScores[i])
		}
		if out.ConfidenceScores[i] < 0 || out.ConfidenceScores[i] > 1 {
			return nil, fmt.Errorf("confidence out of range: %f", out.ConfidenceScores[i])
		}
	}
	scored := append([]models.SearchItem(nil), items...)
	for i := range scored {
		scored[i].SentimentScore = out.SentimentScores[i]
		scored[i].Confidence = out.ConfidenceScores[i]
	}
	return scored, nil
}

func (w *SearchWorker) summarize(ctx context.Context, frame []models.Message, items []models.SearchItem, emit streaming.EmitFunc) (string, error) {
	payload, err := json.Marshal(newsDigest(items))
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}
	messages := append([]models.Message{
		models.System(fmt.Sprintf(prompts.NewsSummary, payload), agents.SearchAgent),
	}, frame...)
	messages = append(messages,
		models.System("Given the conversation with the user, summarize the search results to answer the user's question.", agents.SearchAgent))
	return w.deps.LLM.GenerateText(ctx, llm.TierStandard, messages, func(chunk string) {
		emit(streaming.Chunk(agents.SearchAgent, chunk))
	})
}

// newsDigest strips items to the fields the prompts need.
func newsDigest(items []models.SearchItem) []map[string]string {
	out := make([]map[string]string, 0, len(items))
	for _, it := range items {
		out = append(out, map[string]string{
			"title":   it.Title,
			"snippet": it.Snippet,
			"date":    it.PublishedAt.Format(time.RFC3339),
			"source":  it.Source,
		})
	}
	return out
}
