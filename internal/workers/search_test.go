package workers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

func newsItems() []models.SearchItem {
	return []models.SearchItem{
		{Title: "Apple beats earnings", Snippet: "strong quarter", Source: "reuters"},
		{Title: "Supply chain worries", Snippet: "mixed signals", Source: "bloomberg"},
	}
}

// searchLLM scripts the three inference stages of the pipeline in order:
// query generation, sentiment scoring, summary.
func searchLLM(t *testing.T, sentiments, confidences []float64) *fakeLLM {
	return &fakeLLM{
		structured: func(call int, tier llm.Tier, messages []models.Message, out any) error {
			switch call {
			case 1:
				decodeInto(t, out, map[string]string{"query": "Apple stock news"})
			case 2:
				decodeInto(t, out, map[string]any{
					"sentiment_scores":  sentiments,
					"confidence_scores": confidences,
				})
			}
			return nil
		},
		text: func(call int, tier llm.Tier, messages []models.Message, onChunk func(string)) (string, error) {
			onChunk("Coverage is ")
			onChunk("mostly positive.")
			return "Coverage is mostly positive.", nil
		},
	}
}

func TestSearchHappyPath(t *testing.T) {
	items := newsItems()
	l := searchLLM(t, []float64{0.8, -0.2}, []float64{0.9, 0.5})
	s := &fakeSearch{items: items}
	w := &SearchWorker{deps: testDeps(l, s, nil)}
	c := &collector{}

	sess := state.NewSession()
	sess.Ticker = "AAPL"
	d := w.Run(context.Background(), scopeWith(sess, "latest Apple news"), c.emit)

	require.NotNil(t, d.SearchItems)
	scored := *d.SearchItems
	require.Len(t, scored, 2)
	assert.Equal(t, 0.8, scored[0].SentimentScore)
	assert.Equal(t, 0.5, scored[1].Confidence)
	require.NotNil(t, d.SearchQuery)
	assert.Equal(t, "Apple stock news", *d.SearchQuery)
	require.NotNil(t, d.SearchSummary)
	assert.Equal(t, "Coverage is mostly positive.", *d.SearchSummary)
	assert.Equal(t, agents.Supervisor, *d.Next)

	// The provider's slice is never mutated in place.
	assert.Zero(t, items[0].SentimentScore)
	assert.Zero(t, items[1].Confidence)

	// One tool event for the web search, chunks attributed to the role.
	var sawTool bool
	for _, e := range c.events {
		if e.Type == streaming.TypeTool {
			sawTool = true
			assert.Equal(t, "web_search", e.Name)
		}
		if e.Type == streaming.TypeChunk {
			assert.Equal(t, agents.SearchAgent, e.Role)
		}
	}
	assert.True(t, sawTool)
}

func TestSearchSentimentCountMismatchRejectsBatch(t *testing.T) {
	items := newsItems()
	l := searchLLM(t, []float64{0.8}, []float64{0.9})
	w := &SearchWorker{deps: testDeps(l, &fakeSearch{items: items}, nil)}

	d := w.Run(context.Background(), scopeWith(state.NewSession(), "Apple news"), (&collector{}).emit)

	require.Len(t, d.Messages, 1)
	assert.Equal(t, errBadSentiment, d.Messages[0].Content)
	assert.Equal(t, agents.Supervisor, *d.Next)
	// No partial enrichment leaks into state or the input slice.
	assert.Nil(t, d.SearchItems)
	assert.Zero(t, items[0].SentimentScore)
}

func TestSearchSentimentRangeViolationRejectsBatch(t *testing.T) {
	cases := []struct {
		name        string
		sentiments  []float64
		confidences []float64
	}{
		{"sentiment above 1", []float64{1.5, 0.2}, []float64{0.9, 0.9}},
		{"sentiment below -1", []float64{-1.2, 0.2}, []float64{0.9, 0.9}},
		{"confidence negative", []float64{0.5, 0.2}, []float64{-0.1, 0.9}},
		{"confidence above 1", []float64{0.5, 0.2}, []float64{0.9, 1.1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := searchLLM(t, tc.sentiments, tc.confidences)
			w := &SearchWorker{deps: testDeps(l, &fakeSearch{items: newsItems()}, nil)}
			d := w.Run(context.Background(), scopeWith(state.NewSession(), "Apple news"), (&collector{}).emit)
			require.Len(t, d.Messages, 1)
			assert.Equal(t, errBadSentiment, d.Messages[0].Content)
			assert.Nil(t, d.SearchItems)
		})
	}
}

func TestSearchEmptyResultsFails(t *testing.T) {
	l := searchLLM(t, nil, nil)
	w := &SearchWorker{deps: testDeps(l, &fakeSearch{items: nil}, nil)}

	d := w.Run(context.Background(), scopeWith(state.NewSession(), "obscure topic"), (&collector{}).emit)

	require.Len(t, d.Messages, 1)
	assert.Equal(t, errNoResults, d.Messages[0].Content)
	// The query that produced nothing is kept for the update event.
	require.NotNil(t, d.SearchQuery)
	assert.Equal(t, "Apple stock news", *d.SearchQuery)
	require.NotNil(t, d.SearchItems)
	assert.Empty(t, *d.SearchItems)
	// Scoring and summarizing never ran.
	assert.Equal(t, 1, l.structuredCalls)
	assert.Equal(t, 0, l.textCalls)
}

func TestSearchProviderErrorFails(t *testing.T) {
	l := searchLLM(t, nil, nil)
	w := &SearchWorker{deps: testDeps(l, &fakeSearch{err: errors.New("search down")}, nil)}

	d := w.Run(context.Background(), scopeWith(state.NewSession(), "Apple news"), (&collector{}).emit)

	require.Len(t, d.Messages, 1)
	assert.Equal(t, errSearchFailed, d.Messages[0].Content)
	assert.Equal(t, agents.Supervisor, *d.Next)
}

func TestSearchQueryGenerationFailureFails(t *testing.T) {
	l := &fakeLLM{
		structured: func(call int, tier llm.Tier, messages []models.Message, out any) error {
			return errors.New("provider 500")
		},
	}
	s := &fakeSearch{items: newsItems()}
	w := &SearchWorker{deps: testDeps(l, s, nil)}

	d := w.Run(context.Background(), scopeWith(state.NewSession(), "Apple news"), (&collector{}).emit)

	assert.Equal(t, 0, s.calls, "no search without a query")
	require.Len(t, d.Messages, 1)
	assert.Equal(t, errNoQuery, d.Messages[0].Content)
}
