package workers

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

// fakeLLM scripts capability responses per call.
type fakeLLM struct {
	structuredCalls int
	textCalls       int

	structured func(call int, tier llm.Tier, messages []models.Message, out any) error
	text       func(call int, tier llm.Tier, messages []models.Message, onChunk func(string)) (string, error)
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, tier llm.Tier, messages []models.Message, schema json.RawMessage, out any) error {
	f.structuredCalls++
	return f.structured(f.structuredCalls, tier, messages, out)
}

func (f *fakeLLM) GenerateText(ctx context.Context, tier llm.Tier, messages []models.Message, onChunk func(string)) (string, error) {
	f.textCalls++
	return f.text(f.textCalls, tier, messages, onChunk)
}

// decodeInto fills a structured-output target from a literal value.
func decodeInto(t *testing.T, out, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fake output: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("unmarshal fake output: %v", err)
	}
}

type fakeSearch struct {
	calls int
	items []models.SearchItem
	err   error
}

func (f *fakeSearch) SearchWeb(ctx context.Context, query string) ([]models.SearchItem, error) {
	f.calls++
	return f.items, f.err
}

type fakeMarket struct {
	calls int
	data  *models.InstrumentData
	err   error
}

func (f *fakeMarket) FetchInstrumentData(ctx context.Context, identifier string) (*models.InstrumentData, error) {
	f.calls++
	return f.data, f.err
}

// collector gathers emitted events for ordering assertions.
type collector struct {
	events []streaming.Event
}

func (c *collector) emit(e streaming.Event) { c.events = append(c.events, e) }

func (c *collector) types() []string {
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func testDeps(l *fakeLLM, s *fakeSearch, m *fakeMarket) Deps {
	d := Deps{Logger: zap.NewNop()}
	if l != nil {
		d.LLM = l
	}
	if s != nil {
		d.Search = s
	}
	if m != nil {
		d.Market = m
	}
	return d
}

func scopeWith(sess *state.Session, request string) Scope {
	if sess == nil {
		sess = state.NewSession()
	}
	return Scope{
		Frame: []models.Message{
			models.Human(request),
			models.System("stay on task", "supervisor"),
		},
		Session: sess,
	}
}
