package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
	"github.com/kabuai/orchestrator/internal/workers"
)

// fakeLLM scripts the planning call and the wrap-up stream. wrapUp, when
// set, scripts each wrap-up call individually.
type fakeLLM struct {
	plan    []models.PlanStep
	planErr error

	wrapUp      func(call int, onChunk func(string)) (string, error)
	wrapUpText  string
	wrapUpErr   error
	wrapUpCalls int

	structuredCalls int
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, tier llm.Tier, messages []models.Message, schema json.RawMessage, out any) error {
	f.structuredCalls++
	if f.planErr != nil {
		return f.planErr
	}
	raw, err := json.Marshal(map[string]any{"plan": f.plan})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeLLM) GenerateText(ctx context.Context, tier llm.Tier, messages []models.Message, onChunk func(string)) (string, error) {
	f.wrapUpCalls++
	if f.wrapUp != nil {
		return f.wrapUp(f.wrapUpCalls, onChunk)
	}
	if f.wrapUpErr != nil {
		return "", f.wrapUpErr
	}
	if f.wrapUpText != "" && onChunk != nil {
		onChunk(f.wrapUpText)
	}
	return f.wrapUpText, nil
}

// scriptedWorker returns a fixed delta and optionally emits events, so turn
// tests can assert full stream ordering.
type scriptedWorker struct {
	role   string
	delta  func() *state.Delta
	emits  []streaming.Event
	calls  int
	frames [][]models.Message
}

func (w *scriptedWorker) Role() string { return w.role }

func (w *scriptedWorker) Run(ctx context.Context, sc workers.Scope, emit streaming.EmitFunc) *state.Delta {
	w.calls++
	w.frames = append(w.frames, sc.Frame)
	for _, e := range w.emits {
		emit(e)
	}
	return w.delta()
}

func step(agent, request string) models.PlanStep {
	return models.PlanStep{
		Agent:             agent,
		Request:           request,
		SystemInstruction: "only " + request,
		Message:           "working on " + request,
	}
}

func finishStep(message string) models.PlanStep {
	return models.PlanStep{Agent: agents.Finish, Message: message}
}

func newTestRunner(l *fakeLLM, pool map[string]workers.Worker) (*Runner, *streaming.Manager) {
	mgr := streaming.NewManager(256, nil, zap.NewNop())
	sup := New(l, zap.NewNop())
	return NewRunner(sup, pool, mgr, zap.NewNop()), mgr
}

// drain collects everything published for the turn so far.
func drain(ch chan streaming.Event) []streaming.Event {
	var out []streaming.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func eventTypes(evs []streaming.Event) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

// chunkText concatenates chunk fragments in arrival order, the way a
// stream consumer reconstructs a message.
func chunkText(evs []streaming.Event) string {
	out := ""
	for _, e := range evs {
		if e.Type == streaming.TypeChunk {
			out += e.Content
		}
	}
	return out
}

func TestTurnSingleStepScenario(t *testing.T) {
	l := &fakeLLM{
		plan:       []models.PlanStep{step(agents.StockAgent, "fetch AAPL"), finishStep("")},
		wrapUpText: "That covers Apple. Anything else?",
	}
	worker := &scriptedWorker{
		role: agents.StockAgent,
		emits: []streaming.Event{
			streaming.Tool("fetch_instrument_data", map[string]any{"identifier": "AAPL"}),
			streaming.Chunk(agents.StockAgent, "Apple looks healthy."),
		},
		delta: func() *state.Delta {
			return &state.Delta{
				Messages: []models.Message{models.AI("Apple looks healthy.", agents.StockAgent)},
				Next:     state.Str(agents.Supervisor),
				Ticker:   state.Str("AAPL"),
			}
		},
	}
	r, mgr := newTestRunner(l, map[string]workers.Worker{agents.StockAgent: worker})
	ch := mgr.Subscribe("turn-1", 256)
	defer mgr.Unsubscribe("turn-1", ch)

	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("how is AAPL doing?")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	evs := drain(ch)
	require.Equal(t, []string{
		streaming.TypeHandoff, // supervisor picks stock_agent
		streaming.TypeUpdate,  // plan + step 0
		streaming.TypeTool,
		streaming.TypeChunk,
		streaming.TypeUpdate,  // worker delta
		streaming.TypeHandoff, // FINISH
		streaming.TypeChunk,   // wrap-up
		streaming.TypeUpdate,  // terminal
	}, eventTypes(evs))

	assert.Equal(t, agents.StockAgent, evs[0].TargetRole)
	assert.Equal(t, 0, evs[1].Fields["step"])
	assert.Equal(t, agents.Finish, evs[5].TargetRole)
	assert.True(t, evs[len(evs)-1].IsTerminal(agents.Finish))

	// Seq is strictly increasing across the whole stream.
	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}

	// Worker got the scoped two-message frame, not the conversation.
	require.Equal(t, 1, worker.calls)
	frame := worker.frames[0]
	require.Len(t, frame, 2)
	assert.Equal(t, "fetch AAPL", frame[0].Content)
	assert.Equal(t, models.MessageSystem, frame[1].Type)

	// Session settles in the terminated shape.
	assert.Equal(t, -1, sess.Step)
	assert.Empty(t, sess.Plan)
	assert.Equal(t, agents.Finish, sess.Next)
	assert.Equal(t, "AAPL", sess.Ticker)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, "That covers Apple. Anything else?", last.Content)
	assert.Equal(t, agents.Supervisor, last.Name)
}

func TestGreetingFinishesWithoutWorkers(t *testing.T) {
	l := &fakeLLM{plan: []models.PlanStep{finishStep("Hello! How can I help you with stocks today?")}}
	r, mgr := newTestRunner(l, nil)
	ch := mgr.Subscribe("turn-1", 64)
	defer mgr.Unsubscribe("turn-1", ch)

	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("hello")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	evs := drain(ch)
	require.Equal(t, []string{streaming.TypeHandoff, streaming.TypeChunk, streaming.TypeUpdate}, eventTypes(evs))
	assert.Equal(t, agents.Finish, evs[0].TargetRole)
	assert.True(t, evs[2].IsTerminal(agents.Finish))
	// No wrap-up inference call: the plan carried the closing message.
	assert.Equal(t, 0, l.wrapUpCalls)

	last := sess.Messages[len(sess.Messages)-1]
	assert.NotEmpty(t, last.Content)
	assert.Equal(t, "Hello! How can I help you with stocks today?", last.Content)
}

func TestGreetingBlankMessageFallsBackToWrapUp(t *testing.T) {
	l := &fakeLLM{
		plan:       []models.PlanStep{finishStep("")},
		wrapUpText: "Hi there! Ask me about any stock.",
	}
	r, mgr := newTestRunner(l, nil)
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("hi")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	assert.Equal(t, 1, l.wrapUpCalls)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, "Hi there! Ask me about any stock.", last.Content)
	_ = mgr
}

func TestWrapUpNeverBlank(t *testing.T) {
	// The wrap-up provider keeps returning empty text; the closing message
	// must still be non-empty after the retry.
	l := &fakeLLM{
		plan:       []models.PlanStep{finishStep("")},
		wrapUpText: "",
	}
	r, _ := newTestRunner(l, nil)
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("thanks")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	assert.Equal(t, 2, l.wrapUpCalls)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, doneFallback, last.Content)
}

func TestWrapUpErrorUsesFallback(t *testing.T) {
	l := &fakeLLM{
		plan:      []models.PlanStep{finishStep("")},
		wrapUpErr: errors.New("provider down"),
	}
	r, mgr := newTestRunner(l, nil)
	ch := mgr.Subscribe("turn-1", 64)
	defer mgr.Unsubscribe("turn-1", ch)
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("thanks")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, doneFallback, last.Content)
	// The failed attempt contributes no fragments; only the fallback streams.
	assert.Equal(t, doneFallback, chunkText(drain(ch)))
}

func TestWrapUpDiscardsChunksFromFailedAttempt(t *testing.T) {
	// The first wrap-up attempt streams a fragment but settles on empty
	// text; that fragment must not reach the stream. Concatenating the
	// published chunks always yields the recorded closing message.
	l := &fakeLLM{
		plan: []models.PlanStep{finishStep("")},
		wrapUp: func(call int, onChunk func(string)) (string, error) {
			if call == 1 {
				onChunk("half a thought")
				return "", nil
			}
			onChunk("All ")
			onChunk("set.")
			return "All set.", nil
		},
	}
	r, mgr := newTestRunner(l, nil)
	ch := mgr.Subscribe("turn-1", 64)
	defer mgr.Unsubscribe("turn-1", ch)

	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("thanks")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	assert.Equal(t, 2, l.wrapUpCalls)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, "All set.", last.Content)
	assert.Equal(t, last.Content, chunkText(drain(ch)))
}

func TestPlanningFailureTerminatesWithApology(t *testing.T) {
	l := &fakeLLM{planErr: errors.New("provider 500")}
	worker := &scriptedWorker{role: agents.StockAgent, delta: func() *state.Delta { return &state.Delta{} }}
	r, mgr := newTestRunner(l, map[string]workers.Worker{agents.StockAgent: worker})
	ch := mgr.Subscribe("turn-1", 64)
	defer mgr.Unsubscribe("turn-1", ch)

	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("analyze AAPL")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	evs := drain(ch)
	require.Equal(t, []string{streaming.TypeUpdate}, eventTypes(evs))
	assert.True(t, evs[0].IsTerminal(agents.Finish))
	assert.Equal(t, 0, worker.calls)
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, errGeneric, last.Content)
	assert.Equal(t, -1, sess.Step)
}

func TestEmptyPlanTerminatesWithApology(t *testing.T) {
	l := &fakeLLM{plan: []models.PlanStep{}}
	r, _ := newTestRunner(l, nil)
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("analyze AAPL")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))
	assert.Equal(t, errGeneric, sess.Messages[len(sess.Messages)-1].Content)
}

func TestUnknownRoleInPlanTerminates(t *testing.T) {
	l := &fakeLLM{plan: []models.PlanStep{step("bond_agent", "check bonds"), finishStep("")}}
	r, _ := newTestRunner(l, nil)
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("check bonds")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))
	assert.Equal(t, errGeneric, sess.Messages[len(sess.Messages)-1].Content)
	assert.Equal(t, agents.Finish, sess.Next)
}

func TestStepIndexMonotonic(t *testing.T) {
	l := &fakeLLM{
		plan: []models.PlanStep{
			step(agents.StockAgent, "fetch AAPL"),
			step(agents.SearchAgent, "find AAPL news"),
			finishStep(""),
		},
		wrapUpText: "Done.",
	}
	workerDelta := func(role string) func() *state.Delta {
		return func() *state.Delta {
			return &state.Delta{
				Messages: []models.Message{models.AI("ok", role)},
				Next:     state.Str(agents.Supervisor),
			}
		}
	}
	stock := &scriptedWorker{role: agents.StockAgent, delta: workerDelta(agents.StockAgent)}
	search := &scriptedWorker{role: agents.SearchAgent, delta: workerDelta(agents.SearchAgent)}
	r, mgr := newTestRunner(l, map[string]workers.Worker{
		agents.StockAgent:  stock,
		agents.SearchAgent: search,
	})
	ch := mgr.Subscribe("turn-1", 256)
	defer mgr.Unsubscribe("turn-1", ch)

	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("full analysis of AAPL")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	assert.Equal(t, 1, stock.calls)
	assert.Equal(t, 1, search.calls)

	var steps []int
	for _, e := range drain(ch) {
		if e.Type == streaming.TypeUpdate {
			if v, ok := e.Fields["step"].(int); ok {
				steps = append(steps, v)
			}
		}
	}
	require.Equal(t, []int{0, 1, -1}, steps)
}

func TestWorkerFailureAdvancesWithoutRetry(t *testing.T) {
	l := &fakeLLM{
		plan:       []models.PlanStep{step(agents.StockAgent, "fetch ZZZZ"), finishStep("")},
		wrapUpText: "Sorry about that.",
	}
	worker := &scriptedWorker{
		role: agents.StockAgent,
		delta: func() *state.Delta {
			return &state.Delta{
				Messages: []models.Message{models.AI("I couldn't find any stock data.", agents.StockAgent)},
				Next:     state.Str(agents.Supervisor),
			}
		},
	}
	r, _ := newTestRunner(l, map[string]workers.Worker{agents.StockAgent: worker})
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("fetch ZZZZ")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	// The failed role runs exactly once; the turn still terminates cleanly.
	assert.Equal(t, 1, worker.calls)
	assert.Equal(t, agents.Finish, sess.Next)
	assert.Equal(t, -1, sess.Step)
}

func TestPlanWithoutFinishSentinelTerminates(t *testing.T) {
	l := &fakeLLM{wrapUpText: "Wrapping up."}
	sup := New(l, zap.NewNop())
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("hi")}
	sess.Plan = []models.PlanStep{step(agents.StockAgent, "fetch AAPL")}
	sess.Step = 0

	var evs []streaming.Event
	delta, terminal := sup.Advance(context.Background(), sess, func(e streaming.Event) { evs = append(evs, e) })

	assert.True(t, terminal)
	require.NotNil(t, delta.Next)
	assert.Equal(t, agents.Finish, *delta.Next)
	assert.Equal(t, -1, *delta.Step)
	require.NotEmpty(t, evs)
	assert.Equal(t, streaming.TypeHandoff, evs[0].Type)
	assert.Equal(t, agents.Finish, evs[0].TargetRole)
}

func TestCanceledContextStopsTurn(t *testing.T) {
	l := &fakeLLM{plan: []models.PlanStep{finishStep("hello")}}
	r, _ := newTestRunner(l, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("hi")}
	err := r.RunTurn(ctx, "sess-1", "turn-1", sess)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, l.structuredCalls)
}

func TestSessionLockIsPerSession(t *testing.T) {
	r, _ := newTestRunner(&fakeLLM{}, nil)
	a := r.lockSession("sess-a")
	b := r.lockSession("sess-b")
	assert.NotSame(t, a, b)

	r.mu.Lock()
	assert.Same(t, a, r.locks["sess-a"])
	r.mu.Unlock()

	r.unlockSession("sess-a", a)
	r.unlockSession("sess-b", b)
}

func TestSessionLockRegistryPrunedAfterTurn(t *testing.T) {
	l := &fakeLLM{plan: []models.PlanStep{finishStep("hello")}}
	r, _ := newTestRunner(l, nil)
	sess := state.NewSession()
	sess.Messages = []models.Message{models.Human("hi")}
	require.NoError(t, r.RunTurn(context.Background(), "sess-1", "turn-1", sess))

	// The gate registry does not accumulate an entry per session id.
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.locks)
}
