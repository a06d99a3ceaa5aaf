// Package supervisor implements the planner state machine and the step
// executor that drives one orchestration turn: plan, dispatch one worker at
// a time, merge each delta into the shared session, terminate.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/agents"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/metrics"
	"github.com/kabuai/orchestrator/internal/models"
	"github.com/kabuai/orchestrator/internal/prompts"
	"github.com/kabuai/orchestrator/internal/state"
	"github.com/kabuai/orchestrator/internal/streaming"
)

const (
	errGeneric = "I have encountered an error. Please try again."
	errProcess = "I encountered an error while processing your query"

	// doneFallback guarantees the wrap-up is never blank.
	doneFallback = "All done. Let me know if you'd like to look into another stock."
)

// PlanningError reports that the supervisor could not obtain or validate a
// plan. It terminates the turn with a generic message and never reaches the
// boundary raw.
type PlanningError struct {
	Err error
}

func (e *PlanningError) Error() string { return fmt.Sprintf("planning: %v", e.Err) }

func (e *PlanningError) Unwrap() error { return e.Err }

var planSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"plan": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"agent": {"type": "string", "description": "One of the member agents or FINISH"},
					"request": {"type": "string", "description": "The portion of the user's ask for this agent"},
					"system_instruction": {"type": "string", "description": "Brief scoped directive for the agent"},
					"message": {"type": "string", "description": "User-visible progress text"}
				},
				"required": ["agent", "request", "system_instruction", "message"]
			}
		}
	},
	"required": ["plan"]
}`)

// Supervisor owns planning, step advancement, and wrap-up.
type Supervisor struct {
	llm    llm.Inference
	logger *zap.Logger
	now    func() time.Time
}

// New builds a supervisor around the inference capability.
func New(inference llm.Inference, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{llm: inference, logger: logger, now: time.Now}
}

// Advance performs one supervisor transition on the session: create a plan
// when none is active, otherwise move to the next step. The returned delta
// is the supervisor's own state change; terminal reports whether the turn
// ends here. On a non-terminal result the session carries a pending
// control transfer for the executor to consume.
//
// Any internal failure is absorbed into a terminal delta with an apology;
// Advance never returns a raw error to the boundary.
func (s *Supervisor) Advance(ctx context.Context, sess *state.Session, emit streaming.EmitFunc) (delta *state.Delta, terminal bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("supervisor panic", zap.Any("panic", r))
			delta, terminal = s.terminalError(errProcess), true
		}
	}()

	if len(sess.Plan) > 0 && sess.Step >= 0 {
		return s.advancePlan(ctx, sess, emit)
	}
	return s.createPlan(ctx, sess, emit)
}

// advancePlan re-enters an active plan after a worker returned.
func (s *Supervisor) advancePlan(ctx context.Context, sess *state.Session, emit streaming.EmitFunc) (*state.Delta, bool) {
	next := sess.Step + 1
	if next >= len(sess.Plan) {
		// Malformed plan: ran past the last step without a FINISH sentinel.
		s.logger.Warn("plan exhausted without FINISH step",
			zap.Int("steps", len(sess.Plan)))
		emit(streaming.Handoff(agents.Finish, "", ""))
		return s.finish(ctx, sess, emit), true
	}

	step := sess.Plan[next]
	if step.Agent == agents.Finish {
		s.logger.Debug("routing to FINISH", zap.Int("step", next))
		emit(streaming.Handoff(agents.Finish, step.Message, ""))
		return s.finish(ctx, sess, emit), true
	}

	s.logger.Debug("routing to next step",
		zap.String("agent", step.Agent), zap.Int("step", next))
	emit(streaming.Handoff(step.Agent, step.Message, step.SystemInstruction))
	sess.SetTransfer(&state.ControlTransfer{
		Target:   step.Agent,
		Messages: scopedFrame(step),
	})
	return &state.Delta{
		Step: state.Int(next),
		Next: state.Str(step.Agent),
	}, false
}

// createPlan asks the inference capability for a full ordered plan.
func (s *Supervisor) createPlan(ctx context.Context, sess *state.Session, emit streaming.EmitFunc) (*state.Delta, bool) {
	plan, err := s.plan(ctx, sess.Messages)
	if err != nil {
		s.logger.Error("planning failed", zap.Error(err))
		return s.terminalError(errGeneric), true
	}
	metrics.PlanSteps.Observe(float64(len(plan)))

	first := plan[0]
	if first.Agent == agents.Finish {
		s.logger.Debug("plan finishes immediately")
		emit(streaming.Handoff(agents.Finish, first.Message, ""))
		msg := first.Message
		if msg == "" {
			msg = s.wrapUp(ctx, sess.Messages, emit)
		} else {
			emit(streaming.Chunk(agents.Supervisor, msg))
		}
		return &state.Delta{
			Messages: []models.Message{models.AI(msg, agents.Supervisor)},
			Next:     state.Str(agents.Finish),
			Plan:     state.Steps(nil),
			Step:     state.Int(-1),
		}, true
	}

	s.logger.Debug("dispatching first plan step", zap.String("agent", first.Agent))
	emit(streaming.Handoff(first.Agent, first.Message, first.SystemInstruction))
	sess.SetTransfer(&state.ControlTransfer{
		Target:   first.Agent,
		Messages: scopedFrame(first),
	})
	return &state.Delta{
		Plan: state.Steps(plan),
		Step: state.Int(0),
		Next: state.Str(first.Agent),
	}, false
}

// plan issues the structured planning call and validates the result.
func (s *Supervisor) plan(ctx context.Context, conversation []models.Message) ([]models.PlanStep, error) {
	members := ""
	descriptions := ""
	for i, m := range agents.Members {
		if i > 0 {
			members += ", "
			descriptions += "\n"
		}
		members += m
		descriptions += m + " - " + agents.Descriptions[m]
	}
	system := fmt.Sprintf(prompts.Plan, members+", "+agents.Finish, descriptions, s.now().Format(time.RFC3339))

	messages := append([]models.Message{models.System(system, agents.Supervisor)}, conversation...)
	messages = append(messages, models.System(prompts.PlanSelect, agents.Supervisor))

	var out struct {
		Plan []models.PlanStep `json:"plan"`
	}
	if err := s.llm.GenerateStructured(ctx, llm.TierHeavy, messages, planSchema, &out); err != nil {
		return nil, &PlanningError{Err: err}
	}
	if len(out.Plan) == 0 {
		return nil, &PlanningError{Err: fmt.Errorf("empty plan")}
	}
	for _, step := range out.Plan {
		if step.Agent != agents.Finish && !agents.IsMember(step.Agent) {
			return nil, &PlanningError{Err: fmt.Errorf("unknown role %q in plan", step.Agent)}
		}
	}
	return out.Plan, nil
}

// finish produces the terminal delta for a completed plan. The closing
// message always comes from the wrap-up call over the whole conversation.
func (s *Supervisor) finish(ctx context.Context, sess *state.Session, emit streaming.EmitFunc) *state.Delta {
	msg := s.wrapUp(ctx, sess.Messages, emit)
	return &state.Delta{
		Messages: []models.Message{models.AI(msg, agents.Supervisor)},
		Next:     state.Str(agents.Finish),
		Plan:     state.Steps(nil),
		Step:     state.Int(-1),
	}
}

// wrapUp generates the closing remark. It must never be blank: one retry,
// then a fixed fallback. Chunks are buffered per attempt and published only
// for the attempt whose text is kept, so the chunk stream always
// reassembles into the recorded message.
func (s *Supervisor) wrapUp(ctx context.Context, conversation []models.Message, emit streaming.EmitFunc) string {
	messages := append([]models.Message{models.System(prompts.Done, agents.Supervisor)}, conversation...)
	for attempt := 0; attempt < 2; attempt++ {
		var chunks []string
		text, err := s.llm.GenerateText(ctx, llm.TierLight, messages, func(chunk string) {
			chunks = append(chunks, chunk)
		})
		if err != nil {
			s.logger.Warn("wrap-up generation failed", zap.Error(err))
			break
		}
		if text != "" {
			if len(chunks) == 0 {
				chunks = []string{text}
			}
			for _, c := range chunks {
				emit(streaming.Chunk(agents.Supervisor, c))
			}
			return text
		}
	}
	emit(streaming.Chunk(agents.Supervisor, doneFallback))
	return doneFallback
}

// terminalError builds the TERMINATED-with-apology delta.
func (s *Supervisor) terminalError(msg string) *state.Delta {
	return &state.Delta{
		Messages: []models.Message{models.AI(msg, agents.Supervisor)},
		Next:     state.Str(agents.Finish),
		Plan:     state.Steps(nil),
		Step:     state.Int(-1),
	}
}

// scopedFrame builds the two-message frame handed to a worker: the step's
// request as a user turn plus its system instruction. Workers never see the
// rest of the conversation.
func scopedFrame(step models.PlanStep) []models.Message {
	return []models.Message{
		models.Human(step.Request),
		models.System(step.SystemInstruction, agents.Supervisor),
	}
}
