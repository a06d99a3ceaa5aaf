// Package state holds the shared session record threaded through one
// orchestration turn, the changed-fields delta merged after each worker
// invocation, and the control-transfer token that moves execution between
// the supervisor and a worker.
package state

import (
	"errors"

	"github.com/kabuai/orchestrator/internal/models"
)

// ErrInvalidTransfer is returned when a control transfer is missing its
// target or scoped payload.
var ErrInvalidTransfer = errors.New("invalid control transfer")

// Session is the single mutable record for one conversation. It is
// rehydrated from the caller on every turn; there is no durable store.
// Exactly one traversal may own a session at a time.
type Session struct {
	Messages []models.Message  `json:"messages"`
	Plan     []models.PlanStep `json:"plan"`
	// Step is the index of the active plan step, -1 when no plan is active.
	Step int `json:"step"`
	// Next is the normalized pending-route marker: a member role, FINISH, or
	// empty. The transfer itself is internal and never serialized.
	Next string `json:"next"`

	Ticker            string                 `json:"ticker,omitempty"`
	InstrumentData    *models.InstrumentData `json:"stock_data,omitempty"`
	InstrumentSummary string                 `json:"stock_summary,omitempty"`

	SearchQuery   string              `json:"search_query,omitempty"`
	SearchItems   []models.SearchItem `json:"search_results,omitempty"`
	SearchSummary string              `json:"search_summary,omitempty"`

	AnalysisText  string   `json:"analysis_result,omitempty"`
	AnalysisScore *float64 `json:"analysis_score,omitempty"`

	// transfer is the pending handoff, consumed exactly once per step.
	transfer *ControlTransfer
}

// NewSession returns an empty session with no active plan.
func NewSession() *Session {
	return &Session{Step: -1}
}

// SetTransfer records a pending handoff and mirrors its target into Next.
func (s *Session) SetTransfer(t *ControlTransfer) {
	s.transfer = t
	if t != nil {
		s.Next = t.Target
	}
}

// TakeTransfer consumes the pending handoff. Second calls return nil.
func (s *Session) TakeTransfer() *ControlTransfer {
	t := s.transfer
	s.transfer = nil
	return t
}

// Snapshot returns a deep copy of the session without the pending transfer.
func (s *Session) Snapshot() *Session {
	cp := *s
	cp.transfer = nil
	cp.Messages = append([]models.Message(nil), s.Messages...)
	cp.Plan = append([]models.PlanStep(nil), s.Plan...)
	cp.SearchItems = append([]models.SearchItem(nil), s.SearchItems...)
	if s.InstrumentData != nil {
		d := *s.InstrumentData
		cp.InstrumentData = &d
	}
	if s.AnalysisScore != nil {
		v := *s.AnalysisScore
		cp.AnalysisScore = &v
	}
	return &cp
}

// ControlTransfer hands execution from the supervisor to one worker. It
// carries a scoped two-message frame (the step's request as a user turn and
// its system instruction), not the full conversation, so worker inference
// calls are not confused by unrelated plan steps.
type ControlTransfer struct {
	Target   string           `json:"target"`
	Messages []models.Message `json:"messages"`
}

// Validate checks the transfer names a target and carries a payload.
func (t *ControlTransfer) Validate() error {
	if t == nil || t.Target == "" {
		return ErrInvalidTransfer
	}
	if len(t.Messages) == 0 {
		return ErrInvalidTransfer
	}
	return nil
}
