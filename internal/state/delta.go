package state

import "github.com/kabuai/orchestrator/internal/models"

// Delta is the changed-fields-only result of one node execution. Nil
// pointers mean "unchanged"; pointers to zero values mean "cleared".
// Messages are appended, never replaced.
type Delta struct {
	Messages []models.Message

	Plan *[]models.PlanStep
	Step *int
	Next *string

	Ticker            *string
	InstrumentData    *models.InstrumentData
	InstrumentCleared bool
	InstrumentSummary *string

	SearchQuery   *string
	SearchItems   *[]models.SearchItem
	SearchSummary *string

	AnalysisText  *string
	AnalysisScore *float64
	ScoreCleared  bool
}

// IsEmpty reports whether the delta changes nothing. Short-circuiting
// pipeline stages return empty deltas.
func (d *Delta) IsEmpty() bool {
	if d == nil {
		return true
	}
	return len(d.Messages) == 0 && d.Plan == nil && d.Step == nil && d.Next == nil &&
		d.Ticker == nil && d.InstrumentData == nil && !d.InstrumentCleared &&
		d.InstrumentSummary == nil && d.SearchQuery == nil && d.SearchItems == nil &&
		d.SearchSummary == nil && d.AnalysisText == nil && d.AnalysisScore == nil && !d.ScoreCleared
}

// Apply merges the delta into the session. Only fields present in the delta
// are touched, so repeated application of a turn's deltas reconstructs the
// final state from the initial one.
func (d *Delta) Apply(s *Session) {
	if d == nil {
		return
	}
	s.Messages = append(s.Messages, d.Messages...)
	if d.Plan != nil {
		s.Plan = *d.Plan
	}
	if d.Step != nil {
		s.Step = *d.Step
	}
	if d.Next != nil {
		s.Next = *d.Next
	}
	if d.Ticker != nil {
		s.Ticker = *d.Ticker
	}
	if d.InstrumentData != nil {
		s.InstrumentData = d.InstrumentData
	} else if d.InstrumentCleared {
		s.InstrumentData = nil
	}
	if d.InstrumentSummary != nil {
		s.InstrumentSummary = *d.InstrumentSummary
	}
	if d.SearchQuery != nil {
		s.SearchQuery = *d.SearchQuery
	}
	if d.SearchItems != nil {
		s.SearchItems = *d.SearchItems
	}
	if d.SearchSummary != nil {
		s.SearchSummary = *d.SearchSummary
	}
	if d.AnalysisText != nil {
		s.AnalysisText = *d.AnalysisText
	}
	if d.AnalysisScore != nil {
		s.AnalysisScore = d.AnalysisScore
	} else if d.ScoreCleared {
		s.AnalysisScore = nil
	}
}

// Fields returns the wire map for an update event: changed fields only,
// keyed by the session's JSON names. A pending transfer never appears here;
// next is always a plain role name or the FINISH sentinel.
func (d *Delta) Fields() map[string]any {
	out := make(map[string]any)
	if d == nil {
		return out
	}
	if len(d.Messages) > 0 {
		out["messages"] = d.Messages
	}
	if d.Plan != nil {
		out["plan"] = *d.Plan
	}
	if d.Step != nil {
		out["step"] = *d.Step
	}
	if d.Next != nil {
		out["next"] = *d.Next
	}
	if d.Ticker != nil {
		out["ticker"] = *d.Ticker
	}
	if d.InstrumentData != nil {
		out["stock_data"] = d.InstrumentData
	} else if d.InstrumentCleared {
		out["stock_data"] = nil
	}
	if d.InstrumentSummary != nil {
		out["stock_summary"] = *d.InstrumentSummary
	}
	if d.SearchQuery != nil {
		out["search_query"] = *d.SearchQuery
	}
	if d.SearchItems != nil {
		out["search_results"] = *d.SearchItems
	}
	if d.SearchSummary != nil {
		out["search_summary"] = *d.SearchSummary
	}
	if d.AnalysisText != nil {
		out["analysis_result"] = *d.AnalysisText
	}
	if d.AnalysisScore != nil {
		out["analysis_score"] = *d.AnalysisScore
	} else if d.ScoreCleared {
		out["analysis_score"] = nil
	}
	return out
}

// String pointer helpers keep call sites short.

func Str(v string) *string { return &v }

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }

func Steps(v []models.PlanStep) *[]models.PlanStep { return &v }

func Items(v []models.SearchItem) *[]models.SearchItem { return &v }
