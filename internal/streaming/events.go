// Package streaming normalizes the orchestrator's internal execution
// signals (handoffs, tool calls, token chunks, state deltas, task markers)
// into one ordered, typed event stream consumable over SSE or WebSocket.
package streaming

import "encoding/json"

// Event types of the external protocol.
const (
	TypeHandoff = "handoff"
	TypeTool    = "tool"
	TypeChunk   = "chunk"
	TypeUpdate  = "update"
	TypeTask    = "task"
)

// Task directions.
const (
	DirectionEnter = "enter"
	DirectionLeave = "leave"
)

// EmitFunc receives internal execution signals as they occur. The supervisor
// and the worker pipelines emit through it; the manager fans out.
type EmitFunc func(Event)

// Event is one element of the discriminated external stream. Only the
// fields of the event's type are populated; Seq is assigned at publish time
// and backs Last-Event-ID replay.
type Event struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq,omitempty"`

	// handoff
	TargetRole  string `json:"target_role,omitempty"`
	Message     string `json:"message,omitempty"`
	Instruction string `json:"instruction,omitempty"`

	// tool and task share Name
	Name      string         `json:"name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// chunk
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`

	// update
	Fields map[string]any `json:"fields,omitempty"`

	// task
	Direction string `json:"direction,omitempty"`
}

// Handoff announces that the supervisor selected the next role (or FINISH).
func Handoff(target, message, instruction string) Event {
	return Event{Type: TypeHandoff, TargetRole: target, Message: message, Instruction: instruction}
}

// Tool announces an external capability invocation.
func Tool(name string, arguments map[string]any) Event {
	return Event{Type: TypeTool, Name: name, Arguments: arguments}
}

// Chunk carries one incremental text fragment from an inference call.
// Consumers concatenate fragments in arrival order.
func Chunk(role, content string) Event {
	return Event{Type: TypeChunk, Role: role, Content: content}
}

// Update carries the changed session-state fields merged by the executor.
func Update(fields map[string]any) Event {
	return Event{Type: TypeUpdate, Fields: fields}
}

// Task is a coarse enter/leave observability marker for a node.
func Task(name, direction string) Event {
	return Event{Type: TypeTask, Name: name, Direction: direction}
}

// IsTerminal reports whether the event ends a turn: an update whose next
// field equals the FINISH sentinel.
func (e Event) IsTerminal(finish string) bool {
	if e.Type != TypeUpdate {
		return false
	}
	next, ok := e.Fields["next"].(string)
	return ok && next == finish
}

// Marshal returns the JSON encoding for SSE data lines and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}
