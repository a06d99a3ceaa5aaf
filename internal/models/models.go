// Package models holds the domain records shared across the orchestrator:
// conversation messages, plan steps, search items, and instrument data.
package models

import "time"

// Message types mirror the conversation wire format. Name attributes a
// message to the agent that produced it.
const (
	MessageHuman  = "human"
	MessageAI     = "ai"
	MessageSystem = "system"
	MessageTool   = "tool"
)

// Message is one role-tagged entry in the conversation history.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// Human returns a user-turn message.
func Human(content string) Message {
	return Message{Type: MessageHuman, Content: content}
}

// AI returns an assistant message attributed to the given agent.
func AI(content, name string) Message {
	return Message{Type: MessageAI, Content: content, Name: name}
}

// System returns a system-tagged message attributed to the given agent.
func System(content, name string) Message {
	return Message{Type: MessageSystem, Content: content, Name: name}
}

// PlanStep is one entry of the supervisor's plan. Steps are immutable once
// created; re-planning replaces the whole plan.
type PlanStep struct {
	// Agent is a member role or the FINISH sentinel.
	Agent string `json:"agent"`
	// Request is the portion of the user's ask addressed to this role.
	Request string `json:"request"`
	// SystemInstruction is a brief scoped directive for the worker.
	SystemInstruction string `json:"system_instruction"`
	// Message is user-visible progress text for the handoff.
	Message string `json:"message"`
}

// SearchItem is one web search result. SentimentScore and Confidence default
// to zero and are filled in place by the sentiment stage.
type SearchItem struct {
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`

	SentimentScore float64 `json:"sentiment_score"`
	Confidence     float64 `json:"confidence"`
}
