// Package model defines the pre-decoded event stream the turn engine (L11)
// consumes from whatever LLM client is wired in. Per spec Non-goals, no
// provider wire format lives here — a Client implementation is responsible
// for translating its own SSE/JSON shape into these types before the turn
// engine ever sees them.
package model

import (
	"context"

	"kaioken/internal/types"
)

// Message is one entry in the conversation sent to the model.
type Message struct {
	Role    string // "user", "assistant", "tool"
	Content string
	// ToolCallID is set on a "tool" role message: the result of a prior
	// ToolCall this message answers.
	ToolCallID string
}

// ToolDefinition is a tool the model may call, advertised on every request.
type ToolDefinition struct {
	Name        string
	Description string
	Schema      map[string]any // JSON Schema, passed through verbatim
}

// ToolCall is a single invocation the model requested mid-stream.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// UsageMetadata is a cumulative token count for one model turn.
type UsageMetadata struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// EventKind discriminates StreamEvent's payload.
type EventKind string

const (
	EventTextDelta      EventKind = "text_delta"
	EventReasoningDelta EventKind = "reasoning_delta"
	EventToolCall       EventKind = "tool_call"
	EventPlanUpdate     EventKind = "plan_update"
	EventUsage          EventKind = "usage"
	EventDone           EventKind = "done"
	EventError          EventKind = "error"
)

// StreamEvent is one item in the decoded model response stream.
type StreamEvent struct {
	Kind EventKind

	TextDelta      string
	ReasoningDelta string
	ToolCall       *ToolCall
	PlanSteps      []types.PlanStep
	Usage          *UsageMetadata
	Err            error
}

// Request is a single completion request to the model.
type Request struct {
	Model           string
	ReasoningEffort string // "low" | "medium" | "high"
	Messages        []Message
	Tools           []ToolDefinition
}

// Client is the contract a concrete LLM backend implements. Stream sends
// decoded events to the returned channel and closes it when the response
// finishes or ctx is cancelled. A response that finishes ends with EventDone
// or EventError; after cancellation the channel may close without either.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// ToolResponse is what a tool dispatcher hands back to the model as the
// result of a ToolCall.
type ToolResponse struct {
	CallID  string
	Output  string
	Success bool
}
