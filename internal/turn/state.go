package turn

import "kaioken/internal/types"

// State is one substate of the per-turn state machine (spec §4.11's ASCII
// diagram). Every inbound model event updates exactly one substate.
type State string

const (
	StateIdle          State = "idle"
	StateAwaitingUser  State = "awaiting_user"
	StateSubmitted     State = "submitted"
	StateStreaming     State = "streaming"
	StateToolCalled    State = "tool_called"
	StateReasoningOnly State = "reasoning_only"
	StateAssistantText State = "assistant_text"
	// StateSuspended is the RequiresApproval=Yes branch under ToolCalled;
	// the approval wait itself happens inside approval.Gate.Request, which
	// the dispatcher already calls, so this state exists for observers
	// (tests, a UI) rather than to drive further dispatch logic.
	StateSuspended State = "suspended"
	StateExecuting State = "executing"
	StateToolResult State = "tool_result"
	// StatePlanSuspended is the plan-workflow's second gated state (spec
	// §9): the model's first response must be a plan object the operator
	// approves or refines before execution continues.
	StatePlanSuspended State = "plan_suspended"
	StateTurnComplete  State = "turn_complete"
)

// Result is what Run returns once a turn reaches TurnComplete.
type Result struct {
	AssistantText string
	ToolCallCount int
	Usage         types.TokenUsage
}
