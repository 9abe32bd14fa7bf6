package types

import "time"

// ItemKind discriminates the variants of a turn item (spec §3: "Ordered
// list of items").
type ItemKind string

const (
	ItemUserMessage      ItemKind = "user_message"
	ItemAssistantMessage ItemKind = "assistant_message"
	ItemReasoning        ItemKind = "reasoning"
	ItemToolCall         ItemKind = "tool_call"
	ItemApproval         ItemKind = "approval"
	ItemPlanUpdate       ItemKind = "plan_update"
	ItemExecBegin        ItemKind = "exec_begin"
	ItemExecEnd          ItemKind = "exec_end"
	ItemPatchBegin       ItemKind = "patch_begin"
	ItemPatchEnd         ItemKind = "patch_end"
	ItemSubagentUpdate   ItemKind = "subagent_update"
	ItemSubagentLog      ItemKind = "subagent_log"
	ItemSubagentHistory  ItemKind = "subagent_history"
	ItemTokenUsage       ItemKind = "token_usage"
	ItemError            ItemKind = "error"
)

// Item is one entry in a session's ordered item log. Exactly one of the
// payload fields below is populated, selected by Kind. Sequence is assigned
// by Session.Append (internal/session) at append time.
type Item struct {
	Sequence  uint64
	Kind      ItemKind
	Timestamp time.Time
	// Origin is empty for a live item, or a replay/synthetic tag (e.g.
	// "replay") for an item reconstructed from the rollout log rather than
	// freshly produced — see the session-bus invariant in spec §4.6.
	Origin string

	UserMessage      string
	AssistantMessage string

	Reasoning *ReasoningBlock
	ToolCall  *ToolCallItem
	Approval  *ApprovalItem
	PlanUpdate *PlanUpdateItem
	Exec      *ExecItem
	Patch     *PatchItem
	Subagent  *SubagentItem
	Usage     *TokenUsage
	Err       *ErrorItem
}

// IsSynthetic reports whether this item was reconstructed from rollout
// replay rather than produced live.
func (it Item) IsSynthetic() bool {
	return it.Origin != ""
}

// ReasoningBlock is a model reasoning summary, with optional raw content.
type ReasoningBlock struct {
	Summary string
	Raw     string
}

// ToolCallItem records a single tool invocation and its eventual outcome.
type ToolCallItem struct {
	CallID    string
	Name      string
	Arguments map[string]any
	Success   bool
	Completed bool
	Output    string
	Err       string
}

// ApprovalItem is an approval request paired with its eventual decision.
type ApprovalItem struct {
	CallID   string
	Kind     string // "exec" or "patch"
	Summary  string
	Decision ApprovalDecision
	Decided  bool
}

// PlanUpdateItem carries a model-declared plan (ordered steps with status).
type PlanUpdateItem struct {
	Steps []PlanStep
}

type PlanStep struct {
	Step   string
	Status string // "pending", "in_progress", "completed"
}

// ExecItem spans an ExecCommandBegin...End pair.
type ExecItem struct {
	CallID    string
	Command   []string
	Cwd       string
	ExitCode  int
	Stdout    string
	Stderr    string
	Completed bool
}

// PatchItem spans a PatchApplyBegin...End pair.
type PatchItem struct {
	CallID    string
	Files     []string
	Success   bool
	Completed bool
}

// SubagentItem carries a status update, log line, or forwarded history item
// from a child conversation spawned by subagent_run (spec §4.10).
type SubagentItem struct {
	TaskIndex int
	TaskName  string
	CallID    string
	Status    SubagentStatus // set for ItemSubagentUpdate
	Line      string         // set for ItemSubagentLog
	Forwarded *Item          // set for ItemSubagentHistory
}

type SubagentStatus string

const (
	SubagentRunning SubagentStatus = "running"
	SubagentDone    SubagentStatus = "done"
	SubagentTimeout SubagentStatus = "timeout"
	SubagentFailed  SubagentStatus = "failed"
)

// TokenUsage is a cumulative token-usage snapshot.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ErrorItem records a surfaced error.
type ErrorItem struct {
	Message string
	Fatal   bool
}
