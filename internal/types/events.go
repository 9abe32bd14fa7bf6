package types

// EventKind enumerates the session event surface named in spec §6: values
// flowing out of the core to any UI, telemetry sink, or parent session.
type EventKind string

const (
	EventTaskStarted    EventKind = "task_started"
	EventTaskComplete   EventKind = "task_complete"
	EventTurnAborted    EventKind = "turn_aborted"
	EventAgentMessage   EventKind = "agent_message"
	EventAgentMessageDelta EventKind = "agent_message_delta"
	EventAgentReasoning EventKind = "agent_reasoning"
	EventAgentReasoningDelta EventKind = "agent_reasoning_delta"
	EventAgentReasoningSectionBreak EventKind = "agent_reasoning_section_break"
	EventAgentReasoningRawContent EventKind = "agent_reasoning_raw_content"
	EventAgentReasoningRawContentDelta EventKind = "agent_reasoning_raw_content_delta"
	EventTokenCount     EventKind = "token_count"
	EventExecCommandBegin EventKind = "exec_command_begin"
	EventExecCommandOutputDelta EventKind = "exec_command_output_delta"
	EventExecCommandEnd EventKind = "exec_command_end"
	EventPatchApplyBegin EventKind = "patch_apply_begin"
	EventPatchApplyEnd  EventKind = "patch_apply_end"
	EventMcpToolCallBegin EventKind = "mcp_tool_call_begin"
	EventMcpToolCallEnd EventKind = "mcp_tool_call_end"
	EventMcpStartupUpdate EventKind = "mcp_startup_update"
	EventMcpStartupComplete EventKind = "mcp_startup_complete"
	EventWebSearchBegin EventKind = "web_search_begin"
	EventWebSearchEnd   EventKind = "web_search_end"
	EventSubagentTaskUpdate EventKind = "subagent_task_update"
	EventSubagentLog    EventKind = "subagent_log"
	EventSubagentHistoryItem EventKind = "subagent_history_item"
	EventPlanUpdate     EventKind = "plan_update"
	EventExecApprovalRequest EventKind = "exec_approval_request"
	EventApplyPatchApprovalRequest EventKind = "apply_patch_approval_request"
	EventElicitationRequest EventKind = "elicitation_request"
	EventViewImageToolCall EventKind = "view_image_tool_call"
	EventWarning        EventKind = "warning"
	EventError          EventKind = "error"
	EventStreamError    EventKind = "stream_error"
	EventBackgroundEvent EventKind = "background_event"
	EventContextCompacted EventKind = "context_compacted"
	EventTurnDiff       EventKind = "turn_diff"
	EventCheckpointCreated EventKind = "checkpoint_created"
	EventCheckpointRestored EventKind = "checkpoint_restored"
	EventCheckpointList EventKind = "checkpoint_list"
	EventCheckpointError EventKind = "checkpoint_error"
	EventUndoStarted    EventKind = "undo_started"
	EventUndoCompleted  EventKind = "undo_completed"
	EventSessionConfigured EventKind = "session_configured"
	EventShutdownComplete EventKind = "shutdown_complete"
)

// Event is a single item flowing out of the session's event bus to its
// subscribers. Payload is kind-specific and intentionally untyped (any)
// here: internal/session defines the concrete subscriber contract; this
// package only names the vocabulary both sides agree on.
type Event struct {
	Kind    EventKind
	Payload any
}
