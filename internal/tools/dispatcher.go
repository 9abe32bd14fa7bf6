package tools

import (
	"context"
	"fmt"
	"time"

	"kaioken/internal/approval"
	"kaioken/internal/logging"
	"kaioken/internal/types"
)

// Dispatcher runs tool calls with schema validation and approval gating on
// top of a Registry, per spec's three-step tool dispatch: validate, run
// (with cancellation and, for exec/patch kinds, an approval round-trip),
// wrap as a classified result.
type Dispatcher struct {
	registry *Registry
	gate     *approval.Gate
}

// NewDispatcher builds a Dispatcher over the given registry and approval
// gate. gate may be nil, in which case exec/patch tools run unconditionally
// (used in tests and for a registry containing only pure tools).
func NewDispatcher(registry *Registry, gate *approval.Gate) *Dispatcher {
	return &Dispatcher{registry: registry, gate: gate}
}

// Dispatch runs a tool call by name. callID identifies the model's tool
// call for the approval gate's rendezvous and for correlating the result
// back to the right pending-input slot.
func (d *Dispatcher) Dispatch(ctx context.Context, callID, name string, args map[string]any) *Result {
	start := time.Now()

	tool := d.registry.Get(name)
	if tool == nil {
		err := fmt.Errorf("%w: %s", ErrToolNotFound, name)
		return &Result{ToolName: name, Err: err, DurationMs: time.Since(start).Milliseconds()}
	}

	if err := d.registry.validateArgs(tool, args); err != nil {
		// Schema mismatch is a "respond to model" correction, not a user-
		// visible failure (spec §7).
		return &Result{ToolName: name, Err: err, DurationMs: time.Since(start).Milliseconds()}
	}

	if d.gate != nil && (tool.Kind == KindExec || tool.Kind == KindPatch) {
		req := approval.Request{ID: callID, Kind: string(tool.Kind), Summary: summarize(tool.Name, args)}
		if err := d.gate.Request(ctx, req); err != nil {
			return &Result{ToolName: name, Err: err, DurationMs: time.Since(start).Milliseconds()}
		}
	}

	logging.ToolsDebug("dispatching tool: %s (call=%s)", name, callID)
	output, err := tool.Execute(ctx, args)
	duration := time.Since(start)
	logging.ToolsDebug("tool %s completed in %v (success=%v)", name, duration, err == nil)

	return &Result{ToolName: name, Output: output, Err: err, DurationMs: duration.Milliseconds()}
}

// ToItem converts a Result into the tool-call item the session's event bus
// appends: Success is false on either a dispatch error or a handler error,
// surfaced either way as a failure-flagged tool message (spec §7 treats
// approval denial identically to execution failure).
func (r *Result) ToItem(callID string, args map[string]any) types.Item {
	errText := ""
	if r.Err != nil {
		errText = r.Err.Error()
	}
	return types.Item{
		Kind: types.ItemToolCall,
		ToolCall: &types.ToolCallItem{
			CallID:    callID,
			Name:      r.ToolName,
			Arguments: args,
			Success:   r.Success(),
			Completed: true,
			Output:    r.Output,
			Err:       errText,
		},
	}
}

func summarize(toolName string, args map[string]any) string {
	switch toolName {
	case "run_command":
		if cmd, ok := args["command"].(string); ok {
			return cmd
		}
	}
	return toolName
}
