package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/approval"
	"kaioken/internal/types"
)

func TestDispatcher_RunsPureToolWithoutGate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	d := NewDispatcher(r, nil)

	result := d.Dispatch(context.Background(), "call1", "echo", map[string]any{"text": "hi"})
	assert.True(t, result.Success())
	assert.Equal(t, "hi", result.Output)
}

func TestDispatcher_MissingToolReturnsFailure(t *testing.T) {
	d := NewDispatcher(NewRegistry(), nil)
	result := d.Dispatch(context.Background(), "call1", "nope", nil)
	assert.False(t, result.Success())
	assert.ErrorIs(t, result.Err, ErrToolNotFound)
}

func TestDispatcher_MissingRequiredArgReturnsFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	d := NewDispatcher(r, nil)

	result := d.Dispatch(context.Background(), "call1", "echo", map[string]any{})
	assert.False(t, result.Success())
	assert.ErrorIs(t, result.Err, ErrMissingRequiredArg)
}

func TestDispatcher_ExecKindBlocksOnApprovalGate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "run_command",
		Kind: KindExec,
		Schema: Schema{Required: []string{"command"}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "ran", nil
		},
	}))

	gate := approval.New(types.ApprovalOnRequest, types.SandboxPolicy{Kind: types.SandboxWorkspaceWrite}, nil)
	d := NewDispatcher(r, gate)

	done := make(chan *Result, 1)
	go func() {
		done <- d.Dispatch(context.Background(), "call-exec", "run_command", map[string]any{"command": "echo hi"})
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, gate.Resolve("call-exec", types.DecisionApproved))

	select {
	case result := <-done:
		assert.True(t, result.Success())
		assert.Equal(t, "ran", result.Output)
	case <-time.After(time.Second):
		t.Fatal("dispatch did not unblock after approval")
	}
}

func TestDispatcher_ExecKindDenialSurfacesAsFailure(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&Tool{
		Name: "run_command",
		Kind: KindExec,
		Schema: Schema{Required: []string{"command"}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			t.Fatal("handler should not run when denied")
			return "", nil
		},
	}))

	gate := approval.New(types.ApprovalOnRequest, types.SandboxPolicy{Kind: types.SandboxWorkspaceWrite}, nil)
	d := NewDispatcher(r, gate)

	done := make(chan *Result, 1)
	go func() {
		done <- d.Dispatch(context.Background(), "call-deny", "run_command", map[string]any{"command": "rm -rf /"})
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, gate.Resolve("call-deny", types.DecisionDenied))

	result := <-done
	assert.False(t, result.Success())
	assert.ErrorIs(t, result.Err, approval.ErrDenied)
}

func TestResult_ToItem_CarriesSuccessAndOutput(t *testing.T) {
	r := &Result{ToolName: "echo", Output: "hi"}
	item := r.ToItem("call1", map[string]any{"text": "hi"})
	require.Equal(t, types.ItemToolCall, item.Kind)
	require.NotNil(t, item.ToolCall)
	assert.True(t, item.ToolCall.Success)
	assert.Equal(t, "hi", item.ToolCall.Output)
	assert.Equal(t, "call1", item.ToolCall.CallID)
}
