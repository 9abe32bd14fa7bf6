package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/session"
	"kaioken/internal/subagent"
	"kaioken/internal/types"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(session.Config{WorkingDir: "/work"}, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubagentRunTool_RunsTasksAndForwardsEvents(t *testing.T) {
	s := newTestSession(t)
	events, unsubscribe := s.Bus().Subscribe()
	defer unsubscribe()

	spawn := func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		ch := make(chan types.Event, 2)
		ch <- types.Event{Kind: types.EventExecCommandBegin, Payload: "ls"}
		ch <- types.Event{Kind: types.EventTaskComplete, Payload: "done: " + prompt}
		close(ch)
		return ch, nil
	}
	sched := subagent.New(spawn, 5)

	tool := SubagentRunTool(sched, s)
	out, err := tool.Execute(context.Background(), map[string]any{
		"tasks": []any{
			map[string]any{"name": "t1", "prompt": "do a thing"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "[t1] done")
	assert.Contains(t, out, "done: do a thing")

	var sawHistory, sawStatus bool
	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			switch ev.Kind {
			case types.EventSubagentHistoryItem:
				sawHistory = true
			case types.EventSubagentTaskUpdate:
				sawStatus = true
			}
		default:
		}
	}
	assert.True(t, sawStatus, "expected at least one subagent_task_update event")
	assert.True(t, sawHistory, "expected at least one subagent_history_item event")
}

func TestSubagentRunTool_RejectsEmptyTasks(t *testing.T) {
	s := newTestSession(t)
	sched := subagent.New(func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		return nil, nil
	}, 5)

	tool := SubagentRunTool(sched, s)
	_, err := tool.Execute(context.Background(), map[string]any{"tasks": []any{}})
	require.Error(t, err)
}

func TestSubagentRunTool_PromptFileRoundTrip(t *testing.T) {
	s := newTestSession(t)

	path := filepath.Join(t.TempDir(), "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte("prompt: do the yaml thing\ncwd: /work/sub\ntimeout: 2s\n"), 0o644))

	var capturedPrompt string
	spawn := func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		capturedPrompt = prompt
		ch := make(chan types.Event, 1)
		ch <- types.Event{Kind: types.EventTaskComplete, Payload: "done: " + prompt}
		close(ch)
		return ch, nil
	}
	sched := subagent.New(spawn, 5)

	tool := SubagentRunTool(sched, s)
	out, err := tool.Execute(context.Background(), map[string]any{
		"tasks": []any{
			map[string]any{"name": "t1", "prompt_file": path},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "do the yaml thing", capturedPrompt)
	assert.Contains(t, out, "done: do the yaml thing")
}

func TestSubagentRunTool_RejectsMissingFields(t *testing.T) {
	s := newTestSession(t)
	sched := subagent.New(func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		return nil, nil
	}, 5)

	tool := SubagentRunTool(sched, s)
	_, err := tool.Execute(context.Background(), map[string]any{
		"tasks": []any{map[string]any{"name": "only-name"}},
	})
	require.Error(t, err)
}
