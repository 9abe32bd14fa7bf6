package turn

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/approval"
	"kaioken/internal/config"
	"kaioken/internal/embedding"
	"kaioken/internal/extract"
	"kaioken/internal/model"
	"kaioken/internal/session"
	"kaioken/internal/store"
	"kaioken/internal/subagent"
	"kaioken/internal/tools"
	"kaioken/internal/types"
)

// scriptedClient replays one fixed response list per call to Stream, in
// order; a call past the end of the script replays a bare Done.
type scriptedClient struct {
	mu      sync.Mutex
	scripts [][]model.StreamEvent
	calls   int
}

func (c *scriptedClient) Stream(ctx context.Context, req model.Request) (<-chan model.StreamEvent, error) {
	c.mu.Lock()
	idx := c.calls
	c.calls++
	c.mu.Unlock()

	var events []model.StreamEvent
	if idx < len(c.scripts) {
		events = c.scripts[idx]
	} else {
		events = []model.StreamEvent{{Kind: model.EventDone}}
	}

	ch := make(chan model.StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newTestEngine(t *testing.T, client model.Client, reg *tools.Registry, gate *approval.Gate) (*Engine, *session.Session) {
	t.Helper()
	s, err := session.New(session.Config{WorkingDir: "/work", Approval: types.ApprovalNever}, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if reg == nil {
		reg = tools.NewRegistry()
	}
	cfg := config.DefaultConfig()
	e := New(s, client, reg, gate, nil, nil, nil, nil, nil, cfg)
	return e, s
}

func TestEngine_SimpleTurnProducesAssistantTextAndCompletes(t *testing.T) {
	client := &scriptedClient{scripts: [][]model.StreamEvent{
		{
			{Kind: model.EventTextDelta, TextDelta: "hello there"},
			{Kind: model.EventUsage, Usage: &model.UsageMetadata{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
			{Kind: model.EventDone},
		},
	}}
	e, s := newTestEngine(t, client, nil, nil)

	events, unsubscribe := s.Bus().Subscribe()
	defer unsubscribe()

	result, err := e.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.AssistantText)
	assert.Equal(t, 0, result.ToolCallCount)
	assert.Equal(t, 15, result.Usage.TotalTokens)
	assert.Equal(t, StateIdle, e.State())

	var sawStarted, sawMessage, sawComplete bool
	for i := 0; i < 10; i++ {
		select {
		case ev := <-events:
			switch ev.Kind {
			case types.EventTaskStarted:
				sawStarted = true
			case types.EventAgentMessage:
				sawMessage = true
			case types.EventTaskComplete:
				sawComplete = true
			}
		default:
		}
	}
	assert.True(t, sawStarted)
	assert.True(t, sawMessage)
	assert.True(t, sawComplete)
}

func TestEngine_ToolCallRoundTripFeedsResultBackToModel(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name: "echo",
		Kind: tools.KindPure,
		Schema: tools.Schema{Properties: map[string]tools.Property{
			"text": {Type: "string"},
		}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return "echoed: " + text, nil
		},
	})

	client := &scriptedClient{scripts: [][]model.StreamEvent{
		{
			{Kind: model.EventToolCall, ToolCall: &model.ToolCall{ID: "call-1", Name: "echo", Arguments: map[string]any{"text": "hi"}}},
			{Kind: model.EventDone},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventDone},
		},
	}}

	e, _ := newTestEngine(t, client, reg, nil)
	result, err := e.Run(context.Background(), "use the echo tool")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ToolCallCount)
	assert.Equal(t, "done", result.AssistantText)

	var sawToolItem bool
	for _, it := range e.session.Items() {
		if it.Kind == types.ItemToolCall && it.ToolCall.Name == "echo" {
			sawToolItem = true
			assert.True(t, it.ToolCall.Success)
			assert.Equal(t, "echoed: hi", it.ToolCall.Output)
		}
	}
	assert.True(t, sawToolItem)
}

func TestEngine_ApprovalDenialSurfacesAsFailedToolCall(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name: "run_command",
		Kind: tools.KindExec,
		Schema: tools.Schema{Properties: map[string]tools.Property{
			"command": {Type: "string"},
		}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "should not run", nil
		},
	})

	gate := approval.New(types.ApprovalOnRequest, types.SandboxPolicy{Kind: types.SandboxWorkspaceWrite}, nil)

	client := &scriptedClient{scripts: [][]model.StreamEvent{
		{
			{Kind: model.EventToolCall, ToolCall: &model.ToolCall{ID: "call-1", Name: "run_command", Arguments: map[string]any{"command": "rm -rf /"}}},
			{Kind: model.EventDone},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "ok, skipped"},
			{Kind: model.EventDone},
		},
	}}

	e, _ := newTestEngine(t, client, reg, gate)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = gate.Resolve("call-1", types.DecisionDenied)
	}()

	result, err := e.Run(context.Background(), "run something dangerous")
	require.NoError(t, err)
	assert.Equal(t, "ok, skipped", result.AssistantText)

	var found bool
	for _, it := range e.session.Items() {
		if it.Kind == types.ItemToolCall && it.ToolCall.Name == "run_command" {
			found = true
			assert.False(t, it.ToolCall.Success)
			assert.Contains(t, it.ToolCall.Err, "denied")
		}
	}
	assert.True(t, found)
}

func TestEngine_PlanSuspensionBlocksUntilApproved(t *testing.T) {
	client := &scriptedClient{scripts: [][]model.StreamEvent{
		{
			{Kind: model.EventPlanUpdate, PlanSteps: []types.PlanStep{{Step: "do the thing", Status: "pending"}}},
			{Kind: model.EventTextDelta, TextDelta: "plan declared"},
			{Kind: model.EventDone},
		},
	}}
	e, _ := newTestEngine(t, client, nil, nil)

	done := make(chan *Result, 1)
	go func() {
		result, err := e.Run(context.Background(), "build a plan")
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return e.State() == StatePlanSuspended }, time.Second, time.Millisecond)
	e.ApprovePlan()

	select {
	case result := <-done:
		assert.Equal(t, "plan declared", result.AssistantText)
	case <-time.After(time.Second):
		t.Fatal("turn did not complete after plan approval")
	}
}

func TestEngine_PlanRefinementResubmitsWithFeedback(t *testing.T) {
	client := &scriptedClient{scripts: [][]model.StreamEvent{
		{
			{Kind: model.EventPlanUpdate, PlanSteps: []types.PlanStep{{Step: "v1", Status: "pending"}}},
			{Kind: model.EventDone},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "revised plan done"},
			{Kind: model.EventDone},
		},
	}}
	e, s := newTestEngine(t, client, nil, nil)

	done := make(chan *Result, 1)
	go func() {
		result, err := e.Run(context.Background(), "build a plan")
		require.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool { return e.State() == StatePlanSuspended }, time.Second, time.Millisecond)
	e.RefinePlan("make it shorter")

	select {
	case result := <-done:
		assert.Equal(t, "revised plan done", result.AssistantText)
	case <-time.After(time.Second):
		t.Fatal("turn did not complete after plan refinement")
	}

	var sawFeedback bool
	for _, it := range s.Items() {
		if it.Kind == types.ItemUserMessage && it.UserMessage == "make it shorter" {
			sawFeedback = true
		}
	}
	assert.True(t, sawFeedback)
}

func TestEngine_InterruptQueueOrdersExecEventsAfterStreamFlush(t *testing.T) {
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name: "run_command",
		Kind: tools.KindExec,
		Schema: tools.Schema{Properties: map[string]tools.Property{
			"command": {Type: "string"},
		}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "output", nil
		},
	})

	client := &scriptedClient{scripts: [][]model.StreamEvent{
		{
			{Kind: model.EventToolCall, ToolCall: &model.ToolCall{ID: "call-1", Name: "run_command", Arguments: map[string]any{"command": "ls"}}},
			{Kind: model.EventTextDelta, TextDelta: "running it now"},
			{Kind: model.EventDone},
		},
		{
			{Kind: model.EventTextDelta, TextDelta: "done"},
			{Kind: model.EventDone},
		},
	}}

	e, s := newTestEngine(t, client, reg, nil)
	_, err := e.Run(context.Background(), "list files")
	require.NoError(t, err)

	var order []types.ItemKind
	for _, it := range s.Items() {
		switch it.Kind {
		case types.ItemExecBegin, types.ItemExecEnd, types.ItemToolCall:
			order = append(order, it.Kind)
		}
	}
	require.Len(t, order, 3)
	assert.Equal(t, types.ItemExecBegin, order[0])
	assert.Equal(t, types.ItemExecEnd, order[1])
	assert.Equal(t, types.ItemToolCall, order[2])
}

func openTestStoreForTurn(t *testing.T) *store.MemoryStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(store.Options{
		DBPath:  filepath.Join(dir, "memories.db"),
		DocsDir: filepath.Join(dir, "docs"),
		Engine:  embedding.NewLocalEngine(384),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEngine_PostTurnExtractionRunsAsynchronously(t *testing.T) {
	memStore := openTestStoreForTurn(t)
	extractorClient := &scriptedClient{scripts: [][]model.StreamEvent{
		{{Kind: model.EventTextDelta, TextDelta: `{"memories": [{"type": "fact", "content": "uses pnpm", "importance": 0.5}]}`}, {Kind: model.EventDone}},
	}}
	modelExtractor := extract.NewModelExtractor(extractorClient, "aux-small")

	turnClient := &scriptedClient{scripts: [][]model.StreamEvent{
		{{Kind: model.EventTextDelta, TextDelta: "used pnpm install"}, {Kind: model.EventDone}},
	}}

	s, err := session.New(session.Config{WorkingDir: "/work"}, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	e := New(s, turnClient, tools.NewRegistry(), nil, nil, memStore, extract.NewRuleExtractor(), modelExtractor, nil, cfg)

	_, err = e.Run(context.Background(), "set up the project")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mems, err := memStore.GetByKind(context.Background(), types.KindFact)
		return err == nil && len(mems) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestEngine_ExplicitUserCommandIsRecordedBeforeStreaming(t *testing.T) {
	memStore := openTestStoreForTurn(t)
	turnClient := &scriptedClient{scripts: [][]model.StreamEvent{
		{{Kind: model.EventTextDelta, TextDelta: "noted"}, {Kind: model.EventDone}},
	}}

	s, err := session.New(session.Config{WorkingDir: "/work"}, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	e := New(s, turnClient, tools.NewRegistry(), nil, nil, memStore, extract.NewRuleExtractor(), nil, nil, cfg)

	_, err = e.Run(context.Background(), "decision: use postgres for the event log")
	require.NoError(t, err)

	mems, err := memStore.GetByKind(context.Background(), types.KindDecision)
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "use postgres for the event log", mems[0].Content)
}

func TestEngine_UserCorrectionIsRecordedAsPreference(t *testing.T) {
	memStore := openTestStoreForTurn(t)
	turnClient := &scriptedClient{scripts: [][]model.StreamEvent{
		{{Kind: model.EventTextDelta, TextDelta: "got it"}, {Kind: model.EventDone}},
	}}

	s, err := session.New(session.Config{WorkingDir: "/work"}, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := config.DefaultConfig()
	e := New(s, turnClient, tools.NewRegistry(), nil, nil, memStore, extract.NewRuleExtractor(), nil, nil, cfg)

	_, err = e.Run(context.Background(), "no, actually use the staging database for this")
	require.NoError(t, err)

	mems, err := memStore.GetByKind(context.Background(), types.KindPreference)
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, "no, actually use the staging database for this", mems[0].Content)
}

func TestEngine_SubagentRunSpawnsChildAndForwardsCompletion(t *testing.T) {
	childScript := []model.StreamEvent{
		{Kind: model.EventTextDelta, TextDelta: "child done"},
		{Kind: model.EventDone},
	}
	childClient := &scriptedClient{scripts: [][]model.StreamEvent{childScript}}

	factory := &ChildEngineFactory{
		Client:   childClient,
		Registry: tools.NewRegistry(),
		Cfg:      config.DefaultConfig(),
	}
	sched := subagent.New(factory.NewSpawnFunc(), 3)

	results, summary, err := sched.Run(context.Background(), "/work", []subagent.Task{
		{Name: "child-1", Prompt: "do the child task"},
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, subagent.StatusDone, results[0].Status)
	assert.Equal(t, "child done", results[0].Output)
	assert.Contains(t, summary, "[child-1] done")
}

func TestChildRegistry_ExcludesSubagentTool(t *testing.T) {
	base := tools.NewRegistry()
	base.MustRegister(&tools.Tool{Name: "subagent_run", Kind: tools.KindSubagent, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})
	base.MustRegister(&tools.Tool{Name: "echo", Kind: tools.KindPure, Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }})

	child := ChildRegistry(base)
	assert.False(t, child.Has("subagent_run"))
	assert.True(t, child.Has("echo"))
}
