package subagent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kaioken/internal/session"
	"kaioken/internal/types"
)

func scriptedSpawn(script map[string][]types.Event) SpawnFunc {
	return func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		events := script[prompt]
		ch := make(chan types.Event, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
}

func TestScheduler_RunsAllTasksConcurrentlyAndConcatenatesOutput(t *testing.T) {
	defer goleak.VerifyNone(t)

	spawn := scriptedSpawn(map[string][]types.Event{
		"do A": {
			{Kind: types.EventExecCommandBegin, Payload: "ls"},
			{Kind: types.EventExecCommandEnd, Payload: "ls"},
			{Kind: types.EventTaskComplete, Payload: "A done"},
		},
		"do B": {
			{Kind: types.EventTaskComplete, Payload: "B done"},
		},
	})

	s := New(spawn, 5)
	statusCh := make(chan StatusUpdate, 32)
	historyCh := make(chan HistoryItem, 32)

	results, summary, err := s.Run(context.Background(), "/work", []Task{
		{Name: "A", Prompt: "do A"},
		{Name: "B", Prompt: "do B"},
	}, statusCh, historyCh)
	close(statusCh)
	close(historyCh)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatusDone, results[0].Status)
	assert.Equal(t, "A done", results[0].Output)
	assert.Equal(t, StatusDone, results[1].Status)
	assert.Equal(t, "B done", results[1].Output)
	assert.Contains(t, summary, "[A] done")
	assert.Contains(t, summary, "[B] done")

	var historyCount int
	for range historyCh {
		historyCount++
	}
	assert.Equal(t, 2, historyCount, "exec begin + end should be forwarded as history items")
}

func TestScheduler_RejectsTooManyTasks(t *testing.T) {
	s := New(scriptedSpawn(nil), 2)
	_, _, err := s.Run(context.Background(), "/work", []Task{{Name: "a"}, {Name: "b"}, {Name: "c"}}, nil, nil)
	require.Error(t, err)
	var tooMany *ErrTooManyTasks
	require.ErrorAs(t, err, &tooMany)
	assert.Equal(t, 2, tooMany.Limit)
}

func TestScheduler_ClampsMaxConcurrentToHardCap(t *testing.T) {
	s := New(scriptedSpawn(nil), 1000)
	assert.Equal(t, SubagentLimitHardCap, s.maxConcurrent)

	s2 := New(scriptedSpawn(nil), 0)
	assert.Equal(t, SubagentLimitMin, s2.maxConcurrent)
}

func TestScheduler_SpawnErrorMarksTaskFailed(t *testing.T) {
	spawn := func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		return nil, assertErr
	}
	s := New(spawn, 3)
	results, _, err := s.Run(context.Background(), "/work", []Task{{Name: "boom", Prompt: "x"}}, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusFailed, results[0].Status)
	assert.Equal(t, assertErr.Error(), results[0].Err)
}

var assertErr = errAssertSpawnFailure{}

type errAssertSpawnFailure struct{}

func (errAssertSpawnFailure) Error() string { return "spawn failed" }

func TestScheduler_TimeoutMarksTaskTimeout(t *testing.T) {
	blockForever := func(ctx context.Context, cfg session.Config, prompt string) (<-chan types.Event, error) {
		ch := make(chan types.Event)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}

	s := New(blockForever, 1)
	results, _, err := s.Run(context.Background(), "/work", []Task{
		{Name: "slow", Prompt: "x", Timeout: 20 * time.Millisecond},
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusTimeout, results[0].Status)
}

func TestResolveChildCwd(t *testing.T) {
	assert.Equal(t, "/parent", resolveChildCwd("/parent", ""))
	assert.Equal(t, "/abs/override", resolveChildCwd("/parent", "/abs/override"))
	assert.Equal(t, "/parent/rel", resolveChildCwd("/parent", "rel"))
}
