package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/types"
)

func testConfig(dir string) Config {
	return Config{
		WorkingDir:      dir,
		Model:           "claude-sonnet-4-5",
		ReasoningEffort: "medium",
		Approval:        types.ApprovalOnRequest,
		Sandbox:         types.SandboxPolicy{Kind: types.SandboxWorkspaceWrite, Roots: []string{"/tmp"}},
	}
}

func TestSession_AppendAssignsSequenceAndWritesRollout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(testConfig(dir), dir)
	require.NoError(t, err)
	defer s.Close()

	seq1 := s.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: "hello"})
	seq2 := s.Append(types.Item{Kind: types.ItemAssistantMessage, AssistantMessage: "hi"})

	assert.Equal(t, uint64(1), seq1)
	assert.Equal(t, uint64(2), seq2)
	assert.Len(t, s.Items(), 2)

	replayed, err := ReplayRollout(s.RolloutPath())
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	assert.True(t, replayed[0].IsSynthetic())
	assert.Equal(t, "hello", replayed[0].UserMessage)
	assert.Equal(t, "hi", replayed[1].AssistantMessage)
}

func TestSession_SyntheticItemsNotWrittenToRollout(t *testing.T) {
	dir := t.TempDir()
	s, err := New(testConfig(dir), dir)
	require.NoError(t, err)
	defer s.Close()

	s.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: "live"})
	s.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: "synthetic", Origin: "replay"})

	replayed, err := ReplayRollout(s.RolloutPath())
	require.NoError(t, err)
	require.Len(t, replayed, 1)
	assert.Equal(t, "live", replayed[0].UserMessage)
}

func TestSession_CloneOriginalConfigIsDeepCopy(t *testing.T) {
	s, err := New(testConfig("/work"), "")
	require.NoError(t, err)
	defer s.Close()

	clone := s.CloneOriginalConfig()
	clone.Sandbox.Roots[0] = "/mutated"

	assert.Equal(t, "/tmp", s.Config().Sandbox.Roots[0])
}

func TestSession_AccumulateUsage(t *testing.T) {
	s, err := New(testConfig("/work"), "")
	require.NoError(t, err)
	defer s.Close()

	s.AccumulateUsage(types.TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	total := s.AccumulateUsage(types.TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5})

	assert.Equal(t, types.TokenUsage{InputTokens: 13, OutputTokens: 7, TotalTokens: 20}, total)
}

func TestSession_DeferredMessagesDrainOnce(t *testing.T) {
	s, err := New(testConfig("/work"), "")
	require.NoError(t, err)
	defer s.Close()

	s.DeferUserMessage("queued one")
	s.DeferUserMessage("queued two")

	drained := s.DrainDeferredMessages()
	assert.Equal(t, []string{"queued one", "queued two"}, drained)
	assert.Empty(t, s.DrainDeferredMessages())
}

func TestSession_WithoutRolloutDirSkipsDurableLog(t *testing.T) {
	s, err := New(testConfig("/work"), "")
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, s.RolloutPath())
	s.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: "no durable write"})
	assert.Len(t, s.Items(), 1)
}
