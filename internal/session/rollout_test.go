package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/types"
)

func TestRollout_WriteThenReplayRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenRollout(dir, "sess-1")
	require.NoError(t, err)

	require.NoError(t, w.Write(types.Item{Sequence: 1, Kind: types.ItemUserMessage, UserMessage: "first"}))
	require.NoError(t, w.Write(types.Item{Sequence: 2, Kind: types.ItemToolCall, ToolCall: &types.ToolCallItem{
		CallID: "c1", Name: "run_command", Success: true, Completed: true, Output: "ok",
	}}))
	require.NoError(t, w.Close())

	items, err := ReplayRollout(filepath.Join(dir, "sess-1.jsonl"))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "first", items[0].UserMessage)
	assert.Equal(t, "c1", items[1].ToolCall.CallID)
	for _, it := range items {
		assert.True(t, it.IsSynthetic())
	}
}

func TestReplayInto_PreservesSequenceNumbers(t *testing.T) {
	dir := t.TempDir()
	w, err := OpenRollout(dir, "sess-2")
	require.NoError(t, err)
	require.NoError(t, w.Write(types.Item{Sequence: 5, Kind: types.ItemUserMessage, UserMessage: "x"}))
	require.NoError(t, w.Close())

	s, err := New(testConfig(""), "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, ReplayInto(s, filepath.Join(dir, "sess-2.jsonl")))
	require.Len(t, s.Items(), 1)
	assert.Equal(t, uint64(5), s.Items()[0].Sequence)

	next := s.Append(types.Item{Kind: types.ItemUserMessage, UserMessage: "y"})
	assert.Equal(t, uint64(6), next)
}
