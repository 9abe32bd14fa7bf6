package handlers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/embedding"
	"kaioken/internal/extract"
	"kaioken/internal/store"
	"kaioken/internal/types"
)

func openHandlerTestStore(t *testing.T) *store.MemoryStore {
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

func TestReadFileTool_ReadsAndFeedsRuleExtractor(t *testing.T) {
	s := openHandlerTestStore(t)
	rules := extract.NewRuleExtractor()

	path := filepath.Join(t.TempDir(), "handler.go")
	require.NoError(t, os.WriteFile(path, []byte("package handlers\n\ntype Router struct{}\n"), 0o644))

	tool := ReadFileTool(rules, s)
	out, err := tool.Execute(context.Background(), map[string]any{"path": path})
	require.NoError(t, err)
	assert.Contains(t, out, "package handlers")

	mems, err := s.GetByKind(context.Background(), types.KindLocation)
	require.NoError(t, err)
	assert.NotEmpty(t, mems)
}

func TestReadFileTool_RequiresPath(t *testing.T) {
	s := openHandlerTestStore(t)
	rules := extract.NewRuleExtractor()
	tool := ReadFileTool(rules, s)
	_, err := tool.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestApplyPatchTool_WritesAndRecordsEdit(t *testing.T) {
	s := openHandlerTestStore(t)
	rules := extract.NewRuleExtractor()

	path := filepath.Join(t.TempDir(), "out.txt")
	tool := ApplyPatchTool(rules, s)

	out, err := tool.Execute(context.Background(), map[string]any{"path": path, "content": "hello"})
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	mems, err := s.GetByKind(context.Background(), types.KindLocation)
	require.NoError(t, err)
	require.NotEmpty(t, mems)
	assert.Contains(t, mems[0].Content, "was edited")
}
