package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/embedding"
	"kaioken/internal/store"
	"kaioken/internal/types"
)

func openTestStore(t *testing.T) *store.MemoryStore {
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

func TestRetrieve_LessonOutranksFactAtEqualSimilarity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fact := types.NewMemory("fact1", types.KindFact, "uses React")
	fact.Importance = 0.5
	lesson := types.NewMemory("lesson1", types.KindLesson, "always mock Redis")
	lesson.Importance = 0.9

	require.NoError(t, s.Insert(ctx, fact))
	require.NoError(t, s.Insert(ctx, lesson))

	r := New(s)
	results, err := r.Retrieve(ctx, Request{Query: "how do I write tests?", N: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "lesson1", results[0].ID)
}

func TestDiversify_CapsPerKind(t *testing.T) {
	now := time.Now()
	var list []*candidate
	for i := 0; i < 6; i++ {
		m := &types.Memory{ID: string(rune('a' + i)), Kind: types.KindFact, Importance: 0.5, LastUsedAt: now}
		list = append(list, &candidate{memory: m, combined: float64(6 - i)})
	}
	selected := diversify(list, 6)
	var factCount int
	for _, c := range selected {
		if c.memory.Kind == types.KindFact {
			factCount++
		}
	}
	assert.LessOrEqual(t, factCount, 6)
}

func TestExtractKeywords_DropsStopwordsAndShortTokens(t *testing.T) {
	kws := extractKeywords("how do I test the new caching layer?")
	assert.Contains(t, kws, "test")
	assert.Contains(t, kws, "new")
	assert.Contains(t, kws, "caching")
	assert.Contains(t, kws, "layer")
	assert.NotContains(t, kws, "the")
	assert.NotContains(t, kws, "how")
}

func TestBuildMemoryContext_GroupsInInjectionOrder(t *testing.T) {
	fact := types.NewMemory("f1", types.KindFact, "fact content")
	lesson := types.NewMemory("l1", types.KindLesson, "lesson content")
	lesson.Context = "observed during a build failure"

	out := BuildMemoryContext([]*types.Memory{fact, lesson}, 8000)
	assert.True(t, strings.HasPrefix(out, sentinelOpen))
	assert.True(t, strings.HasSuffix(out, sentinelClose))

	lessonIdx := strings.Index(out, "## Lessons")
	factIdx := strings.Index(out, "## Facts")
	require.NotEqual(t, -1, lessonIdx)
	require.NotEqual(t, -1, factIdx)
	assert.Less(t, lessonIdx, factIdx)
	assert.Contains(t, out, "[Lesson] lesson content")
}

func TestBuildMemoryContext_TruncatesAtCharBudget(t *testing.T) {
	lesson := types.NewMemory("l1", types.KindLesson, strings.Repeat("x", 200))
	out := BuildMemoryContext([]*types.Memory{lesson}, 40)
	assert.LessOrEqual(t, len(out), 60)
	assert.True(t, strings.HasSuffix(out, truncatedMark))
}
