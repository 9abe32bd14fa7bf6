package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaioken/internal/embedding"
	"kaioken/internal/types"
)

func openTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	dir := t.TempDir()
	eng := embedding.NewLocalEngine(384)
	s, err := Open(Options{
		DBPath:  filepath.Join(dir, "memories.db"),
		DocsDir: filepath.Join(dir, "docs"),
		Engine:  eng,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestMemory(id string, kind types.MemoryKind, content string) *types.Memory {
	return types.NewMemory(id, kind, content)
}

func TestOpen_RunsMigrations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalMemories)
}

func TestInsertAndGet_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := newTestMemory("m1", types.KindFact, "the build uses bazel")
	require.NoError(t, s.Insert(ctx, m))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, got.Embedding, 384)

	diff := cmp.Diff(m, got,
		cmpopts.IgnoreFields(types.Memory{}, "Embedding", "CreatedAt", "LastUsedAt"),
	)
	if diff != "" {
		t.Errorf("round-tripped memory diverged from the one inserted (-want +got):\n%s", diff)
	}
}

func TestInsert_RejectsInvalidMemory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := &types.Memory{ID: "", Kind: types.KindFact, Content: "x", Importance: 0.5}
	err := s.Insert(ctx, m)
	assert.Error(t, err)
}

func TestGetByKind_FiltersCorrectly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("f1", types.KindFact, "fact one")))
	require.NoError(t, s.Insert(ctx, newTestMemory("p1", types.KindPattern, "pattern one")))

	facts, err := s.GetByKind(ctx, types.KindFact)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "f1", facts[0].ID)
}

func TestGetTop_OrdersByEffectiveImportance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	low := newTestMemory("low", types.KindFact, "low importance fact")
	low.Importance = 0.1
	high := newTestMemory("high", types.KindLesson, "high importance lesson")
	high.Importance = 0.9

	require.NoError(t, s.Insert(ctx, low))
	require.NoError(t, s.Insert(ctx, high))

	top, err := s.GetTop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].ID)
}

func TestSearchByKeywords_MatchesSubstring(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("k1", types.KindFact, "kaioken uses sqlite for storage")))
	require.NoError(t, s.Insert(ctx, newTestMemory("k2", types.KindFact, "unrelated content entirely")))

	hits, err := s.SearchByKeywords(ctx, []string{"sqlite"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "k1", hits[0].ID)
}

func TestSearchBySimilarity_FindsClosestMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("s1", types.KindFact, "the quick brown fox jumps over the lazy dog")))
	require.NoError(t, s.Insert(ctx, newTestMemory("s2", types.KindFact, "completely different subject matter about cooking")))

	results, err := s.SearchBySimilarity(ctx, "the quick brown fox", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "s1", results[0].Memory.ID)
}

func TestExistsSimilar_ExactContentMatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("e1", types.KindFact, "duplicate content")))

	exists, err := s.ExistsSimilar(ctx, "duplicate content", types.KindFact)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ExistsSimilar(ctx, "different content", types.KindFact)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExistsSemanticallySimilar_ThresholdGates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("sem1", types.KindFact, "the user prefers tabs over spaces")))

	exists, err := s.ExistsSemanticallySimilar(ctx, "the user prefers tabs over spaces", types.KindFact, 0.99)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ExistsSemanticallySimilar(ctx, "completely unrelated text about weather", types.KindFact, 0.99)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReinforce_IncrementsUseCountAndImportance(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := newTestMemory("r1", types.KindFact, "reinforce me")
	m.Importance = 0.5
	require.NoError(t, s.Insert(ctx, m))

	require.NoError(t, s.Reinforce(ctx, "r1", 0.1))

	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.InDelta(t, 0.6, got.Importance, 1e-9)
}

func TestMarkUsed_IncrementsUseCountOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := newTestMemory("u1", types.KindFact, "mark me used")
	m.Importance = 0.5
	require.NoError(t, s.Insert(ctx, m))

	require.NoError(t, s.MarkUsed(ctx, "u1"))

	got, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.InDelta(t, 0.5, got.Importance, 1e-9)
}

func TestApplyDecay_SkipsLessonAndDecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fact := newTestMemory("d1", types.KindFact, "decaying fact")
	fact.Importance = 0.5
	lesson := newTestMemory("d2", types.KindLesson, "permanent lesson")
	lesson.Importance = 0.5

	require.NoError(t, s.Insert(ctx, fact))
	require.NoError(t, s.Insert(ctx, lesson))

	n, err := s.ApplyDecay(ctx, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gotFact, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.InDelta(t, 0.45, gotFact.Importance, 1e-9)

	gotLesson, err := s.Get(ctx, "d2")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, gotLesson.Importance, 1e-9)
}

func TestPruneLowImportance_DeletesBelowThresholdExceptPermanentKinds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	low := newTestMemory("low", types.KindFact, "low")
	low.Importance = 0.05
	lesson := newTestMemory("lesson", types.KindLesson, "lesson")
	lesson.Importance = 0.01

	require.NoError(t, s.Insert(ctx, low))
	require.NoError(t, s.Insert(ctx, lesson))

	n, err := s.PruneLowImportance(ctx, 0.10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, "low")
	assert.Error(t, err)

	_, err = s.Get(ctx, "lesson")
	assert.NoError(t, err)
}

func TestDelete_RemovesRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("del1", types.KindFact, "to be deleted")))
	require.NoError(t, s.Delete(ctx, "del1"))

	_, err := s.Get(ctx, "del1")
	assert.Error(t, err)
}

func TestAddRelationshipAndGetRelated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("a", types.KindFact, "memory a")))
	require.NoError(t, s.Insert(ctx, newTestMemory("b", types.KindFact, "memory b")))

	edge := types.RelationshipEdge{FromID: "a", ToID: "b", Label: "relates_to", CreatedAt: time.Now()}
	require.NoError(t, s.AddRelationship(ctx, edge))

	related, err := s.GetRelated(ctx, "a")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "b", related[0].ToID)

	relatedFromB, err := s.GetRelated(ctx, "b")
	require.NoError(t, err)
	require.Len(t, relatedFromB, 1)
}

func TestStats_CountsByKind(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newTestMemory("st1", types.KindFact, "fact")))
	require.NoError(t, s.Insert(ctx, newTestMemory("st2", types.KindFact, "fact2")))
	require.NoError(t, s.Insert(ctx, newTestMemory("st3", types.KindLesson, "lesson")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalMemories)
	assert.Equal(t, 2, stats.ByKind[types.KindFact])
	assert.Equal(t, 1, stats.ByKind[types.KindLesson])
}

func TestInsert_WritesDocsMirror(t *testing.T) {
	dir := t.TempDir()
	eng := embedding.NewLocalEngine(384)
	s, err := Open(Options{
		DBPath:  filepath.Join(dir, "memories.db"),
		DocsDir: filepath.Join(dir, "docs"),
		Engine:  eng,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	m := newTestMemory("doc1", types.KindPattern, "repeat this pattern")
	m.Context = "seen in three files"
	require.NoError(t, s.Insert(ctx, m))

	docPath := filepath.Join(dir, "docs", "doc1.md")
	data, err := os.ReadFile(docPath)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# pattern")
	assert.Contains(t, content, "Type: pattern")
	assert.Contains(t, content, "repeat this pattern")
	assert.Contains(t, content, "seen in three files")
}

func TestWithoutEmbeddingEngine_SearchBySimilarityDegradesToKeywords(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(Options{
		DBPath:  filepath.Join(dir, "memories.db"),
		DocsDir: filepath.Join(dir, "docs"),
		Engine:  nil,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	m := newTestMemory("nk1", types.KindFact, "no embedding engine configured here")
	require.NoError(t, s.Insert(ctx, m))
	assert.Empty(t, m.Embedding)

	results, err := s.SearchBySimilarity(ctx, "embedding engine", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].Similarity, 1e-9)
}
