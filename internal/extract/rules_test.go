package extract

import (
	"context"
	"path/filepath"
	"testing"

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

func TestRuleExtractor_PackageManagerDetectionDedupes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	ev := ExecEvent{Command: "npm install", ExitCode: 0, Stdout: "added 40 packages"}

	first, err := e.OnExecComplete(ctx, s, ev)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, types.KindFact, first[0].Kind)
	assert.InDelta(t, 0.5, first[0].Importance, 0.001)

	second, err := e.OnExecComplete(ctx, s, ev)
	require.NoError(t, err)
	assert.Empty(t, second, "identical fact must not be re-inserted")
}

func TestRuleExtractor_FailureThenFixProducesHighImportanceLesson(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	fail := ExecEvent{Command: "pytest tests/", ExitCode: 1, Stderr: "ModuleNotFoundError: not found: pytest_asyncio"}
	failMemories, err := e.OnExecComplete(ctx, s, fail)
	require.NoError(t, err)
	require.Len(t, failMemories, 1)
	assert.Equal(t, types.KindLesson, failMemories[0].Kind)

	fix := ExecEvent{Command: "pytest tests/", ExitCode: 0, Stdout: "5 passed"}
	fixMemories, err := e.OnExecComplete(ctx, s, fix)
	require.NoError(t, err)

	var lessons []*types.Memory
	for _, m := range fixMemories {
		if m.Kind == types.KindLesson {
			lessons = append(lessons, m)
		}
	}
	require.Len(t, lessons, 1, "exactly one fix-lesson must be recorded for the resolved failure")
	assert.InDelta(t, FixLessonImportance, lessons[0].Importance, 0.001)
	assert.Contains(t, lessons[0].Content, "pytest tests/")

	// Lessons never decay (spec §4.1): ten rounds of decay must leave importance unchanged.
	before := lessons[0].Importance
	for i := 0; i < 10; i++ {
		lessons[0].ApplyDecay(types.DefaultDecayRate)
	}
	assert.Equal(t, before, lessons[0].Importance)
}

func TestRuleExtractor_ClassifyFailureFamilyIgnoresUnrecognizedStderr(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	ev := ExecEvent{Command: "./build.sh", ExitCode: 2, Stderr: "warning: deprecated flag -x"}
	memories, err := e.OnExecComplete(ctx, s, ev)
	require.NoError(t, err)
	assert.Empty(t, memories)
}

func TestRuleExtractor_OnFileReadInfersPurposeAndPattern(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	ev := FileReadEvent{
		Path:    "src/__tests__/auth.test.ts",
		Content: "describe('auth', () => { it('authenticate works', () => {}) })",
	}
	memories, err := e.OnFileRead(ctx, s, ev)
	require.NoError(t, err)
	require.Len(t, memories, 2)

	var kinds []types.MemoryKind
	for _, m := range memories {
		kinds = append(kinds, m.Kind)
	}
	assert.ElementsMatch(t, []types.MemoryKind{types.KindLocation, types.KindPattern}, kinds)
}

func TestRuleExtractor_OnFileEditDedupes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	m1, err := e.OnFileEdit(ctx, s, "src/main.go")
	require.NoError(t, err)
	require.NotNil(t, m1)

	m2, err := e.OnFileEdit(ctx, s, "src/main.go")
	require.NoError(t, err)
	assert.Nil(t, m2)
}

func TestRuleExtractor_OnUserCommandParsesPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	m, err := e.OnUserCommand(ctx, s, "decision: use postgres for the sessions table")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, types.KindDecision, m.Kind)
	assert.Equal(t, "use postgres for the sessions table", m.Content)
	assert.InDelta(t, userCommandImportance, m.Importance, 0.001)
}

func TestRuleExtractor_OnUserCommandFallsBackToHeuristic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	m, err := e.OnUserCommand(ctx, s, "always run tests before committing")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, types.KindPattern, m.Kind)
}

func TestRuleExtractor_OnUserCorrectionIsPreference(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	e := NewRuleExtractor()

	m, err := e.OnUserCorrection(ctx, s, "use tabs, not spaces")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, types.KindPreference, m.Kind)
	assert.InDelta(t, userCorrectionImportance, m.Importance, 0.001)
}

func TestCommandKey(t *testing.T) {
	assert.Equal(t, "npm install", commandKey("npm install --save-dev"))
	assert.Equal(t, "pytest", commandKey("pytest"))
	assert.Equal(t, "", commandKey(""))
}
