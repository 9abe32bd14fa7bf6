package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, workspace string, content string) {
	t.Helper()
	dir := filepath.Join(workspace, ".kaioken")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(content), 0644))
}

func resetGlobalState(t *testing.T) {
	t.Helper()
	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
	configMu.Lock()
	config = loggingConfig{}
	configMu.Unlock()
	logsDir = ""
	workspace = ""
	t.Cleanup(CloseAll)
}

func TestInitialize_NoConfigIsSilentNoOp(t *testing.T) {
	resetGlobalState(t)
	dir := t.TempDir()

	require.NoError(t, Initialize(dir))
	assert := require.New(t)
	assert.False(IsDebugMode())

	_, err := os.Stat(filepath.Join(dir, ".kaioken", "logs"))
	assert.True(os.IsNotExist(err), "logs dir must not be created when config is absent")
}

func TestInitialize_DebugModeCreatesLogFile(t *testing.T) {
	resetGlobalState(t)
	dir := t.TempDir()
	writeTestConfig(t, dir, `{"logging": {"debug_mode": true, "level": "debug"}}`)

	require.NoError(t, Initialize(dir))
	require.True(t, IsDebugMode())

	Get(CategoryStore).Info("store is up")

	entries, err := os.ReadDir(filepath.Join(dir, ".kaioken", "logs"))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestIsCategoryEnabled_DisabledWhenDebugOff(t *testing.T) {
	resetGlobalState(t)
	config.DebugMode = false
	require.False(t, IsCategoryEnabled(CategoryStore))
}

func TestIsCategoryEnabled_ExplicitFalseWins(t *testing.T) {
	resetGlobalState(t)
	config.DebugMode = true
	config.Categories = map[string]bool{"store": false}
	require.True(t, IsCategoryEnabled(CategoryTurn), "unlisted categories default enabled")
	require.False(t, IsCategoryEnabled(CategoryStore))
}

func TestGet_ReturnsNoOpLoggerWhenDisabled(t *testing.T) {
	resetGlobalState(t)
	l := Get(CategoryStore)
	require.Nil(t, l.logger, "disabled category must yield a no-op logger")
	// Must not panic even though logger is nil.
	l.Info("should be dropped")
}

func TestTimer_StopReturnsElapsed(t *testing.T) {
	resetGlobalState(t)
	timer := StartTimer(CategoryTurn, "unit-test-op")
	elapsed := timer.Stop()
	require.GreaterOrEqual(t, elapsed.Nanoseconds(), int64(0))
}
