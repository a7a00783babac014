package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, err := New(Config{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Info("hello", zap.Int64("tid", 1))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"tid":1`)
}

func TestNewFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")

	log, err := New(Config{Level: "verbose", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestMultiLoggerRequiresDir(t *testing.T) {
	_, err := NewMultiLogger(MultiLoggerConfig{Level: "info"})
	assert.Error(t, err)
}

func TestMultiLoggerAndReader(t *testing.T) {
	dir := t.TempDir()

	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)

	ml.LogTaskEvent("progress", zap.Int64("tid", 1), zap.String("state", "running"))
	ml.LogTaskEvent("completed", zap.Int64("tid", 1))
	ml.LogTaskEvent("failed", zap.Int64("tid", 2))
	ml.LogAppError("boom", zap.String("where", "test"))
	require.NoError(t, ml.Close())

	reader := NewLogReader(dir)

	history, err := reader.TaskHistory(1, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "progress", history[0].Message)
	assert.Equal(t, "running", history[0].Fields["state"])
	assert.Equal(t, "completed", history[1].Message)

	last, err := reader.ReadEntries(CategoryTask, time.Now(), 1, nil)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "failed", last[0].Message)

	errs, err := reader.ReadEntries(CategoryError, time.Now(), 0, nil)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "error", errs[0].Level)
}

func TestMultiLoggerRotatesOnNewDay(t *testing.T) {
	dir := t.TempDir()

	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	tomorrow := time.Now().Add(24 * time.Hour)
	ml.now = func() time.Time { return tomorrow }
	ml.LogTaskEvent("next-day", zap.Int64("tid", 9))
	require.NoError(t, ml.Sync())

	_, err = os.Stat(CategoryLogPath(dir, CategoryTask, tomorrow.Format(dateLayout)))
	assert.NoError(t, err)
}

func TestReaderMissingFile(t *testing.T) {
	entries, err := NewLogReader(t.TempDir()).ReadEntries(CategoryTask, time.Now(), 10, nil)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAdapterWithoutMultiLogger(t *testing.T) {
	la := NewLoggerAdapter(NewNop(), nil)
	assert.NotNil(t, la.Logger())
	assert.NotNil(t, la.Task())
	assert.Equal(t, "", la.LogsDir())
}

func TestAdapterCopiesErrorsToCategoryFile(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)

	la := NewLoggerAdapter(NewNop(), ml)
	la.Logger().With(zap.String("component", "test")).Error("write failed")
	la.Logger().Info("not copied")
	require.NoError(t, ml.Close())

	entries, err := NewLogReader(dir).ReadEntries(CategoryError, time.Now(), 0, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "write failed", entries[0].Message)
	assert.Equal(t, "test", entries[0].Fields["component"])
}
