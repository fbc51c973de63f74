package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	old := SetDefaultLogger(newWithCore("test", core, zap.NewAtomicLevelAt(zapcore.DebugLevel)))
	t.Cleanup(func() { SetDefaultLogger(old) })
	return logs
}

func TestPackageFunctions(t *testing.T) {
	logs := observed(t)

	Info("чанк %d загружен", 7)
	Warn("медленно")
	Error("сбой: %v", "диск")
	Trace("не попадёт в лог")

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "чанк 7 загружен", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "test", entries[0].LoggerName)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestTraceLevel(t *testing.T) {
	logs := observed(t)
	current().SetLevel(TRACE)

	Trace("кадр %d", 1)
	require.Equal(t, 1, logs.FilterMessage("кадр 1").Len())
	assert.Equal(t, true, logs.All()[0].ContextMap()["trace"])
}

func TestFileOutput(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.Console = false
	opts.Dir = dir
	opts.Level = DEBUG

	l, err := NewLogger("storage", opts)
	require.NoError(t, err)

	l.Debug("записано %d байт", 42)
	l.SetLevel(ERROR)
	l.Info("не попадёт в файл")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "storage.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "записано 42 байт")
	assert.NotContains(t, string(data), "не попадёт")
}

func TestLoggerManager(t *testing.T) {
	opts := DefaultOptions()
	opts.Console = false
	opts.Dir = t.TempDir()
	opts.JSON = true
	Configure(opts)
	t.Cleanup(func() { Configure(DefaultOptions()) })

	lm := GetLoggerManager()
	a, err := lm.GetLogger("engine")
	require.NoError(t, err)
	b := GetEngineLogger()
	assert.Same(t, a, b)
	assert.Equal(t, "engine", a.Component())

	GetStorageLogger()
	assert.Equal(t, []string{"engine", "storage"}, lm.ListComponents())

	assert.NoError(t, lm.SetLogLevel("engine", WARN))
	assert.Error(t, lm.SetLogLevel("missing", WARN))

	assert.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, TRACE, ParseLevel("trace"))
	assert.Equal(t, DEBUG, ParseLevel("DEBUG"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("что-то"))
	assert.Equal(t, "WARN", WARN.String())
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))
	dump := HexDump(make([]byte, 300))
	assert.Contains(t, dump, "000000f0")
	assert.NotContains(t, dump, "00000100")
}
