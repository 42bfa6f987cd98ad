package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/example/adr/internal/config"
)

func TestVerbosityLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, VerbosityLevel(10))
	assert.Equal(t, zapcore.InfoLevel, VerbosityLevel(20))
	assert.Equal(t, zapcore.WarnLevel, VerbosityLevel(30))
	assert.Equal(t, zapcore.ErrorLevel, VerbosityLevel(40))
	assert.Equal(t, zapcore.FatalLevel, VerbosityLevel(50))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("bogus"))
}

func TestFileSinkRecordsDebug(t *testing.T) {
	dir := t.TempDir()
	log := New(Options{
		Config:    config.LogConfig{Output: "file", Dir: dir, MaxSize: 1},
		Name:      "runner-1",
		Verbosity: 40,
	})
	log.Debug("polling queue")
	_ = log.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "runner-1.log"))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "polling queue"))
}
