package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, level)

	level, err = ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	level, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, level)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestInitLoggerWritesRotatedFiles(t *testing.T) {
	defer zap.ReplaceGlobals(zap.NewNop())

	base := filepath.Join(t.TempDir(), "rkv")
	InitLogger(Options{Level: zapcore.InfoLevel, File: base, MaxSize: 1})

	Infof("hello %s", "info")
	Errorf("hello %s", "error")
	Debugf("dropped")
	Sync()

	info, err := os.ReadFile(base + ".info.log")
	require.NoError(t, err)
	assert.Contains(t, string(info), "hello info")
	assert.Contains(t, string(info), "hello error")
	assert.NotContains(t, string(info), "dropped")

	errs, err := os.ReadFile(base + ".error.log")
	require.NoError(t, err)
	assert.Contains(t, string(errs), "hello error")
	assert.NotContains(t, string(errs), "hello info")
}
