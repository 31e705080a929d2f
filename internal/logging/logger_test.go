package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"extendvps/internal/config"
)

func TestNewConsoleRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: "console"}, Options{Console: zapcore.AddSync(&buf)})

	logger.Info("hidden")
	logger.Warn("shown")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "extendvps.")
}

func TestNewJSONConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "info", Format: "json"}, Options{Console: zapcore.AddSync(&buf)})
	logger.Named("router").Info("dispatched")
	require.NoError(t, logger.Sync())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "dispatched", line["msg"])
	assert.Equal(t, "extendvps.router", line["logger"])
	assert.Equal(t, "INFO", line["level"])
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "chatty"}, Options{Console: zapcore.AddSync(&buf)})
	logger.Debug("debug line")
	logger.Info("info line")
	require.NoError(t, logger.Sync())

	assert.NotContains(t, buf.String(), "debug line")
	assert.Contains(t, buf.String(), "info line")
}

func TestNewFileOnly(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "run.log")
	logger := New(config.LoggingConfig{Level: "info", LogFile: logFile}, Options{DisableConsole: true})
	logger.Info("to file")
	require.NoError(t, logger.Sync())

	raw, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), `"msg":"to file"`))
}

func TestNewNothingConfiguredIsNop(t *testing.T) {
	logger := New(config.LoggingConfig{}, Options{DisableConsole: true})
	assert.NotPanics(t, func() { logger.Info("dropped") })
}
