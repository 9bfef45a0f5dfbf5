package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "agentlab.log")

	l, err := New(Config{Level: "debug", File: logFile, Redaction: true, MaxSize: 1})
	require.NoError(t, err)

	console := l.Component("console")
	console.Info().Str("key", "sk-abcdefghijklmnopqrstuvwxyz").Msg("turn failed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"console"`)
	assert.Contains(t, string(data), "[REDACTED]")
	assert.NotContains(t, string(data), "sk-abcdefghijklmnopqrstuvwxyz")
}

func TestNewInstallsGlobalLogger(t *testing.T) {
	l, err := New(Config{Level: "warn"})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, l.Zerolog().GetLevel(), log.Logger.GetLevel())
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "chatty"})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "info", l.Zerolog().GetLevel().String())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.False(t, cfg.Console)
	assert.True(t, cfg.Redaction)
	assert.Positive(t, cfg.MaxSize)
}
