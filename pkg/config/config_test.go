package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 10, cfg.MaxDepth)
	assert.Equal(t, 4, cfg.MaxParallelPerRun)
	assert.Equal(t, int64(32), cfg.GlobalLLMConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.RunTimeout)
	assert.Equal(t, 30*time.Second, cfg.AgentTimeout)
	assert.Equal(t, 256, cfg.ChannelCapacity)
	assert.Equal(t, 3, cfg.HistoryWindow)
	assert.Equal(t, 0.0, cfg.SelectionThreshold)
	assert.Nil(t, cfg.LegacyModelMap)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("MAX_DEPTH", "5")
	t.Setenv("RUN_TIMEOUT_SECONDS", "120")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, http://localhost:5173")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 5, cfg.MaxDepth)
	assert.Equal(t, 2*time.Minute, cfg.RunTimeout)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.CORSOrigins)
}

func TestLoadAPIKeyPrecedence(t *testing.T) {
	t.Setenv("LLM_DEFAULT_KEY", "legacy-key")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "legacy-key", cfg.DefaultAPIKey)

	t.Setenv("GEMINI_API_KEY", "primary-key")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "primary-key", cfg.DefaultAPIKey)
}

func TestLoadLegacyModelMap(t *testing.T) {
	t.Setenv("LEGACY_MODEL_MAP", "gemini-1.5-pro=gemini-2.5-pro, gemini-pro=gemini-2.5-pro")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"gemini-1.5-pro": "gemini-2.5-pro",
		"gemini-pro":     "gemini-2.5-pro",
	}, cfg.LegacyModelMap)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("MAX_DEPTH", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedModelMap(t *testing.T) {
	t.Setenv("LEGACY_MODEL_MAP", "gemini-pro")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsZeroDepth(t *testing.T) {
	t.Setenv("MAX_DEPTH", "0")
	_, err := Load()
	assert.Error(t, err)
}
