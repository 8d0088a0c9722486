// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every runtime knob of the service. Populated once at startup
// by Load and treated as read-only afterwards.
type Config struct {
	// HTTP
	HTTPPort    int
	CORSOrigins []string

	// LLM
	DefaultAPIKey        string
	GlobalLLMConcurrency int64
	LegacyModelMap       map[string]string

	// Execution
	MaxDepth          int
	MaxParallelPerRun int
	RunTimeout        time.Duration
	AgentTimeout      time.Duration
	ChannelCapacity   int
	HistoryWindow     int
	SelectionThreshold float64

	// Retention. Zero disables the cleanup sweeper.
	SessionRetention time.Duration
	CleanupInterval  time.Duration

	// Logging
	LogLevel slog.Level
}

// Load reads configuration from environment variables, applying defaults for
// anything unset. It never reads files; callers that want .env support load
// it before calling Load.
func Load() (Config, error) {
	port, err := intEnv("HTTP_PORT", 8080)
	if err != nil {
		return Config{}, err
	}
	maxDepth, err := intEnv("MAX_DEPTH", 10)
	if err != nil {
		return Config{}, err
	}
	maxParallel, err := intEnv("MAX_PARALLEL_PER_RUN", 4)
	if err != nil {
		return Config{}, err
	}
	llmConcurrency, err := intEnv("GLOBAL_LLM_CONCURRENCY", 32)
	if err != nil {
		return Config{}, err
	}
	runTimeout, err := intEnv("RUN_TIMEOUT_SECONDS", 600)
	if err != nil {
		return Config{}, err
	}
	agentTimeout, err := intEnv("AGENT_TIMEOUT_SECONDS", 30)
	if err != nil {
		return Config{}, err
	}
	channelCap, err := intEnv("CHANNEL_CAPACITY", 256)
	if err != nil {
		return Config{}, err
	}
	historyWindow, err := intEnv("HISTORY_WINDOW", 3)
	if err != nil {
		return Config{}, err
	}
	threshold, err := floatEnv("SELECTION_THRESHOLD", 0.0)
	if err != nil {
		return Config{}, err
	}
	modelMap, err := parseModelMap(os.Getenv("LEGACY_MODEL_MAP"))
	if err != nil {
		return Config{}, err
	}
	retentionHours, err := intEnv("SESSION_RETENTION_HOURS", 0)
	if err != nil {
		return Config{}, err
	}
	cleanupMinutes, err := intEnv("CLEANUP_INTERVAL_MINUTES", 60)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPPort:             port,
		CORSOrigins:          splitList(getEnvOrDefault("CORS_ORIGINS", "*")),
		DefaultAPIKey:        defaultAPIKey(),
		GlobalLLMConcurrency: int64(llmConcurrency),
		LegacyModelMap:       modelMap,
		MaxDepth:             maxDepth,
		MaxParallelPerRun:    maxParallel,
		RunTimeout:           time.Duration(runTimeout) * time.Second,
		AgentTimeout:         time.Duration(agentTimeout) * time.Second,
		ChannelCapacity:      channelCap,
		HistoryWindow:        historyWindow,
		SelectionThreshold:   threshold,
		SessionRetention:     time.Duration(retentionHours) * time.Hour,
		CleanupInterval:      time.Duration(cleanupMinutes) * time.Minute,
		LogLevel:             parseLogLevel(os.Getenv("LOG_LEVEL")),
	}

	if cfg.MaxDepth < 1 {
		return Config{}, fmt.Errorf("MAX_DEPTH must be at least 1, got %d", cfg.MaxDepth)
	}
	if cfg.MaxParallelPerRun < 1 {
		return Config{}, fmt.Errorf("MAX_PARALLEL_PER_RUN must be at least 1, got %d", cfg.MaxParallelPerRun)
	}
	if cfg.ChannelCapacity < 1 {
		return Config{}, fmt.Errorf("CHANNEL_CAPACITY must be at least 1, got %d", cfg.ChannelCapacity)
	}
	return cfg, nil
}

// defaultAPIKey resolves the fallback Gemini key. GEMINI_API_KEY wins over
// the older LLM_DEFAULT_KEY name. May be empty: runs can carry their own key.
func defaultAPIKey() string {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key
	}
	return os.Getenv("LLM_DEFAULT_KEY")
}

// parseModelMap parses "old=new,old=new" pairs. An empty input yields nil so
// the caller falls back to the built-in substitution table.
func parseModelMap(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		old, repl, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(old) == "" || strings.TrimSpace(repl) == "" {
			return nil, fmt.Errorf("invalid LEGACY_MODEL_MAP entry %q", pair)
		}
		out[strings.TrimSpace(old)] = strings.TrimSpace(repl)
	}
	return out, nil
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func intEnv(key string, defaultVal int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, defaultVal float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
