package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	for _, k := range []string{"DB_DSN", "AI_PROVIDER", "ANONYMOUS_DAILY_LIMIT", "CORS_ORIGINS", "OUTBOX_ENABLED", "JWT_TTL"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	require.Equal(t, ":8000", cfg.HTTPAddr)
	require.Equal(t, "openai", cfg.AIProvider)
	require.Equal(t, 40, cfg.AnonymousDailyLimit)
	require.Equal(t, 5, cfg.DBMinConns)
	require.Equal(t, 20, cfg.DBMaxConns)
	require.Equal(t, 2*time.Minute, cfg.DBCommandTimeout)
	require.Equal(t, 24*time.Hour, cfg.JWTTTL)
	require.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	require.False(t, cfg.OutboxEnabled)
	require.Equal(t, "sql", cfg.RateLimitBackend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GO_ENV", "test")
	t.Setenv("AI_PROVIDER", " Ollama ")
	t.Setenv("ANONYMOUS_DAILY_LIMIT", "5")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("OUTBOX_ENABLED", "yes")
	t.Setenv("TURN_STALE_AFTER", "30m")
	t.Setenv("DB_MAX_CONNS", "not-a-number")
	t.Setenv("JWT_TTL", "-1h")

	cfg := Load()
	require.Equal(t, "ollama", cfg.AIProvider)
	require.Equal(t, 5, cfg.AnonymousDailyLimit)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.True(t, cfg.OutboxEnabled)
	require.Equal(t, 30*time.Minute, cfg.TurnStaleAfter)
	require.Equal(t, 20, cfg.DBMaxConns)
	require.Equal(t, 24*time.Hour, cfg.JWTTTL)
}
