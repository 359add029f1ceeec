package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/worktrack/engine/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))

	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 120, cfg.Webhook.RateLimit)
	assert.Equal(t, "0 20 * * *", cfg.Batch.Cron)
	assert.Equal(t, 7, cfg.Batch.WindowDays)
	assert.Equal(t, "Asia/Tashkent", cfg.TimeZone)

	loc, err := cfg.Location()
	require.NoError(t, err)
	_, offset := time.Date(2025, 3, 10, 12, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600, offset)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, "worktrack.yaml", `
server:
  port: 9000
database:
  path: /var/lib/worktrack.db
time_zone: UTC
webhook:
  rate_limit: 10
batch:
  window_days: 14
notify:
  backoff: 5s
log:
  level: debug
`)

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/var/lib/worktrack.db", cfg.Database.Path)
	assert.Equal(t, 10, cfg.Webhook.RateLimit)
	assert.Equal(t, 14, cfg.Batch.WindowDays)
	assert.Equal(t, "0 20 * * *", cfg.Batch.Cron, "sibling keys keep defaults")
	assert.Equal(t, 3, cfg.Notify.MaxRetries, "unset keys keep defaults")

	backoff, err := cfg.BackoffDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, backoff)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := writeFile(t, "worktrack.yaml", "server:\n  port: 9000\n")
	t.Setenv("WORKTRACK_PORT", "7070")
	t.Setenv("WORKTRACK_DB", ":memory:")
	t.Setenv("TIME_ZONE", "Europe/Berlin")
	t.Setenv("WEBHOOK_RATE_LIMIT", "5")
	t.Setenv("WORKTRACK_BATCH_CRON", "30 19 * * 1-5")

	cfg, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "Europe/Berlin", cfg.TimeZone)
	assert.Equal(t, 5, cfg.Webhook.RateLimit)
	assert.Equal(t, "30 19 * * 1-5", cfg.Batch.Cron)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad zone", "time_zone: Mars/Olympus\n"},
		{"bad cron", "batch:\n  cron: every evening\n"},
		{"zero rate limit", "webhook:\n  rate_limit: 0\n"},
		{"zero batch window", "batch:\n  window_days: 0\n"},
		{"bad backoff", "notify:\n  backoff: soon\n"},
		{"bad log level", "log:\n  level: loud\n"},
		{"broken yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "c.yaml", tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_DisabledBatchSkipsCronCheck(t *testing.T) {
	cfg, err := config.Load(writeFile(t, "c.yaml", "batch:\n  enabled: false\n  cron: nonsense\n"))

	require.NoError(t, err)
	assert.False(t, cfg.Batch.Enabled)
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	path := writeFile(t, ".env", "WORKTRACK_DB=from-dotenv.db\nWORKTRACK_LOG_LEVEL=warn\n")
	t.Setenv("WORKTRACK_DB", "from-env.db")
	t.Setenv("WORKTRACK_LOG_LEVEL", "")
	os.Unsetenv("WORKTRACK_LOG_LEVEL")

	require.NoError(t, config.LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	t.Cleanup(func() { os.Unsetenv("WORKTRACK_LOG_LEVEL") })

	assert.Equal(t, "from-env.db", os.Getenv("WORKTRACK_DB"))
	assert.Equal(t, "warn", os.Getenv("WORKTRACK_LOG_LEVEL"))
}
