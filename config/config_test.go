package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPServer.Address)
	assert.Equal(t, []string{"*"}, cfg.HTTPServer.CORSOrigins)
	assert.Equal(t, "0 2 1 * *", cfg.Scheduler.RecalculationCron)
	assert.Equal(t, time.Hour, cfg.Scheduler.RetryDelay)
	assert.Equal(t, 8, cfg.Engine.BatchConcurrency)
	assert.Equal(t, 30*24*time.Hour, cfg.Engine.TrialLength)
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("RENTAL_HTTP_ADDRESS", ":9090")
	t.Setenv("RENTAL_REDIS_ADDRESS", "localhost:6379")
	t.Setenv("RENTAL_RETRY_DELAY", "10m")
	t.Setenv("RENTAL_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPServer.Address)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.RetryDelay)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTPServer.CORSOrigins)
	assert.True(t, cfg.UsesRedis())
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
env: prod
http_server:
  address: ":7070"
storage:
  sqlite_path: "/var/lib/rental.db"
scheduler:
  recalculation_cron: "30 3 1 * *"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":7070", cfg.HTTPServer.Address)
	assert.Equal(t, "/var/lib/rental.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "30 3 1 * *", cfg.Scheduler.RecalculationCron)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	// GIVEN: a config with a broken cron expression and no concurrency
	cfg := Config{
		HTTPServer: HTTPServer{Address: ":8080"},
		Scheduler:  Scheduler{Enabled: true, RecalculationCron: "every month"},
		Engine:     Engine{BatchConcurrency: 0, TrialLength: time.Hour},
	}

	// WHEN: validating
	err := cfg.Validate()

	// THEN: both problems are reported
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recalculation_cron")
	assert.Contains(t, err.Error(), "batch_concurrency")
}
