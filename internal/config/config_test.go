package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithEnvDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/compliance")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 4, cfg.Evaluation.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Evaluation.CacheTTL)
	assert.Equal(t, "postgres://localhost/compliance", cfg.DatabaseURL)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: ":9090"
database_url: postgres://db/compliance
redis_url: redis://cache:6379
log_level: DEBUG
evaluation:
  concurrency: 8
  cache_ttl: 2m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "postgres://db/compliance", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379", cfg.RedisURL)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Evaluation.Concurrency)
	assert.Equal(t, 2*time.Minute, cfg.Evaluation.CacheTTL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://file/db\nlisten_addr: \":9090\"\n"), 0o644))

	t.Setenv("DATABASE_URL", "postgres://env/db")
	t.Setenv("EVAL_CONCURRENCY", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/db", cfg.DatabaseURL)
	assert.Equal(t, ":9090", cfg.ListenAddr, "file value survives when no env override")
	assert.Equal(t, 16, cfg.Evaluation.Concurrency)
}

func TestConcurrencyFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database_url: postgres://db\nevaluation:\n  concurrency: 0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Evaluation.Concurrency)
}
