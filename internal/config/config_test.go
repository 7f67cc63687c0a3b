package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9090"
database:
  path: "`+filepath.Join(t.TempDir(), "talon.db")+`"
allocation:
  max_attempts: 5
  lock_ttl_seconds: 10
sweeper:
  grace_minutes: 20
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5, cfg.AllocationMaxAttempts())
	assert.Equal(t, 10*time.Second, cfg.AllocationLockTTL())
	assert.Equal(t, 20*time.Minute, cfg.SweeperGrace())
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "talon.db")+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 3, cfg.AllocationMaxAttempts())
	assert.Equal(t, 5*time.Second, cfg.AllocationLockTTL())
	assert.Equal(t, 30*time.Second, cfg.StatsTTL())
	assert.Equal(t, time.Minute, cfg.SweeperInterval())
	assert.Equal(t, 15*time.Minute, cfg.SweeperGrace())
	assert.Equal(t, 100, cfg.SweeperBatchSize())
	assert.Equal(t, 15*time.Second, cfg.ServerReadTimeout())
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TALON_TEST_REDIS_PASSWORD", "s3cret")

	path := writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "talon.db")+`"
redis:
  enabled: true
  password: "${TALON_TEST_REDIS_PASSWORD}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
