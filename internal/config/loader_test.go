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
	path := filepath.Join(t.TempDir(), "tasklink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /data/vault
remote:
  base_url: https://api.example.com
  token: secret
sync:
  interval: 2m
  completion_timestamp: sync_time
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/vault", cfg.Vault.Dir)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "sync_time", cfg.Sync.CompletionTimestamp)

	// Defaults survive where the file is silent.
	assert.True(t, cfg.Sync.AppendCompletionDate)
	assert.Equal(t, "local", cfg.Sync.TimestampTiebreak)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.OrphanGracePeriod)
	assert.Equal(t, 7891, cfg.Dashboard.Port)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /data/vault
remote:
  base_url: https://api.example.com
sync:
  interval: 2m
`)

	// One key the file also sets, one it does not. Both must come from the
	// environment.
	t.Setenv("TASKLINK_SYNC_INTERVAL", "9m")
	t.Setenv("TASKLINK_REMOTE_TOKEN", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, "env-secret", cfg.Remote.Token)
}

func TestLoad_EnvOnlyConfig(t *testing.T) {
	// No config file at all: defaults plus environment must be enough.
	t.Chdir(t.TempDir())
	t.Setenv("TASKLINK_VAULT_DIR", "/data/vault")
	t.Setenv("TASKLINK_REMOTE_BASE_URL", "https://api.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/data/vault", cfg.Vault.Dir)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
}

func TestLoad_DerivedPaths(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /data/vault
remote:
  base_url: https://api.example.com
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/data/vault", ".tasklink", "journal.db"), cfg.Vault.JournalPath)
	assert.Equal(t, filepath.Join("/data/vault", ".tasklink", "tasklink.log"), cfg.Log.File)
}

func TestLoad_MissingVaultDir(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: https://api.example.com
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.dir")
}

func TestLoad_BadTimestampSource(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /data/vault
remote:
  base_url: https://api.example.com
sync:
  completion_timestamp: whenever
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "completion_timestamp")
}

func TestLoad_IntervalTooShort(t *testing.T) {
	path := writeConfig(t, `
vault:
  dir: /data/vault
remote:
  base_url: https://api.example.com
sync:
  interval: 100ms
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too short")
}
