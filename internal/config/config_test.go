package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEVICE_ID", "phone")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ModeDevice, cfg.Mode)
	require.Equal(t, RemoteNone, cfg.Remote)
	require.Equal(t, 250*time.Millisecond, cfg.SnapshotDebounce)
	require.Equal(t, "fitstate-phone", cfg.ChangeFeedGroup)
	require.False(t, cfg.ChangeFeedEnabled())

	sc := cfg.SyncConfig()
	require.Equal(t, 2*time.Second, sc.Backoff.Base)
	require.Equal(t, 5*time.Minute, sc.Backoff.Max)
	require.Equal(t, 8, sc.MaxRetries)
	require.Equal(t, 10*time.Second, sc.AttemptTimeout)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitstate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: cloud
device_id: server
remote: postgres
sync_base_delay: 5s
sync_max_retries: 3
kafka_brokers: [a:9092, b:9092]
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SYNC_MAX_RETRIES", "4")
	t.Setenv("SYNC_JITTER", "0.1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ModeCloud, cfg.Mode)
	require.Equal(t, "server", cfg.DeviceID)
	require.Equal(t, RemotePostgres, cfg.Remote)
	require.Equal(t, 5*time.Second, cfg.SyncBaseDelay)
	require.Equal(t, 4, cfg.SyncMaxRetries)
	require.InDelta(t, 0.1, cfg.SyncJitter, 1e-9)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.ChangeFeedEnabled())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FITSTATE_MODE", "satellite")
	t.Setenv("SYNC_REMOTE", RemoteHTTP)
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mode must be")
	require.Contains(t, err.Error(), "remote_url is required")
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestEnvParsersFallBack(t *testing.T) {
	t.Setenv("X_DURATION", "soon")
	t.Setenv("X_INT", "many")
	t.Setenv("X_FLOAT", "lots")
	require.Equal(t, time.Second, getDurationEnv("X_DURATION", time.Second))
	require.Equal(t, 3, getIntEnv("X_INT", 3))
	require.InDelta(t, 0.5, getFloatEnv("X_FLOAT", 0.5), 1e-9)
	require.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b "))
}
