package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(write(t, "node_config: node.toml\n"))
	require.NoError(t, err)
	require.Equal(t, ":7080", cfg.ListenAddress)
	require.Equal(t, "node.toml", cfg.NodeConfig)
	require.Equal(t, "escrowd.db", cfg.DatabasePath)
	require.Equal(t, 1024, cfg.Indexer.QueueSize)
	require.Equal(t, float64(600), cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 10*time.Second, cfg.Shutdown.Duration)
}

func TestLoadParsesSettings(t *testing.T) {
	cfg, err := Load(write(t, `listen: 127.0.0.1:9000
node_config: /etc/swap/node.toml
database: /var/lib/escrowd/events.db
log_file: /var/log/escrowd.log
shutdown_timeout: 3s
rate_limit:
  requests_per_minute: 120
  burst: 5
indexer:
  queue_size: 16
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "/var/log/escrowd.log", cfg.LogFile)
	require.Equal(t, 3*time.Second, cfg.Shutdown.Duration)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, 16, cfg.Indexer.QueueSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(write(t, "shutdown_timeout: soon\n"))
	require.Error(t, err)
	_, err = Load(write(t, "indexer:\n  queue_size: -1\n"))
	require.Error(t, err)
	_, err = Load(write(t, "unknown_key: 1\n"))
	require.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
