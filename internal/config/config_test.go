package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cormdev/corm/internal/config"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "corm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	l, err := config.Load(filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)

	cur := l.Current()
	require.False(t, cur.Optimistic)
	require.Equal(t, 3, cur.RegistryRetry())
	require.Equal(t, "info", cur.LogLevel)
}

func TestLoadDecodesYaml(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
optimistic: true
ignore_none: true
log_level: debug
max_fetch_count: 500
registry:
  retry: 5
  retry_delay: 1s
`)

	l, err := config.Load(path)
	require.NoError(t, err)

	cur := l.Current()
	require.True(t, cur.Optimistic)
	require.True(t, cur.IgnoreNone)
	require.Equal(t, "debug", cur.LogLevel)
	require.Equal(t, 500, cur.MaxFetchCount)
	require.Equal(t, 5, cur.RegistryRetry())
	require.Equal(t, time.Second, cur.RegistryRetryDelay())
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: info\n")

	l, err := config.Load(path)
	require.NoError(t, err)

	reloaded := make(chan config.Config, 1)
	l.OnReload(func(c config.Config) { reloaded <- c })

	stop := make(chan struct{})
	defer close(stop)
	require.NoError(t, l.Watch(stop))

	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	select {
	case cfg := <-reloaded:
		require.Equal(t, "warn", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
