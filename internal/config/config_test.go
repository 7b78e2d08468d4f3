package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEARNSYNC_DATA_DIR", dir)

	cfg := Load(filepath.Join(dir, "missing.env"))
	assert.Equal(t, filepath.Join(dir, "offline.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(dir, "lastsync"), cfg.SyncInfoPath)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, 100*time.Millisecond, cfg.PreloadDelay)
	assert.True(t, cfg.InitiallyOnline)
	assert.Equal(t, time.Minute, cfg.BackoffBase)
	assert.Equal(t, time.Hour, cfg.BackoffMax)
	assert.Equal(t, 10*time.Second, cfg.HintGrace)
}

func TestLoadFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	content := "LEARNSYNC_MAX_CONCURRENT=7\nLEARNSYNC_PRELOAD_DELAY=250ms\nLEARNSYNC_ONLINE=false\nLEARNSYNC_BASE_URL=https://api.example.test\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	for _, k := range []string{"LEARNSYNC_MAX_CONCURRENT", "LEARNSYNC_PRELOAD_DELAY", "LEARNSYNC_ONLINE", "LEARNSYNC_BASE_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := Load(envFile)
	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.PreloadDelay)
	assert.False(t, cfg.InitiallyOnline)
	assert.Equal(t, "https://api.example.test", cfg.BaseURL)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("LEARNSYNC_MAX_QUEUE", "lots")
	t.Setenv("LEARNSYNC_SETTLE_DELAY", "soon")
	t.Setenv("LEARNSYNC_REPLAY_RPS", "-1")

	cfg := Load(filepath.Join(t.TempDir(), "none.env"))
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, time.Second, cfg.SettleDelay)
	assert.Equal(t, 5.0, cfg.ReplayRPS)
}
