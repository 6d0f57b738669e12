package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/stagehand/internal/config"
	"github.com/ashita-ai/stagehand/internal/testutil"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, 10*time.Second, cfg.LockTimeout)
	assert.Equal(t, 300*time.Second, cfg.ExecTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Audit)
}

func TestLoad_TOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.toml")
	testutil.WriteFile(t, path, `
root = "/srv/pipeline"
log_level = "debug"
audit = false
lock_timeout = "2s"
exec_timeout = "1m"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/pipeline", cfg.Root)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Audit)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, time.Minute, cfg.ExecTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.toml")
	testutil.WriteFile(t, path, `
root = "/srv/from-file"
lock_timeout = "2s"
`)
	t.Setenv("STAGEHAND_ROOT", "/srv/from-env")
	t.Setenv("STAGEHAND_LOCK_TIMEOUT", "5s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/from-env", cfg.Root)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, ".", cfg.Root)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stagehand.toml")
	testutil.WriteFile(t, path, `lock_timeout = "not-a-duration"`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("STAGEHAND_LOG_LEVEL", "verbose")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}
