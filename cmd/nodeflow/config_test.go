package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := loadConfigFrom(filepath.Join(t.TempDir(), "missing.json"), envOf(nil))
	assert.Equal(t, defaultConfig(), cfg)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Journal)
}

func TestLoadConfig_SettingsThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"flows_dir":"/srv/flows","log_level":"debug","pool_size":3,"journal":true}`), 0o644))

	cfg := loadConfigFrom(path, envOf(nil))
	assert.Equal(t, "/srv/flows", cfg.FlowsDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.PoolSize)
	assert.True(t, cfg.Journal)
	assert.Equal(t, "text", cfg.LogFormat)

	cfg = loadConfigFrom(path, envOf(map[string]string{
		"NODEFLOW_LOG_LEVEL":    "warn",
		"NODEFLOW_LOG_FORMAT":   "json",
		"NODEFLOW_POOL_SIZE":    "16",
		"NODEFLOW_JOURNAL":      "0",
		"NODEFLOW_DB_PATH":      "/tmp/j.db",
		"NODEFLOW_METRICS_ADDR": ":9464",
	}))
	assert.Equal(t, "/srv/flows", cfg.FlowsDir)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 16, cfg.PoolSize)
	assert.False(t, cfg.Journal)
	assert.Equal(t, "/tmp/j.db", cfg.DBPath)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
}

func TestLoadConfig_BadValuesIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	cfg := loadConfigFrom(path, envOf(map[string]string{"NODEFLOW_POOL_SIZE": "many"}))
	assert.Equal(t, defaultConfig().PoolSize, cfg.PoolSize)
}
