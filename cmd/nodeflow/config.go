package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds the nodeflow CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	FlowsDir    string `json:"flows_dir"`
	DBPath      string `json:"db_path"`
	LogLevel    string `json:"log_level"`
	LogFormat   string `json:"log_format"`
	PoolSize    int    `json:"pool_size"`
	Journal     bool   `json:"journal"`
	MetricsAddr string `json:"metrics_addr"`
}

func defaultConfig() Config {
	return Config{
		FlowsDir:  filepath.Join(nodeflowDir(), "flows"),
		DBPath:    filepath.Join(nodeflowDir(), "journal.db"),
		LogLevel:  "info",
		LogFormat: "text",
		PoolSize:  8,
	}
}

func nodeflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nodeflow"
	}
	return filepath.Join(home, ".nodeflow")
}

func settingsPath() string {
	return filepath.Join(nodeflowDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(settings string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// settings.json, ignored if missing or malformed
	if data, err := os.ReadFile(settings); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	if v := getenv("NODEFLOW_FLOWS_DIR"); v != "" {
		cfg.FlowsDir = v
	}
	if v := getenv("NODEFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("NODEFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("NODEFLOW_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("NODEFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PoolSize = n
		}
	}
	if v := getenv("NODEFLOW_JOURNAL"); v != "" {
		cfg.Journal = v == "true" || v == "1"
	}
	if v := getenv("NODEFLOW_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return cfg
}
