package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// WorkspaceConfig schedules one workspace for periodic scanning and queue
// processing.
type WorkspaceConfig struct {
	ID          string `json:"id"`
	ScanCron    string `json:"scan_cron"`
	ProcessCron string `json:"process_cron"`
}

// Config holds all server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string            `json:"listen_addr"`
	DBPath      string            `json:"db_path"`
	LogLevel    string            `json:"log_level"`
	PoolSize    int               `json:"pool_size"`
	ScanLimit   int               `json:"scan_limit"`
	BatchSize   int               `json:"batch_size"`
	MaxAttempts int               `json:"max_attempts"`
	Workspaces  []WorkspaceConfig `json:"workspaces"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:  ":4200",
		DBPath:      filepath.Join(driprunDir(), "driprun.db"),
		LogLevel:    "info",
		PoolSize:    4,
		ScanLimit:   100,
		BatchSize:   50,
		MaxAttempts: 3,
		Workspaces:  []WorkspaceConfig{{ID: "default"}},
	}
}

func driprunDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".driprun"
	}
	return filepath.Join(home, ".driprun")
}

func settingsPath() string {
	return filepath.Join(driprunDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DRIPRUN_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DRIPRUN_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DRIPRUN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DRIPRUN_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("DRIPRUN_SCAN_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ScanLimit = n
		}
	}
	if v := os.Getenv("DRIPRUN_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchSize = n
		}
	}
	if v := os.Getenv("DRIPRUN_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxAttempts = n
		}
	}
	return cfg
}
