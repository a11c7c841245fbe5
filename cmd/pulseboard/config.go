package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all pulseboard server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr  string `json:"listen_addr"`
	DBPath      string `json:"db_path"`
	DatasetPath string `json:"dataset_path"`
	BoardPath   string `json:"board_path"`
	LogLevel    string `json:"log_level"`
	PoolSize    int    `json:"pool_size"`
	RefreshCron string `json:"refresh_cron"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		DBPath:     "file:" + filepath.Join(pulseboardDir(), "pulseboard.db"),
		LogLevel:   "info",
		PoolSize:   4,
	}
}

func pulseboardDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pulseboard"
	}
	return filepath.Join(home, ".pulseboard")
}

func settingsPath() string {
	return filepath.Join(pulseboardDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PULSEBOARD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PULSEBOARD_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PULSEBOARD_DATASET_PATH"); v != "" {
		cfg.DatasetPath = v
	}
	if v := os.Getenv("PULSEBOARD_BOARD_PATH"); v != "" {
		cfg.BoardPath = v
	}
	if v := os.Getenv("PULSEBOARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PULSEBOARD_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("PULSEBOARD_REFRESH_CRON"); v != "" {
		cfg.RefreshCron = v
	}

	return cfg
}
