package main

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Config holds all pallet CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath    string `json:"db_path"`
	PlanFile  string `json:"plan_file"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"` // "text" or "json"
}

func defaultConfig() Config {
	return Config{
		DBPath:    filepath.Join(palletDir(), "pallet.db"),
		PlanFile:  "pallet.json",
		LogLevel:  "info",
		LogFormat: "text",
	}
}

func palletDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pallet"
	}
	return filepath.Join(home, ".pallet")
}

func settingsPath() string {
	return filepath.Join(palletDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("PALLET_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PALLET_PLAN_FILE"); v != "" {
		cfg.PlanFile = v
	}
	if v := os.Getenv("PALLET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PALLET_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	return cfg
}
