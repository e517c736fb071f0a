// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds server configuration, loaded from environment variables.
type Config struct {
	Port        int
	DBPath      string
	SpoolDir    string
	CloneDir    string
	GitHubToken string
	ServerURL   string
}

// Load reads configuration from a .env file (if present) and the
// environment. Unset variables fall back to defaults.
func Load() Config {
	// Missing .env is fine; the environment alone is enough.
	godotenv.Load()

	cfg := Config{
		Port:      8420,
		DBPath:    "coderoom.db",
		SpoolDir:  "spool",
		CloneDir:  os.TempDir(),
		ServerURL: "http://localhost:8420",
	}

	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("SPOOL_DIR"); v != "" {
		cfg.SpoolDir = v
	}
	if v := os.Getenv("CLONE_DIR"); v != "" {
		cfg.CloneDir = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHubToken = v
	}
	if v := os.Getenv("CODEROOM_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}

	return cfg
}
