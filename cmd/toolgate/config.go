package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	HTTPAddr   string     // "127.0.0.1:8080"
	DBPath     string     // sqlite file path
	AgeKeyPath string     // path to age identity file
	ConfigFile string     // path to toolgate.yaml
	LogLevel   slog.Level // slog level
	CacheSize  int        // max cached integration records
}

// defaultDataPath returns ~/.toolgate/<filename>, falling back to
// a CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".toolgate", filename)
}

func loadConfig() (*Config, error) {
	// A .env in the working directory fills in unset variables; real
	// environment always wins.
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:   envOr("TOOLGATE_HTTP_ADDR", "127.0.0.1:8080"),
		DBPath:     envOr("TOOLGATE_DB_PATH", defaultDataPath("toolgate.db")),
		AgeKeyPath: envOr("TOOLGATE_AGE_KEY", ""),
		ConfigFile: envOr("TOOLGATE_CONFIG", defaultDataPath("toolgate.yaml")),
		LogLevel:   parseLogLevel(envOr("TOOLGATE_LOG_LEVEL", "info")),
		CacheSize:  1000,
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
