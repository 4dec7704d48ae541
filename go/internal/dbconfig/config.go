package dbconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the local store settings. When Host is empty the store is a
// SQLite file at Path; otherwise it is Postgres.
type Config struct {
	Path     string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads STORE_PATH and DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		Path:     getEnv("STORE_PATH", DefaultPath()),
		Host:     getEnv("DB_HOST", ""),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "estimate"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// DefaultPath is the SQLite file under the user's config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "estimate.db"
	}
	return filepath.Join(dir, "estimate", "estimate.db")
}

// DSN returns the Postgres connection URL, or the SQLite path when no
// Postgres host is configured.
func (c Config) DSN() string {
	if strings.TrimSpace(c.Host) == "" {
		return c.Path
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
