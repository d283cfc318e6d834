// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	APIBaseURL    string
	SessionID     int64
	HistoryDBPath string // empty disables the local message cache
	LogPath       string
	LogLevel      string
	StubPort      string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:    getEnv("API_BASE_URL", "http://localhost:8000"),
		SessionID:     getEnvInt64("SESSION_ID", 0),
		HistoryDBPath: getEnv("HISTORY_DB_PATH", "./data/dealchat.db"),
		LogPath:       getEnv("LOG_PATH", "./data/dealchat.log"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		StubPort:      getEnv("PORT", "8000"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL cannot be empty")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must start with http:// or https://")
	}
	if c.SessionID < 0 {
		return fmt.Errorf("SESSION_ID must be >= 0")
	}
	if c.StubPort == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
