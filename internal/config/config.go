// Package config provides application configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// ServerURL is the base URL of the Akai backend (http or https).
	ServerURL string
	// Port is the local control-surface listen port.
	Port string
	// DBPath is the local session archive database.
	DBPath string
	// KeepaliveInterval is how often a ping is sent on the live channel.
	KeepaliveInterval time.Duration
	// RequestTimeout bounds individual backend HTTP calls.
	RequestTimeout time.Duration
	// ArchiveEnabled controls local transcript persistence.
	ArchiveEnabled bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:         getEnv("AKAI_SERVER_URL", "http://localhost:8000"),
		Port:              getEnv("PORT", "7850"),
		DBPath:            getEnv("DB_PATH", "./data/akai.db"),
		KeepaliveInterval: getEnvDuration("KEEPALIVE_INTERVAL", 25*time.Second),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ArchiveEnabled:    getEnvBool("ARCHIVE_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("AKAI_SERVER_URL cannot be empty")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("AKAI_SERVER_URL must be an http(s) URL")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ArchiveEnabled && c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when archiving is enabled")
	}
	if c.KeepaliveInterval <= 0 {
		return fmt.Errorf("KEEPALIVE_INTERVAL must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be > 0")
	}
	return nil
}

// WebSocketURL derives the live-channel endpoint for a session from the
// configured server URL.
func (c *Config) WebSocketURL(sessionID string) string {
	ws := strings.Replace(c.ServerURL, "http", "ws", 1)
	return strings.TrimRight(ws, "/") + "/ws/" + sessionID
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
