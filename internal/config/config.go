// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/nninov/ngt/internal/notify"
)

// Config holds application configuration
type Config struct {
	DataDir string // Base directory for all databases (always absolute)
	HitlDir string // Human-correction exchange directory: exports, uploads, archive

	OpenFigiAPIKey string // Optional; raises the external lookup rate ceiling

	// TradesCountryMapping maps a settlement currency to the country code
	// assumed when a trade row carries none.
	TradesCountryMapping map[string]string

	Mail notify.Config

	LogLevel string
	Port     int
	DevMode  bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("NGT_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	hitlDir := getEnv("NGT_HITL_DIR", filepath.Join(absDataDir, "hitl"))
	absHitlDir, err := filepath.Abs(hitlDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve correction directory path: %w", err)
	}
	if err := os.MkdirAll(absHitlDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create correction directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		HitlDir:              absHitlDir,
		OpenFigiAPIKey:       getEnv("OPENFIGI_API_KEY", ""),
		TradesCountryMapping: parseMapping(getEnv("TRADES_COUNTRY_MAPPING", "")),
		Mail: notify.Config{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", ""),
			To:       splitList(getEnv("MAIL_TO", "")),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Port:     getEnvAsInt("GO_PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	// Mail is optional: without a relay the correction workbooks are still
	// exported to disk, they just have to be picked up manually.
	if c.Mail.Host != "" && c.Mail.From == "" {
		return fmt.Errorf("MAIL_FROM is required when SMTP_HOST is set")
	}
	if c.Mail.Host != "" && len(c.Mail.To) == 0 {
		return fmt.Errorf("MAIL_TO is required when SMTP_HOST is set")
	}
	return nil
}

// MailEnabled reports whether an SMTP relay is configured.
func (c *Config) MailEnabled() bool { return c.Mail.Host != "" }

// parseMapping parses "USD:US,EUR:DE" style env values.
func parseMapping(raw string) map[string]string {
	mapping := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		mapping[strings.ToUpper(parts[0])] = strings.ToUpper(parts[1])
	}
	return mapping
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
