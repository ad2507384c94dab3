// Package config reads server configuration from environment variables,
// with an optional .env file for local development.
//
// The cycle settings here (anchor weekday, business days, cutoff hour) are
// only the bootstrap defaults for a fresh database: once a deployment has a
// settings row, the stored values win, and handlers thread them explicitly
// into every engine call.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/haulpay/settlement-engine/cycle"
	"github.com/haulpay/settlement-engine/settlement"
)

// Config holds application configuration.
type Config struct {
	Port         int
	DatabasePath string
	LogLevel     string
	DevMode      bool

	// Bootstrap cycle settings for a fresh database.
	AnchorWeekday string
	BusinessDays  int
	CutoffHour    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env if present
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnvAsInt("PORT", 8080),
		DatabasePath:  getEnv("DATABASE_PATH", "./settlement.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		AnchorWeekday: getEnv("ANCHOR_WEEKDAY", cycle.WeekdayName(cycle.DefaultAnchor)),
		BusinessDays:  getEnvAsInt("BUSINESS_DAYS", cycle.DefaultBusinessDays),
		CutoffHour:    getEnvAsInt("CUTOFF_HOUR", settlement.DefaultCutoffHour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration bounds.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.BusinessDays < 1 {
		return fmt.Errorf("BUSINESS_DAYS must be >= 1, got %d", c.BusinessDays)
	}
	if c.CutoffHour < 0 || c.CutoffHour > 23 {
		return fmt.Errorf("CUTOFF_HOUR must be 0-23, got %d", c.CutoffHour)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
