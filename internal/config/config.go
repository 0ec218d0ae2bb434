package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	// Postgres connection string
	DatabaseURL string

	// Port for the HTTP API (webhook + read endpoints)
	APIPort int

	// Shared secret the chain-indexing service signs deliveries with
	ChainhookSecret string

	// Logging level ( debug | info | warn | error )
	LogLevel string

	// Allowed CORS origins for the read API
	CORSOrigins []string
}

// Load reads the configuration from environment variables.
// A .env file, if present, is loaded by main before this runs.
func Load() *Config {
	port := 8080
	if v := os.Getenv("API_PORT"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			port = parsed
		}
	}

	origins := []string{"http://localhost:3000"}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = strings.Split(v, ",")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	return &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		APIPort:         port,
		ChainhookSecret: os.Getenv("CHAINHOOK_SECRET"),
		LogLevel:        logLevel,
		CORSOrigins:     origins,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.ChainhookSecret == "" {
		return fmt.Errorf("CHAINHOOK_SECRET is required")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("API_PORT must be a valid port, got %d", c.APIPort)
	}
	return nil
}
