package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Sandbox strategy selection values for SANDBOX_MODE.
const (
	SandboxAuto       = "auto"
	SandboxIsolated   = "isolated"
	SandboxRestricted = "restricted"
)

// Config holds all configuration for the application.
type Config struct {
	// Server configuration
	Port string
	Env  string

	// Database configuration
	DatabaseURL string

	// Redis configuration (parser code cache)
	RedisURL      string
	RedisPassword string

	// Operator API auth
	JWTSecret string

	// Gemini configuration
	GeminiAPIKey string
	GeminiModel  string
	// Model requests per minute across the whole process.
	GeminiRPM int

	// Sandbox configuration
	SandboxMode     string // auto | isolated | restricted
	NodeBin         string
	IsolatedTimeout time.Duration
	LocalTimeout    time.Duration

	// CORS
	AllowedOrigins []string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		Env:             getEnv("ENV", "development"),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		RedisURL:        getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiRPM:       getEnvAsInt("GEMINI_RPM", 30),
		SandboxMode:     getEnv("SANDBOX_MODE", SandboxAuto),
		NodeBin:         getEnv("NODE_BIN", "node"),
		IsolatedTimeout: time.Duration(getEnvAsInt("SANDBOX_ISOLATED_TIMEOUT_SEC", 30)) * time.Second,
		LocalTimeout:    time.Duration(getEnvAsInt("SANDBOX_LOCAL_TIMEOUT_SEC", 5)) * time.Second,
		AllowedOrigins:  []string{getEnv("ALLOWED_ORIGIN", "*")},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	switch c.SandboxMode {
	case SandboxAuto, SandboxIsolated, SandboxRestricted:
	default:
		return fmt.Errorf("SANDBOX_MODE must be one of auto, isolated, restricted, got %q", c.SandboxMode)
	}

	// Gemini key is required in production but optional in development,
	// where cached parser code may be enough.
	if c.GeminiAPIKey == "" && c.IsProduction() {
		return fmt.Errorf("GEMINI_API_KEY is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
