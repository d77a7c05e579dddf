package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubTokens      []string
	GitHubAPIURL      string
	LowLimitThreshold int
	PageWorkers       int
	PerPage           int
	RequestsPerSecond float64

	// Storage
	StorageType   string // "sqlite", "postgres" or "json"
	SQLitePath    string
	PostgresURL   string
	JSONOutputDir string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads the configuration, reading the given env file first.
// An empty path means ".env" in the working directory.
func LoadFile(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	if path == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(path); err != nil {
		return nil, &ConfigError{Field: "config", Message: err.Error()}
	}

	cfg := &Config{
		GitHubTokens:  loadTokens(),
		GitHubAPIURL:  getEnv("GITHUB_API_URL", "https://api.github.com/"),
		StorageType:   getEnv("STORAGE_TYPE", "sqlite"),
		SQLitePath:    getEnv("SQLITE_PATH", "./harvest.db"),
		PostgresURL:   getEnv("POSTGRES_URL", ""),
		JSONOutputDir: getEnv("JSON_OUTPUT_DIR", "."),
		APIPort:       getEnv("API_PORT", "8080"),
		APIHost:       getEnv("API_HOST", "localhost"),
		APIEndpoint:   getEnv("API_ENDPOINT", "http://localhost:8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.LowLimitThreshold, err = getEnvInt("LOW_LIMIT_THRESHOLD", 1750); err != nil {
		return nil, err
	}
	if cfg.PageWorkers, err = getEnvInt("PAGE_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.PerPage, err = getEnvInt("PER_PAGE", 35); err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond, err = getEnvFloat("REQUESTS_PER_SECOND", 0); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadTokens reads the credential set. GITHUB_TOKENS and TOKENS hold a
// comma-separated list; GITHUB_TOKEN and TOKEN hold a single token.
func loadTokens() []string {
	for _, key := range []string{"GITHUB_TOKENS", "TOKENS", "GITHUB_TOKEN", "TOKEN"} {
		if tokens := splitList(os.Getenv(key)); len(tokens) > 0 {
			return tokens
		}
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a number"}
	}
	return f, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.GitHubTokens) == 0 {
		return &ConfigError{Field: "GITHUB_TOKENS", Message: "at least one GitHub token is required"}
	}
	if c.PageWorkers < 1 {
		return &ConfigError{Field: "PAGE_WORKERS", Message: "must be at least 1"}
	}
	if c.PerPage < 1 || c.PerPage > 100 {
		return &ConfigError{Field: "PER_PAGE", Message: "must be between 1 and 100"}
	}
	if c.RequestsPerSecond < 0 {
		return &ConfigError{Field: "REQUESTS_PER_SECOND", Message: "must not be negative"}
	}
	switch c.StorageType {
	case "sqlite", "json":
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite', 'postgres' or 'json'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
