package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"GITHUB_TOKENS", "TOKENS", "GITHUB_TOKEN", "TOKEN", "STORAGE_TYPE", "POSTGRES_URL", "PAGE_WORKERS", "PER_PAGE", "LOW_LIMIT_THRESHOLD", "REQUESTS_PER_SECOND"} {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GITHUB_TOKEN", "abc")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, []string{"abc"}, cfg.GitHubTokens)
		assert.Equal(t, 1750, cfg.LowLimitThreshold)
		assert.Equal(t, 8, cfg.PageWorkers)
		assert.Equal(t, 35, cfg.PerPage)
		assert.Equal(t, "sqlite", cfg.StorageType)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("token list wins over single token", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GITHUB_TOKENS", "one, two,,three ")
		t.Setenv("GITHUB_TOKEN", "single")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two", "three"}, cfg.GitHubTokens)
	})

	t.Run("rejects non numeric workers", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("PAGE_WORKERS", "many")

		_, err := Load()

		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "PAGE_WORKERS", cfgErr.Field)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{GitHubTokens: []string{"t"}, PageWorkers: 8, PerPage: 35, StorageType: "sqlite"}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"no tokens", func(c *Config) { c.GitHubTokens = nil }, "GITHUB_TOKENS"},
		{"zero workers", func(c *Config) { c.PageWorkers = 0 }, "PAGE_WORKERS"},
		{"per page too large", func(c *Config) { c.PerPage = 101 }, "PER_PAGE"},
		{"unknown storage", func(c *Config) { c.StorageType = "mongo" }, "STORAGE_TYPE"},
		{"postgres without url", func(c *Config) { c.StorageType = "postgres" }, "POSTGRES_URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()

			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("json storage needs nothing else", func(t *testing.T) {
		cfg := valid()
		cfg.StorageType = "json"
		assert.NoError(t, cfg.Validate())
	})
}
