package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/promo",
		Engine:      EngineConfig{Timezone: "UTC"},
		RateLimit:   RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Engine.Timezone = "Mars/Olympus" },
			wantErr: `load timezone "Mars/Olympus"`,
		},
		{
			name:    "zero rate limit",
			mutate:  func(c *Config) { c.RateLimit.Max = 0 },
			wantErr: "rate limit must be positive",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateLimit.Window = 0 },
			wantErr: "rate limit must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Run("fills empty values from platform variables", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://platform/db")
		t.Setenv("REDIS_ADDR", "redis:6379")
		t.Setenv("PORT", "9000")

		cfg := Config{Addr: "0.0.0.0:8080"}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://platform/db")
		t.Setenv("PORT", "9000")

		cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
		cfg.applyPlatformDefaults()

		assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
		assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
	})
}

func TestEngineConfig_Location(t *testing.T) {
	loc, err := EngineConfig{Timezone: "Australia/Sydney"}.Location()
	require.NoError(t, err)
	assert.Equal(t, "Australia/Sydney", loc.String())
}
