package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_DRIVER", "AUTH_ACCESS_TTL", "AUTH_REFRESH_TTL", "AUTH_AUDIENCE",
		"WS_ALLOWED_ORIGINS", "RATELIMIT_AUTH_REQUESTS", "RATELIMIT_AUTH_WINDOW_SEC", "PORT",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "sqlite", cfg.DatabaseDriver)
	require.Equal(t, 15*time.Minute, cfg.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.RefreshTTL)
	require.Equal(t, []string{"timekeep"}, cfg.Audience)
	require.Empty(t, cfg.AllowedOrigins)
	require.Equal(t, httpx.AuthLimit, cfg.AuthLimit)
	require.Equal(t, 8080, cfg.Port)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://timekeep@localhost/timekeep")
	t.Setenv("AUTH_ACCESS_TTL", "5m")
	t.Setenv("AUTH_REFRESH_TTL", "90")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://app.example.com, ,https://admin.example.com")
	t.Setenv("RATELIMIT_AUTH_REQUESTS", "3")
	t.Setenv("RATELIMIT_AUTH_WINDOW_SEC", "60")

	cfg := LoadConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "postgres", cfg.DatabaseDriver)
	require.Equal(t, 5*time.Minute, cfg.AccessTTL)
	require.Equal(t, 90*time.Minute, cfg.RefreshTTL, "bare integers are minutes")
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	require.Equal(t, httpx.RateLimitConfig{Requests: 3, Window: time.Minute}, cfg.AuthLimit)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port:           8080,
			DatabaseDriver: "sqlite",
			DatabaseFile:   "timekeep.db",
			Algorithm:      "EdDSA",
			Audience:       []string{"timekeep"},
			AccessTTL:      15 * time.Minute,
			RefreshTTL:     time.Hour,
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"PostgresWithoutURL", func(c *Config) { c.DatabaseDriver = "postgres" }, "DATABASE_URL"},
		{"UnknownDriver", func(c *Config) { c.DatabaseDriver = "mongo" }, "DATABASE_DRIVER"},
		{"UnknownAlgorithm", func(c *Config) { c.Algorithm = "HS256" }, "AUTH_ALGORITHM"},
		{"ZeroAccessTTL", func(c *Config) { c.AccessTTL = 0 }, "AUTH_ACCESS_TTL"},
		{"RefreshShorterThanAccess", func(c *Config) { c.RefreshTTL = time.Minute }, "must not be shorter"},
		{"NoAudience", func(c *Config) { c.Audience = nil }, "AUTH_AUDIENCE"},
		{"BadPort", func(c *Config) { c.Port = 70000 }, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}
