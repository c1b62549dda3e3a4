package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/timekeep/pkg/httpx"
)

type Config struct {
	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Retention sweep interval (default: 1h)

	DatabaseDriver string // sqlite or postgres (default: sqlite)
	DatabaseFile   string // SQLite file (default: ./timekeep.db)
	DatabaseURL    string // Postgres connection URL, required for postgres

	RedisAddr     string // Shared cache address. Empty selects the in-process cache.
	RedisPassword string
	RedisDB       int

	Issuer         string        // iss claim (default: timekeep)
	Audience       []string      // aud claim, comma separated (default: timekeep)
	Algorithm      string        // RS256, ES256 or EdDSA (default: EdDSA)
	PrivateKeyFile string        // Shared signing key. Empty generates an ephemeral key.
	KeyID          string        // kid header (default: generated)
	AccessTTL      time.Duration // default: 15m
	RefreshTTL     time.Duration // default: 7 days
	PepperFile     string        // Password pepper (default: ./pepper)
	BootstrapToken string        // Optional: enables POST /v1/bootstrap

	AllowedOrigins []string // Websocket origins, comma separated. "*" allows any.

	AuthLimit httpx.RateLimitConfig
	APILimit  httpx.RateLimitConfig
}

func LoadConfig() Config {
	return Config{
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", time.Hour),

		DatabaseDriver: strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", "sqlite")),
		DatabaseFile:   getEnvOrDefault("DATABASE_FILE", "timekeep.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("REDIS_DB", 0),

		Issuer:         getEnvOrDefault("AUTH_ISSUER", "timekeep"),
		Audience:       getEnvListOrDefault("AUTH_AUDIENCE", []string{"timekeep"}),
		Algorithm:      getEnvOrDefault("AUTH_ALGORITHM", "EdDSA"),
		PrivateKeyFile: os.Getenv("AUTH_PRIVATE_KEY_FILE"),
		KeyID:          os.Getenv("AUTH_KEY_ID"),
		AccessTTL:      getEnvDurationOrDefault("AUTH_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:     getEnvDurationOrDefault("AUTH_REFRESH_TTL", 7*24*time.Hour),
		PepperFile:     getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		BootstrapToken: os.Getenv("BOOTSTRAP_TOKEN"),

		AllowedOrigins: getEnvListOrDefault("WS_ALLOWED_ORIGINS", nil),

		AuthLimit: httpx.ParseRateLimitFromEnv("AUTH", httpx.AuthLimit),
		APILimit:  httpx.ParseRateLimitFromEnv("API", httpx.APILimit),
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("DATABASE_FILE is required for sqlite"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not sqlite or postgres", c.DatabaseDriver))
	}

	switch c.Algorithm {
	case "RS256", "ES256", "EdDSA":
	default:
		errs = append(errs, fmt.Errorf("AUTH_ALGORITHM %q is not RS256, ES256 or EdDSA", c.Algorithm))
	}

	if c.AccessTTL <= 0 {
		errs = append(errs, errors.New("AUTH_ACCESS_TTL must be positive"))
	}
	if c.RefreshTTL <= 0 {
		errs = append(errs, errors.New("AUTH_REFRESH_TTL must be positive"))
	}
	if c.RefreshTTL < c.AccessTTL {
		errs = append(errs, errors.New("AUTH_REFRESH_TTL must not be shorter than AUTH_ACCESS_TTL"))
	}
	if len(c.Audience) == 0 {
		errs = append(errs, errors.New("AUTH_AUDIENCE must name at least one audience"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d is out of range", c.Port))
	}

	return errors.Join(errs...)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are minutes
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}

// getEnvListOrDefault splits a comma separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
