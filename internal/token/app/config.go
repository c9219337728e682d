package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer string // Required: issuer URI stamped into and accepted on tokens

	Algorithm    string // Optional: signing algorithm (RS256, ES256, EdDSA, HS256) (default: EdDSA)
	RSABits      int    // Optional: RSA key size for RS256 (default: 2048)
	DatabaseFile string // Optional: path to SQLite database file (default: ./tokens.db)

	DisableTokenStorage            bool // Optional: skip persisting token entries (degraded mode)
	DisableAuthorizationValidation bool // Optional: skip authorization status checks
	DisableAccessTokenEncryption   bool // Optional: issue sign-only access tokens
	UseReferenceAccessTokens       bool // Optional: deliver access tokens as opaque references
	UseReferenceRefreshTokens      bool // Optional: deliver refresh tokens as opaque references

	ReuseLeeway   time.Duration // Grace window for redeemed refresh tokens (default: 15s)
	ClockSkew     time.Duration // Lifetime validation tolerance (default: 2m)
	PruneInterval time.Duration // Background prune interval (default: 1h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:       os.Getenv("TOKEN_ISSUER"),
		Algorithm:    getEnvOrDefault("TOKEN_ALGORITHM", "EdDSA"),
		DatabaseFile: getEnvOrDefault("TOKEN_DATABASE_FILE", "tokens.db"),

		DisableTokenStorage:            getEnvBoolOrDefault("TOKEN_DISABLE_STORAGE", false),
		DisableAuthorizationValidation: getEnvBoolOrDefault("TOKEN_DISABLE_AUTHORIZATION_VALIDATION", false),
		DisableAccessTokenEncryption:   getEnvBoolOrDefault("TOKEN_DISABLE_ACCESS_ENCRYPTION", false),
		UseReferenceAccessTokens:       getEnvBoolOrDefault("TOKEN_REFERENCE_ACCESS_TOKENS", false),
		UseReferenceRefreshTokens:      getEnvBoolOrDefault("TOKEN_REFERENCE_REFRESH_TOKENS", false),

		ReuseLeeway:   getEnvDurationOrDefault("TOKEN_REUSE_LEEWAY", 15*time.Second),
		ClockSkew:     getEnvDurationOrDefault("TOKEN_CLOCK_SKEW", 2*time.Minute),
		PruneInterval: getEnvDurationOrDefault("TOKEN_PRUNE_INTERVAL", 1*time.Hour),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	// Parse RSA bits (only relevant for RS256)
	if rsaBitsStr := os.Getenv("TOKEN_RSA_BITS"); rsaBitsStr != "" {
		if bits, err := strconv.Atoi(rsaBitsStr); err == nil {
			cfg.RSABits = bits
		}
		// If parsing fails, RSABits remains 0 (default applied at key generation)
	}

	if cfg.Issuer == "" {
		cfg.Issuer = "https://localhost"
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
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

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
