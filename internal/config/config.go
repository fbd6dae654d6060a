// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for sessions and audit entries.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for the revocation registry (e.g. localhost:6379).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim stamped into issued credentials.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim stamped into issued credentials.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the credential lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTExtendedTTL is the credential lifetime for extended-window refreshes (e.g. "1h").
	JWTExtendedTTL string `mapstructure:"JWT_EXTENDED_TTL"`
	// SessionInactivityTimeout invalidates credentials idle longer than this (e.g. "30m"). Empty disables.
	SessionInactivityTimeout string `mapstructure:"SESSION_INACTIVITY_TIMEOUT"`
	// MaxRefreshCount is the refresh ceiling per session chain; 0 disables refresh.
	MaxRefreshCount int `mapstructure:"MAX_REFRESH_COUNT"`
	// EnforceDeviceBinding rejects credentials presented from a device other than the one they were minted for.
	EnforceDeviceBinding bool `mapstructure:"ENFORCE_DEVICE_BINDING"`
	// RevocationRetention is how long revocation records are kept (e.g. "61320h" for 7 years). Empty uses the registry default.
	RevocationRetention string `mapstructure:"REVOCATION_RETENTION"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint for metrics (e.g. http://localhost:4317). Empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("JWT_ISSUER", "authority")
	v.SetDefault("JWT_AUDIENCE", "authority-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_EXTENDED_TTL", "1h")
	v.SetDefault("SESSION_INACTIVITY_TIMEOUT", "30m")
	v.SetDefault("MAX_REFRESH_COUNT", 24)
	v.SetDefault("ENFORCE_DEVICE_BINDING", true)
	v.SetDefault("REVOCATION_RETENTION", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.MaxRefreshCount < 0 {
		return nil, errors.New("config: MAX_REFRESH_COUNT must not be negative")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// ExtendedTTL parses JWTExtendedTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) ExtendedTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTExtendedTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// InactivityTimeout parses SessionInactivityTimeout as a time.Duration.
// Returns 0 (disabled) if unset or invalid.
func (c *Config) InactivityTimeout() time.Duration {
	d, err := time.ParseDuration(c.SessionInactivityTimeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// RetentionWindow parses RevocationRetention as a time.Duration.
// Returns 0 if unset or invalid; the registry then applies its own default.
func (c *Config) RetentionWindow() time.Duration {
	d, err := time.ParseDuration(c.RevocationRetention)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}
