// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Session slot backends.
const (
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
	SessionBackendMemory   = "memory"
)

const (
	devAccessSecret  = "dev-access-secret-change-me"
	devRefreshSecret = "dev-refresh-secret-change-me"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Required unless SESSION_BACKEND=memory.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// JWTIssuer is the iss claim on every token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessSecret signs access tokens. Must differ from JWTRefreshSecret.
	JWTAccessSecret string `mapstructure:"JWT_ACCESS_SECRET"`
	// JWTRefreshSecret signs refresh tokens.
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "240h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// DirectoryTimeoutRaw bounds every user directory / session slot call (e.g. "3s").
	DirectoryTimeoutRaw string `mapstructure:"DIRECTORY_TIMEOUT"`
	// SessionBackend selects where the refresh slot lives: postgres, redis or memory.
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	// SessionRotationCAS makes refresh rotation a compare-and-swap on the slot.
	SessionRotationCAS bool `mapstructure:"SESSION_ROTATION_CAS"`
	// RevokeSessionOnPasswordChange clears the refresh slot after a password change.
	RevokeSessionOnPasswordChange bool `mapstructure:"REVOKE_SESSION_ON_PASSWORD_CHANGE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// S3 media store. Media uploads are disabled when S3Bucket is empty.
	S3Bucket          string `mapstructure:"S3_BUCKET"`
	S3Region          string `mapstructure:"S3_REGION"`
	S3Endpoint        string `mapstructure:"S3_ENDPOINT"`
	S3AccessKeyID     string `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `mapstructure:"S3_SECRET_ACCESS_KEY"`
	// S3PublicBaseURL is the prefix of returned media URLs (e.g. a CDN origin).
	S3PublicBaseURL string `mapstructure:"S3_PUBLIC_BASE_URL"`
	// UploadDir is where Register stages avatar and cover bytes before upload.
	// Empty uses a directory under the system temp dir.
	UploadDir string `mapstructure:"UPLOAD_DIR"`

	// OTelEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
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

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "vidstream-auth")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "240h") // 10d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("DIRECTORY_TIMEOUT", "3s")
	v.SetDefault("SESSION_BACKEND", SessionBackendPostgres)
	v.SetDefault("SESSION_ROTATION_CAS", true)
	v.SetDefault("REVOKE_SESSION_ON_PASSWORD_CHANGE", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_PUBLIC_BASE_URL", "")
	v.SetDefault("UPLOAD_DIR", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if c.JWTAccessSecret == "" || c.JWTRefreshSecret == "" {
		if c.IsProduction() {
			return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set when APP_ENV=production")
		}
		if c.JWTAccessSecret == "" {
			c.JWTAccessSecret = devAccessSecret
		}
		if c.JWTRefreshSecret == "" {
			c.JWTRefreshSecret = devRefreshSecret
		}
	}
	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	if _, err := time.ParseDuration(c.DirectoryTimeoutRaw); err != nil {
		return errors.New("config: DIRECTORY_TIMEOUT must be a duration (e.g. 3s)")
	}

	c.SessionBackend = strings.ToLower(strings.TrimSpace(c.SessionBackend))
	switch c.SessionBackend {
	case SessionBackendPostgres:
		if c.DatabaseURL == "" && c.IsProduction() {
			return errors.New("config: DATABASE_URL must be set when SESSION_BACKEND=postgres")
		}
	case SessionBackendRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set when SESSION_BACKEND=redis")
		}
	case SessionBackendMemory:
		if c.IsProduction() {
			return errors.New("config: SESSION_BACKEND=memory is not allowed when APP_ENV=production")
		}
	default:
		return errors.New("config: SESSION_BACKEND must be one of postgres, redis, memory")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 240h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 240 * time.Hour
	}
	return d
}

// DirectoryTimeout parses DirectoryTimeoutRaw. Returns 3s if unset or invalid.
func (c *Config) DirectoryTimeout() time.Duration {
	d, err := time.ParseDuration(c.DirectoryTimeoutRaw)
	if err != nil || d <= 0 {
		return 3 * time.Second
	}
	return d
}

// MediaEnabled reports whether an S3 bucket is configured.
func (c *Config) MediaEnabled() bool {
	return c.S3Bucket != ""
}
