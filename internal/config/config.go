package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Token formats supported by the token issuer.
const (
	TokenFormatJWT    = "jwt"
	TokenFormatPaseto = "paseto"
)

// Refresh token blacklist backends.
const (
	TokenStoreRedis    = "redis"
	TokenStorePostgres = "postgres"
)

// Password hashers.
const (
	HasherArgon2id = "argon2id"
	HasherBcrypt   = "bcrypt"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port            string        `env:"SERVER_PORT" envDefault:"8080"`
	Env             string        `env:"APP_ENV" envDefault:"dev"` // dev or prod
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	TrustedOrigins  []string      `env:"TRUSTED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://127.0.0.1:3000"`
}

type DatabaseConfig struct {
	Host           string `env:"DB_HOST" envDefault:"localhost"`
	Port           string `env:"DB_PORT" envDefault:"5432"`
	User           string `env:"DB_USER" envDefault:"postgres"`
	Password       string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName         string `env:"DB_NAME" envDefault:"accounts"`
	SSLMode        string `env:"DB_SSLMODE" envDefault:"disable"`
	ChannelBinding string `env:"DB_CHANNEL_BINDING"` // "require" for Neon DB, empty for local
	MaxOpenConns   int    `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns   int    `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     string `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type AuthConfig struct {
	// SigningKey is the symmetric key shared by access and refresh tokens.
	// PASETO v4.local requires exactly 32 bytes.
	SigningKey           string        `env:"TOKEN_SIGNING_KEY"`
	TokenFormat          string        `env:"TOKEN_FORMAT" envDefault:"jwt"`
	TokenStore           string        `env:"TOKEN_STORE" envDefault:"redis"`
	AccessTokenDuration  time.Duration `env:"ACCESS_TOKEN_DURATION" envDefault:"60m"`
	RefreshTokenDuration time.Duration `env:"REFRESH_TOKEN_DURATION" envDefault:"168h"`
	PasswordHasher       string        `env:"PASSWORD_HASHER" envDefault:"argon2id"`
	BcryptCost           int           `env:"BCRYPT_COST" envDefault:"12"`
}

type StorageConfig struct {
	// AvatarBucket empty disables avatar uploads.
	AvatarBucket    string `env:"AVATAR_BUCKET"`
	Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	Endpoint        string `env:"S3_ENDPOINT"`
	AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `env:"S3_USE_PATH_STYLE" envDefault:"true"`
	PublicBaseURL   string `env:"AVATAR_PUBLIC_BASE_URL"`
	MaxAvatarBytes  int64  `env:"AVATAR_MAX_BYTES" envDefault:"5242880"`
}

type RateLimitConfig struct {
	// Per-IP limit for the whole API, enforced in-process.
	GlobalRequests int           `env:"RATE_LIMIT_GLOBAL_REQUESTS" envDefault:"300"`
	GlobalWindow   time.Duration `env:"RATE_LIMIT_GLOBAL_WINDOW" envDefault:"1m"`
	// Per-IP limit for /login and /register, shared across instances via Redis.
	AuthRequests int           `env:"RATE_LIMIT_AUTH_REQUESTS" envDefault:"10"`
	AuthWindow   time.Duration `env:"RATE_LIMIT_AUTH_WINDOW" envDefault:"15m"`
}

// Load reads configuration from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints that env tags cannot express.
func (c *Config) Validate() error {
	if c.Auth.SigningKey == "" {
		return errors.New("TOKEN_SIGNING_KEY is required")
	}

	switch c.Auth.TokenFormat {
	case TokenFormatJWT:
	case TokenFormatPaseto:
		// PASETO v4.local needs a 32-byte symmetric key
		if len(c.Auth.SigningKey) != 32 {
			return fmt.Errorf("TOKEN_SIGNING_KEY must be exactly 32 bytes for paseto, got %d", len(c.Auth.SigningKey))
		}
	default:
		return fmt.Errorf("unsupported TOKEN_FORMAT %q", c.Auth.TokenFormat)
	}

	switch c.Auth.TokenStore {
	case TokenStoreRedis, TokenStorePostgres:
	default:
		return fmt.Errorf("unsupported TOKEN_STORE %q", c.Auth.TokenStore)
	}

	switch c.Auth.PasswordHasher {
	case HasherArgon2id, HasherBcrypt:
	default:
		return fmt.Errorf("unsupported PASSWORD_HASHER %q", c.Auth.PasswordHasher)
	}

	if c.Auth.AccessTokenDuration <= 0 || c.Auth.RefreshTokenDuration <= 0 {
		return errors.New("token durations must be positive")
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	// Add channel_binding if configured (required for Neon DB)
	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Address returns the listen address for the HTTP server
func (c *ServerConfig) Address() string {
	return ":" + c.Port
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

// AvatarUploadsEnabled reports whether an avatar bucket is configured.
func (c *StorageConfig) AvatarUploadsEnabled() bool {
	return c.AvatarBucket != ""
}
