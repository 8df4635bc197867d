// Package app wires configuration into the services shared by the API server
// and the admin CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/accounts-api/internal/auth"
	"github.com/redmonkez12/accounts-api/internal/config"
	"github.com/redmonkez12/accounts-api/internal/database"
	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/metrics"
	"github.com/redmonkez12/accounts-api/internal/storage"
	"github.com/redmonkez12/accounts-api/internal/user"
)

// App holds initialized connections and services.
type App struct {
	Config  *config.Config
	Logger  *logging.Logger
	SQL     *sql.DB
	DB      *bun.DB
	Redis   *redis.Client
	Users   *user.Repository
	Tokens  auth.TokenService
	Issuer  *auth.TokenIssuer
	Service *auth.Service
	Metrics *metrics.Metrics
}

// New connects to PostgreSQL and Redis and builds the auth service.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	sqlDB, err := database.Open(ctx, cfg.Database.ConnectionString(), cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.SQL = sqlDB
	a.DB = database.NewBunDB(sqlDB)

	a.Redis, err = initRedis(ctx, cfg.Redis)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	a.Tokens, err = newTokenService(cfg.Auth)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize token service: %w", err)
	}

	a.Users = user.NewRepository(a.DB)
	store := newTokenStore(cfg.Auth, a.DB, a.Redis)
	a.Issuer = auth.NewTokenIssuer(a.Tokens, store, a.Users, cfg.Auth.AccessTokenDuration, cfg.Auth.RefreshTokenDuration)

	var avatars auth.AvatarStore
	if cfg.Storage.AvatarUploadsEnabled() {
		s3Store, err := storage.NewS3Store(ctx, cfg.Storage)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to initialize avatar storage: %w", err)
		}
		avatars = s3Store
	}

	a.Service, err = auth.NewService(auth.Deps{
		Users:          a.Users,
		Hasher:         newHasher(cfg.Auth),
		Issuer:         a.Issuer,
		Avatars:        avatars,
		Logger:         logger,
		Metrics:        a.Metrics,
		MaxAvatarBytes: cfg.Storage.MaxAvatarBytes,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	logger.Info("services initialized",
		"token_format", cfg.Auth.TokenFormat,
		"token_store", cfg.Auth.TokenStore,
		"password_hasher", cfg.Auth.PasswordHasher,
		"avatar_uploads", avatars != nil,
	)

	return a, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.SQL != nil {
		errs = append(errs, a.SQL.Close())
	}
	return errors.Join(errs...)
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

func newTokenService(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.TokenFormat {
	case config.TokenFormatPaseto:
		svc, err := auth.NewPasetoService([]byte(cfg.SigningKey))
		if err != nil {
			return nil, err
		}
		return svc, nil
	case config.TokenFormatJWT, "":
		svc, err := auth.NewJWTService([]byte(cfg.SigningKey))
		if err != nil {
			return nil, err
		}
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported token format %q", cfg.TokenFormat)
	}
}

func newTokenStore(cfg config.AuthConfig, db bun.IDB, client redis.UniversalClient) auth.RefreshTokenRepository {
	if cfg.TokenStore == config.TokenStorePostgres {
		return auth.NewRepository(db)
	}
	return auth.NewRedisRepository(client)
}

func newHasher(cfg config.AuthConfig) auth.PasswordHasher {
	if cfg.PasswordHasher == config.HasherBcrypt {
		return auth.NewBcryptHasher(cfg.BcryptCost)
	}
	return auth.NewArgon2Hasher(auth.DefaultArgon2Params)
}
