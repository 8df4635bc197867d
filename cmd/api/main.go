package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/redmonkez12/accounts-api/docs" // Swagger docs
	"github.com/redmonkez12/accounts-api/internal/app"
	"github.com/redmonkez12/accounts-api/internal/auth"
	"github.com/redmonkez12/accounts-api/internal/config"
	"github.com/redmonkez12/accounts-api/internal/database"
	httpServer "github.com/redmonkez12/accounts-api/internal/http"
	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/ratelimit"
)

// @title           Accounts API
// @version         1.0
// @description     User accounts: registration, login and JWT access/refresh tokens with rotation and blacklisting.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	slog.SetDefault(logger.Logger)
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Apply pending schema migrations
	if err := database.Migrate(ctx, a.SQL); err != nil {
		return err
	}

	// Initialize rate limiter for login and registration
	rateLimiter := ratelimit.NewLimiter(a.Redis, cfg.RateLimit.AuthRequests, cfg.RateLimit.AuthWindow)

	// Initialize HTTP handlers
	authHandler := auth.NewHandler(a.Service, rateLimiter, a.Metrics)
	authMiddleware := auth.NewMiddleware(a.Issuer)

	// Initialize router
	router := httpServer.NewRouter(cfg, authHandler, authMiddleware, a.Metrics, logger,
		httpServer.HealthCheck{Name: "database", Check: a.SQL.PingContext},
		httpServer.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}},
	)

	// Initialize HTTP server
	server := httpServer.NewServer(
		cfg.Server.Address(),
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received signal", "signal", sig.String())

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}
