package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/redmonkez12/accounts-api/internal/auth"
	"github.com/redmonkez12/accounts-api/internal/config"
	"github.com/redmonkez12/accounts-api/internal/httputil"
	"github.com/redmonkez12/accounts-api/internal/logging"
	"github.com/redmonkez12/accounts-api/internal/metrics"
)

// HealthCheck is a named dependency check reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const healthCheckTimeout = 2 * time.Second

// NewRouter creates and configures the HTTP router
func NewRouter(
	cfg *config.Config,
	authHandler *auth.Handler,
	authMiddleware *auth.Middleware,
	m *metrics.Metrics,
	logger *logging.Logger,
	checks ...HealthCheck,
) *chi.Mux {
	r := chi.NewRouter()

	// CORS - must be first
	if len(cfg.Server.TrustedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.TrustedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders: []string{"Content-Length"},
			MaxAge:         300, // 5 minutes
		}))
	}

	// Global middleware
	r.Use(SecurityHeaders(!cfg.Server.IsDevelopment()))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(m.Middleware)
	r.Use(middleware.Compress(5))

	// Public routes
	r.Get("/health", handleHealth(checks))
	r.Method(http.MethodGet, "/metrics", m.Handler())

	// Swagger UI - only in development
	// Production builds will not have this route at all
	if cfg.Server.IsDevelopment() {
		logger.Info("swagger UI enabled at /swagger/*")
		r.Get("/swagger/*", httpSwagger.WrapHandler)
	} else {
		logger.Info("swagger UI disabled (production mode)")
	}

	// Auth routes (public); the per-IP limit applies on top of the
	// Redis-backed login/register limiter
	r.Group(func(r chi.Router) {
		if cfg.RateLimit.GlobalRequests > 0 {
			r.Use(httprate.Limit(
				cfg.RateLimit.GlobalRequests,
				cfg.RateLimit.GlobalWindow,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(handleRateLimited),
			))
		}

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Route("/token", func(r chi.Router) {
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/blacklist", authHandler.Blacklist)
			r.Post("/verify", authHandler.Verify)
		})

		// Protected routes (require authentication)
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Get("/me", authHandler.Me)
		})
	})

	return r
}

// handleHealth reports "ok" when every dependency check passes
// @Summary      Health check
// @Description  Check if the API and its dependencies are reachable
// @Tags         health
// @Produce      json
// @Success      200 {object} map[string]any
// @Failure      503 {object} map[string]any
// @Router       /health [get]
func handleHealth(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				logging.GetLoggerFromContext(r.Context()).WithError(err).Error("health check failed", "check", c.Name)
				results[c.Name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[c.Name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}

		httputil.RespondJSON(w, map[string]any{"status": overall, "checks": results}, status)
	}
}

func handleRateLimited(w http.ResponseWriter, r *http.Request) {
	httputil.RespondErrorWithCode(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
}
