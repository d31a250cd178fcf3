package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"coord-service/internal/util"
)

// HealthChecker is a dependency probed by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type RouterConfig struct {
	Service string
	// Middleware runs ahead of the standard stack.
	Middleware []func(http.Handler) http.Handler
	Metrics    http.Handler
	Health     map[string]HealthChecker
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig, coord *CoordHandler, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	for _, mw := range cfg.Middleware {
		router.Use(mw)
	}
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(cfg, logger))
	if cfg.Metrics != nil {
		router.Handle("/metrics", cfg.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		coord.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"error":"method not allowed"}`))
	})

	return router
}

func healthHandler(cfg RouterConfig, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		checks := make(map[string]string, len(cfg.Health))
		status := http.StatusOK
		for name, c := range cfg.Health {
			if err := c.HealthCheck(ctx); err != nil {
				logger.Warn("Health check failed", util.String("dependency", name), util.ErrorField(err))
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		body := map[string]interface{}{"status": "healthy", "service": cfg.Service, "checks": checks}
		if status != http.StatusOK {
			body["status"] = "unhealthy"
		}
		respondWithJSON(logger, w, status, body)
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
