package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"egc/internal/config"
	apierrors "egc/internal/errors"
	"egc/internal/infrastructure"
	"egc/internal/middleware"
)

// RouterConfig carries everything the router mounts. Nil handlers leave
// their routes out.
type RouterConfig struct {
	Server   config.ServerConfig
	Security config.SecurityConfig
	Logger   *slog.Logger

	ErrorHandler *apierrors.ErrorHandler
	Validation   *middleware.ValidationMiddleware
	OTel         *infrastructure.OTelProviders
	Metrics      *infrastructure.BusinessMetrics

	Health  *HealthHandler
	Calc    *CalcHandler
	Ingest  *IngestHandler
	Rollups *RollupsHandler
	Mapping *MappingHandler
	Stats   *MetricsHandler

	// WebSocket serves /ws.
	WebSocket http.Handler
	// Static, when set, serves every path outside /api.
	Static http.Handler
}

// NewRouter builds the chi router: common middleware first, then the API
// with a request timeout, then the long-lived stream, WebSocket and scrape
// routes without one.
func NewRouter(cfg RouterConfig) (chi.Router, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = apierrors.NewErrorHandler(cfg.Logger, false)
	}
	if cfg.Validation == nil {
		cfg.Validation = middleware.NewValidationMiddleware(cfg.Logger, cfg.ErrorHandler, 0)
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.NotFound(cfg.ErrorHandler.NotFound)
	r.MethodNotAllowed(cfg.ErrorHandler.MethodNotAllowed)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if cfg.OTel != nil {
		otelMiddleware, err := middleware.NewOTelMiddleware(cfg.OTel, cfg.Metrics)
		if err != nil {
			return nil, err
		}
		r.Use(otelMiddleware.Handler)
	}
	r.Use(middleware.StructuredLogger(cfg.Logger))
	r.Use(middleware.Recoverer(cfg.ErrorHandler))
	r.Use(middleware.SecurityHeaders)
	if cfg.Security.EnableCORS {
		r.Use(middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			Logger:         cfg.Logger,
		}))
	}
	if rl := cfg.Security.RateLimit; rl.Enabled {
		r.Use(middleware.NewRateLimiter(rl.RPS, rl.Burst, cfg.Logger, cfg.ErrorHandler).Handler)
	}

	if cfg.Stats != nil {
		r.Get(config.MetricsEndpoint, cfg.Stats.Prometheus)
	}
	if cfg.WebSocket != nil {
		r.Handle(config.WebSocketEndpoint, cfg.WebSocket)
	}

	if cfg.Static != nil {
		r.Handle("/*", cfg.Static)
	}

	r.Route(config.APIBasePath, func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// Streams run until the body ends or the client leaves.
		if cfg.Ingest != nil {
			r.Post("/ingest/stream", cfg.Ingest.Stream)
			r.Mount("/uploads", cfg.Ingest.UploadRoutes())
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(timeout, cfg.ErrorHandler))
			r.Use(middleware.ContentTypeValidator(cfg.ErrorHandler, "application/json"))

			if cfg.Health != nil {
				r.Get("/health", cfg.Health.HealthCheck)
				r.Get("/health/ready", cfg.Health.ReadinessCheck)
				r.Get("/health/live", cfg.Health.LivenessCheck)
				r.Get("/version", cfg.Health.Version)
			}
			if cfg.Stats != nil {
				r.Get("/metrics", cfg.Stats.Summary)
			}
			if cfg.Calc != nil {
				r.Mount("/calc", cfg.Calc.Routes())
			}
			if cfg.Ingest != nil {
				r.Mount("/ingest/jobs", cfg.Ingest.JobRoutes())
			}
			if cfg.Rollups != nil {
				r.Mount("/rollups", cfg.Rollups.Routes())
			}
			if cfg.Mapping != nil {
				r.Mount("/mapping", cfg.Mapping.Routes())
				r.Mount("/presets", cfg.Mapping.PresetRoutes())
			}
		})
	})

	return r, nil
}
