package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	httpmiddleware "github.com/wolfman30/scheduling-integrator/internal/http/middleware"
	"github.com/wolfman30/scheduling-integrator/internal/integrator"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

// Operations is the part of the scheduling facade exposed over HTTP.
type Operations interface {
	GetStatus(ctx context.Context, integration scheduling.Integration) booking.Status
	SyncEntities(ctx context.Context, integration scheduling.Integration, entityType scheduling.EntityType) (integrator.SyncResult, error)
}

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Integrations   integrator.Source
	Operations     Operations
	MetricsHandler http.Handler
	// OperatorSecret signs the JWTs required on mutating routes.
	OperatorSecret string
	// SyncLimiter throttles entity syncs per integration; nil disables it.
	SyncLimiter *httpmiddleware.KeyedLimiter
}

// New creates a new Chi router with the operational routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	h := &handler{integrations: cfg.Integrations, ops: cfg.Operations, logger: logger}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(logger))

	r.Get("/health", h.health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/integrations", func(r chi.Router) {
		r.Get("/", h.listIntegrations)
		r.Route("/{integrationID}", func(r chi.Router) {
			r.Get("/status", h.status)
			r.Group(func(r chi.Router) {
				r.Use(httpmiddleware.OperatorJWT(cfg.OperatorSecret))
				if cfg.SyncLimiter != nil {
					r.Use(httpmiddleware.Throttle(cfg.SyncLimiter, func(r *http.Request) string {
						return chi.URLParam(r, "integrationID")
					}))
				}
				r.Post("/entities/{entityType}/sync", h.syncEntities)
			})
		})
	})

	return r
}
