package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/salespulse/internal/observability"
	ordershttp "github.com/odyssey-erp/salespulse/internal/orders/http"
	"github.com/odyssey-erp/salespulse/internal/platform/httpx"
	revenuehttp "github.com/odyssey-erp/salespulse/internal/revenue/http"
	"github.com/odyssey-erp/salespulse/jobs"
)

// ReadinessCheck reports whether a backing dependency is reachable.
type ReadinessCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Authenticate   func(http.Handler) http.Handler
	OrdersHandler  *ordershttp.Handler
	ReportsHandler *revenuehttp.Handler
	JobsHandler    *jobs.Handler
	Metrics        *observability.Metrics
	Checks         map[string]ReadinessCheck
}

// NewRouter constructs the chi.Router with SalesPulse defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readinessHandler(logger, params.Checks))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.Authenticate != nil {
			api.Use(params.Authenticate)
		}
		if params.ReportsHandler != nil {
			params.ReportsHandler.MountRoutes(api)
		}
		if params.OrdersHandler != nil {
			api.Route("/orders", params.OrdersHandler.MountRoutes)
		}
	})

	return r
}

func readinessHandler(logger *slog.Logger, checks map[string]ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		report := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("check", name), slog.Any("error", err))
				report[name] = "down"
				status = http.StatusServiceUnavailable
				continue
			}
			report[name] = "up"
		}
		httpx.JSON(w, status, report)
	}
}
