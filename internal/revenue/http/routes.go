package revenuehttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/salespulse/internal/auth"
	"github.com/odyssey-erp/salespulse/internal/platform/httpx"
)

// MountRoutes registers report endpoints onto the router. Report builds are
// limited per viewer.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(h.limit, time.Minute,
		httprate.WithKeyFuncs(auth.RateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			httpx.Problem(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), "report rate limit exceeded")
		}),
	)

	r.Get("/periods", h.handlePeriods)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Get("/reports/revenue", h.handleReport)
		gr.Post("/reports/revenue/refresh", h.handleRefresh)
	})
}
