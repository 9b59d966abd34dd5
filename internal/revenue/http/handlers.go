// Package revenuehttp serves revenue reports and the period catalogue.
package revenuehttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/platform/httpx"
	"github.com/odyssey-erp/salespulse/internal/revenue"
)

const (
	requestTimeout   = 5 * time.Second
	defaultRateLimit = 30
)

// ReportService is the report contract used by the handler.
type ReportService interface {
	Report(ctx context.Context, req revenue.ReportRequest) (revenue.Result, error)
	Refresh(ctx context.Context, req revenue.ReportRequest) (revenue.Result, bool, error)
}

// Handler serves revenue report requests.
type Handler struct {
	logger  *slog.Logger
	service ReportService
	loc     *time.Location
	limit   int
	now     func() time.Time
}

// NewHandler constructs the report handler. limit is requests per minute per
// viewer; zero selects the default.
func NewHandler(logger *slog.Logger, service ReportService, loc *time.Location, limit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	if limit <= 0 {
		limit = defaultRateLimit
	}
	return &Handler{logger: logger, service: service, loc: loc, limit: limit, now: time.Now}
}

// WithNow overrides the handler clock for testing.
func (h *Handler) WithNow(fn func() time.Time) {
	if fn != nil {
		h.now = fn
	}
}

func (h *Handler) parseRequest(r *http.Request, viewer actors.Actor) (revenue.ReportRequest, error) {
	req := revenue.ReportRequest{Viewer: viewer, Period: period.ThisMonth, Policy: revenue.PolicyFunnel}
	q := r.URL.Query()
	if raw := q.Get("period"); raw != "" {
		token, err := period.ParseToken(raw)
		if err != nil {
			return req, err
		}
		req.Period = token
	}
	if raw := q.Get("policy"); raw != "" {
		policy, err := revenue.ParsePolicy(raw)
		if err != nil {
			return req, err
		}
		req.Policy = policy
	}
	return req, nil
}

type reportResponse struct {
	revenue.Result
	Applied *bool `json:"applied,omitempty"`
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actors.ViewerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	req, err := h.parseRequest(r, viewer)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, err := h.service.Report(ctx, req)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if r.URL.Query().Get("chronological") == "1" {
		res.Trend = res.TrendChronological()
	}
	httpx.JSON(w, http.StatusOK, reportResponse{Result: res})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actors.ViewerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	req, err := h.parseRequest(r, viewer)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	res, applied, err := h.service.Refresh(ctx, req)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reportResponse{Result: res, Applied: &applied})
}

type periodView struct {
	Token    period.Token    `json:"token"`
	Interval period.Interval `json:"interval"`
}

func (h *Handler) handlePeriods(w http.ResponseWriter, r *http.Request) {
	now := h.now().In(h.loc)
	tokens := period.Tokens()
	out := make([]periodView, 0, len(tokens))
	for _, token := range tokens {
		iv, err := period.Resolve(token, now)
		if err != nil {
			h.respond(w, r, err)
			return
		}
		out = append(out, periodView{Token: token, Interval: iv})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": out})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("report request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
