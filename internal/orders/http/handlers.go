// Package ordershttp exposes order listing, history and status changes over HTTP.
package ordershttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/optimistic"
	"github.com/odyssey-erp/salespulse/internal/orders"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/platform/httpx"
	"github.com/odyssey-erp/salespulse/internal/revenue"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// OrderService is the read side used by the handler.
type OrderService interface {
	Get(ctx context.Context, viewer actors.Actor, id int64) (orders.Order, error)
	List(ctx context.Context, viewer actors.Actor, req orders.ListRequest) ([]orders.Order, error)
	History(ctx context.Context, viewer actors.Actor, id int64) ([]orders.StatusEvent, error)
}

// Scoper resolves viewer scopes for cache keys.
type Scoper interface {
	Scope(ctx context.Context, viewer actors.Actor) (actors.Scope, error)
}

// Coordinator serves cached lists and applies optimistic status changes.
type Coordinator interface {
	Load(ctx context.Context, key optimistic.Key, loader optimistic.Loader) ([]orders.Order, error)
	Refresh(ctx context.Context, key optimistic.Key, loader optimistic.Loader) ([]orders.Order, bool, error)
	Mutate(ctx context.Context, key optimistic.Key, orderID int64, to orders.Status) (orders.Order, error)
}

// Handler serves /orders.
type Handler struct {
	logger    *slog.Logger
	service   OrderService
	scopes    Scoper
	coord     Coordinator
	validator *validator.Validate
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, service OrderService, scopes Scoper, coord Coordinator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		scopes:    scopes,
		coord:     coord,
		validator: validator.New(),
	}
}

// MountRoutes registers order routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Get("/{id}/history", h.handleHistory)
	r.Post("/{id}/status", h.handleTransition)
}

type listQuery struct {
	Period   period.Token
	Statuses []orders.Status
	Policy   revenue.Policy
	Refresh  bool
}

func parseListQuery(r *http.Request) (listQuery, error) {
	q := listQuery{Period: period.All}
	values := r.URL.Query()
	if raw := values.Get("period"); raw != "" {
		token, err := period.ParseToken(raw)
		if err != nil {
			return q, err
		}
		q.Period = token
	}
	if raw := values.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			s, err := orders.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				return q, err
			}
			q.Statuses = append(q.Statuses, s)
		}
		// One cache entry per status set, whatever the spelling of the query.
		slices.Sort(q.Statuses)
		q.Statuses = slices.Compact(q.Statuses)
	}
	if raw := values.Get("policy"); raw != "" {
		p, err := revenue.ParsePolicy(raw)
		if err != nil {
			return q, err
		}
		q.Policy = p
	}
	q.Refresh = values.Get("refresh") == "1"
	return q, nil
}

func (q listQuery) view() string {
	parts := make([]string, 0, len(q.Statuses)+1)
	parts = append(parts, string(q.Period))
	for _, s := range q.Statuses {
		parts = append(parts, string(s))
	}
	return strings.Join(parts, "|")
}

type listResponse struct {
	Period period.Token   `json:"period"`
	Policy revenue.Policy `json:"policy,omitempty"`
	Count  int            `json:"count"`
	Orders []orders.Order `json:"orders"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actors.ViewerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	q, err := parseListQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := h.scopes.Scope(r.Context(), viewer)
	if err != nil {
		h.respond(w, r, err)
		return
	}

	key := optimistic.KeyFor(viewer, scope, q.view())
	loader := func(ctx context.Context) ([]orders.Order, error) {
		return h.service.List(ctx, viewer, orders.ListRequest{Period: q.Period, Statuses: q.Statuses})
	}
	var list []orders.Order
	if q.Refresh {
		list, _, err = h.coord.Refresh(r.Context(), key, loader)
	} else {
		list, err = h.coord.Load(r.Context(), key, loader)
	}
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if q.Policy != "" {
		list = revenue.FilterOrders(q.Policy, list)
	}
	if list == nil {
		list = []orders.Order{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Period: q.Period, Policy: q.Policy, Count: len(list), Orders: list})
}

func parseID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &shared.ValidationError{Field: "order id", Value: raw}
	}
	return id, nil
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actors.ViewerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Get(r.Context(), viewer, id)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type historyResponse struct {
	OrderID int64                `json:"order_id"`
	Allowed []orders.Status      `json:"allowed_next"`
	Events  []orders.StatusEvent `json:"events"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actors.ViewerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	order, err := h.service.Get(r.Context(), viewer, id)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	events, err := h.service.History(r.Context(), viewer, id)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if events == nil {
		events = []orders.StatusEvent{}
	}
	allowed := orders.AllowedNext(order.Status)
	if allowed == nil {
		allowed = []orders.Status{}
	}
	httpx.JSON(w, http.StatusOK, historyResponse{OrderID: id, Allowed: allowed, Events: events})
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actors.ViewerFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	id, err := parseID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var body transitionRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	if err := h.validator.Struct(body); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			httpx.RespondError(w, &shared.ValidationError{Field: strings.ToLower(fieldErrs[0].Field()), Value: body.Status})
			return
		}
		httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
		return
	}
	to, err := orders.ParseStatus(body.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := parseListQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	scope, err := h.scopes.Scope(r.Context(), viewer)
	if err != nil {
		h.respond(w, r, err)
		return
	}

	saved, err := h.coord.Mutate(r.Context(), optimistic.KeyFor(viewer, scope, q.view()), id, to)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error("orders request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
