package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/events"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Store is the persistence contract used by Service. Repository implements it.
type Store interface {
	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, upd StatusUpdate) (Order, error)
	History(ctx context.Context, orderID int64) ([]StatusEvent, error)
}

// Scoper resolves the owner ids visible to a viewer.
type Scoper interface {
	Scope(ctx context.Context, viewer actors.Actor) (actors.Scope, error)
}

// TransitionRecorder observes transition outcomes.
type TransitionRecorder interface {
	ObserveTransition(from, to string, outcome string)
}

// StatusChanged is the payload of events.TopicOrderStatusChanged.
type StatusChanged struct {
	Order   Order
	From    Status
	ActorID string
}

// Service validates and applies order operations for a viewer.
type Service struct {
	store   Store
	scopes  Scoper
	bus     *events.Bus
	logger  *slog.Logger
	metrics TransitionRecorder
	now     func() time.Time
	loc     *time.Location
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the calendar used to resolve list periods.
func WithLocation(loc *time.Location) ServiceOption {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRecorder attaches a transition metrics recorder.
func WithRecorder(rec TransitionRecorder) ServiceOption {
	return func(s *Service) { s.metrics = rec }
}

// NewService constructs an order service.
func NewService(store Store, scopes Scoper, bus *events.Bus, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{store: store, scopes: scopes, bus: bus, logger: logger, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one visible order.
func (s *Service) Get(ctx context.Context, viewer actors.Actor, id int64) (Order, error) {
	scope, err := s.scopes.Scope(ctx, viewer)
	if err != nil {
		return Order{}, err
	}
	order, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, shared.Transient("orders: get", err)
	}
	if !scope.Contains(order.OwnerID) {
		return Order{}, &shared.PermissionError{Role: string(viewer.Role), Action: "access order " + strconv.FormatInt(id, 10)}
	}
	return order, nil
}

// ListRequest narrows List.
type ListRequest struct {
	Period   period.Token
	Statuses []Status
}

// List returns the viewer's visible orders created inside the period.
func (s *Service) List(ctx context.Context, viewer actors.Actor, req ListRequest) ([]Order, error) {
	if req.Period == "" {
		req.Period = period.All
	}
	iv, err := period.Resolve(req.Period, s.now().In(s.loc))
	if err != nil {
		return nil, err
	}
	scope, err := s.scopes.Scope(ctx, viewer)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListOrders(ctx, FilterFor(scope, iv, req.Statuses, nil))
	if err != nil {
		return nil, shared.Transient("orders: list", err)
	}
	return list, nil
}

// FilterFor builds a store filter from a scope and interval.
func FilterFor(scope actors.Scope, iv period.Interval, include, exclude []Status) ListFilter {
	f := ListFilter{
		AllOwners:       scope.All,
		OwnerIDs:        append([]string(nil), scope.IDs...),
		Statuses:        include,
		ExcludeStatuses: exclude,
	}
	if !iv.Unbounded {
		f.From, f.To = iv.Start, iv.End
	}
	return f
}

// Transition moves a visible order to the requested status and persists it.
func (s *Service) Transition(ctx context.Context, viewer actors.Actor, id int64, requested string) (Order, error) {
	to, err := ParseStatus(requested)
	if err != nil {
		return Order{}, err
	}
	current, err := s.Get(ctx, viewer, id)
	if err != nil {
		return Order{}, err
	}

	next, err := Transition(current, to, s.now())
	if err != nil {
		s.record(current.Status, to, "rejected")
		return Order{}, err
	}

	saved, err := s.store.UpdateStatus(ctx, StatusUpdate{
		OrderID: id,
		From:    current.Status,
		To:      to,
		ActorID: viewer.ID,
		Order:   next,
	})
	if err != nil {
		s.record(current.Status, to, "failed")
		s.logger.Warn("persist transition",
			slog.Int64("order_id", id),
			slog.String("from", string(current.Status)),
			slog.String("to", string(to)),
			slog.Any("error", err))
		return Order{}, shared.Transient(fmt.Sprintf("orders: update status %d", id), err)
	}
	s.record(current.Status, to, "applied")
	s.logger.Info("order transitioned",
		slog.Int64("order_id", id),
		slog.String("from", string(current.Status)),
		slog.String("to", string(to)),
		slog.String("actor_id", viewer.ID))

	s.bus.Publish(ctx, events.Event{
		Topic:   events.TopicOrderStatusChanged,
		At:      saved.UpdatedAt,
		Payload: StatusChanged{Order: saved.Clone(), From: current.Status, ActorID: viewer.ID},
	})
	return saved, nil
}

// History returns the status events of a visible order.
func (s *Service) History(ctx context.Context, viewer actors.Actor, id int64) ([]StatusEvent, error) {
	if _, err := s.Get(ctx, viewer, id); err != nil {
		return nil, err
	}
	list, err := s.store.History(ctx, id)
	if err != nil {
		return nil, shared.Transient("orders: history", err)
	}
	return list, nil
}

// TransitionAsViewer runs Transition for the viewer carried by ctx.
func (s *Service) TransitionAsViewer(ctx context.Context, id int64, to Status) (Order, error) {
	viewer, ok := actors.ViewerFromContext(ctx)
	if !ok {
		return Order{}, &shared.PermissionError{Role: "anonymous", Action: "change order status"}
	}
	return s.Transition(ctx, viewer, id, string(to))
}

func (s *Service) record(from, to Status, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTransition(string(from), string(to), outcome)
}
