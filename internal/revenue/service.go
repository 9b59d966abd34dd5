package revenue

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/events"
	"github.com/odyssey-erp/salespulse/internal/orders"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// OrderReader lists orders for a filter. orders.Repository implements it.
type OrderReader interface {
	ListOrders(ctx context.Context, filter orders.ListFilter) ([]orders.Order, error)
}

// Scoper resolves the owner ids visible to a viewer.
type Scoper interface {
	Scope(ctx context.Context, viewer actors.Actor) (actors.Scope, error)
}

// Lookup resolves directory names for admin rollups.
type Lookup interface {
	LookupActors(ctx context.Context, ids []string) (map[string]actors.Actor, error)
	LookupCustomers(ctx context.Context, ids []string) (map[string]actors.Customer, error)
}

// ReportRecorder observes report builds.
type ReportRecorder interface {
	ObserveReport(policy string, cached bool, elapsed time.Duration)
}

// ReportRequest selects one report. Zero Now means the service clock.
type ReportRequest struct {
	Viewer actors.Actor
	Period period.Token
	Policy Policy
	Now    time.Time
}

// ReportMeta describes how a Result was produced.
type ReportMeta struct {
	ViewerID    string          `json:"viewer_id"`
	Role        actors.Role     `json:"role"`
	Period      period.Token    `json:"period"`
	Policy      Policy          `json:"policy"`
	Interval    period.Interval `json:"interval"`
	GeneratedAt time.Time       `json:"generated_at"`
	Cached      bool            `json:"cached"`
}

const defaultBuildTimeout = 15 * time.Second

// Service builds revenue reports for viewers.
type Service struct {
	orders  OrderReader
	scopes  Scoper
	lookup  Lookup
	cache   *Cache
	board   *Board
	group   singleflight.Group
	loc     *time.Location
	now     func() time.Time
	logger  *slog.Logger
	metrics ReportRecorder

	buildTimeout time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithLocation sets the calendar used for period boundaries and trend months.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBuildTimeout bounds a shared report build independently of the
// callers waiting on it.
func WithBuildTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.buildTimeout = d
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec ReportRecorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires the report service. cache may be nil.
func NewService(reader OrderReader, scopes Scoper, lookup Lookup, cache *Cache, opts ...Option) *Service {
	s := &Service{
		orders: reader,
		scopes: scopes,
		lookup: lookup,
		cache:  cache,
		board:  NewBoard(),
		loc:    time.Local,
		now:    time.Now,
		logger: slog.Default(),

		buildTimeout: defaultBuildTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Board exposes the latest-report board.
func (s *Service) Board() *Board { return s.board }

// Report resolves, aggregates and caches one report.
func (s *Service) Report(ctx context.Context, req ReportRequest) (Result, error) {
	started := time.Now()
	if req.Period == "" {
		req.Period = period.ThisMonth
	}
	if req.Policy == "" {
		req.Policy = PolicyFunnel
	}
	if _, err := ParsePolicy(string(req.Policy)); err != nil {
		return Result{}, err
	}
	if !req.Viewer.Role.Valid() {
		return Result{}, &shared.ValidationError{Field: "role", Value: string(req.Viewer.Role)}
	}
	now := req.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.In(s.loc)
	iv, err := period.Resolve(req.Period, now)
	if err != nil {
		return Result{}, err
	}
	// Rolling periods are keyed at minute resolution so they stay cacheable;
	// the build itself filters on the exact interval.
	keyIv, err := period.Resolve(req.Period, now.Truncate(time.Minute))
	if err != nil {
		return Result{}, err
	}
	scope, err := s.scopes.Scope(ctx, req.Viewer)
	if err != nil {
		return Result{}, err
	}

	parts := []string{
		req.Viewer.ID,
		string(req.Viewer.Role),
		scope.Key(),
		string(req.Period),
		string(req.Policy),
		strconv.FormatInt(keyIv.Start.Unix(), 10) + "-" + strconv.FormatInt(keyIv.End.Unix(), 10),
	}
	key, err := s.cache.Key(ctx, parts...)
	cache := s.cache
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.Any("error", err))
		key = strings.Join(parts, ":")
		cache = nil
	}

	type built struct {
		result Result
		hit    bool
	}
	// The build is shared by every caller in the flight, so it must outlive
	// the caller that started it. Each caller only stops waiting on its own ctx.
	buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.buildTimeout)
	ch := s.group.DoChan(key, func() (any, error) {
		defer cancel()
		var res Result
		hit, err := cache.Fetch(buildCtx, key, &res, func(ctx context.Context) (any, error) {
			return s.build(ctx, req.Viewer, scope, iv, req.Policy, now)
		})
		if err != nil {
			return nil, err
		}
		return built{result: res, hit: hit}, nil
	})

	var out built
	select {
	case <-ctx.Done():
		// A joining caller's closure never runs; release its timer.
		go func() { <-ch; cancel() }()
		return Result{}, ctx.Err()
	case res := <-ch:
		cancel()
		if res.Err != nil {
			return Result{}, shared.Transient("revenue: report", res.Err)
		}
		out = res.Val.(built)
	}

	result := out.result.clone()
	result.Meta.ViewerID = req.Viewer.ID
	result.Meta.Role = req.Viewer.Role
	result.Meta.Period = req.Period
	result.Meta.Policy = req.Policy
	result.Meta.Interval = iv
	result.Meta.Cached = out.hit
	if s.metrics != nil {
		s.metrics.ObserveReport(string(req.Policy), out.hit, time.Since(started))
	}
	return result, nil
}

func (s *Service) build(ctx context.Context, viewer actors.Actor, scope actors.Scope, iv period.Interval, policy Policy, now time.Time) (Result, error) {
	include, exclude := policy.StatusFilter()
	list, err := s.orders.ListOrders(ctx, orders.FilterFor(scope, iv, include, exclude))
	if err != nil {
		return Result{}, shared.Transient("revenue: list orders", err)
	}
	in := Input{
		Orders:     FilterOrders(policy, list),
		ViewerRole: viewer.Role,
		Location:   s.loc,
	}

	if directoryRollups(viewer.Role) && len(in.Orders) > 0 {
		ownerIDs, customerIDs := distinctParties(in.Orders)
		var (
			owners    map[string]actors.Actor
			customers map[string]actors.Customer
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			m, err := s.lookup.LookupActors(gctx, ownerIDs)
			if err != nil {
				return shared.Transient("revenue: lookup owners", err)
			}
			owners = m
			return nil
		})
		g.Go(func() error {
			m, err := s.lookup.LookupCustomers(gctx, customerIDs)
			if err != nil {
				return shared.Transient("revenue: lookup customers", err)
			}
			customers = m
			return nil
		})
		if err := g.Wait(); err != nil {
			return Result{}, err
		}
		in.Owners, in.Customers = owners, customers
	}

	res := Aggregate(in)
	res.Meta.GeneratedAt = now
	if res.UnresolvedOwners > 0 {
		s.logger.Warn("orders with unknown owners",
			slog.String("viewer_id", viewer.ID),
			slog.Int("count", res.UnresolvedOwners))
	}
	return res, nil
}

func distinctParties(list []orders.Order) (ownerIDs, customerIDs []string) {
	seenOwner := make(map[string]struct{}, len(list))
	seenCustomer := make(map[string]struct{}, len(list))
	for _, o := range list {
		if _, ok := seenOwner[o.OwnerID]; !ok {
			seenOwner[o.OwnerID] = struct{}{}
			ownerIDs = append(ownerIDs, o.OwnerID)
		}
		if _, ok := seenCustomer[o.CustomerID]; !ok {
			seenCustomer[o.CustomerID] = struct{}{}
			customerIDs = append(customerIDs, o.CustomerID)
		}
	}
	return ownerIDs, customerIDs
}

// BoardKey names the board slot for a request.
func BoardKey(req ReportRequest) string {
	return strings.Join([]string{req.Viewer.ID, string(req.Period), string(req.Policy)}, ":")
}

// Refresh rebuilds a report and publishes it to the board unless a newer
// refresh for the same slot started meanwhile. applied is false for a
// superseded or cancelled refresh.
func (s *Service) Refresh(ctx context.Context, req ReportRequest) (res Result, applied bool, err error) {
	if req.Period == "" {
		req.Period = period.ThisMonth
	}
	if req.Policy == "" {
		req.Policy = PolicyFunnel
	}
	ticket := s.board.Begin(ctx, BoardKey(req))
	res, err = s.Report(ctx, req)
	if err != nil {
		s.board.Cancel(ticket)
		return Result{}, false, err
	}
	return res, s.board.Apply(ticket, res), nil
}

// Invalidate bumps the cache version and expires the board.
func (s *Service) Invalidate(ctx context.Context) error {
	s.board.Expire()
	if _, err := s.cache.Bump(ctx); err != nil {
		return shared.Transient("revenue: bump cache", err)
	}
	return nil
}

// Subscribe invalidates reports whenever an order changes status.
func (s *Service) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.TopicOrderStatusChanged, func(ctx context.Context, ev events.Event) {
		bumpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.Invalidate(bumpCtx); err != nil {
			s.logger.Warn("invalidate reports", slog.Any("error", err))
		}
	})
}

// Watch expires the local board when another process bumps the cache.
func (s *Service) Watch(ctx context.Context) error {
	return s.cache.Listen(ctx, func(version int64) {
		s.logger.Debug("report cache bumped", slog.Int64("version", version))
		s.board.Expire()
	})
}
