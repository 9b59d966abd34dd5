// Package optimistic keeps per-viewer order collections in memory and applies
// status changes to them before the store confirms, rolling back on failure.
package optimistic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/events"
	"github.com/odyssey-erp/salespulse/internal/orders"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// Key identifies one cached collection. View distinguishes listings of the
// same viewer, e.g. different periods.
type Key struct {
	ViewerID string
	Scope    string
	View     string
}

// KeyFor builds the key for a viewer, its resolved scope and a view name.
func KeyFor(viewer actors.Actor, scope actors.Scope, view string) Key {
	return Key{ViewerID: viewer.ID, Scope: scope.Key(), View: view}
}

// Loader fetches the authoritative collection for a key.
type Loader func(ctx context.Context) ([]orders.Order, error)

// Transitioner persists a status change; orders.Service.TransitionAsViewer fits.
type Transitioner func(ctx context.Context, id int64, to orders.Status) (orders.Order, error)

// Recorder observes mutation outcomes.
type Recorder interface {
	ObserveMutation(outcome string)
}

// Mutation outcomes reported to Recorder.
const (
	OutcomeApplied         = "applied"
	OutcomeRollbackExact   = "rollback_exact"
	OutcomeRollbackPartial = "rollback_partial"
	OutcomeInFlight        = "in_flight"
)

type entry struct {
	orders   []orders.Order
	loaded   bool
	loadedAt time.Time
	stale    bool
	version  uint64
	gen      uint64
}

func (e *entry) indexOf(id int64) int {
	for i := range e.orders {
		if e.orders[i].ID == id {
			return i
		}
	}
	return -1
}

// View is a defensive copy of one entry.
type View struct {
	Orders []orders.Order
	Loaded bool
	Stale  bool
}

// Coordinator owns the cached collections. Collections are replaced, never
// edited in place, so snapshots stay valid after later writes.
type Coordinator struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	inflight map[int64]string

	transition Transitioner
	logger     *slog.Logger
	metrics    Recorder
	now        func() time.Time
	maxAge     time.Duration
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) Option {
	return func(c *Coordinator) { c.metrics = rec }
}

// WithClock overrides the time source used for optimistic timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMaxAge treats entries loaded longer ago than d as stale. Zero disables it.
func WithMaxAge(d time.Duration) Option {
	return func(c *Coordinator) { c.maxAge = d }
}

// New builds a coordinator that persists through transition.
func New(transition Transitioner, opts ...Option) *Coordinator {
	c := &Coordinator{
		entries:    make(map[Key]*entry),
		inflight:   make(map[int64]string),
		transition: transition,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) entry(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func cloneOrders(in []orders.Order) []orders.Order {
	if in == nil {
		return nil
	}
	out := make([]orders.Order, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// Read returns a copy of the entry for key.
func (c *Coordinator) Read(key Key) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return View{}
	}
	return View{Orders: cloneOrders(e.orders), Loaded: e.loaded, Stale: e.stale || c.expired(e)}
}

func (c *Coordinator) expired(e *entry) bool {
	return c.maxAge > 0 && e.loaded && c.now().Sub(e.loadedAt) > c.maxAge
}

// sweep drops expired entries other than keep. Callers hold c.mu. Work still
// running against a dropped entry finishes on the detached copy.
func (c *Coordinator) sweep(keep Key) {
	if c.maxAge <= 0 {
		return
	}
	for k, e := range c.entries {
		if k != keep && c.expired(e) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of cached entries.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Load returns the cached collection, refreshing it when missing or stale.
func (c *Coordinator) Load(ctx context.Context, key Key, loader Loader) ([]orders.Order, error) {
	if v := c.Read(key); v.Loaded && !v.Stale {
		return v.Orders, nil
	}
	list, applied, err := c.Refresh(ctx, key, loader)
	if err != nil {
		return nil, err
	}
	if !applied {
		return c.Read(key).Orders, nil
	}
	return list, nil
}

// Refresh runs loader and stores its result unless a newer refresh or a
// mutation began meanwhile, or ctx was cancelled. applied reports whether the
// result reached the cache.
func (c *Coordinator) Refresh(ctx context.Context, key Key, loader Loader) (list []orders.Order, applied bool, err error) {
	c.mu.Lock()
	c.sweep(key)
	e := c.entry(key)
	e.gen++
	gen := e.gen
	c.mu.Unlock()

	list, err = loader(ctx)
	if err != nil {
		c.mu.Lock()
		if !e.loaded && e.gen == gen && c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, shared.Transient("optimistic: refresh", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil || e.gen != gen {
		c.logger.Debug("discard stale refresh",
			slog.String("viewer_id", key.ViewerID),
			slog.String("view", key.View))
		return list, false, nil
	}
	e.orders = cloneOrders(list)
	e.loaded = true
	e.loadedAt = c.now()
	e.stale = false
	e.version++
	return cloneOrders(list), true, nil
}

// Mutate applies to to the cached order immediately, persists it, and rolls
// back if persisting fails. A second Mutate on an order whose mutation has
// not settled fails with shared.ErrMutationInFlight.
func (c *Coordinator) Mutate(ctx context.Context, key Key, orderID int64, to orders.Status) (orders.Order, error) {
	c.mu.Lock()
	if _, busy := c.inflight[orderID]; busy {
		c.mu.Unlock()
		c.record(OutcomeInFlight)
		return orders.Order{}, fmt.Errorf("order %d: %w", orderID, shared.ErrMutationInFlight)
	}
	mutationID := uuid.NewString()
	c.inflight[orderID] = mutationID

	// Mutations on uncached views persist without creating an entry.
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
	}
	snapshot := e.orders
	var (
		before  orders.Order
		present bool
	)
	if i := e.indexOf(orderID); i >= 0 {
		present = true
		before = e.orders[i].Clone()
		next := cloneOrders(e.orders)
		next[i].Status = to
		next[i].UpdatedAt = c.now()
		e.orders = next
		e.version++
		e.gen++
	}
	applied := e.version
	c.mu.Unlock()

	log := c.logger.With(
		slog.String("mutation_id", mutationID),
		slog.Int64("order_id", orderID),
		slog.String("to", string(to)))

	saved, err := c.transition(ctx, orderID, to)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, orderID)

	if err == nil {
		if i := e.indexOf(orderID); i >= 0 {
			next := cloneOrders(e.orders)
			next[i] = saved.Clone()
			e.orders = next
			e.version++
		}
		e.stale = true
		c.record(OutcomeApplied)
		log.Debug("optimistic mutation confirmed")
		return saved, nil
	}

	if present {
		if e.version == applied {
			e.orders = snapshot
			c.record(OutcomeRollbackExact)
		} else {
			if i := e.indexOf(orderID); i >= 0 {
				next := cloneOrders(e.orders)
				next[i] = before
				e.orders = next
			}
			c.record(OutcomeRollbackPartial)
		}
		e.version++
	}
	log.Info("optimistic mutation rolled back", slog.Any("error", err))
	return orders.Order{}, err
}

// InFlight returns the mutation id pending for orderID.
func (c *Coordinator) InFlight(orderID int64) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.inflight[orderID]
	return id, ok
}

// MarkStale flags every entry holding orderID for reload.
func (c *Coordinator) MarkStale(orderID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	marked := 0
	for _, e := range c.entries {
		if e.indexOf(orderID) >= 0 {
			e.stale = true
			marked++
		}
	}
	return marked
}

// Forget drops the entry for key.
func (c *Coordinator) Forget(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Watch marks entries stale when any writer changes an order they hold.
func (c *Coordinator) Watch(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.TopicOrderStatusChanged, func(ctx context.Context, ev events.Event) {
		changed, ok := ev.Payload.(orders.StatusChanged)
		if !ok {
			return
		}
		if n := c.MarkStale(changed.Order.ID); n > 0 {
			c.logger.Debug("order changed elsewhere",
				slog.Int64("order_id", changed.Order.ID),
				slog.Int("entries", n))
		}
	})
}

func (c *Coordinator) record(outcome string) {
	if c.metrics != nil {
		c.metrics.ObserveMutation(outcome)
	}
}
