package orders

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/events"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

// ============================================================================
// MOCK STORE
// ============================================================================

type mockStore struct {
	mu        sync.Mutex
	orders    map[int64]Order
	history   []StatusEvent
	updateErr error
	listErr   error
	lastList  ListFilter
}

func newMockStore(list ...Order) *mockStore {
	m := &mockStore{orders: make(map[int64]Order)}
	for _, o := range list {
		m.orders[o.ID] = o
	}
	return m
}

func (m *mockStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, &shared.NotFoundError{Kind: "order", ID: strconv.FormatInt(id, 10)}
	}
	return o.Clone(), nil
}

func (m *mockStore) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	scope := actors.Scope{All: filter.AllOwners, IDs: filter.OwnerIDs}
	var out []Order
	for _, o := range m.orders {
		if !scope.Contains(o.OwnerID) {
			continue
		}
		out = append(out, o.Clone())
	}
	return out, nil
}

func (m *mockStore) UpdateStatus(ctx context.Context, upd StatusUpdate) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return Order{}, m.updateErr
	}
	o := m.orders[upd.OrderID]
	if o.Status != upd.From {
		return Order{}, &shared.InvalidTransitionError{From: string(o.Status), To: string(upd.To)}
	}
	o.Status = upd.To
	o.UpdatedAt = upd.Order.UpdatedAt
	m.orders[upd.OrderID] = o
	m.history = append(m.history, StatusEvent{OrderID: upd.OrderID, From: upd.From, To: upd.To, ActorID: upd.ActorID, At: o.UpdatedAt})
	return o.Clone(), nil
}

func (m *mockStore) History(ctx context.Context, orderID int64) ([]StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusEvent
	for _, ev := range m.history {
		if ev.OrderID == orderID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type staticScoper struct {
	scopes map[string]actors.Scope
}

func (s staticScoper) Scope(ctx context.Context, viewer actors.Actor) (actors.Scope, error) {
	if viewer.Role == actors.RoleCustomer {
		return actors.Scope{}, &shared.PermissionError{Role: string(viewer.Role), Action: "view sales scope"}
	}
	if viewer.Role == actors.RoleAdmin {
		return actors.Scope{All: true}, nil
	}
	return s.scopes[viewer.ID], nil
}

type recorder struct {
	outcomes []string
}

func (r *recorder) ObserveTransition(from, to, outcome string) {
	r.outcomes = append(r.outcomes, from+">"+to+":"+outcome)
}

var (
	fixedNow = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	seller   = actors.Actor{ID: "s1", Role: actors.RoleSale}
	other    = actors.Actor{ID: "s2", Role: actors.RoleSale}
)

func newTestService(store Store, bus *events.Bus, rec TransitionRecorder) *Service {
	scoper := staticScoper{scopes: map[string]actors.Scope{
		"s1": {IDs: []string{"s1"}},
		"s2": {IDs: []string{"s2"}},
	}}
	opts := []ServiceOption{
		WithClock(func() time.Time { return fixedNow }),
		WithLocation(time.UTC),
	}
	if rec != nil {
		opts = append(opts, WithRecorder(rec))
	}
	return NewService(store, scoper, bus, nil, opts...)
}

func draftOrder(id int64, owner string) Order {
	return Order{
		ID:          id,
		Status:      StatusDraft,
		CustomerID:  "c1",
		OwnerID:     owner,
		TotalAmount: decimal.NewFromInt(100),
		CreatedAt:   fixedNow.Add(-time.Hour),
		UpdatedAt:   fixedNow.Add(-time.Hour),
	}
}

// ============================================================================
// TESTS
// ============================================================================

func TestServiceTransitionPersistsAndPublishes(t *testing.T) {
	store := newMockStore(draftOrder(1, "s1"))
	bus := events.NewBus(nil)
	var published []StatusChanged
	bus.Subscribe(events.TopicOrderStatusChanged, func(ctx context.Context, ev events.Event) {
		published = append(published, ev.Payload.(StatusChanged))
	})
	rec := &recorder{}
	svc := newTestService(store, bus, rec)

	got, err := svc.Transition(context.Background(), seller, 1, "ordered")
	require.NoError(t, err)
	assert.Equal(t, StatusOrdered, got.Status)
	assert.Equal(t, fixedNow, got.UpdatedAt)

	require.Len(t, published, 1)
	assert.Equal(t, StatusDraft, published[0].From)
	assert.Equal(t, "s1", published[0].ActorID)
	assert.Equal(t, []string{"draft>ordered:applied"}, rec.outcomes)

	history, err := svc.History(context.Background(), seller, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusOrdered, history[0].To)
}

func TestServiceTransitionRejectsIllegalEdge(t *testing.T) {
	store := newMockStore(draftOrder(1, "s1"))
	rec := &recorder{}
	svc := newTestService(store, events.NewBus(nil), rec)

	_, err := svc.Transition(context.Background(), seller, 1, "shipping")
	var terr *shared.InvalidTransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "draft", terr.From)
	assert.Equal(t, "shipping", terr.To)

	stored, _ := store.GetOrder(context.Background(), 1)
	assert.Equal(t, StatusDraft, stored.Status)
	assert.Equal(t, []string{"draft>shipping:rejected"}, rec.outcomes)
}

func TestServiceTransitionUnknownStatus(t *testing.T) {
	svc := newTestService(newMockStore(draftOrder(1, "s1")), nil, nil)
	_, err := svc.Transition(context.Background(), seller, 1, "shipped")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceTransitionOutsideScope(t *testing.T) {
	svc := newTestService(newMockStore(draftOrder(1, "s1")), nil, nil)
	_, err := svc.Transition(context.Background(), other, 1, "ordered")
	assert.ErrorIs(t, err, shared.ErrPermission)
}

func TestServiceTransitionCustomerRejectedBeforeRead(t *testing.T) {
	store := newMockStore()
	svc := newTestService(store, nil, nil)
	_, err := svc.Transition(context.Background(), actors.Actor{ID: "cust", Role: actors.RoleCustomer}, 1, "ordered")
	assert.ErrorIs(t, err, shared.ErrPermission)
}

func TestServiceTransitionMissingOrder(t *testing.T) {
	svc := newTestService(newMockStore(), nil, nil)
	_, err := svc.Transition(context.Background(), seller, 42, "ordered")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestServiceTransitionStoreFailureIsTransient(t *testing.T) {
	store := newMockStore(draftOrder(1, "s1"))
	store.updateErr = errors.New("connection refused")
	rec := &recorder{}
	svc := newTestService(store, events.NewBus(nil), rec)

	_, err := svc.Transition(context.Background(), seller, 1, "ordered")
	assert.ErrorIs(t, err, shared.ErrTransient)
	assert.Equal(t, []string{"draft>ordered:failed"}, rec.outcomes)
}

func TestServiceTerminalOrderIsImmutable(t *testing.T) {
	done := draftOrder(1, "s1")
	done.Status = StatusCompleted
	svc := newTestService(newMockStore(done), nil, nil)
	for _, s := range Statuses() {
		_, err := svc.Transition(context.Background(), seller, 1, string(s))
		assert.ErrorIs(t, err, shared.ErrInvalidTransition, "completed -> %s", s)
	}
}

func TestServiceFullLifecycle(t *testing.T) {
	store := newMockStore(draftOrder(7, "s1"))
	svc := newTestService(store, events.NewBus(nil), nil)
	for _, next := range []string{"ordered", "shipping", "paid", "completed"} {
		o, err := svc.Transition(context.Background(), seller, 7, next)
		require.NoError(t, err)
		assert.Equal(t, next, string(o.Status))
	}
	history, err := svc.History(context.Background(), seller, 7)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestServiceListAppliesScopeAndPeriod(t *testing.T) {
	store := newMockStore(draftOrder(1, "s1"), draftOrder(2, "s2"))
	svc := newTestService(store, nil, nil)

	list, err := svc.List(context.Background(), seller, ListRequest{Period: "this_month"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, []string{"s1"}, store.lastList.OwnerIDs)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), store.lastList.From)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), store.lastList.To)

	_, err = svc.List(context.Background(), seller, ListRequest{Period: "fortnight"})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceListResolvesInConfiguredLocation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*60*60)
	// 20:00 UTC on 30 June is already 1 July in Jakarta.
	clock := time.Date(2025, 6, 30, 20, 0, 0, 0, time.UTC)
	store := newMockStore()
	svc := NewService(store, staticScoper{}, nil, nil,
		WithClock(func() time.Time { return clock }),
		WithLocation(jakarta))

	_, err := svc.List(context.Background(), actors.Actor{ID: "root", Role: actors.RoleAdmin}, ListRequest{Period: "today"})
	require.NoError(t, err)
	assert.True(t, store.lastList.From.Equal(time.Date(2025, 7, 1, 0, 0, 0, 0, jakarta)), store.lastList.From)
	assert.True(t, store.lastList.To.Equal(time.Date(2025, 7, 2, 0, 0, 0, 0, jakarta)), store.lastList.To)

	_, err = svc.List(context.Background(), actors.Actor{ID: "root", Role: actors.RoleAdmin}, ListRequest{Period: "this_month"})
	require.NoError(t, err)
	assert.True(t, store.lastList.From.Equal(time.Date(2025, 6, 30, 17, 0, 0, 0, time.UTC)), store.lastList.From)
}

func TestServiceListAllIsUnfiltered(t *testing.T) {
	store := newMockStore(draftOrder(1, "s1"), draftOrder(2, "s2"))
	svc := newTestService(store, nil, nil)

	list, err := svc.List(context.Background(), actors.Actor{ID: "root", Role: actors.RoleAdmin}, ListRequest{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.True(t, store.lastList.AllOwners)
	assert.True(t, store.lastList.From.IsZero())
}

func TestServiceListReadFailureIsTransient(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("timeout")
	_, err := newTestService(store, nil, nil).List(context.Background(), seller, ListRequest{})
	assert.ErrorIs(t, err, shared.ErrTransient)
}

func TestServiceTransitionAsViewerNeedsViewer(t *testing.T) {
	svc := newTestService(newMockStore(draftOrder(1, "s1")), nil, nil)

	_, err := svc.TransitionAsViewer(context.Background(), 1, StatusOrdered)
	assert.ErrorIs(t, err, shared.ErrPermission)

	ctx := actors.ContextWithViewer(context.Background(), seller)
	got, err := svc.TransitionAsViewer(ctx, 1, StatusOrdered)
	require.NoError(t, err)
	assert.Equal(t, StatusOrdered, got.Status)
}
