package revenue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/events"
	"github.com/odyssey-erp/salespulse/internal/orders"
	"github.com/odyssey-erp/salespulse/internal/period"
	"github.com/odyssey-erp/salespulse/internal/shared"
)

type mockOrders struct {
	mu      sync.Mutex
	list    []orders.Order
	err     error
	calls   int32
	filters []orders.ListFilter
	gate    chan struct{}
}

func (m *mockOrders) ListOrders(ctx context.Context, filter orders.ListFilter) ([]orders.Order, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters = append(m.filters, filter)
	if m.err != nil {
		return nil, m.err
	}
	scope := actors.Scope{All: filter.AllOwners, IDs: filter.OwnerIDs}
	var out []orders.Order
	for _, o := range m.list {
		if scope.Contains(o.OwnerID) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

type mockLookup struct {
	actors    map[string]actors.Actor
	customers map[string]actors.Customer
	actorErr  error
	calls     int32
}

func (m *mockLookup) LookupActors(ctx context.Context, ids []string) (map[string]actors.Actor, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.actorErr != nil {
		return nil, m.actorErr
	}
	return m.actors, nil
}

func (m *mockLookup) LookupCustomers(ctx context.Context, ids []string) (map[string]actors.Customer, error) {
	atomic.AddInt32(&m.calls, 1)
	return m.customers, nil
}

type scoper struct{}

func (scoper) Scope(ctx context.Context, viewer actors.Actor) (actors.Scope, error) {
	switch viewer.Role {
	case actors.RoleSale:
		return actors.Scope{IDs: []string{viewer.ID}}, nil
	case actors.RoleSaleAdmin:
		return actors.Scope{IDs: []string{viewer.ID, "s1"}}, nil
	case actors.RoleAdmin:
		return actors.Scope{All: true}, nil
	default:
		return actors.Scope{}, &shared.PermissionError{Role: string(viewer.Role), Action: "view sales scope"}
	}
}

type reportRecorder struct {
	mu   sync.Mutex
	hits []bool
}

func (r *reportRecorder) ObserveReport(policy string, cached bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits = append(r.hits, cached)
}

var (
	reportNow = time.Date(2025, 3, 20, 10, 30, 0, 0, time.UTC)
	admin     = actors.Actor{ID: "root", Role: actors.RoleAdmin}
	sam       = actors.Actor{ID: "s1", Name: "Sam", Role: actors.RoleSale}
)

func fixtureOrders() []orders.Order {
	return []orders.Order{
		order(1, "s1", "c1", orders.StatusOrdered, reportNow.AddDate(0, 0, -3), item(1, "p1", "cat1", 2, 100)),
		order(2, "s2", "c2", orders.StatusCompleted, reportNow.AddDate(0, 0, -2), item(2, "p2", "cat1", 1, 500)),
		order(3, "s1", "c1", orders.StatusCancelled, reportNow.AddDate(0, 0, -1), item(3, "p1", "cat1", 9, 100)),
	}
}

func newReportService(t *testing.T, reader *mockOrders, lookup *mockLookup, withCache bool) (*Service, *reportRecorder, *miniredis.Miniredis) {
	t.Helper()
	var (
		cache *Cache
		mr    *miniredis.Miniredis
	)
	if withCache {
		mr = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		cache = NewCache(client, time.Minute)
	}
	rec := &reportRecorder{}
	svc := NewService(reader, scoper{}, lookup, cache,
		WithLocation(time.UTC),
		WithClock(func() time.Time { return reportNow }),
		WithRecorder(rec),
	)
	return svc, rec, mr
}

func TestReportFunnelForSale(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	lookup := &mockLookup{}
	svc, _, _ := newReportService(t, reader, lookup, false)

	res, err := svc.Report(context.Background(), ReportRequest{Viewer: sam, Period: period.ThisMonth, Policy: PolicyFunnel})
	require.NoError(t, err)

	assert.True(t, res.TotalRevenue.Equal(dec(200)), "cancelled and foreign orders excluded, got %s", res.TotalRevenue)
	assert.Equal(t, 1, res.OrderCount)
	assert.Empty(t, res.BySale)
	assert.Zero(t, atomic.LoadInt32(&lookup.calls), "no directory reads for non-admin viewers")

	require.Len(t, reader.filters, 1)
	assert.Equal(t, []string{"s1"}, reader.filters[0].OwnerIDs)
	assert.Equal(t, []orders.Status{orders.StatusCancelled}, reader.filters[0].ExcludeStatuses)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), reader.filters[0].From)

	assert.Equal(t, "s1", res.Meta.ViewerID)
	assert.Equal(t, period.ThisMonth, res.Meta.Period)
	assert.False(t, res.Meta.Cached)
}

func TestReportCompletedOnlyForAdmin(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	lookup := &mockLookup{
		actors:    map[string]actors.Actor{"s2": {ID: "s2", Name: "Sue", Role: actors.RoleSale}},
		customers: map[string]actors.Customer{"c2": {ID: "c2", Name: "Globex"}},
	}
	svc, _, _ := newReportService(t, reader, lookup, false)

	res, err := svc.Report(context.Background(), ReportRequest{Viewer: admin, Period: period.ThisMonth, Policy: PolicyCompletedOnly})
	require.NoError(t, err)
	assert.True(t, res.TotalRevenue.Equal(dec(500)))
	require.Len(t, res.BySale, 1)
	assert.Equal(t, "Sue", res.BySale[0].Label)
	require.Len(t, res.ByCustomer, 1)
	assert.Equal(t, "Globex", res.ByCustomer[0].Label)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lookup.calls))
}

func TestReportCustomerRejectedBeforeRead(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, false)

	_, err := svc.Report(context.Background(), ReportRequest{Viewer: actors.Actor{ID: "c1", Role: actors.RoleCustomer}})
	assert.ErrorIs(t, err, shared.ErrPermission)
	assert.Zero(t, atomic.LoadInt32(&reader.calls))
}

func TestReportValidatesTokens(t *testing.T) {
	svc, _, _ := newReportService(t, &mockOrders{}, &mockLookup{}, false)

	_, err := svc.Report(context.Background(), ReportRequest{Viewer: sam, Period: "fortnight"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Report(context.Background(), ReportRequest{Viewer: sam, Policy: "gross"})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Report(context.Background(), ReportRequest{Viewer: actors.Actor{ID: "x", Role: "manager"}})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestReportReadFailureAborts(t *testing.T) {
	reader := &mockOrders{err: errors.New("connection reset")}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, false)

	_, err := svc.Report(context.Background(), ReportRequest{Viewer: sam})
	assert.ErrorIs(t, err, shared.ErrTransient)
}

func TestReportDirectoryFailureAborts(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	lookup := &mockLookup{actorErr: errors.New("timeout")}
	svc, _, _ := newReportService(t, reader, lookup, false)

	res, err := svc.Report(context.Background(), ReportRequest{Viewer: admin})
	assert.ErrorIs(t, err, shared.ErrTransient)
	assert.True(t, res.TotalRevenue.IsZero(), "no partial result")
}

func TestReportCachesAndInvalidates(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	svc, rec, _ := newReportService(t, reader, &mockLookup{}, true)
	ctx := context.Background()
	req := ReportRequest{Viewer: sam, Period: period.ThisMonth, Policy: PolicyFunnel}

	first, err := svc.Report(ctx, req)
	require.NoError(t, err)
	second, err := svc.Report(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
	assert.False(t, first.Meta.Cached)
	assert.True(t, second.Meta.Cached)
	assert.True(t, first.TotalRevenue.Equal(second.TotalRevenue))
	require.Len(t, second.ByProduct, 1)
	assert.Equal(t, int64(2), second.ByProduct[0].Quantity)
	assert.Equal(t, []bool{false, true}, rec.hits)

	bus := events.NewBus(nil)
	sub := svc.Subscribe(bus)
	defer sub.Unsubscribe()
	bus.Publish(ctx, events.Event{Topic: events.TopicOrderStatusChanged})

	third, err := svc.Report(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Meta.Cached)
	assert.Equal(t, int32(2), atomic.LoadInt32(&reader.calls))
}

func TestReportCacheSeparatesViewers(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, true)
	ctx := context.Background()

	a, err := svc.Report(ctx, ReportRequest{Viewer: sam})
	require.NoError(t, err)
	b, err := svc.Report(ctx, ReportRequest{Viewer: actors.Actor{ID: "s2", Role: actors.RoleSale}})
	require.NoError(t, err)
	assert.False(t, a.TotalRevenue.Equal(b.TotalRevenue))
	assert.Equal(t, int32(2), atomic.LoadInt32(&reader.calls))
}

func TestReportDegradesWhenRedisDown(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	svc, _, mr := newReportService(t, reader, &mockLookup{}, true)
	mr.Close()

	res, err := svc.Report(context.Background(), ReportRequest{Viewer: sam})
	require.NoError(t, err)
	assert.True(t, res.TotalRevenue.Equal(dec(200)))
}

func TestReportConcurrentRequestsShareBuild(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders(), gate: make(chan struct{})}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, false)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Report(context.Background(), ReportRequest{Viewer: sam})
		}(i)
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&reader.calls) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(reader.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].TotalRevenue.Equal(dec(200)))
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&reader.calls), int32(callers))
}

func TestReportSharedBuildSurvivesFirstCallerLeaving(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders(), gate: make(chan struct{})}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, true)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Report(firstCtx, ReportRequest{Viewer: sam})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&reader.calls) == 1 }, time.Second, 5*time.Millisecond)

	type outcome struct {
		res Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := svc.Report(context.Background(), ReportRequest{Viewer: sam})
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(reader.gate)
	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.res.TotalRevenue.Equal(dec(200)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.calls))
}

func TestReportFiltersOnExactNow(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	now := reportNow.Add(42 * time.Second)
	svc := NewService(reader, scoper{}, &mockLookup{}, nil,
		WithLocation(time.UTC),
		WithClock(func() time.Time { return now }),
	)

	res, err := svc.Report(context.Background(), ReportRequest{Viewer: sam, Period: period.Last7Days})
	require.NoError(t, err)
	require.Len(t, reader.filters, 1)
	assert.True(t, reader.filters[0].To.Equal(now), "rolling interval ends at the exact clock")
	assert.True(t, res.Meta.Interval.End.Equal(now))
}

func TestRefreshPublishesToBoard(t *testing.T) {
	reader := &mockOrders{list: fixtureOrders()}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, false)
	req := ReportRequest{Viewer: sam, Period: period.ThisMonth, Policy: PolicyFunnel}

	res, applied, err := svc.Refresh(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, applied)

	latest, stale, ok := svc.Board().Latest(BoardKey(req))
	require.True(t, ok)
	assert.False(t, stale)
	assert.True(t, latest.TotalRevenue.Equal(res.TotalRevenue))

	require.NoError(t, svc.Invalidate(context.Background()))
	_, stale, ok = svc.Board().Latest(BoardKey(req))
	assert.True(t, ok)
	assert.True(t, stale)
}

func TestRefreshFailureLeavesBoard(t *testing.T) {
	reader := &mockOrders{err: errors.New("down")}
	svc, _, _ := newReportService(t, reader, &mockLookup{}, false)
	req := ReportRequest{Viewer: sam, Period: period.ThisMonth, Policy: PolicyFunnel}

	_, applied, err := svc.Refresh(context.Background(), req)
	assert.ErrorIs(t, err, shared.ErrTransient)
	assert.False(t, applied)
	_, _, ok := svc.Board().Latest(BoardKey(req))
	assert.False(t, ok)
}
