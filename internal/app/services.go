package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/salespulse/internal/actors"
	"github.com/odyssey-erp/salespulse/internal/auth"
	"github.com/odyssey-erp/salespulse/internal/events"
	"github.com/odyssey-erp/salespulse/internal/observability"
	"github.com/odyssey-erp/salespulse/internal/optimistic"
	"github.com/odyssey-erp/salespulse/internal/orders"
	"github.com/odyssey-erp/salespulse/internal/revenue"
)

// Services is the object graph shared by the server, worker and CLI. The
// event bus is owned here and handed to every publisher and subscriber.
type Services struct {
	Bus         *events.Bus
	Actors      *actors.Repository
	Scopes      *actors.ScopeResolver
	OrdersRepo  *orders.Repository
	Orders      *orders.Service
	Coordinator *optimistic.Coordinator
	Reports     *revenue.Service
	Verifier    *auth.Verifier
	Metrics     *observability.Metrics

	logger *slog.Logger
	subs   []*events.Subscription
}

// NewServices wires domain services over the given pool and Redis client.
// redisClient may be nil, in which case reports are built without a cache.
func NewServices(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics) (*Services, error) {
	if cfg == nil {
		return nil, errors.New("app: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger)
	actorRepo := actors.NewRepository(pool)
	scopes := actors.NewScopeResolver(actorRepo)
	orderRepo := orders.NewRepository(pool)
	orderService := orders.NewService(orderRepo, scopes, bus, logger,
		orders.WithLocation(loc),
		orders.WithRecorder(metrics))

	coordinator := optimistic.New(orderService.TransitionAsViewer,
		optimistic.WithLogger(logger),
		optimistic.WithRecorder(metrics),
		optimistic.WithMaxAge(cfg.ReportCacheTTL))

	var reportCache *revenue.Cache
	if redisClient != nil {
		reportCache = revenue.NewCache(redisClient, cfg.ReportCacheTTL)
	}
	reports := revenue.NewService(orderRepo, scopes, actorRepo, reportCache,
		revenue.WithLocation(loc),
		revenue.WithLogger(logger),
		revenue.WithRecorder(metrics))

	verifier, err := auth.NewVerifier(cfg.JWTSecret, actorRepo, logger)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Bus:         bus,
		Actors:      actorRepo,
		Scopes:      scopes,
		OrdersRepo:  orderRepo,
		Orders:      orderService,
		Coordinator: coordinator,
		Reports:     reports,
		Verifier:    verifier,
		Metrics:     metrics,
		logger:      logger,
	}
	s.subs = append(s.subs, coordinator.Watch(bus), reports.Subscribe(bus))
	return s, nil
}

// Start subscribes to cache bumps published by other processes. The
// subscription ends with ctx.
func (s *Services) Start(ctx context.Context) {
	if err := s.Reports.Watch(ctx); err != nil {
		s.logger.Warn("report invalidation listener", slog.Any("error", err))
	}
}

// Close removes bus subscriptions.
func (s *Services) Close() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
}
