// Package platform holds the process wiring every service binary shares:
// the HTTP router, the event publisher and the consumer dedupe store.
package platform

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/marketplace-core/pkg/config"
	"github.com/dmehra2102/marketplace-core/pkg/database"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/eventbus"
	"github.com/dmehra2102/marketplace-core/pkg/httpx"
	"github.com/dmehra2102/marketplace-core/pkg/idempotency"
	"github.com/dmehra2102/marketplace-core/pkg/metrics"
	"github.com/dmehra2102/marketplace-core/pkg/outbox"
	"github.com/dmehra2102/marketplace-core/pkg/shutdown"
)

const drainTimeout = 10 * time.Second

// NewRouter mounts api behind the shared middleware, with /healthz and
// /metrics next to it.
func NewRouter(log *slog.Logger, service string, api http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Tracing(service), httpx.RequestLogger(log), metrics.Middleware)
	r.NotFound(httpx.NotFoundHandler().ServeHTTP)
	r.Get("/healthz", httpx.HealthHandler)
	r.Handle("/metrics", metrics.Handler())
	r.Mount("/", api)
	return r
}

// ServeHTTP adds the HTTP server to g. It drains when ctx ends.
func ServeHTTP(ctx context.Context, g *errgroup.Group, log *slog.Logger, addr string, h http.Handler) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	g.Go(func() error {
		log.Info("http server listening", "addr", addr)
		return shutdown.ServeHTTP(ctx, srv, drainTimeout)
	})
}

// OpenPostgres connects and applies the service's embedded migrations.
func OpenPostgres(ctx context.Context, log *slog.Logger, cfg config.Config, migrations fs.FS, lockID int64) (*pgxpool.Pool, error) {
	pool, err := database.Connect(ctx, cfg.PostgresURL, cfg.DBMaxWait, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool, migrations, lockID); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return pool, nil
}

// Publisher returns where the service's events go. In outbox mode events are
// written in the caller's transaction and a relay started on g ships them;
// otherwise they are written to Kafka directly.
func Publisher(ctx context.Context, g *errgroup.Group, log *slog.Logger, cfg config.Config, pool *pgxpool.Pool, producer outbox.Producer, defaultTopic string) (event.Publisher, error) {
	if cfg.EventsMode != config.EventsOutbox || pool == nil {
		log.Info("publishing events directly", "mode", cfg.EventsMode)
		return eventbus.NewKafkaPublisher(log, producer, cfg.Service), nil
	}

	store := outbox.NewPGStore(log, pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("outbox schema: %w", err)
	}
	relay := outbox.NewRelay(log, store, outbox.NewDispatcher(log, producer, defaultTopic), cfg.Service+"-relay",
		outbox.WithBatchSize(cfg.Relay.BatchSize),
		outbox.WithInterval(cfg.Relay.Interval),
		outbox.WithLease(cfg.Relay.Lease),
		outbox.WithMaxRetries(cfg.Relay.MaxRetries),
	)
	g.Go(func() error { return relay.Run(ctx) })
	return outbox.NewPublisher(store, pool, cfg.Service), nil
}

// Dedupe remembers consumed event ids for the service's consumer group.
func Dedupe(rdb redis.UniversalClient, cfg config.Config) *idempotency.Store {
	return idempotency.NewStore(rdb, cfg.ConsumerGroup, cfg.IdempotencyTTL)
}
