package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/marketplace-core/internal/cart"
	"github.com/dmehra2102/marketplace-core/internal/compensation"
	"github.com/dmehra2102/marketplace-core/internal/inventory/application"
	invgrpc "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/grpc"
	invhttp "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/http"
	invkafka "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/kafka"
	invmemory "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/memory"
	invpg "github.com/dmehra2102/marketplace-core/internal/inventory/infrastructure/postgres"
	"github.com/dmehra2102/marketplace-core/internal/platform"
	"github.com/dmehra2102/marketplace-core/pkg/clock"
	"github.com/dmehra2102/marketplace-core/pkg/config"
	"github.com/dmehra2102/marketplace-core/pkg/event"
	"github.com/dmehra2102/marketplace-core/pkg/eventbus"
	"github.com/dmehra2102/marketplace-core/pkg/logging"
	"github.com/dmehra2102/marketplace-core/pkg/shutdown"
	"github.com/dmehra2102/marketplace-core/pkg/tracing"
)

func main() {
	cfg, err := config.Load("inventory-service")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("inventory-service stopped", "err", err)
		os.Exit(1)
	}
	log.Info("inventory-service shutdown")
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Service, cfg.OTelEndpoint, log)
	if err != nil {
		return fmt.Errorf("otel init: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	writer := eventbus.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	g, gctx := errgroup.WithContext(ctx)

	var (
		repo   application.Repository
		pinger invgrpc.Pinger
		events event.Publisher
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := platform.OpenPostgres(ctx, log, cfg, invpg.Migrations(), invpg.MigrationLockID)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo, pinger = invpg.NewRepository(log, pool), pool
		if events, err = platform.Publisher(gctx, g, log, cfg, pool, writer, event.TopicInventory); err != nil {
			return err
		}
	default:
		log.Warn("ledger kept in memory, stock is lost on restart")
		repo = invmemory.NewRepository(nil)
		if events, err = platform.Publisher(gctx, g, log, cfg, nil, writer, event.TopicInventory); err != nil {
			return err
		}
	}

	ledger := application.NewLedger(log, repo)
	compensator := compensation.NewHandler(log, ledger, cart.NewStore(rdb), events, clock.NewSystem())
	consumer := invkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.ConsumerGroup, compensator, platform.Dedupe(rdb, cfg), writer)
	g.Go(func() error { return consumer.Run(gctx) })

	health := invgrpc.NewServer(log, pinger)
	g.Go(func() error { return health.Run(gctx, cfg.GRPCAddr) })

	platform.ServeHTTP(gctx, g, log, cfg.HTTPAddr, platform.NewRouter(log, cfg.Service, invhttp.NewHandler(log, ledger).Routes()))

	return g.Wait()
}
