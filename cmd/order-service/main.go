package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	orchestrator "github.com/dmehra2102/marketplace-core/internal/orchestrator/application"
	"github.com/dmehra2102/marketplace-core/internal/order/application"
	"github.com/dmehra2102/marketplace-core/internal/order/domain"
	orderhttp "github.com/dmehra2102/marketplace-core/internal/order/infrastructure/http"
	"github.com/dmehra2102/marketplace-core/internal/order/infrastructure/inventory"
	orderkafka "github.com/dmehra2102/marketplace-core/internal/order/infrastructure/kafka"
	ordermemory "github.com/dmehra2102/marketplace-core/internal/order/infrastructure/memory"
	orderpg "github.com/dmehra2102/marketplace-core/internal/order/infrastructure/postgres"
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
	cfg, err := config.Load("order-service")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("order-service stopped", "err", err)
		os.Exit(1)
	}
	log.Info("order-service shutdown")
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
		repo   application.OrderRepository
		events event.Publisher
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := platform.OpenPostgres(ctx, log, cfg, orderpg.Migrations(), orderpg.MigrationLockID)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = orderpg.NewRepository(log, pool)
		if events, err = platform.Publisher(gctx, g, log, cfg, pool, writer, event.TopicOrder); err != nil {
			return err
		}
	default:
		log.Warn("orders kept in memory, they are lost on restart")
		repo = ordermemory.NewRepository()
		if events, err = platform.Publisher(gctx, g, log, cfg, nil, writer, event.TopicOrder); err != nil {
			return err
		}
	}

	clk := clock.NewSystem()
	stock := inventory.NewClient(log, cfg.InventoryURL)
	coordinator := orchestrator.NewCoordinator(log, stock, events, clk)
	pricing := domain.Pricing{
		PointRateBps:     cfg.Order.PointRateBps,
		DeliveryFee:      cfg.Order.DeliveryFee,
		FreeDeliveryFrom: cfg.Order.FreeDeliveryFrom,
	}
	svc := application.NewService(log, repo, coordinator, events, clk, pricing,
		application.WithPendingTTL(cfg.Order.PendingTTL))

	consumer := orderkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.ConsumerGroup, orderkafka.NewPaymentHandler(log, svc), platform.Dedupe(rdb, cfg), writer)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return svc.RunExpirySweep(gctx, cfg.Order.SweepInterval) })

	platform.ServeHTTP(gctx, g, log, cfg.HTTPAddr, platform.NewRouter(log, cfg.Service, orderhttp.NewHandler(log, svc).Routes()))

	return g.Wait()
}
