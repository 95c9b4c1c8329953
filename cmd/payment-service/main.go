package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmehra2102/marketplace-core/internal/payment/application"
	paymenthttp "github.com/dmehra2102/marketplace-core/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/marketplace-core/internal/payment/infrastructure/kafka"
	paymentmemory "github.com/dmehra2102/marketplace-core/internal/payment/infrastructure/memory"
	paymentpg "github.com/dmehra2102/marketplace-core/internal/payment/infrastructure/postgres"
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
	cfg, err := config.Load("payment-service")
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Service, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.Error("payment-service stopped", "err", err)
		os.Exit(1)
	}
	log.Info("payment-service shutdown")
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
		repo   application.PaymentRepository
		events event.Publisher
	)
	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := platform.OpenPostgres(ctx, log, cfg, paymentpg.Migrations(), paymentpg.MigrationLockID)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = paymentpg.NewRepository(log, pool)
		if events, err = platform.Publisher(gctx, g, log, cfg, pool, writer, event.TopicPayment); err != nil {
			return err
		}
	default:
		log.Warn("payments kept in memory, they are lost on restart")
		repo = paymentmemory.NewRepository()
		if events, err = platform.Publisher(gctx, g, log, cfg, nil, writer, event.TopicPayment); err != nil {
			return err
		}
	}

	svc := application.NewService(log, repo, events, clock.NewSystem(),
		application.WithDepositTTL(cfg.Payment.VirtualAccountTTL))

	consumer := paymentkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.ConsumerGroup, paymentkafka.NewOrderEventHandler(log, svc), platform.Dedupe(rdb, cfg), writer)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return svc.RunExpirySweep(gctx, cfg.Payment.SweepInterval) })

	platform.ServeHTTP(gctx, g, log, cfg.HTTPAddr, platform.NewRouter(log, cfg.Service, paymenthttp.NewHandler(log, svc).Routes()))

	return g.Wait()
}
