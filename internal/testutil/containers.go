package testutil

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

const testDBLockID int64 = 731500001

var (
	pgOnce sync.Once
	pgURL  string
	pgErr  error

	redisOnce sync.Once
	redisURL  string
	redisErr  error

	kafkaOnce    sync.Once
	kafkaBrokers []string
	kafkaErr     error
)

// NewPool returns a pool on TEST_DATABASE_URL, or on a postgres:16-alpine
// container started once per test binary. The test is skipped in -short
// mode or when neither is reachable.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		pgOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			var c *postgres.PostgresContainer
			c, pgErr = postgres.Run(ctx,
				"postgres:16-alpine",
				postgres.WithDatabase("marketplace"),
				postgres.WithUsername("postgres"),
				postgres.WithPassword("postgres"),
				postgres.BasicWaitStrategies(),
			)
			if pgErr != nil {
				return
			}
			pgURL, pgErr = c.ConnectionString(ctx, "sslmode=disable")
		})
		if pgErr != nil {
			t.Skipf("skipping Postgres integration test: %v", pgErr)
		}
		url = pgURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse pg config: %v", err)
	}
	cfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skipping Postgres integration test: %v", err)
	}
	t.Cleanup(pool.Close)

	lockTestDB(t, pool)
	return pool
}

// Truncate empties tables and resets their identities.
func Truncate(t *testing.T, pool *pgxpool.Pool, tables string) {
	t.Helper()
	if _, err := pool.Exec(context.Background(), `TRUNCATE `+tables+` RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate %s: %v", tables, err)
	}
}

func NewRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	opts := &redis.Options{Addr: os.Getenv("TEST_REDIS_ADDR")}
	if opts.Addr == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		redisOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			var c *tcredis.RedisContainer
			c, redisErr = tcredis.Run(ctx, "redis:7-alpine")
			if redisErr != nil {
				return
			}
			redisURL, redisErr = c.ConnectionString(ctx)
		})
		if redisErr != nil {
			t.Skipf("skipping Redis integration test: %v", redisErr)
		}
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			t.Fatalf("parse redis url: %v", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		t.Skipf("skipping Redis integration test: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func KafkaBrokers(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Kafka integration test in short mode")
	}
	if addr := os.Getenv("TEST_KAFKA_ADDR"); addr != "" {
		return []string{addr}
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)
	kafkaOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		var c *kafka.KafkaContainer
		c, kafkaErr = kafka.Run(ctx,
			"confluentinc/confluent-local:7.5.0",
			kafka.WithClusterID("marketplace-test"),
		)
		if kafkaErr != nil {
			return
		}
		kafkaBrokers, kafkaErr = c.Brokers(ctx)
	})
	if kafkaErr != nil {
		t.Skipf("skipping Kafka integration test: %v", kafkaErr)
	}
	return kafkaBrokers
}

func lockTestDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire lock conn: %v", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, testDBLockID); err != nil {
		conn.Release()
		t.Fatalf("acquire test lock: %v", err)
	}

	t.Cleanup(func() {
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, testDBLockID)
		conn.Release()
	})
}
