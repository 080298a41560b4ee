package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/k1networth/ugc-offers/internal/bus"
	"github.com/k1networth/ugc-offers/internal/order/repo/postgres"
	"github.com/k1networth/ugc-offers/internal/outbox"
	"github.com/k1networth/ugc-offers/internal/shared/config"
	"github.com/k1networth/ugc-offers/internal/shared/db"
	"github.com/k1networth/ugc-offers/internal/shared/httpx"
	"github.com/k1networth/ugc-offers/internal/shared/kafkax"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/k1networth/ugc-offers/internal/shared/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

const appName = "outbox-processor"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(appName, "unknown", "info").Error("config_error", slog.String("err", err.Error()))
		os.Exit(2)
	}
	log := logger.New(appName, cfg.AppEnv, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		log.Error("config_error", slog.String("err", db.ErrNoDatabaseURL.Error()))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: cfg.DatabaseURL, Migrate: cfg.DBMigrate})
	if err != nil {
		log.Error("db_open_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer func() {
		if err := pg.Close(); err != nil {
			log.Error("db_close_failed", slog.String("err", err.Error()))
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := outbox.NewMetrics(reg)

	var client outbox.ActivationClient = bus.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer := kafkax.NewProducer(kafkax.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			ClientID:     appName,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		defer func() { _ = producer.Close() }()
		client = bus.NewBreakerPublisher(bus.NewKafkaPublisher(producer, cfg.Kafka.WriteTimeout), bus.BreakerConfig{
			ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
			Log:                 log,
		})
	} else {
		log.Warn("kafka_disabled_using_noop")
	}

	var locker outbox.Locker
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("redis_ping_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		locker = redislock.New(rdb, cfg.Redis.LockTTL)
		log.Info("drain_lock_enabled", slog.String("key", cfg.Redis.LockKey))
	}

	pub := outbox.NewPublisher(outbox.NewPostgresStore(pg), postgres.New(pg), outbox.PublisherConfig{
		BatchSize: cfg.Outbox.BatchSize,
		Log:       log,
		Metrics:   metrics,
	})
	proc := outbox.NewProcessor(pub, client, outbox.ProcessorConfig{
		PollInterval:      cfg.Outbox.PollInterval,
		MaxRetries:        cfg.Outbox.MaxRetries,
		ProcessingTimeout: cfg.Outbox.ProcessingTimeout,
		Locker:            locker,
		LockKey:           cfg.Redis.LockKey,
		Log:               log,
		Metrics:           metrics,
	})

	proc.Start(ctx)
	httpx.ServeMetrics(ctx, log, cfg.MetricsAddr, reg)
	proc.Stop()
}
