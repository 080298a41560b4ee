package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/k1networth/ugc-offers/internal/dispatch"
	"github.com/k1networth/ugc-offers/internal/order/repo/postgres"
	"github.com/k1networth/ugc-offers/internal/shared/config"
	"github.com/k1networth/ugc-offers/internal/shared/db"
	"github.com/k1networth/ugc-offers/internal/shared/httpx"
	"github.com/k1networth/ugc-offers/internal/shared/kafkax"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/k1networth/ugc-offers/internal/shared/retry"
	"github.com/k1networth/ugc-offers/internal/user"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const appName = "offer-consumer"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(appName, "unknown", "info").Error("config_error", slog.String("err", err.Error()))
		os.Exit(2)
	}
	log := logger.New(appName, cfg.AppEnv, cfg.LogLevel)

	if !cfg.Kafka.Enabled {
		log.Info("kafka_disabled_consumer_exit")
		return
	}
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

	dlqProducer := kafkax.NewProducer(kafkax.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.DLQTopic,
		ClientID:     appName,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	})
	defer func() { _ = dlqProducer.Close() }()

	var sender dispatch.Sender
	if cfg.Telegram.BotToken != "" {
		sender = dispatch.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.APIURL, nil)
	} else {
		log.Warn("telegram_token_empty_using_log_sender")
		sender = dispatch.NewLogSender(log)
	}

	d := dispatch.NewDispatcher(
		postgres.New(pg),
		user.NewPostgresDirectory(pg),
		sender,
		dispatch.NewKafkaDeadLetter(dlqProducer, cfg.Kafka.WriteTimeout, log),
		dispatch.NewPostgresLog(pg),
		dispatch.Config{
			Retry:   retry.Policy{MaxAttempts: cfg.Kafka.SendRetries, Delay: cfg.Kafka.SendRetryDelay},
			Log:     log,
			Metrics: dispatch.NewMetrics(reg),
		},
	)

	source := kafkax.NewConsumer(kafkax.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		GroupID:     cfg.Kafka.GroupID,
		StartOffset: cfg.Kafka.StartOffset,
	})
	defer func() { _ = source.Close() }()

	go httpx.ServeMetrics(ctx, log, cfg.MetricsAddr, reg)

	log.Info("consumer_start",
		slog.String("topic", source.Topic()),
		slog.String("group_id", source.GroupID()),
		slog.String("dlq_topic", dlqProducer.Topic()),
	)
	_ = dispatch.NewConsumer(source, d, dispatch.ConsumerConfig{Log: log}).Run(ctx)
}
