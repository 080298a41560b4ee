package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/k1networth/ugc-offers/internal/bus"
	"github.com/k1networth/ugc-offers/internal/order"
	"github.com/k1networth/ugc-offers/internal/order/repo"
	"github.com/k1networth/ugc-offers/internal/order/repo/postgres"
	"github.com/k1networth/ugc-offers/internal/outbox"
	"github.com/k1networth/ugc-offers/internal/shared/config"
	"github.com/k1networth/ugc-offers/internal/shared/db"
	"github.com/k1networth/ugc-offers/internal/shared/httpx"
	"github.com/k1networth/ugc-offers/internal/shared/kafkax"
	"github.com/k1networth/ugc-offers/internal/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const appName = "order-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(appName, "unknown", "info").Error("config_error", slog.String("err", err.Error()))
		os.Exit(2)
	}
	log := logger.New(appName, cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var (
		orders repo.Repository
		store  outbox.Store
		tx     db.TxManager
		ready  func(context.Context) error
	)
	if cfg.DatabaseURL != "" {
		pg, err := db.OpenPostgres(ctx, db.PostgresConfig{DatabaseURL: cfg.DatabaseURL, Migrate: cfg.DBMigrate})
		if err != nil {
			log.Error("db_open_failed", slog.String("err", err.Error()))
			os.Exit(1)
		}
		defer closeDB(log, pg)

		orders = postgres.New(pg)
		store = outbox.NewPostgresStore(pg)
		tx = db.NewSQLTxManager(pg)
		ready = pg.PingContext
	} else {
		log.Warn("database_url_empty_using_memory")
		orders = repo.NewInMemory()
		store = outbox.NewMemoryStore(nil)
		tx = db.NewMemoryTxManager()
	}

	outboxMetrics := outbox.NewMetrics(reg)
	pub := outbox.NewPublisher(store, orders, outbox.PublisherConfig{
		BatchSize: cfg.Outbox.BatchSize,
		Log:       log,
		Metrics:   outboxMetrics,
	})

	client, closeClient := activationClient(cfg, log)
	defer closeClient()

	proc := outbox.NewProcessor(pub, client, outbox.ProcessorConfig{
		MaxRetries:        cfg.Outbox.MaxRetries,
		ProcessingTimeout: cfg.Outbox.ProcessingTimeout,
		Log:               log,
		Metrics:           outboxMetrics,
	})

	orderH := &order.Handler{Log: log, Service: order.NewService(tx, orders, pub)}
	adminH := &outbox.AdminHandler{Log: log, Processor: proc, Store: store}

	handler := httpx.NewRouter(httpx.RouterConfig{
		Log:            log,
		Metrics:        httpx.NewMetrics(reg),
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Ready:          ready,
	}, append(orderH.Routes(), adminH.Routes()...)...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("http_listen", slog.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_server_error", slog.String("err", err.Error()))
			stop()
		}
	}()

	httpx.WaitAndShutdown(ctx, log, srv, 10*time.Second)
}

// activationClient is used by the operator drain endpoint.
func activationClient(cfg config.Config, log *slog.Logger) (outbox.ActivationClient, func()) {
	if !cfg.Kafka.Enabled {
		log.Warn("kafka_disabled_using_noop")
		return bus.NoopPublisher{}, func() {}
	}
	producer := kafkax.NewProducer(kafkax.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		ClientID:     appName,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	})
	client := bus.NewBreakerPublisher(bus.NewKafkaPublisher(producer, cfg.Kafka.WriteTimeout), bus.BreakerConfig{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		Log:                 log,
	})
	return client, func() {
		if err := producer.Close(); err != nil {
			log.Error("kafka_close_failed", slog.String("err", err.Error()))
		}
	}
}

func closeDB(log *slog.Logger, pg *sql.DB) {
	if err := pg.Close(); err != nil {
		log.Error("db_close_failed", slog.String("err", err.Error()))
	}
}
