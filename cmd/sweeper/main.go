package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/postgres"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.ServiceName+"-sweeper")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Store != config.StorePostgres {
		// the api process sweeps its own in-memory store
		logger.Fatal("sweeper needs STORE=postgres", zap.String("store", cfg.Store))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	store := &postgres.Store{DB: db, LockTimeout: cfg.LockTimeout}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	events := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 256, logger)
	events.Start(context.Background())
	alerts := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicItemAlerts, 64, logger)
	alerts.Start(context.Background())

	engine := orders.NewEngine(store,
		orders.WithEvents(orders.FanOut(
			kafkax.OrderEvents{Pub: events, Service: cfg.ServiceName + "-sweeper", Log: logger},
			redisx.ViewCache{R: rdb},
		)),
		orders.WithLogger(logger),
	)

	sw := &sweeper.Sweeper{
		Orders:    engine,
		Items:     store,
		Alerts:    kafkax.ItemAlerts{Pub: alerts, Service: cfg.ServiceName + "-sweeper"},
		Lock:      redisx.Locker{R: rdb},
		Interval:  cfg.SweepInterval,
		MaxAge:    cfg.PendingMaxAge,
		AlertDays: cfg.ExpiryAlertDays,
		Log:       logger,
	}
	logger.Info("sweeper started",
		zap.Duration("interval", cfg.SweepInterval),
		zap.Duration("pending_max_age", cfg.PendingMaxAge),
		zap.Int("alert_days", cfg.ExpiryAlertDays))

	if err := sw.Run(ctx); err != nil {
		logger.Error("sweeper exited", zap.Error(err))
	}

	logger.Info("shutting down sweeper")
	events.Close()
	alerts.Close()
	events.WaitClosed()
	alerts.WaitClosed()
}
