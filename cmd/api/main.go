package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-pos-orders/internal/kafka"
	"github.com/ariefcatur/go-pos-orders/internal/memstore"
	"github.com/ariefcatur/go-pos-orders/internal/metrics"
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
	logger, err := config.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("api exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var store orders.Store
	switch cfg.Store {
	case config.StorePostgres:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			return err
		}
		store = &postgres.Store{DB: db, LockTimeout: cfg.LockTimeout}
	default:
		logger.Warn("using in-memory store; data is lost on exit")
		store = memstore.New(memstore.WithLockTimeout(cfg.LockTimeout))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// the producer outlives ctx so events from in-flight requests still flush
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderEvents, 1024, logger)
	prod.Start(context.Background())

	rec := metrics.New()
	cache := redisx.ViewCache{R: rdb}
	engine := orders.NewEngine(store,
		orders.WithEvents(orders.FanOut(
			kafkax.OrderEvents{Pub: prod, Service: cfg.ServiceName, Log: logger},
			cache,
		)),
		orders.WithObserver(rec),
		orders.WithLogger(logger),
	)

	router := httpx.NewRouter(logger, rec, cfg.RequestTimeout+time.Second)
	h := &httpx.OrdersHandler{
		Engine:  engine,
		Cache:   cache,
		Idem:    redisx.Idempotency{R: rdb, Claim: 2 * cfg.RequestTimeout},
		Log:     logger,
		Timeout: cfg.RequestTimeout,
	}
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if cfg.Store == config.StoreMemory {
		// nothing outside this process can see the orders, so sweep here
		alerts := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicItemAlerts, 64, logger)
		alerts.Start(context.Background())
		defer func() {
			alerts.Close()
			alerts.WaitClosed()
		}()
		sw := &sweeper.Sweeper{
			Orders:    engine,
			Items:     store,
			Alerts:    kafkax.ItemAlerts{Pub: alerts, Service: cfg.ServiceName},
			Interval:  cfg.SweepInterval,
			MaxAge:    cfg.PendingMaxAge,
			AlertDays: cfg.ExpiryAlertDays,
			Log:       logger.Named("sweeper"),
			OnExpired: rec.OrdersExpired,
		}
		g.Go(func() error { return sw.Run(gctx) })
	}

	err := g.Wait()
	prod.Close()
	prod.WaitClosed()
	return err
}
