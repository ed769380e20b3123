package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/catalog"
	"github.com/ariefcatur/go-inventory-orders/internal/config"
	"github.com/ariefcatur/go-inventory-orders/internal/discount"
	"github.com/ariefcatur/go-inventory-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-inventory-orders/internal/kafka"
	"github.com/ariefcatur/go-inventory-orders/internal/logging"
	"github.com/ariefcatur/go-inventory-orders/internal/memory"
	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/outbox"
	"github.com/ariefcatur/go-inventory-orders/internal/payment"
	"github.com/ariefcatur/go-inventory-orders/internal/postgres"
	"github.com/ariefcatur/go-inventory-orders/internal/redisx"
	"github.com/ariefcatur/go-inventory-orders/internal/telemetry"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("Failed to set up telemetry", zap.Error(err))
	}

	// Store
	var store orders.Store
	closeStore := func() {}
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		store = memory.NewStore()
	default:
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("Failed to connect to postgres", zap.Error(err))
		}
		closeStore = db.Close
		store = postgres.NewStore(db)
	}

	// Redis
	var (
		rdb         *redis.Client
		statusCache orders.StatusCache
		idempotency httpx.IdempotencyStore
	)
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		if err := redisx.Ping(ctx, rdb); err != nil {
			logger.Fatal("Failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		statusCache = redisx.NewStatusCache(rdb)
		idempotency = redisx.NewIdempotency(rdb)
	}

	queue := payment.NewQueue()

	svcOpts := []orders.Option{orders.WithRetry(cfg.OrderMaxAttempts, cfg.OrderRetryBackoff)}
	payOpts := []payment.Option{
		payment.WithDelay(cfg.PaymentDelay),
		payment.WithSuccessRate(cfg.PaymentSuccessRate),
	}
	if statusCache != nil {
		svcOpts = append(svcOpts, orders.WithStatusCache(statusCache))
		payOpts = append(payOpts, payment.WithStatusCache(statusCache))
	}
	orderSvc := orders.NewService(store, discount.NewFactory(), queue,
		logger.With(zap.String("component", "orders")), svcOpts...)

	// Outbox sinks. With Kafka configured, payments are triggered by consuming
	// order.created; otherwise the trigger sits next to the log sink.
	trigger := payment.TriggerPublisher{Queue: queue, Logger: logger.With(zap.String("component", "payment-trigger"))}
	var (
		publisher outbox.Publisher
		producer  *kafkax.Publisher
		consumer  *kafkax.Consumer
	)
	if len(cfg.KafkaBrokers) > 0 {
		producer = kafkax.NewPublisher(cfg.KafkaBrokers, cfg.ServiceName, logger.With(zap.String("component", "kafka-producer")))
		consumer = kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ServiceName+"-payments", orders.TopicOrderCreated, 1,
			logger.With(zap.String("component", "kafka-consumer")))
		publisher = producer
	} else {
		publisher = outbox.MultiPublisher{outbox.LogPublisher{Logger: logger.With(zap.String("component", "outbox-log"))}, trigger}
	}

	outboxWorker := outbox.NewWorker(store.Outbox(), publisher, logger.With(zap.String("component", "outbox")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithMaxRetries(cfg.OutboxMaxRetries))
	paymentWorker := payment.NewWorker(queue, store, logger.With(zap.String("component", "payment")), payOpts...)

	if _, err := paymentWorker.Requeue(ctx); err != nil {
		logger.Error("Failed to requeue pending payments", zap.Error(err))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); outboxWorker.Run(ctx) }()
	go func() { defer wg.Done(); paymentWorker.Run(ctx) }()
	if consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Start(ctx, trigger.Publish); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP
	router := httpx.NewRouter(logger.With(zap.String("component", "http")))
	(&httpx.ProductsHandler{
		Service: catalog.NewService(store.Products(), logger.With(zap.String("component", "catalog"))),
		Logger:  logger,
	}).Register(router)
	(&httpx.OrdersHandler{
		Service:     orderSvc,
		Idempotency: idempotency,
		Logger:      logger,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := srv.Shutdown(ctx2); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	cancel()
	queue.Close()
	wg.Wait()

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("Failed to close kafka producer", zap.Error(err))
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	closeStore()
	if err := shutdownTelemetry(ctx2); err != nil {
		logger.Warn("Failed to flush telemetry", zap.Error(err))
	}
	logger.Info("Stopped")
}
