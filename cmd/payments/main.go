package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/tm-acme-shop/acme-shop-payments-service/internal/clients"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/config"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/events"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/handlers"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/metrics"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/repository"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/server"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/service"
	"github.com/tm-acme-shop/acme-shop-payments-service/internal/tracing"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.ServiceName, cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.ServiceName, cfg.Features.EnableTracing, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("Failed to set up tracing", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]handlers.ReadinessCheck{}

	var store repository.OrderStore
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory order store; orders are lost on restart")
		store = repository.NewMemoryOrderStore(logging.Named(logger, "store"))
	default:
		db, err := initDatabase(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		checks["database"] = db.PingContext
		store = repository.NewPostgresOrderStore(db, logging.Named(logger, "store"))
	}

	if cfg.Features.EnableOrderCaching {
		rdb := repository.NewRedisClient(cfg.Redis)
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		cache := repository.NewRedisOrderCache(rdb, cfg.Redis.TTL, logging.Named(logger, "cache"))
		store = repository.NewCachedOrderStore(store, cache, logging.Named(logger, "cache"))
		logger.Info("Order caching enabled", zap.String("redis_addr", cfg.Redis.Addr))
	}

	var publisher service.OrderEventPublisher
	if cfg.Features.EnableOrderEvents {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka, m, logging.Named(logger, "publisher"))
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		publisher = events.NewMockEventPublisher()
	}

	wompiClient := clients.NewHTTPWompiClient(cfg.Wompi, logging.Named(logger, "wompi"))
	paypalClient := clients.NewHTTPPayPalClient(cfg.PayPal, logging.Named(logger, "paypal"))
	userClient := clients.NewHTTPUserClient(cfg.UserService, logging.Named(logger, "users"))
	if !wompiClient.CanCheckout() {
		logger.Warn("Wompi keys are incomplete; Wompi checkout will be refused")
	}

	reconciler := service.NewReconciler(store, publisher, m, cfg, logging.Named(logger, "reconciler"))
	resolver := service.NewResolver(store, wompiClient, m, logging.Named(logger, "resolver"))
	paymentService := service.NewPaymentService(
		store,
		reconciler,
		resolver,
		wompiClient,
		paypalClient,
		userClient,
		m,
		cfg,
		logging.Named(logger, "payments"),
	)
	orderService := service.NewOrderService(store, publisher, cfg, logging.Named(logger, "orders"))

	h := handlers.NewHandlers(orderService, paymentService, checks, cfg, logging.Named(logger, "handlers"))
	srv := server.New(h, cfg, m, reg, logging.Named(logger, "server"))

	go func() {
		logger.Info("Server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.StoreDriver),
			zap.String("transition_policy", cfg.Reconcile.TransitionPolicy),
			zap.Bool("enable_order_events", cfg.Features.EnableOrderEvents),
			zap.Bool("enable_gateway_consumer", cfg.Features.EnableGatewayConsumer),
		)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	var consumer *events.KafkaConsumer
	if cfg.Features.EnableGatewayConsumer {
		consumer = events.NewKafkaConsumer(cfg.Kafka, paymentService, logging.Named(logger, "consumer"))
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Event consumer failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if consumer != nil {
		consumer.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Failed to flush traces", zap.Error(err))
	}

	logger.Info("Server exited")
}

func initDatabase(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := repository.RunMigrations(db, logging.Named(logger, "migrate")); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("Database connected",
		zap.String("host", cfg.Database.Host),
		zap.String("name", cfg.Database.Name),
	)
	return db, nil
}
