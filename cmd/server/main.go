package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/dealership/internal/adapter/gateway"
	"github.com/rl1809/dealership/internal/adapter/handler"
	"github.com/rl1809/dealership/internal/adapter/mailer"
	"github.com/rl1809/dealership/internal/adapter/messaging"
	"github.com/rl1809/dealership/internal/adapter/realtime"
	"github.com/rl1809/dealership/internal/adapter/storage"
	"github.com/rl1809/dealership/internal/auth"
	"github.com/rl1809/dealership/internal/config"
	"github.com/rl1809/dealership/internal/core/service"
	"github.com/rl1809/dealership/internal/logger"
	"github.com/rl1809/dealership/internal/port"
)

func main() {
	cfg := config.Load()

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer appLogger.Sync()

	if err := cfg.Validate(); err != nil {
		appLogger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sqlx.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		appLogger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		appLogger.Fatal("failed to ping mysql", zap.Error(err))
	}
	if cfg.MySQL.AutoMigrate {
		if err := storage.Migrate(ctx, db); err != nil {
			appLogger.Fatal("failed to migrate schema", zap.Error(err))
		}
	}
	appLogger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Fatal("failed to connect redis", zap.Error(err))
	}
	appLogger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	mysqlAdapter := storage.NewMySQLAdapter(db)
	redisAdapter := storage.NewRedisAdapter(rdb, cfg.Redis.CarTTL)
	stripeGateway := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
	}, appLogger)
	smtpMailer := mailer.NewSMTPMailer(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, appLogger)

	// Sale events go to the admin live feed and, when configured, to RabbitMQ.
	hub := realtime.NewHub(appLogger)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	publishers := []port.SaleEventPublisher{hub}
	if cfg.RabbitMQ.URL != "" {
		conn, ch, err := messaging.Connect(ctx, cfg.RabbitMQ.URL, appLogger)
		if err != nil {
			appLogger.Warn("rabbitmq unavailable, sale events stay in-process", zap.Error(err))
		} else {
			defer conn.Close()
			defer ch.Close()
			publishers = append(publishers, messaging.NewRabbitMQPublisher(ch))
			appLogger.Info("connected to rabbitmq", zap.String("exchange", messaging.ExchangeName))
		}
	}
	events := service.NewFanoutPublisher(publishers...)

	// Initialize services
	inventoryService := service.NewInventoryService(mysqlAdapter, redisAdapter, appLogger)
	notificationService := service.NewNotificationService(mysqlAdapter, redisAdapter, smtpMailer, appLogger)
	saleService := service.NewSaleService(mysqlAdapter, redisAdapter, events, appLogger)
	verificationService := service.NewVerificationService(mysqlAdapter, appLogger)
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		Inventory: mysqlAdapter,
		Sales:     mysqlAdapter,
		Gateway:   stripeGateway,
		CarCache:  redisAdapter,
		Notifier:  notificationService,
		Events:    events,
		Currency:  cfg.Stripe.Currency,
		Logger:    appLogger,
	})
	webhookService := service.NewWebhookService(service.WebhookDeps{
		Gateway:  stripeGateway,
		Sales:    mysqlAdapter,
		Cache:    redisAdapter,
		CarCache: redisAdapter,
		Notifier: notificationService,
		Events:   events,
		Logger:   appLogger,
	})

	verifier := auth.NewTokenVerifier(cfg.JWT.Secret)

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(verifier.UnaryInterceptor()))
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(checkoutService, saleService, appLogger))
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		appLogger.Fatal("failed to listen", zap.String("port", cfg.Server.GRPCPort), zap.Error(err))
	}

	go func() {
		appLogger.Info("gRPC server listening", zap.String("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(handler.HTTPDeps{
		Checkout:      checkoutService,
		Webhooks:      webhookService,
		Notifier:      notificationService,
		Sales:         saleService,
		Inventory:     inventoryService,
		Verifications: verificationService,
		Verifier:      verifier,
		LiveFeed:      http.HandlerFunc(hub.ServeWS),
		Logger:        appLogger,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.HTTPPort,
		Handler: httpHandler.Routes(),
	}

	go func() {
		appLogger.Info("HTTP server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	appLogger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	appLogger.Info("gRPC server stopped")

	// Stop the hub; this closes every live feed connection.
	cancel()
	wg.Wait()

	rdb.Close()
	db.Close()
	appLogger.Info("connections closed")
}
