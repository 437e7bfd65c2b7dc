// Package main runs the pending-reservation reconciler as its own process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bizdev-events/backend/config"
	"github.com/bizdev-events/backend/internal/invitecodes"
	"github.com/bizdev-events/backend/internal/payments"
	"github.com/bizdev-events/backend/internal/reservations"
	"github.com/bizdev-events/backend/internal/worker"
	"github.com/bizdev-events/backend/pkg/database"
	"github.com/bizdev-events/backend/pkg/queue"
	"github.com/bizdev-events/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := cfg.ValidatePayments(); err != nil {
		logger.Fatal("payment config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	gateway := payments.NewStripeGateway(payments.StripeConfig{
		SecretKey:  cfg.Stripe.SecretKey,
		PriceID:    cfg.Stripe.PriceID,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	}, logger)
	svc := reservations.NewService(reservations.Deps{
		Codes:   invitecodes.NewRepository(pool),
		Store:   reservations.NewRepository(pool),
		Tx:      database.NewTxManager(pool),
		Gateway: gateway,
		Event:   reservations.Event{Date: cfg.Event.Date, PriceCents: cfg.Event.PriceCents},
		Logger:  logger,
	})
	reconciler := worker.NewReconciler(svc, queue.NewQueue(rdb.Client, logger), cfg.Worker.Interval, cfg.Worker.StaleAfter, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go reconciler.Run(workerCtx)
	logger.Info("worker started", zap.Duration("interval", cfg.Worker.Interval), zap.Duration("stale_after", cfg.Worker.StaleAfter))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
