// Package main runs the reservation API with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bizdev-events/backend/config"
	"github.com/bizdev-events/backend/internal/auth"
	"github.com/bizdev-events/backend/internal/exports"
	"github.com/bizdev-events/backend/internal/invitecodes"
	"github.com/bizdev-events/backend/internal/metrics"
	"github.com/bizdev-events/backend/internal/middleware"
	"github.com/bizdev-events/backend/internal/payments"
	"github.com/bizdev-events/backend/internal/reservations"
	"github.com/bizdev-events/backend/internal/worker"
	"github.com/bizdev-events/backend/pkg/database"
	"github.com/bizdev-events/backend/pkg/queue"
	"github.com/bizdev-events/backend/pkg/redis"
	"github.com/bizdev-events/backend/pkg/response"
	"github.com/bizdev-events/backend/pkg/storage"
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
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set; provider events will be rejected")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	// Redis backs the submission guard, rate limiting and the reconcile queue; the API runs without them.
	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Warn("redis unavailable; submission guard, rate limiting and reconciler disabled", zap.Error(err))
	} else {
		defer rdb.Close()
	}

	metrics.MustRegister()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authHandler := auth.NewHandler(auth.Credentials{Email: cfg.Admin.Email, PasswordHash: cfg.Admin.PasswordHash}, jwtService, logger)

	// Invite codes
	codeRepo := invitecodes.NewRepository(pool)
	codeHandler := invitecodes.NewHandler(codeRepo, logger)

	// Payments
	gateway := payments.NewStripeGateway(payments.StripeConfig{
		SecretKey:  cfg.Stripe.SecretKey,
		PriceID:    cfg.Stripe.PriceID,
		SuccessURL: cfg.Stripe.SuccessURL,
		CancelURL:  cfg.Stripe.CancelURL,
	}, logger)

	// Reservations
	deps := reservations.Deps{
		Codes:   codeRepo,
		Store:   reservations.NewRepository(pool),
		Tx:      database.NewTxManager(pool),
		Gateway: gateway,
		Event:   reservations.Event{Date: cfg.Event.Date, PriceCents: cfg.Event.PriceCents},
		Logger:  logger,
	}
	if rdb != nil {
		deps.Guard = reservations.NewRedisGuard(rdb.Client, cfg.RateLimit.SubmissionTTL)
	}
	reservationSvc := reservations.NewService(deps)
	reservationHandler := reservations.NewHandler(reservationSvc, reservations.PublicConfig{
		PublishableKey: cfg.Stripe.PublishableKey,
		EventName:      cfg.Event.Name,
		EventDate:      cfg.Event.EventDateString(),
		PriceCents:     cfg.Event.PriceCents,
		Currency:       cfg.Event.Currency,
	}, logger)
	webhookHandler := payments.NewWebhookHandler(cfg.Stripe.WebhookSecret, reservationSvc, logger)

	// Exports (S3)
	var exportHandler *exports.Handler
	if cfg.AWS.ExportsEnabled() {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ExportsBucket:        cfg.AWS.ExportsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			exportHandler = exports.NewHandler(reservationSvc, s3Client, cfg.Event.EventDateString(), logger)
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public reservation flow
	var createLimit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if rdb != nil {
		limiter := redis.NewRateLimiter(rdb.Client, "reservations")
		createLimit = middleware.RateLimit(limiter, cfg.RateLimit.CreatePerWindow, cfg.RateLimit.Window, logger)
	}
	public := router.Group("/api/reservations")
	{
		public.GET("/config", reservationHandler.Config)
		public.POST("/validate-code", createLimit, codeHandler.ValidateCode)
		public.POST("/create", createLimit, reservationHandler.Create)
		public.GET("/verify", reservationHandler.Verify)
	}

	// Webhooks (no JWT; the provider signature is checked in the handler)
	router.POST("/api/webhooks/stripe", webhookHandler.Handle)

	// Admin
	router.POST("/api/admin/login", authHandler.Login)
	admin := router.Group("/api/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole(auth.RoleAdmin))
	{
		admin.GET("/reservations", reservationHandler.List)
		admin.PATCH("/reservations/:paymentId", reservationHandler.UpdateStatus)
		if exportHandler != nil {
			admin.POST("/reservations/export", exportHandler.Export)
		}
		admin.GET("/invite-codes", codeHandler.List)
		admin.POST("/invite-codes", codeHandler.Generate)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background reconciler (stale pending reservations)
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	if cfg.Worker.Enabled && rdb != nil {
		reconciler := worker.NewReconciler(reservationSvc, queue.NewQueue(rdb.Client, logger), cfg.Worker.Interval, cfg.Worker.StaleAfter, logger)
		go reconciler.Run(workerCtx)
		logger.Info("reconciler started", zap.Duration("interval", cfg.Worker.Interval))
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("event_date", cfg.Event.EventDateString()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
