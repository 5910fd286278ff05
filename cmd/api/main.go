package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/internal/cache"
	"github.com/haircutfun/haircutfun/internal/checkout"
	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/gallery"
	"github.com/haircutfun/haircutfun/internal/generation"
	"github.com/haircutfun/haircutfun/internal/identity"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/middleware"
	"github.com/haircutfun/haircutfun/internal/notify"
	"github.com/haircutfun/haircutfun/internal/profile"
	"github.com/haircutfun/haircutfun/internal/queue"
	"github.com/haircutfun/haircutfun/internal/storage"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/haircutfun/haircutfun/internal/tracing"
	"github.com/haircutfun/haircutfun/internal/usage"
	"github.com/haircutfun/haircutfun/internal/webhook"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}

	if err := registerValidators(); err != nil {
		logger.Fatalf("Failed to register validators: %v", err)
	}

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Initialize database
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.MigrationURL()); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	checks := map[string]metrics.HealthCheck{"database": db.Health}

	// Redis backs the status cache and the anonymous cap when enabled
	var statusCache cache.StatusCache = cache.NewMemoryStatusCache(cfg.Cache.SubscriptionStatusTTL)
	var anonymous generation.AnonymousLimiter
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer c.Close()

		statusCache = cache.NewRedisStatusCache(c, cfg.Cache.SubscriptionStatusTTL)
		anonymous = generation.NewRedisAnonymousCap(c, cfg.Generation.AnonymousDailyCap)
		checks["redis"] = c.Ping
	}

	// Initialize storage
	stor, err := storage.New(context.Background(), cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	checks["storage"] = stor.Ping

	// Usage increments that fail inline are deferred to the worker
	var publisher generation.UsagePublisher
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to queue: %v", err)
		}
		defer q.Close()
		publisher = q
	}

	verifier, err := identity.NewVerifierFromConfig(cfg.Supabase)
	if err != nil {
		logger.Fatalf("Failed to create token verifier: %v", err)
	}

	model, err := generation.NewModel(cfg.Generation)
	if err != nil {
		logger.Fatalf("Failed to create image model: %v", err)
	}

	stripeClient := billing.NewStripeClient(cfg.Stripe)
	profiles := profile.NewService(repo)
	ledger := usage.NewLedger(repo)

	reconciler := subscription.NewReconciler(subscription.Options{
		Repo:          repo,
		Ledger:        ledger,
		Access:        profiles,
		Provider:      stripeClient,
		Catalog:       billing.NewPriceCatalog(cfg.Stripe),
		Cache:         statusCache,
		Notifier:      notify.New(cfg.Email, cfg.Server.SiteURL),
		Logger:        logger,
		StatusTimeout: cfg.Cache.StatusLookupTimeout,
	})

	dispatcher := webhook.NewDispatcher(cfg.Stripe.WebhookSecret, logger)
	webhook.RegisterBilling(dispatcher, reconciler, logger)

	api := &API{
		auth:     identity.NewGoTrue(cfg.Supabase, nil),
		cookies:  identity.CookieOptions{Domain: cfg.Supabase.CookieDomain, Secure: cfg.Supabase.CookieSecure},
		siteURL:  cfg.Server.SiteURL,
		profiles: profiles,
		usage:    ledger,
		subs:     reconciler,
		checkout: checkout.NewService(repo, profiles, stripeClient, cfg.Stripe, logger),
		generator: generation.NewService(generation.Options{
			Model:     model,
			Ledger:    ledger,
			Anonymous: anonymous,
			Publisher: publisher,
			Logger:    logger,
			Policy:    generation.PolicyFromConfig(cfg.Generation),
		}),
		gallery:  gallery.NewService(repo, stor, logger),
		webhooks: dispatcher,
		checks:   checks,
		logger:   logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx)

	// Setup router
	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api, verifier, limiter, logger)

	// Metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port, checks)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("Server stopped")
}
