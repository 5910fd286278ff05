package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/haircutfun/haircutfun/internal/billing"
	"github.com/haircutfun/haircutfun/internal/cache"
	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/database"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/monitoring"
	"github.com/haircutfun/haircutfun/internal/notify"
	"github.com/haircutfun/haircutfun/internal/profile"
	"github.com/haircutfun/haircutfun/internal/queue"
	"github.com/haircutfun/haircutfun/internal/scheduler"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/haircutfun/haircutfun/internal/tracing"
	"github.com/haircutfun/haircutfun/internal/usage"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/spf13/cobra"
)

var (
	configPath string
	replayMax  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "HaircutFun background worker",
		Long:  `Applies deferred usage increments from the queue and refreshes stale subscriptions.`,
		RunE:  runWorker,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: $CONFIG_PATH or config.yaml)")

	replayCmd := &cobra.Command{
		Use:   "replay-dlq",
		Short: "Move dead-lettered usage events back onto the usage queue",
		RunE:  runReplay,
	}
	replayCmd.Flags().IntVarP(&replayMax, "max", "n", 100, "Maximum number of events to replay")

	rootCmd.AddCommand(
		replayCmd,
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending database migrations",
			RunE:  runMigrate,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the logger
func bootstrap() (*config.Config, *logging.Logger, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger.WithField("component", "worker"), nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	if err := database.Migrate(cfg.Database.MigrationURL()); err != nil {
		return err
	}
	logger.Info("Database migrations applied")
	return nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	if !cfg.Queue.Enabled {
		return fmt.Errorf("queue is disabled")
	}

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}
	defer q.Close()

	n, err := q.ReplayDeadLetters(cmd.Context(), replayMax)
	logger.Infof("Replayed %d dead-lettered usage events", n)
	return err
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer closer.Close()

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	checks := map[string]metrics.HealthCheck{"database": db.Health}

	// Redis keeps a single sweeper active across replicas and shares the status cache with the API
	var statusCache cache.StatusCache = cache.NewMemoryStatusCache(cfg.Cache.SubscriptionStatusTTL)
	var locker scheduler.Locker
	if cfg.Redis.Enabled {
		c, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer c.Close()

		statusCache = cache.NewRedisStatusCache(c, cfg.Cache.SubscriptionStatusTTL)
		locker = c
		checks["redis"] = c.Ping
	}

	profiles := profile.NewService(repo)
	ledger := usage.NewLedger(repo)

	reconciler := subscription.NewReconciler(subscription.Options{
		Repo:          repo,
		Ledger:        ledger,
		Access:        profiles,
		Provider:      billing.NewStripeClient(cfg.Stripe),
		Catalog:       billing.NewPriceCatalog(cfg.Stripe),
		Cache:         statusCache,
		Notifier:      notify.New(cfg.Email, cfg.Server.SiteURL),
		Logger:        logger,
		StatusTimeout: cfg.Cache.StatusLookupTimeout,
	})

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Deferred usage increments
	if cfg.Queue.Enabled {
		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to queue: %w", err)
		}
		defer q.Close()

		handler := func(ctx context.Context, event *models.UsageEvent) error {
			tracking, err := ledger.RecordGenerationFor(ctx, event.UserID, event.MonthYear)
			if err != nil {
				return err
			}
			logger.WithUserID(event.UserID).WithFields(map[string]interface{}{
				"event_id":         event.ID,
				"month_year":       event.MonthYear,
				"generations_used": tracking.GenerationsUsed,
			}).Info("Applied deferred usage increment")
			return nil
		}

		if err := q.ConsumeUsageEvents(ctx, handler); err != nil {
			return fmt.Errorf("failed to consume usage events: %w", err)
		}
		logger.Info("Consuming deferred usage events")

		monitor := monitoring.NewMonitor(q, 0, logger)
		monitor.Start(ctx)
		checks["queue"] = monitor.Check
	}

	// Stale subscription sweeper
	sweeper := scheduler.NewSweeper(repo, reconciler, locker, cfg.Sweeper, logger)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port, checks)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()

	logger.Info("Worker started")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("Worker stopped")
	return nil
}
