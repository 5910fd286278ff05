// Package scheduler periodically re-syncs subscriptions whose billing period
// ended without a webhook arriving.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/logging"
	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/haircutfun/haircutfun/pkg/models"
)

const lockResource = "subscription-sweeper"

// Repository finds subscriptions that look out of date
type Repository interface {
	ListStaleSubscriptions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Subscription, error)
}

// Refresher re-reads one user's subscription from the provider
type Refresher interface {
	RefreshFor(ctx context.Context, userID, trigger string) (*models.Subscription, error)
}

// Locker keeps concurrent workers from sweeping at the same time
type Locker interface {
	AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, resource string) error
}

// SweepResult summarizes one pass
type SweepResult struct {
	Checked   int
	Refreshed int
	Failed    int
	Skipped   bool
}

// Sweeper refreshes stale subscriptions on an interval
type Sweeper struct {
	repo      Repository
	refresher Refresher
	locker    Locker
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *logging.Logger
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper. locker may be nil for a single worker.
func NewSweeper(repo Repository, refresher Refresher, locker Locker, cfg config.SweeperConfig, logger *logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = logging.Nop()
	}

	return &Sweeper{
		repo:      repo,
		refresher: refresher,
		locker:    locker,
		interval:  cfg.Interval,
		grace:     cfg.GracePeriod,
		batchSize: cfg.BatchSize,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs a sweep immediately and then on every tick until Stop
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)

	s.logger.WithField("interval", s.interval.String()).Info("Subscription sweeper started")
}

// Stop stops the loop and waits for an in-flight sweep
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Subscription sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Error("Subscription sweep failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep refreshes one batch of stale subscriptions
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	if s.locker != nil {
		ok, err := s.locker.AcquireLock(ctx, lockResource, s.interval)
		if err != nil {
			return nil, err
		}
		if !ok {
			result.Skipped = true
			return result, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), lockResource); err != nil {
				s.logger.WithError(err).Warn("Failed to release sweeper lock")
			}
		}()
	}

	subs, err := s.repo.ListStaleSubscriptions(ctx, s.now().Add(-s.grace), s.batchSize)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(subs))
	for _, sub := range subs {
		if seen[sub.UserID] {
			continue
		}
		seen[sub.UserID] = true
		result.Checked++

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		_, err := s.refresher.RefreshFor(ctx, sub.UserID, subscription.TriggerSweeper)
		switch {
		case err == nil, errors.Is(err, subscription.ErrNoSubscription):
			result.Refreshed++
		default:
			result.Failed++
			metrics.RecordError("sweeper", "refresh_failed")
			s.logger.WithUserID(sub.UserID).
				WithField("subscription_id", sub.StripeSubscriptionID).
				WithError(err).
				Warn("Failed to refresh stale subscription")
		}
	}

	if result.Checked > 0 {
		s.logger.WithFields(map[string]interface{}{
			"checked":   result.Checked,
			"refreshed": result.Refreshed,
			"failed":    result.Failed,
		}).Info("Subscription sweep finished")
	}
	return result, nil
}
