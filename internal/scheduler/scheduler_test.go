package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/haircutfun/haircutfun/internal/cache"
	"github.com/haircutfun/haircutfun/internal/config"
	"github.com/haircutfun/haircutfun/internal/subscription"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staleRepo struct {
	subs   []*models.Subscription
	cutoff time.Time
	limit  int
	err    error
}

func (r *staleRepo) ListStaleSubscriptions(ctx context.Context, cutoff time.Time, limit int) ([]*models.Subscription, error) {
	r.cutoff, r.limit = cutoff, limit
	return r.subs, r.err
}

type fakeRefresher struct {
	mu       sync.Mutex
	calls    []string
	triggers []string
	errs     map[string]error
}

func (f *fakeRefresher) RefreshFor(ctx context.Context, userID, trigger string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	f.triggers = append(f.triggers, trigger)
	if err := f.errs[userID]; err != nil {
		return nil, err
	}
	return &models.Subscription{UserID: userID}, nil
}

func (f *fakeRefresher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var now = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

func newTestSweeper(repo Repository, refresher Refresher, locker Locker) *Sweeper {
	s := NewSweeper(repo, refresher, locker, config.SweeperConfig{GracePeriod: 24 * time.Hour, BatchSize: 50}, nil)
	s.now = func() time.Time { return now }
	return s
}

func TestSweepRefreshesEachUserOnce(t *testing.T) {
	repo := &staleRepo{subs: []*models.Subscription{
		{UserID: "user-1", StripeSubscriptionID: "sub_1"},
		{UserID: "user-2", StripeSubscriptionID: "sub_2"},
		{UserID: "user-1", StripeSubscriptionID: "sub_3"},
	}}
	refresher := &fakeRefresher{}
	s := newTestSweeper(repo, refresher, nil)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"user-1", "user-2"}, refresher.calls)
	assert.Equal(t, []string{subscription.TriggerSweeper, subscription.TriggerSweeper}, refresher.triggers)
	assert.Equal(t, 2, result.Checked)
	assert.Equal(t, 2, result.Refreshed)
	assert.Equal(t, now.Add(-24*time.Hour), repo.cutoff)
	assert.Equal(t, 50, repo.limit)
}

func TestSweepCountsFailures(t *testing.T) {
	repo := &staleRepo{subs: []*models.Subscription{
		{UserID: "user-1"},
		{UserID: "user-2"},
		{UserID: "user-3"},
	}}
	refresher := &fakeRefresher{errs: map[string]error{
		"user-2": errors.New("stripe unavailable"),
		"user-3": subscription.ErrNoSubscription,
	}}
	s := newTestSweeper(repo, refresher, nil)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 2, result.Refreshed)
	assert.Equal(t, 1, result.Failed)
}

func TestSweepListError(t *testing.T) {
	s := newTestSweeper(&staleRepo{err: errors.New("db down")}, &fakeRefresher{}, nil)

	_, err := s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweepSkipsWhenLocked(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := cache.NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	require.NoError(t, err)
	defer c.Close()

	held, err := c.AcquireLock(context.Background(), lockResource, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	refresher := &fakeRefresher{}
	s := newTestSweeper(&staleRepo{subs: []*models.Subscription{{UserID: "user-1"}}}, refresher, c)

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Empty(t, refresher.calls)

	require.NoError(t, c.ReleaseLock(context.Background(), lockResource))
	result, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, refresher.count())

	// the sweeper releases its own lock
	assert.False(t, mr.Exists("lock:"+lockResource))
}

func TestStartStop(t *testing.T) {
	refresher := &fakeRefresher{}
	s := newTestSweeper(&staleRepo{subs: []*models.Subscription{{UserID: "user-1"}}}, refresher, nil)

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return refresher.count() >= 1 }, time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop()
}
