package cache

import (
	"context"
	"sync"
	"time"

	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/pkg/models"
)

const statusCacheType = "subscription_status"

// StatusCache holds recently computed subscription status views.
// Get returns nil, nil on a miss.
type StatusCache interface {
	Get(ctx context.Context, userID string) (*models.SubscriptionStatusView, error)
	Set(ctx context.Context, view *models.SubscriptionStatusView) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisStatusCache is a StatusCache shared by every API instance
type RedisStatusCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewRedisStatusCache creates a Redis-backed status cache
func NewRedisStatusCache(c *Cache, ttl time.Duration) *RedisStatusCache {
	return &RedisStatusCache{cache: c, ttl: ttl}
}

func (r *RedisStatusCache) Get(ctx context.Context, userID string) (*models.SubscriptionStatusView, error) {
	view, err := r.cache.GetSubscriptionStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics.RecordCacheAccess(statusCacheType, view != nil)
	return view, nil
}

func (r *RedisStatusCache) Set(ctx context.Context, view *models.SubscriptionStatusView) error {
	return r.cache.SetSubscriptionStatus(ctx, view, r.ttl)
}

func (r *RedisStatusCache) Invalidate(ctx context.Context, userID string) error {
	return r.cache.DeleteSubscriptionStatus(ctx, userID)
}

type memoryEntry struct {
	view      models.SubscriptionStatusView
	expiresAt time.Time
}

// MemoryStatusCache is a per-process StatusCache used when Redis is disabled
type MemoryStatusCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryStatusCache creates an in-process status cache
func NewMemoryStatusCache(ttl time.Duration) *MemoryStatusCache {
	return &MemoryStatusCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (m *MemoryStatusCache) Get(_ context.Context, userID string) (*models.SubscriptionStatusView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[userID]
	if ok && m.now().After(entry.expiresAt) {
		delete(m.entries, userID)
		ok = false
	}
	metrics.RecordCacheAccess(statusCacheType, ok)
	if !ok {
		return nil, nil
	}

	view := entry.view
	return &view, nil
}

func (m *MemoryStatusCache) Set(_ context.Context, view *models.SubscriptionStatusView) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[view.UserID] = memoryEntry{view: *view, expiresAt: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStatusCache) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, userID)
	return nil
}
