package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haircutfun/haircutfun/internal/metrics"
	"github.com/haircutfun/haircutfun/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Subscription Status Operations

func subscriptionStatusKey(userID string) string {
	return fmt.Sprintf("subscription:status:%s", userID)
}

// SetSubscriptionStatus caches a user's effective subscription status
func (c *Cache) SetSubscriptionStatus(ctx context.Context, view *models.SubscriptionStatusView, ttl time.Duration) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription status: %w", err)
	}

	return c.client.Set(ctx, subscriptionStatusKey(view.UserID), data, ttl).Err()
}

// GetSubscriptionStatus retrieves a user's cached status. A miss returns nil, nil.
func (c *Cache) GetSubscriptionStatus(ctx context.Context, userID string) (*models.SubscriptionStatusView, error) {
	data, err := c.client.Get(ctx, subscriptionStatusKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get subscription status from cache: %w", err)
	}

	var view models.SubscriptionStatusView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription status: %w", err)
	}

	return &view, nil
}

// DeleteSubscriptionStatus removes a user's cached status
func (c *Cache) DeleteSubscriptionStatus(ctx context.Context, userID string) error {
	return c.client.Del(ctx, subscriptionStatusKey(userID)).Err()
}

// Rate Limiting Operations

// CheckRateLimit increments the counter for key and reports whether it is still within limit.
// The window starts with the first hit.
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	allowed := count <= limit
	if !allowed {
		metrics.RecordRateLimited("redis")
	}
	return allowed, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Ping checks the Redis connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
