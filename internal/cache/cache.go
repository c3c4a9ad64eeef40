package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// Cache holds terminal job views and rate limit counters.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	// SetJobView stores the owner view of a terminal job.
	SetJobView(ctx context.Context, view *models.JobView, ttl time.Duration) error
	GetJobView(ctx context.Context, jobID uuid.UUID, userID string) (*models.JobView, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

var _ Cache = (*RedisCache)(nil)

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJobView(ctx context.Context, view *models.JobView, ttl time.Duration) error {
	if !view.Status.Terminal() {
		return fmt.Errorf("cache job view: status %s is not terminal", view.Status)
	}
	b, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode job view: %w", err)
	}
	return c.client.Set(ctx, JobViewKey(view.ID, view.UserID), b, ttl).Err()
}

func (c *RedisCache) GetJobView(ctx context.Context, jobID uuid.UUID, userID string) (*models.JobView, bool, error) {
	b, err := c.client.Get(ctx, JobViewKey(jobID, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var view models.JobView
	if err := json.Unmarshal(b, &view); err != nil {
		return nil, false, fmt.Errorf("decode job view: %w", err)
	}
	return &view, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
