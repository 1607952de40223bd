package groupcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each dataset's entries in one hash, so invalidation is a
// single DEL.
type Redis struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis wraps an existing client. A ttl of zero keeps entries until
// they are invalidated.
func NewRedis(client redis.UniversalClient, prefix string, ttl, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl, timeout: timeout}
}

func (r *Redis) key(datasetID string) string {
	return r.prefix + "groups:" + datasetID
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, datasetID, name string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	v, err := r.client.HGet(ctx, r.key(datasetID), name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("groupcache get: %w", err)
	}
	return v, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, datasetID, name string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(datasetID), name, value)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key(datasetID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("groupcache put: %w", err)
	}
	return nil
}

// Invalidate implements Cache.
func (r *Redis) Invalidate(ctx context.Context, datasetID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(datasetID)).Err(); err != nil {
		return fmt.Errorf("groupcache invalidate %s: %w", datasetID, err)
	}
	return nil
}
