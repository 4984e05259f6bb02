package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper decides whether a webhook update was already handled. Telegram
// redelivers updates until it sees a 200, so a slow extraction can cause the
// same trigger to arrive twice.
type Deduper interface {
	Seen(ctx context.Context, updateID int) (bool, error)
}

// RedisDeduper records update ids in Redis with a TTL.
type RedisDeduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis-backed deduper.
func NewRedis(addr, password string, db int, ttl time.Duration) (*RedisDeduper, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisDeduper{rdb: rdb, ttl: ttl}, nil
}

// Seen atomically claims the update id. The first caller gets false; any
// later caller within the TTL gets true.
func (d *RedisDeduper) Seen(ctx context.Context, updateID int) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf("update:%d", updateID), 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Close releases the Redis connection.
func (d *RedisDeduper) Close() error {
	return d.rdb.Close()
}

// Noop never reports an update as seen. Used when Redis is not configured;
// Telegram's retry window is short enough that single-instance deployments
// rarely notice.
type Noop struct{}

// Seen implements Deduper.
func (Noop) Seen(context.Context, int) (bool, error) { return false, nil }
