// Package cache keeps completed event results in Redis so redeliveries can be
// answered without a database round trip. The ledger stays the source of
// truth; a cache miss or outage only costs a query.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "engine:event:"

type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

func NewRedis(url string, ttl time.Duration, log *slog.Logger) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisFromClient(redis.NewClient(opt), ttl, log), nil
}

func NewRedisFromClient(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, log: log.With("module", "cache")}
}

func (r *Redis) Get(ctx context.Context, eventID string) (string, bool) {
	ref, err := r.rdb.Get(ctx, keyPrefix+eventID).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.log.Warn("cache get failed", "operation", "get", "event_id", eventID, "error", err)
		return "", false
	}
	return ref, true
}

func (r *Redis) Put(ctx context.Context, eventID, ref string) {
	if err := r.rdb.Set(ctx, keyPrefix+eventID, ref, r.ttl).Err(); err != nil {
		r.log.Warn("cache put failed", "operation", "put", "event_id", eventID, "error", err)
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
