// Package dedupe remembers which notification ids were already delivered so
// broker redeliveries do not message anyone twice.
package dedupe

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store interface {
	// Claim reports whether id was unseen and reserves it.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets id after a failed delivery so a retry can claim it.
	Release(ctx context.Context, id string) error
}

const keyPrefix = "notify:sent:"

type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Claim(ctx context.Context, id string) (bool, error) {
	return r.rdb.SetNX(ctx, keyPrefix+id, 1, r.ttl).Result()
}

func (r *Redis) Release(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, keyPrefix+id).Err()
}

// Memory is a process-local Store for single-replica deployments and tests.
type Memory struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{seen: map[string]struct{}{}}
}

func (m *Memory) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[id]; ok {
		return false, nil
	}
	m.seen[id] = struct{}{}
	return true, nil
}

func (m *Memory) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, id)
	return nil
}
