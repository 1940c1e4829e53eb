package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// DedupStore remembers which webhook event ids have been processed.
type DedupStore interface {
	// FirstSeen atomically records the event id and reports whether this
	// call was the first sighting. Redeliveries get false.
	FirstSeen(ctx context.Context, eventID string) (bool, error)

	// Forget releases a claimed event id so a redelivery can be applied.
	// Callers use it when processing fails after the FirstSeen claim.
	Forget(ctx context.Context, eventID string) error

	Close() error
}

const dedupKeyPrefix = "billcore:webhook:event:"

// memoryDedupSize bounds the fallback cache. Processor redeliveries arrive
// within hours, so a bounded recent window is enough when Redis is down.
const memoryDedupSize = 65536

// RedisDedup deduplicates event ids with Redis SET NX so every instance in
// the deployment shares one memory. When Redis is unreachable it falls back
// to a process-local LRU: worse than shared state, far better than
// double-crediting a payment.
type RedisDedup struct {
	client   *redis.Client
	ttl      time.Duration
	fallback *lru.Cache[string, struct{}]
	log      *logrus.Logger
}

// NewRedisDedup creates a Redis-backed dedup store. ttl bounds how long an
// event id is remembered; it should comfortably exceed the processor's
// redelivery window.
func NewRedisDedup(client *redis.Client, ttl time.Duration, log *logrus.Logger) (*RedisDedup, error) {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if log == nil {
		log = logrus.New()
	}
	fallback, err := lru.New[string, struct{}](memoryDedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback cache: %w", err)
	}
	return &RedisDedup{client: client, ttl: ttl, fallback: fallback, log: log}, nil
}

func (d *RedisDedup) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	first, err := d.client.SetNX(ctx, dedupKeyPrefix+eventID, 1, d.ttl).Result()
	if err != nil {
		d.log.WithError(err).Warn("redis unavailable, using in-process event dedup")
		return d.fallbackFirstSeen(eventID), nil
	}
	if first {
		// Mirror into the fallback so a Redis outage right after this
		// event still catches its redelivery.
		d.fallback.Add(eventID, struct{}{})
	}
	return first, nil
}

func (d *RedisDedup) fallbackFirstSeen(eventID string) bool {
	if _, seen := d.fallback.Get(eventID); seen {
		return false
	}
	d.fallback.Add(eventID, struct{}{})
	return true
}

func (d *RedisDedup) Forget(ctx context.Context, eventID string) error {
	d.fallback.Remove(eventID)
	if err := d.client.Del(ctx, dedupKeyPrefix+eventID).Err(); err != nil {
		return fmt.Errorf("failed to release event id: %w", err)
	}
	return nil
}

func (d *RedisDedup) Close() error {
	return d.client.Close()
}

// MemoryDedup is a process-local DedupStore for tests and single-instance
// deployments without Redis.
type MemoryDedup struct {
	cache *lru.Cache[string, struct{}]
}

// NewMemoryDedup creates an LRU-bounded in-memory dedup store.
func NewMemoryDedup() (*MemoryDedup, error) {
	cache, err := lru.New[string, struct{}](memoryDedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &MemoryDedup{cache: cache}, nil
}

func (d *MemoryDedup) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	if _, seen := d.cache.Get(eventID); seen {
		return false, nil
	}
	d.cache.Add(eventID, struct{}{})
	return true, nil
}

func (d *MemoryDedup) Forget(ctx context.Context, eventID string) error {
	d.cache.Remove(eventID)
	return nil
}

func (d *MemoryDedup) Close() error { return nil }
