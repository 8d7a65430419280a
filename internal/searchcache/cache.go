// Package searchcache implements the short-TTL fused-result cache from spec
// §5: "A search result cache (keyed by normalized query + scope + k) may
// serve Tier-fused results before reranking; TTL is short ... and correctness
// does not depend on the cache." Adapted from the teacher pack's
// go-enhanced-rag-service/pkg/cache two-tier (in-process + Redis) design.
package searchcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Cache is the minimal byte-oriented contract both tiers satisfy.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Key builds the cache key named in §5: normalized query + scope + k.
func Key(normalizedQuery string, orgID uuid.UUID, k int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", normalizedQuery, orgID, k)))
	return hex.EncodeToString(sum[:])
}

// DefaultTTL is a few tens of seconds, per §5 ("seconds to minutes").
const DefaultTTL = 30 * time.Second

// ----------------------------- In-process tier -----------------------------

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// InMemoryCache is a process-local TTL cache, the hot tier in front of Redis.
type InMemoryCache struct {
	mu      sync.RWMutex
	items   map[string]memEntry
	stopCh  chan struct{}
	stopped bool
}

func NewInMemory() *InMemoryCache {
	c := &InMemoryCache{
		items:  make(map[string]memEntry, 1024),
		stopCh: make(chan struct{}),
	}
	go c.janitor(15 * time.Second)
	return c
}

func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		_ = c.Delete(context.Background(), key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = memEntry{value: append([]byte(nil), value...), expiresAt: exp}
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

func (c *InMemoryCache) Close() error {
	if c.stopped {
		return nil
	}
	close(c.stopCh)
	c.stopped = true
	return nil
}

func (c *InMemoryCache) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, v := range c.items {
				if !v.expiresAt.IsZero() && now.After(v.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// ----------------------------- Redis tier -----------------------------

// RedisCache is the shared tier behind the in-process cache, so a cache hit
// on one API replica is visible to the others.
type RedisCache struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) (*RedisCache, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx).Result(); err != nil {
		return nil, err
	}
	return &RedisCache{client: cli}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return res, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisCache) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// ----------------------------- Two-level facade -----------------------------

// TwoLevel checks the in-process tier first, falling back to the shared
// tier and populating the hot tier on a shared-tier hit.
type TwoLevel struct {
	Hot    *InMemoryCache
	Shared Cache // nil is fine: degrade to hot-tier-only.
}

func NewTwoLevel(shared Cache) *TwoLevel {
	return &TwoLevel{Hot: NewInMemory(), Shared: shared}
}

func (t *TwoLevel) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := t.Hot.Get(ctx, key); ok || err != nil {
		return v, ok, err
	}
	if t.Shared == nil {
		return nil, false, nil
	}
	v, ok, err := t.Shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	_ = t.Hot.Set(ctx, key, v, DefaultTTL)
	return v, true, nil
}

func (t *TwoLevel) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = t.Hot.Set(ctx, key, value, ttl)
	if t.Shared != nil {
		return t.Shared.Set(ctx, key, value, ttl)
	}
	return nil
}

func (t *TwoLevel) Delete(ctx context.Context, key string) error {
	_ = t.Hot.Delete(ctx, key)
	if t.Shared != nil {
		return t.Shared.Delete(ctx, key)
	}
	return nil
}

func (t *TwoLevel) Close() error {
	_ = t.Hot.Close()
	if t.Shared != nil {
		return t.Shared.Close()
	}
	return nil
}
