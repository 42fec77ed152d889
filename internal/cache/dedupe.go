package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers request keys for a while. Claim returns true only for the
// first caller of a key within the TTL. Release gives a key back when the
// claimed work did not happen, so the same request can be retried.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// MoveKey is the dedupe key for a client-supplied request id.
func MoveKey(gameID, requestID string) string {
	return "palace:move:" + gameID + ":" + requestID
}

type RedisDeduper struct {
	Rdb *redis.Client
	TTL time.Duration
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.Rdb.SetNX(ctx, key, time.Now().UnixMilli(), d.TTL).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) error {
	return d.Rdb.Del(ctx, key).Err()
}

// MemoryDeduper is the single-process fallback used when Redis is not configured.
type MemoryDeduper struct {
	TTL time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{TTL: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
	if _, ok := d.seen[key]; ok {
		return false, nil
	}
	d.seen[key] = now.Add(d.TTL)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}
