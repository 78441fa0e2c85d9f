package memory

import (
	"bytes"
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/app"
)

// CachedStore caches reads of a slower app.PersistentStore with a TTL.
// Writes go through to the backing store and refresh the cache.
type CachedStore struct {
	backing app.PersistentStore
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group
	rnd     *rand.Rand
	rndMu   sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedValue
}

type cachedValue struct {
	value     []byte
	expiresAt time.Time
}

func NewCachedStore(backing app.PersistentStore, ttl time.Duration) *CachedStore {
	return &CachedStore{
		backing: backing,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedValue),
	}
}

func cacheKey(table, key string) string {
	return table + "\x00" + key
}

func (c *CachedStore) lookup(k string, now time.Time) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[k]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return bytes.Clone(entry.value), true
}

func (c *CachedStore) Get(ctx context.Context, table, key string) ([]byte, error) {
	k := cacheKey(table, key)
	if v, ok := c.lookup(k, c.clock()); ok {
		return v, nil
	}

	result, err, _ := c.sf.Do(k, func() (any, error) {
		now := c.clock()
		if v, ok := c.lookup(k, now); ok {
			return v, nil
		}
		value, err := c.backing.Get(ctx, table, key)
		if err != nil {
			return nil, err
		}
		c.store(k, value, now)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(result.([]byte)), nil
}

func (c *CachedStore) Put(ctx context.Context, table, key string, value []byte) error {
	if err := c.backing.Put(ctx, table, key, value); err != nil {
		return err
	}
	c.store(cacheKey(table, key), value, c.clock())
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, table, key string) error {
	c.mu.Lock()
	delete(c.cache, cacheKey(table, key))
	c.mu.Unlock()
	return c.backing.Delete(ctx, table, key)
}

func (c *CachedStore) store(k string, value []byte, now time.Time) {
	ttl := c.ttlWithJitter()
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[k] = cachedValue{value: bytes.Clone(value), expiresAt: now.Add(ttl)}
	c.mu.Unlock()
}

func (c *CachedStore) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
