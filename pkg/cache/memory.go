package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// defaultTTL applies to entries stored without an expiration.
const defaultTTL = 7 * 24 * time.Hour

type memoryEntry struct {
	value    []byte
	expireAt time.Time
}

// MemoryCache implements Service in process memory. Recency and eviction come from the
// LRU; expiry is tracked per entry, since L1 copies and predictions live for different times.
type MemoryCache struct {
	lru      *lru.Cache[string, memoryEntry]
	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryCache starts the purge of expired entries. Close stops it.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{MaxSize: 1000, CleanupInterval: 5 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	// only fails for a non-positive size
	l, _ := lru.New[string, memoryEntry](cfg.MaxSize)
	mc := &MemoryCache{lru: l, stop: make(chan struct{})}
	go mc.purgeEvery(cfg.CleanupInterval)
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if expiration <= 0 {
		expiration = defaultTTL
	}
	mc.lru.Add(key, memoryEntry{value: data, expireAt: time.Now().Add(expiration)})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	e, ok := mc.lru.Get(key)
	if !ok {
		return ErrCacheMiss
	}
	if time.Now().After(e.expireAt) {
		mc.lru.Remove(key)
		return ErrCacheMiss
	}
	return decode(e.value, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		mc.lru.Remove(key)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (mc *MemoryCache) Len() int {
	return mc.lru.Len()
}

func (mc *MemoryCache) purgeEvery(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			mc.purge(now)
		case <-mc.stop:
			return
		}
	}
}

// purge drops expired entries. Peek leaves their recency alone.
func (mc *MemoryCache) purge(now time.Time) {
	for _, key := range mc.lru.Keys() {
		if e, ok := mc.lru.Peek(key); ok && now.After(e.expireAt) {
			mc.lru.Remove(key)
		}
	}
}

// Close stops the purge goroutine. Entries stay readable.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}
