package cache

import "time"

// RedisOption configures NewRedisCache.
type RedisOption func(*RedisConfig)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	PingTimeout  time.Duration
	// Prefix namespaces keys so several services can share one database.
	Prefix string
}

// WithRedisAddr sets host:port.
func WithRedisAddr(addr string) RedisOption {
	return func(c *RedisConfig) { c.Addr = addr }
}

// WithRedisAuth selects the database and the password used to reach it.
func WithRedisAuth(password string, db int) RedisOption {
	return func(c *RedisConfig) { c.Password, c.DB = password, db }
}

// WithRedisPool sizes the connection pool. Non-positive values keep the defaults.
func WithRedisPool(size, minIdle int) RedisOption {
	return func(c *RedisConfig) {
		if size > 0 {
			c.PoolSize = size
		}
		if minIdle > 0 {
			c.MinIdleConns = minIdle
		}
	}
}

// WithRedisPrefix sets the key namespace. Empty stores keys as given.
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *RedisConfig) { c.Prefix = prefix }
}

// MemoryOption configures NewMemoryCache.
type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process cache.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// WithMemoryMaxSize caps the entry count. The least recently used entry is evicted first.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(c *MemoryConfig) { c.MaxSize = size }
}

// WithMemoryCleanup sets how often expired entries are purged.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(c *MemoryConfig) { c.CleanupInterval = interval }
}

// LayeredOption configures NewLayeredCache.
type LayeredOption func(*LayeredConfig)

// LayeredConfig sizes the in-memory layer in front of Redis.
type LayeredConfig struct {
	MemoryMaxSize int
	// MemoryTTL bounds how long an L2 hit stays in L1.
	MemoryTTL time.Duration
}

// WithLayeredMemory sizes L1. A non-positive ttl keeps the default.
func WithLayeredMemory(size int, ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryMaxSize = size
		if ttl > 0 {
			c.MemoryTTL = ttl
		}
	}
}
