package sample

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/twitter/condortask/common/stats"
)

const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultReplicaTTL   = 21 * 24 * time.Hour
	DefaultCacheEntries = 1024
)

// Cache holds raw catalog responses by query key. Entries expire after the TTL given at
// construction; a zero TTL disables caching.
type Cache struct {
	lru  *expirable.LRU[string, []byte]
	stat stats.StatsReceiver
}

func NewCache(size int, ttl time.Duration, stat stats.StatsReceiver) *Cache {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	if ttl <= 0 {
		return &Cache{stat: stat}
	}
	if size <= 0 {
		size = DefaultCacheEntries
	}
	return &Cache{lru: expirable.NewLRU[string, []byte](size, nil, ttl), stat: stat}
}

// GetOrLoad returns the cached value for key, calling load on a miss or after expiry.
// Failed loads are not cached.
func (c *Cache) GetOrLoad(key string, load func() ([]byte, error)) ([]byte, error) {
	if c.lru != nil {
		if v, ok := c.lru.Get(key); ok {
			c.stat.Counter(stats.SampleCacheHitCounter).Inc(1)
			return v, nil
		}
	}
	c.stat.Counter(stats.SampleCacheMissCounter).Inc(1)
	v, err := load()
	if err != nil {
		return nil, err
	}
	if c.lru != nil {
		c.lru.Add(key, v)
	}
	return v, nil
}

// Purge drops every entry.
func (c *Cache) Purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}
