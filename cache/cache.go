// Package cache provides the TTL-bounded response cache for the gateway.
package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 64

// Entry is one cached response, keyed by the private-namespace target.
type Entry struct {
	Domain   string            `cbor:"1,keyasint"`
	Path     string            `cbor:"2,keyasint"`
	Status   int               `cbor:"3,keyasint"`
	Headers  map[string]string `cbor:"4,keyasint"`
	Body     []byte            `cbor:"5,keyasint"`
	StoredAt time.Time         `cbor:"6,keyasint"`
}

// Expired reports whether the entry is older than ttl at now.
func (e *Entry) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(e.StoredAt) > ttl
}

type shard struct {
	mu sync.RWMutex
	m  map[uint64]*Entry
}

// Cache is a sharded TTL cache. Expired entries are evicted lazily on lookup
// and swept periodically.
type Cache struct {
	shards [shardCount]shard

	maxSize int
	ttl     time.Duration

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// New returns a new cache holding at most size entries with the given ttl.
func New(size int, ttl time.Duration) *Cache {
	if size < 1 {
		size = 1
	}

	c := &Cache{
		maxSize:   size,
		ttl:       ttl,
		stopSweep: make(chan struct{}),
	}

	for i := range c.shards {
		c.shards[i].m = make(map[uint64]*Entry)
	}

	go c.sweep()

	return c
}

// Key generates a cache key for a private-namespace target.
func Key(domain, path string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(domain)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(path)

	return h.Sum64()
}

// Get looks up an entry. An expired entry is evicted and reported missing.
func (c *Cache) Get(key uint64) (*Entry, bool) {
	s := &c.shards[key%shardCount]

	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if e.Expired(c.ttl, time.Now()) {
		s.mu.Lock()
		if cur, ok := s.m[key]; ok && cur == e {
			delete(s.m, key)
		}
		s.mu.Unlock()

		return nil, false
	}

	return e, true
}

// Add inserts an entry, overwriting any existing one.
func (c *Cache) Add(key uint64, e *Entry) {
	s := &c.shards[key%shardCount]

	s.mu.Lock()
	s.m[key] = e
	s.mu.Unlock()

	if c.Len() > c.maxSize {
		c.evict()
	}
}

// Remove removes the entry indexed with key.
func (c *Cache) Remove(key uint64) {
	s := &c.shards[key%shardCount]

	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Purge removes all entries.
func (c *Cache) Purge() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.m = make(map[uint64]*Entry)
		s.mu.Unlock()
	}
}

// Len returns the number of entries in the cache.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}

	return n
}

// ForEach visits every live entry, stopping when fn returns false.
func (c *Cache) ForEach(fn func(key uint64, e *Entry) bool) {
	now := time.Now()

	for i := range c.shards {
		s := &c.shards[i]

		s.mu.RLock()
		for k, e := range s.m {
			if e.Expired(c.ttl, now) {
				continue
			}
			if !fn(k, e) {
				s.mu.RUnlock()
				return
			}
		}
		s.mu.RUnlock()
	}
}

// Stop stops the periodic sweep.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopSweep)
	})
}

// evict drops the oldest entries until the cache is under the limit again.
func (c *Cache) evict() {
	over := c.Len() - c.maxSize
	if over < 1 {
		return
	}

	for i := range c.shards {
		if over < 1 {
			return
		}

		s := &c.shards[i]

		s.mu.Lock()
		var oldestKey uint64
		var oldest time.Time

		for over > 0 && len(s.m) > 0 {
			first := true
			for k, e := range s.m {
				if first || e.StoredAt.Before(oldest) {
					oldestKey, oldest = k, e.StoredAt
					first = false
				}
			}

			delete(s.m, oldestKey)
			over--
		}
		s.mu.Unlock()
	}
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			for i := range c.shards {
				s := &c.shards[i]

				s.mu.Lock()
				for k, e := range s.m {
					if e.Expired(c.ttl, now) {
						delete(s.m, k)
					}
				}
				s.mu.Unlock()
			}
		case <-c.stopSweep:
			return
		}
	}
}
