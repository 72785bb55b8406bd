package client

import (
	"net/http"
	"os"
	"sync"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
)

// PurgeableCache is an httpcache.Cache that can drop every entry at once.
// Responses of one session must never be served to the next one.
type PurgeableCache struct {
	dir string

	mu    sync.RWMutex
	inner httpcache.Cache
}

var _ httpcache.Cache = (*PurgeableCache)(nil)

// NewPurgeableCache creates a disk-backed cache in dir, or an in-memory
// cache if dir is empty.
func NewPurgeableCache(dir string) *PurgeableCache {
	c := &PurgeableCache{dir: dir}
	c.inner = c.newInner()
	return c
}

func (c *PurgeableCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.Get(key)
}

func (c *PurgeableCache) Set(key string, responseBytes []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.inner.Set(key, responseBytes)
}

func (c *PurgeableCache) Delete(key string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.inner.Delete(key)
}

// Purge removes every cached response.
func (c *PurgeableCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dir != "" {
		if err := os.RemoveAll(c.dir); err != nil {
			log.Warn().Err(err).Str("dir", c.dir).Msg("failed to remove response cache")
		}
	}
	c.inner = c.newInner()

	log.Debug().Str("dir", c.dir).Msg("response cache purged")
}

func (c *PurgeableCache) newInner() httpcache.Cache {
	if c.dir == "" {
		return httpcache.NewMemoryCache()
	}
	// Use disk-based cache for persistence across restarts
	return diskcache.New(c.dir)
}

// NewCachingTransport returns a transport that serves cacheable responses
// (per their Cache-Control headers) from cache.
func NewCachingTransport(cache httpcache.Cache, next http.RoundTripper) *httpcache.Transport {
	transport := httpcache.NewTransport(cache)
	transport.Transport = next
	return transport
}
