package grafana

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Cache reuses validated clients keyed by connection parameters, so the
// expensive fail-fast validation runs once per (url, token) pair. It is
// owned by the composition layer; there is no package-level instance.
type Cache struct {
	mu      sync.Mutex
	clients map[cacheKey]*Client
}

type cacheKey struct {
	url   string
	token string
}

// NewCache creates an empty client cache.
func NewCache() *Cache {
	return &Cache{clients: make(map[cacheKey]*Client)}
}

// Get returns a cached client for the connection parameters, validating
// and caching a new one on first use.
func (c *Cache) Get(ctx context.Context, url, token string, log *zap.Logger) (*Client, error) {
	key := cacheKey{url: url, token: token}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	client, err := NewClient(ctx, url, token, log)
	if err != nil {
		return nil, err
	}
	c.clients[key] = client
	return client, nil
}
