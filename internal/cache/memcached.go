package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "weather:"

// memcachedStore stores the forecast blob in memcached with no expiration.
type memcachedStore struct {
	client *memcache.Client
}

func (m *memcachedStore) put(ctx context.Context, key string, blob []byte) error {
	return m.client.Set(&memcache.Item{
		Key:        keyPrefix + key,
		Value:      blob,
		Expiration: 0,
	})
}

func (m *memcachedStore) get(ctx context.Context, key string) ([]byte, error) {
	item, err := m.client.Get(keyPrefix + key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, err
	}
	return item.Value, nil
}

// MemcachedCache implements ForecastCache on memcached.
type MemcachedCache struct {
	*blobCache
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs, key string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{
		blobCache: newBlobCache("memcached", key, &memcachedStore{client: client}),
		client:    client,
	}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping reports whether every configured server answers.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.Ping()
}

// Close drops idle connections.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
