package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/balandzin/Weather-API/internal/models"
	"github.com/balandzin/Weather-API/internal/observability"
	"github.com/balandzin/Weather-API/internal/owm"
)

// DefaultKey is the single key the last forecast is stored under.
const DefaultKey = "savedForecast"

// ErrMalformed marks a stored blob that could not be decoded. Load reports it as a
// miss together with the error so callers can log it.
var ErrMalformed = errors.New("stored forecast is malformed")

// ForecastCache persists exactly one forecast bundle. Save overwrites whatever was
// stored before; there is no history and no expiry. Load returns ok=false when nothing
// is stored or the stored blob is not well-formed.
type ForecastCache interface {
	Save(ctx context.Context, bundle models.ForecastBundle) error
	Load(ctx context.Context) (models.ForecastBundle, bool, error)
}

// blobStore is the raw key-value layer under every backend.
type blobStore interface {
	put(ctx context.Context, key string, blob []byte) error
	// get returns nil, nil on a miss.
	get(ctx context.Context, key string) ([]byte, error)
}

// blobCache adapts a blobStore to ForecastCache using the provider's wire format.
type blobCache struct {
	backend string
	key     string
	store   blobStore
}

func newBlobCache(backend, key string, store blobStore) *blobCache {
	if key == "" {
		key = DefaultKey
	}
	return &blobCache{backend: backend, key: key, store: store}
}

func (c *blobCache) Save(ctx context.Context, bundle models.ForecastBundle) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	blob, err := owm.EncodeForecast(bundle)
	if err != nil {
		observability.RecordCacheOp(c.backend, "save", "error")
		return fmt.Errorf("encode forecast: %w", err)
	}
	if err := c.store.put(ctx, c.key, blob); err != nil {
		observability.RecordCacheOp(c.backend, "save", "error")
		return fmt.Errorf("%s cache save: %w", c.backend, err)
	}
	observability.RecordCacheOp(c.backend, "save", "ok")
	return nil
}

func (c *blobCache) Load(ctx context.Context) (models.ForecastBundle, bool, error) {
	if ctx.Err() != nil {
		return models.ForecastBundle{}, false, ctx.Err()
	}
	blob, err := c.store.get(ctx, c.key)
	if err != nil {
		observability.RecordCacheOp(c.backend, "load", "error")
		return models.ForecastBundle{}, false, fmt.Errorf("%s cache load: %w", c.backend, err)
	}
	if blob == nil {
		observability.RecordCacheOp(c.backend, "load", "miss")
		return models.ForecastBundle{}, false, nil
	}
	bundle, err := owm.DecodeForecast(blob)
	if err != nil {
		observability.RecordCacheOp(c.backend, "load", "malformed")
		return models.ForecastBundle{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	observability.RecordCacheOp(c.backend, "load", "ok")
	return bundle, true, nil
}

// memoryStore keeps blobs in a map. Safe for concurrent use.
type memoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func (m *memoryStore) put(ctx context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = blob
	return nil
}

func (m *memoryStore) get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[key], nil
}

// InMemoryCache is a ForecastCache that lives for the process lifetime.
type InMemoryCache struct {
	*blobCache
	store *memoryStore
}

// NewInMemoryCache creates an empty in-memory cache.
func NewInMemoryCache() *InMemoryCache {
	store := &memoryStore{data: make(map[string][]byte)}
	return &InMemoryCache{blobCache: newBlobCache("in_memory", DefaultKey, store), store: store}
}

// putRaw stores blob verbatim. Tests use it to plant malformed data.
func (c *InMemoryCache) putRaw(blob []byte) {
	_ = c.store.put(context.Background(), c.key, blob)
}
