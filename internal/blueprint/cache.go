package blueprint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medscale/qgen-eval/internal/domain"
)

// CatalogSource loads the blueprint catalog from wherever it lives.
// Implementations must be safe for concurrent use.
type CatalogSource interface {
	Load(ctx context.Context) ([]domain.QuestionBlueprint, error)
}

// StaticSource serves the compiled-in catalog. Used in development and
// as the fallback when no external catalog is configured.
type StaticSource struct{}

// Load returns the built-in catalog.
func (StaticSource) Load(context.Context) ([]domain.QuestionBlueprint, error) {
	return Catalog, nil
}

// RedisSource loads a JSON-encoded catalog from a Redis key, letting
// operators rotate blueprints without a deploy.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource returns a catalog source reading from the given key.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	return &RedisSource{client: client, key: key}
}

// Load fetches and decodes the catalog. A missing key is an error; the
// cache layer decides whether to fall back.
func (s *RedisSource) Load(ctx context.Context) ([]domain.QuestionBlueprint, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("load blueprint catalog from redis: %w", err)
	}
	var catalog []domain.QuestionBlueprint
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("decode blueprint catalog: %w", err)
	}
	return catalog, nil
}

// DefaultCatalogTTL bounds how long a loaded catalog is served before
// the next access reloads it.
const DefaultCatalogTTL = 15 * time.Minute

// inflightLoad is the shared future for a single in-progress load.
// Concurrent callers wait on done instead of triggering duplicate
// loads against the source.
type inflightLoad struct {
	done chan struct{}
	data []domain.QuestionBlueprint
	err  error
}

// Cache is an explicit reference-data cache for the blueprint catalog:
// data plus loadedAt plus TTL, with a single in-flight load guard and
// explicit Refresh/Invalidate operations. It replaces any reliance on
// process-lifetime module state.
type Cache struct {
	source CatalogSource
	ttl    time.Duration

	mu       sync.Mutex
	data     []domain.QuestionBlueprint
	loadedAt time.Time
	inflight *inflightLoad
}

// NewCache returns a cache over the given source. A non-positive ttl
// falls back to DefaultCatalogTTL.
func NewCache(source CatalogSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Cache{source: source, ttl: ttl}
}

// Get returns the cached catalog, loading it when absent or stale.
// Exactly one load runs at a time; concurrent callers share its result.
func (c *Cache) Get(ctx context.Context) ([]domain.QuestionBlueprint, error) {
	c.mu.Lock()
	if c.data != nil && time.Since(c.loadedAt) < c.ttl {
		data := c.data
		c.mu.Unlock()
		return data, nil
	}

	if c.inflight != nil {
		load := c.inflight
		c.mu.Unlock()
		select {
		case <-load.done:
			return load.data, load.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	load := &inflightLoad{done: make(chan struct{})}
	c.inflight = load
	c.mu.Unlock()

	data, err := c.source.Load(ctx)

	c.mu.Lock()
	if err == nil {
		c.data = data
		c.loadedAt = time.Now()
	}
	c.inflight = nil
	c.mu.Unlock()

	load.data = data
	load.err = err
	close(load.done)

	return data, err
}

// Refresh forces a reload regardless of TTL and returns the fresh
// catalog. A failed refresh leaves the previous data in place.
func (c *Cache) Refresh(ctx context.Context) ([]domain.QuestionBlueprint, error) {
	c.Invalidate()
	return c.Get(ctx)
}

// Invalidate drops the cached catalog so the next Get reloads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.data = nil
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

// Selector returns a selector over the currently cached catalog.
func (c *Cache) Selector(ctx context.Context) (*Selector, error) {
	catalog, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewSelectorWithCatalog(catalog), nil
}
