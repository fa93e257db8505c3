// Package cache implements the time-limited registry response cache.
//
// Entries live in a [kv.Store] under "<prefix><url>" and are persisted as
//
//	{"data":{"name":"...","description":"..."},"timestamp":1700000000000}
//
// where timestamp is the write time in Unix milliseconds. An entry is fresh
// while now - timestamp < TTL. Expired entries are removed when they are next
// read; there is no background sweeper.
//
// Only the package name and description are kept. Callers that need other
// response fields (the latest version, for instance) read them from
// [Lookup.Raw], which is only populated by a real fetch.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"

	"github.com/matzehuels/depscan/pkg/kv"
	"github.com/matzehuels/depscan/pkg/observability"
)

const (
	// DefaultTTL is how long an entry stays fresh.
	DefaultTTL = 24 * time.Hour

	// DefaultPrefix namespaces cache keys in a shared store.
	DefaultPrefix = "fetch-with-cache:"
)

// Payload is the subset of a registry response that is cached.
type Payload struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Entry is the persisted form of a cached response.
type Entry struct {
	Data      Payload `json:"data"`
	Timestamp int64   `json:"timestamp"`
}

// Fresh reports whether the entry is still valid at now.
func (e Entry) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(time.UnixMilli(e.Timestamp)) < ttl
}

// Lookup is the outcome of [Cache.GetOrFetch].
type Lookup struct {
	Payload
	// Raw is the full response body. Nil on a cache hit.
	Raw []byte
	// Hit is true when the payload came from the store.
	Hit bool
}

// FetchFunc performs the network request on a miss and returns the response
// body. Returning an error means nothing is stored.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache wraps a store with TTL semantics.
type Cache struct {
	store  kv.Store
	ttl    time.Duration
	prefix string
	clock  clockwork.Clock
	logger *log.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the freshness window. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source, mainly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithLogger sets the logger used for store failures.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a cache over store. A nil store disables caching.
func New(store kv.Store, opts ...Option) *Cache {
	if store == nil {
		store = kv.NewNull()
	}
	c := &Cache{
		store:  store,
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
		clock:  clockwork.NewRealClock(),
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Key returns the store key used for url.
func (c *Cache) Key(url string) string { return c.prefix + url }

// GetOrFetch returns the cached payload for url, or calls fetch and stores
// the result. With force set the read is skipped and the entry is always
// rewritten with a fresh timestamp.
func (c *Cache) GetOrFetch(ctx context.Context, url string, force bool, fetch FetchFunc) (*Lookup, error) {
	key := c.Key(url)

	if !force {
		if p, ok := c.read(ctx, key); ok {
			observability.Cache().OnCacheHit(ctx, "registry")
			return &Lookup{Payload: p, Hit: true}, nil
		}
		observability.Cache().OnCacheMiss(ctx, "registry")
	}

	body, err := fetch(ctx)
	if err != nil {
		return nil, err
	}

	p, err := decodePayload(body)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.write(ctx, key, p)
	return &Lookup{Payload: p, Raw: body}, nil
}

// decodePayload keeps name and description only when they are strings.
// Other value types, or a body that is not an object, leave them empty.
func decodePayload(body []byte) (Payload, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Payload{}, err
	}
	obj, _ := doc.(map[string]any)
	name, _ := obj["name"].(string)
	desc, _ := obj["description"].(string)
	return Payload{Name: name, Description: desc}, nil
}

// Clear removes every entry under the cache prefix.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	return kv.DeletePrefix(ctx, c.store, c.prefix)
}

func (c *Cache) read(ctx context.Context, key string) (Payload, bool) {
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "err", err)
		return Payload{}, false
	}
	if !ok {
		return Payload{}, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Debug("ignoring corrupt cache entry", "key", key, "err", err)
		return Payload{}, false
	}
	if !e.Fresh(c.clock.Now(), c.ttl) {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("cache delete failed", "key", key, "err", err)
		}
		return Payload{}, false
	}
	return e.Data, true
}

func (c *Cache) write(ctx context.Context, key string, p Payload) {
	data, err := json.Marshal(Entry{Data: p, Timestamp: c.clock.Now().UnixMilli()})
	if err != nil {
		c.logger.Warn("cache encode failed", "key", key, "err", err)
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.logger.Warn("cache write failed", "key", key, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, "registry", len(data))
}
