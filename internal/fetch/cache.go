package fetch

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mailzero/mailzero/internal/mail"
	"golang.org/x/sync/singleflight"
)

// Entry is the last known outcome for a key
type Entry struct {
	Data      interface{}
	Err       error
	UpdatedAt time.Time

	invalid bool
}

// Stale reports whether the entry must be revalidated before reuse
func (e Entry) Stale(now time.Time, staleTime time.Duration) bool {
	if e.invalid || e.Err != nil {
		return true
	}
	return now.Sub(e.UpdatedAt) >= staleTime
}

// Fetcher performs the remote call for one key
type Fetcher func(ctx context.Context) (interface{}, error)

// Cache is a keyed store of remote results with in-flight de-duplication.
// Concurrent requests for the same key share a single remote call.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	gens      map[string]uint64
	group     singleflight.Group
	staleTime time.Duration
	now       func() time.Time
	logger    *log.Logger
}

// New creates a cache. Entries younger than staleTime are served without a
// remote call; a zero staleTime revalidates on every Fetch.
func New(staleTime time.Duration) *Cache {
	return &Cache{
		entries:   make(map[string]*Entry),
		gens:      make(map[string]uint64),
		staleTime: staleTime,
		now:       time.Now,
	}
}

// SetLogger sets the logger for debug output
func (c *Cache) SetLogger(logger *log.Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Cache) logf(format string, args ...interface{}) {
	c.mu.RLock()
	l := c.logger
	c.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Get returns the stored entry without any remote call
func (c *Cache) Get(key mail.Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key.CacheKey()]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Fetch serves a fresh cached value or revalidates the key
func (c *Cache) Fetch(ctx context.Context, key mail.Key, fn Fetcher) (interface{}, error) {
	if e, ok := c.Get(key); ok && !e.Stale(c.now(), c.staleTime) {
		return e.Data, nil
	}
	return c.Revalidate(ctx, key, fn)
}

// Revalidate always performs (or joins) a remote call for key and stores its outcome.
// A failed call keeps the previous data alongside the new error.
func (c *Cache) Revalidate(ctx context.Context, key mail.Key, fn Fetcher) (interface{}, error) {
	k := key.CacheKey()
	v, err, shared := c.group.Do(k, func() (interface{}, error) {
		gen := c.generation(k)
		data, err := fn(ctx)
		c.storeIfCurrent(k, gen, data, err)
		return data, err
	})
	if shared {
		c.logf("fetch: joined in-flight request for %s", k)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Cache) generation(k string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[k]
}

// storeIfCurrent drops results of calls that started before an invalidation
func (c *Cache) storeIfCurrent(k string, gen uint64, data interface{}, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[k] != gen {
		return
	}
	c.storeLocked(k, data, err)
}

func (c *Cache) store(k string, data interface{}, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(k, data, err)
}

func (c *Cache) storeLocked(k string, data interface{}, err error) {
	e := &Entry{Data: data, Err: err, UpdatedAt: c.now()}
	if err != nil {
		if prev, ok := c.entries[k]; ok {
			e.Data = prev.Data
		}
	}
	c.entries[k] = e
}

// Set replaces the data for key, for local updates ahead of a revalidation
func (c *Cache) Set(key mail.Key, data interface{}) {
	c.store(key.CacheKey(), data, nil)
}

// Invalidate marks key stale. Its data stays readable until the next
// revalidation, and a request already in flight is not joined by later callers.
func (c *Cache) Invalidate(key mail.Key) {
	k := key.CacheKey()
	c.mu.Lock()
	if e, ok := c.entries[k]; ok {
		e.invalid = true
	}
	c.gens[k]++
	c.mu.Unlock()
	c.group.Forget(k)
}

// Delete drops key entirely
func (c *Cache) Delete(key mail.Key) {
	k := key.CacheKey()
	c.mu.Lock()
	delete(c.entries, k)
	c.gens[k]++
	c.mu.Unlock()
	c.group.Forget(k)
}

// Len returns the number of stored entries
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Load is the typed form of Cache.Fetch
func Load[T any](ctx context.Context, c *Cache, key mail.Key, fn func(context.Context) (T, error)) (T, error) {
	return typed[T](c.Fetch(ctx, key, wrap(fn)))
}

// Reload is the typed form of Cache.Revalidate
func Reload[T any](ctx context.Context, c *Cache, key mail.Key, fn func(context.Context) (T, error)) (T, error) {
	return typed[T](c.Revalidate(ctx, key, wrap(fn)))
}

func wrap[T any](fn func(context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (interface{}, error) {
		return fn(ctx)
	}
}

func typed[T any](v interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("fetch: cached value has type %T", v)
	}
	return t, nil
}
