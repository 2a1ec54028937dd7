// Package fieldcache keeps recently read fields in memory so repeated reads
// of the same file (target grids, reference means, multi-year source files)
// hit disk once.
package fieldcache

import (
	"context"
	"sync"

	"github.com/couchcryptid/precip-grid-etl/internal/domain"
)

// Store is the read/write surface the cache decorates.
type Store interface {
	ReadRaw(ctx context.Context, path, variable string) (domain.RawField, error)
	ReadField(ctx context.Context, path string) (*domain.Field, error)
	WriteField(ctx context.Context, path string, f *domain.Field) error
}

// CachedStore wraps a Store with in-memory LRU caches. Every hit returns a
// deep copy, so callers may modify what they get back.
type CachedStore struct {
	inner  Store
	raws   *lruCache[domain.RawField]
	fields *lruCache[*domain.Field]
}

// New creates a cache decorator holding up to maxEntries raw reads and
// maxEntries products.
func New(inner Store, maxEntries int) *CachedStore {
	return &CachedStore{
		inner:  inner,
		raws:   newLRUCache[domain.RawField](maxEntries),
		fields: newLRUCache[*domain.Field](maxEntries),
	}
}

func (c *CachedStore) ReadRaw(ctx context.Context, path, variable string) (domain.RawField, error) {
	key := path + "|" + variable
	if raw, ok := c.raws.get(key); ok {
		return raw.Clone(), nil
	}
	raw, err := c.inner.ReadRaw(ctx, path, variable)
	if err != nil {
		return raw, err
	}
	c.raws.put(key, raw.Clone())
	return raw, nil
}

func (c *CachedStore) ReadField(ctx context.Context, path string) (*domain.Field, error) {
	if f, ok := c.fields.get(path); ok {
		return f.Clone(), nil
	}
	f, err := c.inner.ReadField(ctx, path)
	if err != nil {
		return nil, err
	}
	c.fields.put(path, f.Clone())
	return f, nil
}

// WriteField writes through and drops any cached copy of path.
func (c *CachedStore) WriteField(ctx context.Context, path string, f *domain.Field) error {
	c.fields.remove(path)
	return c.inner.WriteField(ctx, path, f)
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	if c.maxEntries <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.unlink(e)
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) unlink(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}
