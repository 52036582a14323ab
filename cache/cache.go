// Package cache implements reference counted, per document cache of archive
// resources exposed to the presentation layer as revocable handles.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ketav/href"
)

var (
	// ErrFetch is returned when resource bytes could not be read from archive.
	ErrFetch = errors.New("unable to fetch resource")
	// ErrHandleCreation is returned when bytes could not be wrapped into handle.
	ErrHandleCreation = errors.New("unable to create handle")
)

// Source is the part of archive provider cache reads from.
type Source interface {
	ReadBytes(p string) ([]byte, error)
	MediaTypeOf(p string) string
	ContentRoot() string
}

type entry struct {
	handle *Handle
	count  int
}

// Cache maps normalized archive paths to handles. Entry exists exactly while
// its reference count is positive, handle is revoked when count drops to 0.
type Cache struct {
	log         *zap.Logger
	src         Source
	factory     Factory
	inlineLimit int64

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates cache reading from src. When factory fails to produce handle
// for resource not larger than inlineLimit, data: URI is used instead.
func New(src Source, factory Factory, inlineLimit int64, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if factory == nil {
		factory = Inline{}
	}
	return &Cache{
		log:         log.Named("cache"),
		src:         src,
		factory:     factory,
		inlineLimit: inlineLimit,
		entries:     make(map[string]*entry),
	}
}

// Factory returns handle factory used by cache.
func (c *Cache) Factory() Factory {
	return c.factory
}

// Acquire returns handle for p bumping its reference count by n (at least 1)
// in single step. Bytes are read and handle is created on first acquisition
// only.
func (c *Cache) Acquire(ctx context.Context, p string, n int) (*Handle, error) {
	if n < 1 {
		n = 1
	}
	if h := c.bump(p, n); h != nil {
		return h, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, found, err := c.fetch(p)
	if err != nil {
		c.log.Debug("Unable to fetch resource", zap.String("path", p), zap.Error(err))
		return nil, err
	}
	mt := MediaType(found, c.src.MediaTypeOf(found), data)

	h, err := c.create(p, mt, data)
	if err != nil {
		c.log.Warn("Unable to create handle", zap.String("path", p), zap.Error(err))
		return nil, err
	}

	c.mu.Lock()
	if e, ok := c.entries[p]; ok {
		// somebody else got there first
		e.count += n
		existing := e.handle
		c.mu.Unlock()
		c.revoke(h)
		return existing, nil
	}
	c.entries[p] = &entry{handle: h, count: n}
	c.mu.Unlock()

	c.log.Debug("Resource cached", zap.String("path", p), zap.String("type", mt), zap.Int("size", len(data)), zap.Stringer("mode", h.Mode))
	return h, nil
}

func (c *Cache) bump(p string, n int) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[p]; ok {
		e.count += n
		return e.handle
	}
	return nil
}

// fetch reads p, trying alternative spellings when direct lookup fails.
// Returns bytes and the path they were found under.
func (c *Cache) fetch(p string) ([]byte, string, error) {
	data, err := c.src.ReadBytes(p)
	if err == nil && len(data) > 0 {
		return data, p, nil
	}
	first := err
	for _, v := range href.Variants(p, c.src.ContentRoot()) {
		if data, err = c.src.ReadBytes(v); err == nil && len(data) > 0 {
			c.log.Debug("Resource found under alternative name", zap.String("path", p), zap.String("found", v))
			return data, v, nil
		}
	}
	if first == nil {
		return nil, "", fmt.Errorf("%w: %s: empty", ErrFetch, p)
	}
	return nil, "", fmt.Errorf("%w: %s: %w", ErrFetch, p, first)
}

func (c *Cache) create(p, mt string, data []byte) (*Handle, error) {
	h, err := c.factory.Create(p, mt, data)
	if err == nil {
		return h, nil
	}
	if int64(len(data)) <= c.inlineLimit {
		c.log.Debug("Falling back to inline handle", zap.String("path", p), zap.Error(err))
		return Inline{}.Create(p, mt, data)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrHandleCreation, p, err)
}

func (c *Cache) revoke(h *Handle) {
	var err error
	if h.Mode == c.factory.Mode() {
		err = c.factory.Revoke(h)
	}
	if err != nil {
		c.log.Warn("Unable to revoke handle", zap.String("path", h.Path), zap.String("url", h.URL), zap.Error(err))
	}
}

// Release decrements reference count of p by n. Count is clamped at zero,
// when it gets there handle is revoked and entry removed.
func (c *Cache) Release(p string, n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	e, ok := c.entries[p]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("Release of unknown resource ignored", zap.String("path", p), zap.Int("count", n))
		return
	}
	e.count -= n
	if e.count > 0 {
		c.mu.Unlock()
		return
	}
	if e.count < 0 {
		c.log.Debug("Release past zero clamped", zap.String("path", p), zap.Int("excess", -e.count))
	}
	delete(c.entries, p)
	c.mu.Unlock()

	c.revoke(e.handle)
	c.log.Debug("Resource released", zap.String("path", p))
}

// Count returns current reference count of p, 0 when not cached.
func (c *Cache) Count(p string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[p]; ok {
		return e.count
	}
	return 0
}

// Lookup returns live handle for p without changing its count.
func (c *Cache) Lookup(p string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[p]; ok {
		return e.handle, true
	}
	return nil, false
}

// Len returns number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EntryInfo describes cache entry.
type EntryInfo struct {
	Path      string
	MediaType string
	URL       string
	Size      int
	Count     int
}

// Snapshot returns state of all live entries in natural path order.
func (c *Cache) Snapshot() []EntryInfo {
	c.mu.Lock()
	paths := make([]string, 0, len(c.entries))
	for p := range c.entries {
		paths = append(paths, p)
	}
	sort.Sort(natural.StringSlice(paths))

	out := make([]EntryInfo, 0, len(paths))
	for _, p := range paths {
		e := c.entries[p]
		out = append(out, EntryInfo{Path: p, MediaType: e.handle.MediaType, URL: e.handle.URL, Size: e.handle.Size, Count: e.count})
	}
	c.mu.Unlock()
	return out
}

// Close drops all entries regardless of their counts, revoking handles.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	var err error
	for p, e := range entries {
		c.log.Debug("Dropping live resource", zap.String("path", p), zap.Int("count", e.count))
		if e.handle.Mode == c.factory.Mode() {
			err = multierr.Append(err, c.factory.Revoke(e.handle))
		}
	}
	return err
}
