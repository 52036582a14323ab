package cache

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ErrLeaseReleased is returned by Lease.Acquire when lease was released while
// acquisition was in flight, acquired reference is given back immediately.
var ErrLeaseReleased = errors.New("lease released")

// Lease records acquisitions made on behalf of one load so they can be
// returned all at once. Release may be called at any time, including while
// acquisitions are still in progress: whatever was recorded so far is
// released and anything recorded later is released immediately.
type Lease struct {
	c *Cache

	mu       sync.Mutex
	counts   map[string]int
	order    []string
	released bool
}

// NewLease returns empty lease over cache.
func (c *Cache) NewLease() *Lease {
	return &Lease{c: c, counts: make(map[string]int)}
}

// Acquire acquires p n times from cache and records it.
func (l *Lease) Acquire(ctx context.Context, p string, n int) (*Handle, error) {
	if n < 1 {
		n = 1
	}
	h, err := l.c.Acquire(ctx, p, n)
	if err != nil {
		return nil, err
	}
	if !l.Add(p, n) {
		return nil, ErrLeaseReleased
	}
	return h, nil
}

// Add records n already made acquisitions of p. Returns false when lease
// was already released, in which case references are released right away.
func (l *Lease) Add(p string, n int) bool {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		l.c.Release(p, n)
		return false
	}
	if _, ok := l.counts[p]; !ok {
		l.order = append(l.order, p)
	}
	l.counts[p] += n
	l.mu.Unlock()
	return true
}

// Release gives back everything recorded. Calling it more than once is safe,
// subsequent calls do nothing.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	counts, order := l.counts, l.order
	l.counts, l.order = nil, nil
	l.mu.Unlock()

	for _, p := range order {
		l.c.Release(p, counts[p])
	}
}

// Released reports whether Release was called.
func (l *Lease) Released() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.released
}

// Counts returns copy of recorded per path counts.
func (l *Lease) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return maps.Clone(l.counts)
}
