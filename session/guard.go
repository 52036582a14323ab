package session

import "sync/atomic"

// Guard is monotonic load counter of single open document. Every navigation
// begins a load, result of a load is delivered only if no other load began
// since.
type Guard struct {
	counter atomic.Uint64
}

// Begin starts new load and returns its id.
func (g *Guard) Begin() uint64 {
	return g.counter.Add(1)
}

// IsStale reports whether load id was superseded.
func (g *Guard) IsStale(id uint64) bool {
	return g.counter.Load() != id
}

// Current returns id of the latest load, 0 when none was started.
func (g *Guard) Current() uint64 {
	return g.counter.Load()
}
