// Package reentry wraps a lock.Locker with same-goroutine reentrancy
// detection.
//
// Recursive entry from the same goroutine would self-deadlock on the
// underlying mutex: with a plain sync.Mutex, calling back into the
// allocator from, say, a finalizer or a signal handler invoked while the
// mutex is held just hangs forever. This package turns that hang into an
// immediate, diagnosable fatal error, the same way internal/xdebug.Log
// tags every line with the owning goroutine's id
// (github.com/timandy/routine.Goid) rather than leaving concurrency bugs
// to be inferred from a deadlock.
package reentry

import (
	"sync/atomic"

	"github.com/timandy/routine"

	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/lock"
)

// noHolder is never a valid goroutine id (ids start at 0, but 0 is also the
// zero value we'd otherwise confuse with "held by goroutine 0").
const noHolder = -1

// Guard wraps a lock.Locker, recording which goroutine currently holds it.
//
// A zero Guard with a nil inner lock is not usable; construct with New.
type Guard struct {
	inner  lock.Locker
	holder atomic.Int64
}

// New wraps inner with reentrancy detection.
func New(inner lock.Locker) *Guard {
	g := &Guard{inner: inner}
	g.holder.Store(noHolder)
	return g
}

// Lock acquires the underlying lock, fatally aborting instead of
// deadlocking if the calling goroutine already holds it.
func (g *Guard) Lock() {
	id := routine.Goid()
	if g.holder.Load() == id {
		xdebug.Fatalf("reentry: goroutine %d re-entered the allocator core while already holding its lock", id)
	}

	g.inner.Lock()
	g.holder.Store(id)
}

// Unlock releases the underlying lock.
func (g *Guard) Unlock() {
	g.holder.Store(noHolder)
	g.inner.Unlock()
}
