// Package metaarena implements the allocator's Metadata Arena: a
// self-hosted, append-only region that stores bucket descriptors for the
// small-object bucket pool.
//
// Growth copies the live portion of the arena into a fresh, larger
// mapping, which invalidates any previously returned descriptor address.
// This package sidesteps that invalidation hazard entirely, rather than
// patching up stale pointers after the fact: every caller addresses a
// descriptor by its byte offset from the arena's base, recomputed via At
// on each access, so growth — which only ever changes the base address,
// never the offsets — cannot leave anything dangling.
package metaarena

import (
	"unsafe"

	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/internal/xunsafe"
	"github.com/flier/memalloc/pagesource"
)

// Arena is a bump-pointer allocator for fixed-size descriptor records,
// backed by whole pages obtained from a pagesource.Source.
//
// Arena is not safe for concurrent use on its own: it lives under the same
// process-wide mutex that guards the bucket list and bitmaps, so it
// performs no locking of its own. An Arena must not be copied after its
// first Reserve.
type Arena struct {
	_ xunsafe.NoCopy

	base   xunsafe.Addr[byte]
	cursor int // offset of the first unused byte
	cap    int // total mapped bytes
}

// New returns an empty Arena with no backing storage; its first Grow (driven
// by a GrowthNeeded(size) reporting true) installs the first mapping.
func New() *Arena {
	return &Arena{}
}

// Base returns the arena's current base address. Only valid as a snapshot:
// a subsequent Grow changes it.
func (a *Arena) Base() uintptr { return uintptr(a.base) }

// Len returns the number of bytes currently in use.
func (a *Arena) Len() int { return a.cursor }

// Cap returns the arena's current total capacity in bytes.
func (a *Arena) Cap() int { return a.cap }

// At returns the current live address of the descriptor at the given
// offset, previously returned by Reserve.
func (a *Arena) At(offset int) uintptr {
	xdebug.Assert(offset >= 0 && offset < a.cursor, "metaarena: At(%d) out of range [0,%d)", offset, a.cursor)
	return uintptr(a.base.ByteAdd(offset))
}

// Reserve carves out size bytes of arena-resident, zero-filled storage and
// returns its offset. The arena must already have enough room (see
// GrowthNeeded/Grow); Reserve itself never calls into the page source.
func (a *Arena) Reserve(size int) (offset int) {
	xdebug.Assert(a.cursor+size <= a.cap, "metaarena: Reserve(%d) called without sufficient growth (%d/%d)", size, a.cursor, a.cap)

	offset = a.cursor
	a.cursor += size

	xdebug.Log([]any{"%#x:%d/%d", a.base, a.cursor, a.cap}, "reserve", "%d bytes at +%d", size, offset)

	return offset
}

// GrowthNeeded reports whether a subsequent Reserve(size) would exceed the
// arena's current capacity, and if so, how many pages a Grow call must
// acquire to make room.
//
// This is split out from Grow so a caller holding a lock across the arena
// (the bucket pool's core mutex) can make the decision, release the lock,
// call pagesource.Source.Acquire unlocked, and only then re-take the lock
// to call Grow — never performing the mapping syscall itself while the
// lock is held.
func (a *Arena) GrowthNeeded(size int) (nPages int, ok bool) {
	if a.cursor+size <= a.cap {
		return 0, false
	}

	newCapBytes := a.cap + pagesource.Size
	for newCapBytes < a.cursor+size {
		newCapBytes += pagesource.Size
	}

	return newCapBytes / pagesource.Size, true
}

// Grow installs newBase, a region of nPages pages previously returned by
// src.Acquire(nPages), as the arena's new backing storage, copying the live
// prefix [0, cursor) across. It returns the previous base and page count so
// the caller can release them via src.Release once it has unlocked —
// Grow itself never calls into the page source.
//
// This must happen before any live descriptor pointer is taken; because
// every caller re-derives its pointer from an offset via At, there is
// nothing for Grow to invalidate except the offsets' base, which it
// updates in place.
func (a *Arena) Grow(nPages int, newBase uintptr) (oldBase uintptr, oldPages int) {
	oldCap, oldBaseAddr := a.cap, a.base
	nb := xunsafe.Addr[byte](newBase)

	if oldCap > 0 {
		xunsafe.Copy((*byte)(unsafe.Pointer(nb)), (*byte)(unsafe.Pointer(oldBaseAddr)), a.cursor)
	}

	a.base = nb
	a.cap = nPages * pagesource.Size

	xdebug.Log(nil, "grow", "%#x:%d -> %#x:%d", oldBaseAddr, oldCap, a.base, a.cap)

	return uintptr(oldBaseAddr), oldCap / pagesource.Size
}
