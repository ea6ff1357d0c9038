// Package memalloc is a general-purpose dynamic memory allocator built
// directly on anonymous virtual-memory mappings, with no upstream heap
// beyond the page source it maps through. It exposes the classical triad
// Allocate/Deallocate/Reallocate.
//
// The allocator is process-wide and lazily initialized: there is no
// explicit setup or teardown call. Configure may adjust its Dispatch page
// size boundary, but only before the first Allocate/Deallocate/Reallocate
// call; see Configure for details.
package memalloc

import (
	"io"
	"sync"
	"unsafe"

	"github.com/flier/memalloc/bucketpool"
	"github.com/flier/memalloc/internal/reentry"
	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/internal/xunsafe"
	"github.com/flier/memalloc/largeobj"
	"github.com/flier/memalloc/lock"
	"github.com/flier/memalloc/metaarena"
	"github.com/flier/memalloc/pagesource"
)

// core is the allocator's process-wide state: a bucket pool, a large-
// object mapper, and the core mutex that serializes the bucket pool (the
// mapper has a separate lock of its own; see newCore).
//
// core is constructed exactly once, by the first call into the package
// that needs it (see instance).
type core struct {
	mu       lock.Locker
	buckets  *bucketpool.Pool
	large    *largeobj.Mapper
	pageSize int
}

var (
	instance     *core
	instanceOnce sync.Once
	configured   config
	configLocked bool // set true once instance has been built
)

func newCore() *core {
	// The core mutex guards only the bucket list, bitmaps, and metadata
	// arena. The large-object path does not need it: it gets its own,
	// separate lock purely to serialize its own live-region bookkeeping,
	// so large-object traffic never contends with small-object traffic.
	mu := reentry.New(&sync.Mutex{})

	var src pagesource.Source
	arena := metaarena.New()

	return &core{
		mu:       mu,
		buckets:  bucketpool.New(mu, arena, src),
		large:    largeobj.New(&sync.Mutex{}, src),
		pageSize: configured.pageSize,
	}
}

func get() *core {
	instanceOnce.Do(func() {
		configLocked = true
		instance = newCore()
	})
	return instance
}

// Allocate returns the address of a fresh, writable region of at least
// nBytes, or a distinct free-able sentinel address if nBytes is 0.
//
// Returned memory's contents are unspecified for small allocations and
// zero-filled for large ones, per the underlying page source's guarantee;
// callers must not rely on either beyond what §3/§4 of the allocator's
// design document promise for their own request's size class.
func Allocate(nBytes int) uintptr {
	c := get()

	if nBytes <= c.pageSize {
		return c.buckets.Alloc(nBytes)
	}
	return c.large.Alloc(nBytes)
}

// Deallocate releases the region at address, previously returned by
// Allocate or Reallocate and not yet deallocated. Passing the zero address
// is a no-op. Any other invalid address is a fatal error.
func Deallocate(address uintptr) {
	if address == 0 {
		return
	}

	c := get()

	if region, ok := c.buckets.Owns(address); ok {
		if !c.buckets.Free(address) {
			xdebug.Fatalf("memalloc: deallocate: address %#x in bucket region %#x is not a live allocation (double free?)", address, region)
		}
		return
	}

	if !c.large.Free(address) {
		xdebug.Fatalf("memalloc: deallocate: address %#x is not owned by this allocator", address)
	}
}

// Reallocate resizes the allocation at address to nBytes, copying the
// overlapping prefix of the old contents, and returns the (possibly
// different) new address.
//
// If address is the zero address, Reallocate behaves as Allocate(nBytes).
// If nBytes is 0, Reallocate behaves as Deallocate(address) and returns the
// zero-size sentinel from a fresh Allocate(0).
func Reallocate(address uintptr, nBytes int) uintptr {
	if address == 0 {
		return Allocate(nBytes)
	}
	if nBytes == 0 {
		Deallocate(address)
		return Allocate(0)
	}

	c := get()

	// Classification per §4.5: ask the bucket pool whether it owns address;
	// if not, it must be a large object.
	if oldSize, ok := c.buckets.ClassSize(address); ok {
		if nBytes <= c.pageSize {
			return c.buckets.Realloc(address, nBytes)
		}

		dst := c.large.Alloc(nBytes)
		copyOverlap(dst, address, oldSize, nBytes)
		c.buckets.Free(address)
		return dst
	}

	oldSize, ok := c.large.LengthOf(address)
	if !ok {
		xdebug.Fatalf("memalloc: reallocate: address %#x is not owned by this allocator", address)
	}

	if nBytes <= c.pageSize {
		dst := c.buckets.Alloc(nBytes)
		copyOverlap(dst, address, oldSize, nBytes)
		c.large.Free(address)
		return dst
	}

	return c.large.Realloc(address, nBytes)
}

// copyOverlap copies min(oldSize, newSize) bytes from src to dst.
func copyOverlap(dst, src uintptr, oldSize, newSize int) {
	n := oldSize
	if newSize < n {
		n = newSize
	}
	xunsafe.Copy((*byte)(unsafe.Pointer(dst)), (*byte)(unsafe.Pointer(src)), n)
}

// DumpBuckets writes a human-readable summary of every small-object bucket
// to w. Format is unspecified and unstable; for debugging only.
func DumpBuckets(w io.Writer) { get().buckets.DumpBuckets(w) }

// DumpLarge writes a human-readable summary of every live large-object
// allocation to w. Format is unspecified and unstable; for debugging only.
func DumpLarge(w io.Writer) { get().large.DumpLarge(w) }
