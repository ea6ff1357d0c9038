// Package bucketpool implements the allocator's small-object path: fixed
// size-class buckets, each a single page split into equal slots tracked by
// a liveness bitmap, with no splitting or coalescing across size classes.
//
// The pool keeps one linked list of page-backed buckets per size class.
// This package is that structure, grounded on flier-goutil's pkg/arena.Arena
// bump/size-class allocator
// (_examples/flier-goutil/pkg/arena/alloc.go) for the overall bump-then-
// recycle shape, adapted to a fixed reference size-class table and
// arena-stored (rather than Go-heap-stored) descriptors.
package bucketpool

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/flier/memalloc/internal/addridx"
	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/internal/xunsafe"
	"github.com/flier/memalloc/lock"
	"github.com/flier/memalloc/metaarena"
	"github.com/flier/memalloc/pagesource"
	"github.com/flier/memalloc/sizeclass"
)

// slotsFor returns how many slots of the given size class fit in one page.
func slotsFor(class int32) int {
	return sizeclass.SlotsPerPage(pagesource.Size, sizeclass.Table[class])
}

// Pool is the small-object bucket pool.
//
// Pool serializes all of its own state transitions internally: callers do
// not hold any lock across a call into Pool. The one exception is bucket
// creation, where the page-mapping syscall runs with mu released and only
// the bookkeeping that follows is done with mu held, so a slow mmap never
// blocks other goroutines' allocations.
type Pool struct {
	_ xunsafe.NoCopy

	mu  lock.Locker
	src pagesource.Source

	arena *metaarena.Arena
	idx   *addridx.Index // region base -> descriptor offset

	heads [sizeclass.Count]int32 // head descriptor offset per class, or noNext
}

// New returns an empty Pool backed by arena for descriptor storage, src for
// page acquisition, and mu for serializing access.
func New(mu lock.Locker, arena *metaarena.Arena, src pagesource.Source) *Pool {
	p := &Pool{mu: mu, arena: arena, src: src}
	for i := range p.heads {
		p.heads[i] = noNext
	}
	p.idx = addridx.New()
	return p
}

func (p *Pool) descAt(offset int32) *desc {
	return (*desc)(unsafe.Pointer(p.arena.At(int(offset))))
}

// Alloc returns the address of a free slot sized for the size class owning
// n bytes, creating a new bucket if every existing one of that class is
// full.
func (p *Pool) Alloc(n int) uintptr {
	class, size := sizeclass.ClassOf(n)

	for {
		p.mu.Lock()
		offset, slot, ok := p.findFreeSlot(int32(class))
		if ok {
			d := p.descAt(offset)
			d.set(slot)
			addr := d.region + uintptr(slot*size)
			p.mu.Unlock()

			xdebug.Log([]any{"class=%d", class}, "alloc", "slot %d at %#x", slot, addr)

			return addr
		}
		p.mu.Unlock()

		// No existing bucket of this class has room. Acquire the backing
		// page without holding mu, then retry: another goroutine may have
		// created room for us in the meantime, in which case we release
		// this page immediately rather than wasting it.
		region := p.src.Acquire(1)

		p.mu.Lock()
		if offset, slot, ok := p.findFreeSlot(int32(class)); ok {
			d := p.descAt(offset)
			d.set(slot)
			addr := d.region + uintptr(slot*size)
			p.mu.Unlock()

			p.src.Release(region, 1)

			return addr
		}

		off, reserved := p.reserveDesc()
		if !reserved {
			// Someone else's bucket creation grew the arena out from under
			// us between the two locked sections; retry from the top so we
			// re-check for free slots (and re-acquire a page) fresh.
			p.mu.Unlock()
			p.src.Release(region, 1)
			continue
		}

		descOffset := int32(off)
		d := p.descAt(descOffset)
		d.class = int32(class)
		d.region = region
		d.next = p.heads[class]
		d.set(0)

		p.heads[class] = descOffset
		p.idx.Put(region, descOffset)

		addr := d.region
		p.mu.Unlock()

		xdebug.Log([]any{"class=%d", class}, "alloc", "new bucket at %#x, slot 0", region)

		return addr
	}
}

// reserveDesc reserves one descriptor-sized slot in the metadata arena,
// growing it first if necessary. Caller must hold mu and still holds it on
// return; reserveDesc releases and re-takes mu internally around the
// page-mapping syscall a growth requires, mirroring how Alloc acquires a
// bucket's backing page without holding mu. It reports false if the caller
// should retry from scratch because another goroutine grew the arena in
// the interim in a way this call didn't account for.
func (p *Pool) reserveDesc() (offset int, ok bool) {
	descSize := int(unsafe.Sizeof(desc{}))

	nPages, needGrowth := p.arena.GrowthNeeded(descSize)
	if !needGrowth {
		return p.arena.Reserve(descSize), true
	}

	p.mu.Unlock()
	newBase := p.src.Acquire(nPages)
	p.mu.Lock()

	n2, stillNeeded := p.arena.GrowthNeeded(descSize)
	if stillNeeded && n2 > nPages {
		// The arena grew further while we were unlocked and the pages we
		// fetched are no longer enough; give them back and let the caller
		// retry.
		p.mu.Unlock()
		p.src.Release(newBase, nPages)
		p.mu.Lock()
		return 0, false
	}

	if stillNeeded {
		oldBase, oldPages := p.arena.Grow(nPages, newBase)
		offset = p.arena.Reserve(descSize)

		if oldPages > 0 {
			p.mu.Unlock()
			p.src.Release(oldBase, oldPages)
			p.mu.Lock()
		}

		return offset, true
	}

	// Another goroutine's growth already made room; we no longer need the
	// pages we fetched.
	p.mu.Unlock()
	p.src.Release(newBase, nPages)
	p.mu.Lock()

	return p.arena.Reserve(descSize), true
}

// findFreeSlot scans the bucket list for class for a descriptor with a free
// slot. Caller must hold mu.
func (p *Pool) findFreeSlot(class int32) (offset int32, slot int, ok bool) {
	for off := p.heads[class]; off != noNext; {
		d := p.descAt(off)
		if slot, ok := d.findFree(); ok {
			return off, slot, true
		}
		off = d.next
	}
	return 0, 0, false
}

// ClassSize returns the slot size of the bucket owning address, if any.
func (p *Pool) ClassSize(address uintptr) (size int, ok bool) {
	region := address &^ uintptr(pagesource.Size-1)

	p.mu.Lock()
	offset, ok := p.idx.Get(region)
	if !ok {
		p.mu.Unlock()
		return 0, false
	}
	class := p.descAt(offset).class
	p.mu.Unlock()

	return sizeclass.Table[class], true
}

// Owns reports whether address falls within a bucket this pool manages,
// and if so the page-aligned region it belongs to.
func (p *Pool) Owns(address uintptr) (region uintptr, ok bool) {
	region = address &^ uintptr(pagesource.Size-1)

	p.mu.Lock()
	_, ok = p.idx.Get(region)
	p.mu.Unlock()

	return region, ok
}

// Free releases the slot at address. It reports false if address does not
// refer to a slot this pool considers in use, which the caller should treat
// as an invalid-free error.
func (p *Pool) Free(address uintptr) bool {
	region := address &^ uintptr(pagesource.Size-1)

	p.mu.Lock()
	defer p.mu.Unlock()

	offset, ok := p.idx.Get(region)
	if !ok {
		return false
	}

	d := p.descAt(offset)
	size := sizeclass.Table[d.class]
	slot := int(address-d.region) / size

	if slot >= d.slotCount() || !d.isSet(slot) {
		return false
	}

	d.clear(slot)

	xdebug.Log([]any{"class=%d", d.class}, "free", "slot %d at %#x", slot, address)

	return true
}

// Realloc resizes the allocation at address to newSize, returning the
// (possibly unchanged) address. The small-object path never splits or
// coalesces, so a resize that leaves the request in the same size class
// is a no-op; anything else is a fresh Alloc, copy, Free.
func (p *Pool) Realloc(address uintptr, newSize int) uintptr {
	region := address &^ uintptr(pagesource.Size-1)

	p.mu.Lock()
	offset, ok := p.idx.Get(region)
	if !ok {
		p.mu.Unlock()
		xdebug.Fatalf("bucketpool: realloc of address %#x not owned by any bucket", address)
	}
	d := p.descAt(offset)
	oldClass := d.class
	p.mu.Unlock()

	newClass, _ := sizeclass.ClassOf(newSize)
	if int32(newClass) == oldClass {
		return address
	}

	dst := p.Alloc(newSize)
	n := sizeclass.Table[oldClass]
	if newSize < n {
		n = newSize
	}
	xunsafe.Copy((*byte)(unsafe.Pointer(dst)), (*byte)(unsafe.Pointer(address)), n)
	p.Free(address)

	return dst
}

// DumpBuckets writes a human-readable summary of every bucket this pool
// manages, per size class, to w.
func (p *Pool) DumpBuckets(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for class, head := range p.heads {
		if head == noNext {
			continue
		}

		fmt.Fprintf(w, "class %d (%d bytes):\n", class, sizeclass.Table[class])

		for off := head; off != noNext; {
			d := p.descAt(off)
			used := 0
			for slot := 0; slot < d.slotCount(); slot++ {
				if d.isSet(slot) {
					used++
				}
			}
			fmt.Fprintln(w, xdebug.Dict(xdebug.Fprintf("  bucket %#x", d.region), "used", used, "total", d.slotCount()))
			off = d.next
		}
	}
}
