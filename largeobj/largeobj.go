// Package largeobj implements the allocator's large-object path: requests
// too big for any size class are mapped directly, one whole-page (or
// multi-page) region per allocation, with an 8-byte length header stored
// just ahead of the address handed back to the caller.
//
// It wraps a pagesource.Source with a per-region length header so Free and
// Realloc know how many pages to release or copy, grounded on
// flier-goutil's pkg/arena bump allocator's header-prefixed record shape
// (_examples/flier-goutil/pkg/arena/alloc.go) for the idea of a fixed-size
// header living immediately before the data it describes. The live-region
// registry below exists so Free can recognize a double free and DumpLarge can
// enumerate outstanding allocations, neither of which the header alone
// (still resident in freed memory until Release unmaps it) can guarantee.
package largeobj

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/internal/xunsafe"
	"github.com/flier/memalloc/lock"
	"github.com/flier/memalloc/pagesource"
)

// headerSize is the size of the length header prefixing every large-object
// region: one machine word, the first 8 bytes of the page-aligned mapping.
const headerSize = int(unsafe.Sizeof(header{}))

type header struct {
	// length is the total byte length of the mapping, header included —
	// not the caller's requested size. A 5000-byte request over two pages
	// stores 8192 here.
	length int64
}

func pagesFor(n int) int {
	total := headerSize + n
	return (total + pagesource.Size - 1) / pagesource.Size
}

// Mapper is the large-object direct mapper.
//
// Mapper serializes access to its live-region registry with mu; the
// mapping syscalls themselves run unlocked, same as pagesource.Source
// guarantees, so a slow mmap/munmap never blocks a concurrent Free.
type Mapper struct {
	_ xunsafe.NoCopy

	mu   lock.Locker
	src  pagesource.Source
	live map[uintptr]int64 // data address -> requested length
}

// New returns a Mapper backed by src and serialized by mu.
func New(mu lock.Locker, src pagesource.Source) *Mapper {
	return &Mapper{mu: mu, src: src, live: make(map[uintptr]int64)}
}

// Alloc maps a fresh region sized for n usable bytes and returns the
// address immediately past its header.
func (m *Mapper) Alloc(n int) uintptr {
	nPages := pagesFor(n)
	base := m.src.Acquire(nPages)

	h := (*header)(unsafe.Pointer(base))
	h.length = int64(nPages * pagesource.Size)

	addr := base + uintptr(headerSize)

	m.mu.Lock()
	m.live[addr] = int64(n)
	m.mu.Unlock()

	xdebug.Log([]any{"pages=%d", nPages}, "alloc", "%d bytes at %#x", n, addr)

	return addr
}

func headerOf(address uintptr) *header {
	return (*header)(unsafe.Pointer(address - uintptr(headerSize)))
}

func regionBase(address uintptr) uintptr {
	return (address - uintptr(headerSize)) &^ uintptr(pagesource.Size-1)
}

// Owns reports whether address refers to a region this Mapper currently
// considers live.
func (m *Mapper) Owns(address uintptr) bool {
	m.mu.Lock()
	_, ok := m.live[address]
	m.mu.Unlock()
	return ok
}

// LengthOf returns the caller-requested length of the live large-object
// allocation at address, if any. This is the logical size used by
// Dispatch to bound a cross-path realloc's copy, distinct from the
// header's total (rounded-up, header-included) mapping length.
func (m *Mapper) LengthOf(address uintptr) (n int, ok bool) {
	m.mu.Lock()
	length, ok := m.live[address]
	m.mu.Unlock()
	return int(length), ok
}

// Free releases the region backing address. It reports false if address is
// not a live large-object allocation, which the caller should treat as an
// invalid-free or double-free error.
func (m *Mapper) Free(address uintptr) bool {
	m.mu.Lock()
	_, ok := m.live[address]
	if ok {
		delete(m.live, address)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	h := headerOf(address)
	base := regionBase(address)
	nPages := int(h.length) / pagesource.Size

	xdebug.Log([]any{"pages=%d", nPages}, "free", "%d bytes at %#x", h.length, address)

	m.src.Release(base, nPages)

	return true
}

// Realloc always allocates a fresh region sized for newSize, copies
// min(old_length-header_size, newSize) bytes into it, and releases the
// old region (old_length is the header's total mapping length, not the
// caller's original request).
//
// The copy must happen strictly before the old region is released, since
// releasing it first would let a concurrent allocation reuse and overwrite
// the source bytes before they are read.
func (m *Mapper) Realloc(address uintptr, newSize int) uintptr {
	h := headerOf(address)
	capacity := int(h.length) - headerSize

	dst := m.Alloc(newSize)

	n := capacity
	if newSize < n {
		n = newSize
	}
	xunsafe.Copy((*byte)(unsafe.Pointer(dst)), (*byte)(unsafe.Pointer(address)), n)

	m.Free(address)

	return dst
}

// DumpLarge writes one line per live large-object allocation to w.
func (m *Mapper) DumpLarge(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, length := range m.live {
		fmt.Fprintln(w, xdebug.Dict(xdebug.Fprintf("large %#x", addr), "bytes", length))
	}
}
