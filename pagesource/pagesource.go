// Package pagesource adapts the OS anonymous-mapping primitive into the
// narrow acquire/release interface the rest of the allocator builds on.
//
// It is the only place in the module that talks to the kernel. Everything
// above it — the metadata arena, the bucket pool, the large-object mapper —
// only ever asks for whole pages and never sees a file descriptor, a prot
// flag, or an mmap error code.
package pagesource

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/flier/memalloc/internal/xdebug"
)

// Size is the fixed page size this allocator carves all mappings into: 4096
// bytes, a package-level constant rather than a runtime-queried value
// (unlike, say, os.Getpagesize) because the size-class table and bucket
// math are derived from it at compile time.
const Size = 4096

// Source acquires and releases whole, page-aligned, anonymous, private
// read-write mappings.
//
// A Source is stateless and safe for concurrent use without any additional
// synchronization, callable without holding the allocator's core mutex,
// precisely so a slow mmap/munmap syscall is never made while other
// goroutines are blocked trying to allocate.
type Source struct{}

// Default is a ready-to-use Source. Source is stateless, so Default and any
// zero Source value behave identically.
var Default Source

// Acquire maps nPages fresh, zero-filled pages and returns the base address.
//
// Failure here is always fatal: upstream exhaustion is unrecoverable,
// because the allocator has no meaningful way to continue operating
// without the address space it was promised.
func (Source) Acquire(nPages int) uintptr {
	if nPages <= 0 {
		xdebug.Fatalf("pagesource: acquire called with nPages=%d", nPages)
	}

	b, err := unix.Mmap(-1, 0, nPages*Size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		xdebug.Fatalf("pagesource: mmap(%d pages) failed: %v", nPages, err)
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))

	xdebug.Log(nil, "acquire", "%d pages at %#x", nPages, addr)

	return addr
}

// Release surrenders a region of nPages pages previously returned by
// Acquire. Passing an address, length pair not obtained from Acquire is
// undefined behaviour.
func (Source) Release(addr uintptr, nPages int) {
	if nPages <= 0 {
		xdebug.Fatalf("pagesource: release called with nPages=%d", nPages)
	}

	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), nPages*Size)
	if err := unix.Munmap(b); err != nil {
		xdebug.Fatalf("pagesource: munmap(%#x, %d pages) failed: %v", addr, nPages, err)
	}

	xdebug.Log(nil, "release", "%d pages at %#x", nPages, addr)
}
