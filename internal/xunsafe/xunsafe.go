// Package xunsafe provides a more convenient interface for performing the
// unsafe pointer arithmetic the allocator needs to carve raw mmap'd pages
// into typed views, without pulling in reflection or any GC-tracing
// machinery: every pointer this package hands out refers to memory the
// allocator itself owns outside the Go heap.
package xunsafe

import (
	"sync"
	"unsafe"
)

// NoCopy is a type that go vet's copylocks check will complain about having
// been moved. Embed it in any struct that must not be copied once in use,
// such as the allocator's arena and bucket-pool state.
type NoCopy [0]sync.Mutex

// Int is any integer type.
type Int = interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// BitCast performs an unsafe bitcast from one type to another of the same
// size.
func BitCast[To, From any](v From) To {
	return *(*To)(unsafe.Pointer(&v))
}
