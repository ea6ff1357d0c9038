package memalloc_test

import (
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"

	"github.com/flier/memalloc"
	"github.com/flier/memalloc/internal/xdebug"
)

func peek(addr uintptr) *byte { return (*byte)(unsafe.Pointer(addr)) }

func TestAllocateFreeReusesLowestSlot(t *testing.T) {
	defer xdebug.WithTesting(t)()

	Convey("allocate(10) falls into the 12-byte class, a fresh bucket, slot 0", t, func() {
		p := memalloc.Allocate(10)
		memalloc.Deallocate(p)

		q := memalloc.Allocate(10)
		So(q, ShouldEqual, p)
	})
}

func TestAllocateSequenceWithinOneBucket(t *testing.T) {
	defer xdebug.WithTesting(t)()

	Convey("allocate(100) rounds to class 128", t, func() {
		p := memalloc.Allocate(100)
		q := memalloc.Allocate(100)
		So(q, ShouldEqual, p+128)

		memalloc.Deallocate(p)

		r := memalloc.Allocate(100)
		So(r, ShouldEqual, p)

		memalloc.Deallocate(q)
		memalloc.Deallocate(r)
	})
}

func TestFillBucketThenSpill(t *testing.T) {
	defer xdebug.WithTesting(t)()

	Convey("32 allocations of 128 bytes fill one bucket", t, func() {
		var first uintptr
		var addrs []uintptr
		for i := 0; i < 32; i++ {
			a := memalloc.Allocate(128)
			if i == 0 {
				first = a
			}
			addrs = append(addrs, a)
			So(a&^uintptr(4095), ShouldEqual, first&^uintptr(4095))
		}

		Convey("the 33rd spills into a new bucket", func() {
			a := memalloc.Allocate(128)
			So(a&^uintptr(4095), ShouldNotEqual, first&^uintptr(4095))
			addrs = append(addrs, a)
		})

		for _, a := range addrs {
			memalloc.Deallocate(a)
		}
	})
}

func TestLargeAllocationConsumesTwoPages(t *testing.T) {
	defer xdebug.WithTesting(t)()

	p := memalloc.Allocate(5000)
	length := *(*int64)(unsafe.Pointer(p - 8))
	assert.Equal(t, int64(8192), length)
	memalloc.Deallocate(p)
}

func TestReallocGrowsAndPreservesPrefix(t *testing.T) {
	defer xdebug.WithTesting(t)()

	p := memalloc.Allocate(16)

	hello := []byte("hello")
	buf := unsafe.Slice(peek(p), len(hello))
	copy(buf, hello)

	q := memalloc.Reallocate(p, 64)
	got := unsafe.Slice(peek(q), len(hello))
	assert.Equal(t, hello, got)

	memalloc.Deallocate(q)
}

func TestReallocNilAddressAllocates(t *testing.T) {
	defer xdebug.WithTesting(t)()

	p := memalloc.Reallocate(0, 32)
	assert.NotZero(t, p)
	memalloc.Deallocate(p)
}

func TestReallocZeroSizeFreesAndReturnsSentinel(t *testing.T) {
	defer xdebug.WithTesting(t)()

	p := memalloc.Allocate(32)
	q := memalloc.Reallocate(p, 0)
	assert.NotZero(t, q)
	memalloc.Deallocate(q)
}

func TestDeallocateNilIsNoop(t *testing.T) {
	defer xdebug.WithTesting(t)()

	assert.NotPanics(t, func() { memalloc.Deallocate(0) })
}
