package metaarena_test

import (
	"testing"
	"unsafe"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/metaarena"
	"github.com/flier/memalloc/pagesource"
)

type descriptor struct {
	tag  int64
	data [8]byte
}

// reserve grows a, if GrowthNeeded reports it must, before calling Reserve.
// It stands in for the lock-released-around-Acquire dance bucketpool.Pool
// does in production; single-threaded tests have no lock to release.
func reserve(a *metaarena.Arena, src pagesource.Source, size int) int {
	if nPages, ok := a.GrowthNeeded(size); ok {
		newBase := src.Acquire(nPages)
		oldBase, oldPages := a.Grow(nPages, newBase)
		if oldPages > 0 {
			src.Release(oldBase, oldPages)
		}
	}
	return a.Reserve(size)
}

func TestArena(t *testing.T) {
	defer xdebug.WithTesting(t)()

	Convey("Given a fresh Arena", t, func() {
		var src pagesource.Source
		a := metaarena.New()

		Convey("Reserve returns offsets into a zero-filled region", func() {
			off := reserve(a, src, int(unsafe.Sizeof(descriptor{})))
			p := (*descriptor)(unsafe.Pointer(a.At(off)))
			So(p.tag, ShouldEqual, 0)
		})

		Convey("Two reservations return writable, disjoint regions", func() {
			size := int(unsafe.Sizeof(descriptor{}))
			off1 := reserve(a, src, size)
			off2 := reserve(a, src, size)
			So(off2, ShouldEqual, off1+size)

			p1 := (*descriptor)(unsafe.Pointer(a.At(off1)))
			p2 := (*descriptor)(unsafe.Pointer(a.At(off2)))

			p1.tag = 111
			p2.tag = 222

			So(p1.tag, ShouldEqual, 111)
			So(p2.tag, ShouldEqual, 222)
		})

		Convey("Growth preserves previously written data, addressed by offset", func() {
			size := int(unsafe.Sizeof(descriptor{}))

			var offsets []int
			for i := 0; i < 2000; i++ {
				off := reserve(a, src, size)
				p := (*descriptor)(unsafe.Pointer(a.At(off)))
				p.tag = int64(i)
				offsets = append(offsets, off)
			}

			So(a.Cap(), ShouldBeGreaterThan, pagesource.Size)

			for i, off := range offsets {
				p := (*descriptor)(unsafe.Pointer(a.At(off)))
				So(p.tag, ShouldEqual, int64(i))
			}
		})

		Convey("GrowthNeeded reports false once enough capacity is already reserved", func() {
			size := int(unsafe.Sizeof(descriptor{}))
			_, ok := a.GrowthNeeded(size)
			So(ok, ShouldBeTrue)

			_ = reserve(a, src, size)

			_, ok = a.GrowthNeeded(size)
			So(ok, ShouldBeFalse)
		})
	})
}
