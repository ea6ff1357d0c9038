package sizeclass_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/flier/memalloc/sizeclass"
)

func TestClassOf(t *testing.T) {
	Convey("Given the reference size-class table", t, func() {
		Convey("A sub-minimum request rounds up to the smallest class", func() {
			_, size := sizeclass.ClassOf(1)
			So(size, ShouldEqual, sizeclass.Min)
		})

		Convey("A request equal to a class boundary maps to that class", func() {
			idx, size := sizeclass.ClassOf(128)
			So(size, ShouldEqual, 128)
			So(sizeclass.Table[idx], ShouldEqual, 128)
		})

		Convey("A request just over a boundary maps to the next class", func() {
			_, size := sizeclass.ClassOf(129)
			So(size, ShouldEqual, 192)
		})

		Convey("100 bytes rounds to 128", func() {
			_, size := sizeclass.ClassOf(100)
			So(size, ShouldEqual, 128)
		})

		Convey("10 bytes rounds to 12", func() {
			_, size := sizeclass.ClassOf(10)
			So(size, ShouldEqual, 12)
		})

		Convey("A full page maps to the last class", func() {
			_, size := sizeclass.ClassOf(4096)
			So(size, ShouldEqual, 4096)
		})

		Convey("Class monotonicity: the returned class is always >= n and minimal", func() {
			for n := 1; n <= 4096; n++ {
				idx, size := sizeclass.ClassOf(n)
				So(size, ShouldBeGreaterThanOrEqualTo, n)
				if idx > 0 {
					So(sizeclass.Table[idx-1], ShouldBeLessThan, n)
				}
			}
		})
	})
}

func TestSlotsPerPage(t *testing.T) {
	Convey("Given a 4096-byte page", t, func() {
		Convey("128-byte slots fit exactly 32 times", func() {
			So(sizeclass.SlotsPerPage(4096, 128), ShouldEqual, 32)
		})

		Convey("Odd classes round up to a partial final slot count", func() {
			So(sizeclass.SlotsPerPage(4096, 3072), ShouldEqual, 2)
		})
	})
}
