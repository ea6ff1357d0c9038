// Package sizeclass holds the compile-time size-class table the bucket pool
// rounds every small request up to: a 19-class reference table spanning the
// smallest useful slot (8 bytes) to one page (4096 bytes). Classes are kept
// here, rather than inline in bucketpool, so the class-monotonicity
// property can be unit-tested in isolation.
package sizeclass

// Table is the reference size-class table: 8, 12, 16, 24, 32, 48, 64, 96,
// 128, 192, 256, 384, 512, 768, 1024, 1536, 2048, 3072, 4096.
//
// It is strictly increasing and its last entry equals pagesource.Size. The
// table is fixed: memalloc.WithPageSize moves only the dispatch boundary
// and offers no way to replace the table.
var Table = [...]int{
	8, 12, 16, 24, 32, 48, 64, 96,
	128, 192, 256, 384, 512, 768,
	1024, 1536, 2048, 3072, 4096,
}

// Count is the number of size classes in Table.
const Count = len(Table)

// Min is the smallest size class: the class a sub-minimum request (e.g.
// allocate(1)) rounds up to.
const Min = 8

// ClassOf returns the index into Table of the least class whose size is
// greater than or equal to n, and that class's size.
//
// n must be no greater than Table's last entry; callers route anything
// larger to the large-object path before calling ClassOf.
func ClassOf(n int) (index, size int) {
	// Binary search: Table is small (19 entries) and this runs on every
	// small allocation, so a hand-rolled search avoids the overhead of
	// sort.Search's closure.
	lo, hi := 0, len(Table)
	for lo < hi {
		mid := (lo + hi) / 2
		if Table[mid] < n {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	return lo, Table[lo]
}

// SlotsPerPage returns the number of slots of the given class that fit in
// one page, i.e. ⌈pageSize / class⌉ as used for the meaningful prefix of a
// bucket's liveness bitmap.
func SlotsPerPage(pageSize, class int) int {
	return (pageSize + class - 1) / class
}
