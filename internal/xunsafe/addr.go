package xunsafe

import (
	"fmt"
	"unsafe"

	"github.com/flier/memalloc/internal/xunsafe/layout"
)

// Addr is a typed raw address into memory the allocator owns directly
// (mmap'd pages), as opposed to a Go pointer the garbage collector tracks.
//
// Using a plain integer rather than a *T means arena growth and bucket
// bookkeeping can store addresses and do arithmetic on them without the
// compiler worrying about whether they reference live Go objects — because
// they never do.
type Addr[T any] uintptr

// AddrOf gets the address of a pointer.
func AddrOf[P ~*E, E any](p P) Addr[E] {
	return Addr[E](uintptr(unsafe.Pointer(p)))
}

// AssertValid reinterprets this address as a live pointer.
//
// The caller is asserting that the address currently refers to mapped,
// owned memory of the right shape.
func (a Addr[T]) AssertValid() *T {
	return (*T)(unsafe.Pointer(uintptr(a)))
}

// Add adds n elements' worth of offset to this address.
func (a Addr[T]) Add(n int) Addr[T] {
	return a + Addr[T](n*layout.Size[T]())
}

// ByteAdd adds an unscaled byte offset to this address.
func (a Addr[T]) ByteAdd(n int) Addr[T] {
	return a + Addr[T](n)
}

// Sub computes the number of T-sized elements between two addresses.
func (a Addr[T]) Sub(b Addr[T]) int {
	return int(a-b) / layout.Size[T]()
}

// RoundUpTo rounds this address up to the given alignment, which must be a
// power of two.
func (a Addr[T]) RoundUpTo(align int) Addr[T] {
	return Addr[T](layout.RoundUp(uintptr(a), uintptr(align)))
}

// IsZero reports whether this is the zero (invalid) address.
func (a Addr[T]) IsZero() bool { return a == 0 }

// Format implements fmt.Formatter so addresses print as hex in logs.
func (a Addr[T]) Format(state fmt.State, verb rune) {
	if verb == 'v' {
		fmt.Fprintf(state, "%#x", uintptr(a))
		return
	}

	fmt.Fprintf(state, fmt.FormatString(state, verb), uintptr(a))
}
