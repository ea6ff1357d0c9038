package xunsafe

import "unsafe"

// Cast reinterprets a pointer of one type as a pointer of another.
func Cast[To, From any](p *From) *To {
	return (*To)(unsafe.Pointer(p))
}

// Bytes views the memory at p, of the given byte length, as a []byte.
//
// The caller is responsible for ensuring p refers to at least n live bytes.
func Bytes(p *byte, n int) []byte {
	return unsafe.Slice(p, n)
}

// Copy copies n bytes from src to dst. The regions must not overlap.
func Copy(dst, src *byte, n int) {
	copy(unsafe.Slice(dst, n), unsafe.Slice(src, n))
}

// Clear zeros n bytes starting at p.
func Clear(p *byte, n int) {
	clear(unsafe.Slice(p, n))
}
