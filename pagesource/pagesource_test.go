package pagesource_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flier/memalloc/internal/xdebug"
	"github.com/flier/memalloc/pagesource"
)

func TestAcquireReleaseSinglePage(t *testing.T) {
	defer xdebug.WithTesting(t)()

	var src pagesource.Source

	addr := src.Acquire(1)
	require.NotZero(t, addr)
	assert.Zero(t, addr%pagesource.Size, "address must be page-aligned")

	p := unsafe.Slice((*byte)(unsafe.Pointer(addr)), pagesource.Size)
	for _, b := range p {
		assert.Zero(t, b, "fresh mapping must be zero-filled")
	}

	p[0] = 0xff
	p[pagesource.Size-1] = 0xff

	src.Release(addr, 1)
}

func TestAcquireMultiplePagesAreContiguous(t *testing.T) {
	defer xdebug.WithTesting(t)()

	var src pagesource.Source

	addr := src.Acquire(4)
	require.NotZero(t, addr)

	p := unsafe.Slice((*byte)(unsafe.Pointer(addr)), 4*pagesource.Size)
	for i := range p {
		p[i] = byte(i)
	}
	for i := range p {
		assert.Equal(t, byte(i), p[i])
	}

	src.Release(addr, 4)
}

func TestDistinctAcquisitionsDoNotOverlap(t *testing.T) {
	defer xdebug.WithTesting(t)()

	var src pagesource.Source

	a := src.Acquire(1)
	b := src.Acquire(1)
	require.NotEqual(t, a, b)

	pa := unsafe.Slice((*byte)(unsafe.Pointer(a)), pagesource.Size)
	pb := unsafe.Slice((*byte)(unsafe.Pointer(b)), pagesource.Size)
	pa[0] = 1
	pb[0] = 2
	assert.Equal(t, byte(1), pa[0])
	assert.Equal(t, byte(2), pb[0])

	src.Release(a, 1)
	src.Release(b, 1)
}
