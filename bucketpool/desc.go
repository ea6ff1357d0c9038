package bucketpool

import "math/bits"

// noNext marks a descriptor as the tail of its class's bucket list.
const noNext = -1

// desc is a bucket descriptor: the metadata for one page-sized region
// carved into fixed-size slots of a single size class.
//
// It holds the size class, a liveness bitmap, and a link to the next
// bucket of the same class, laid out for storage in the metadata arena
// rather than on the Go heap. A desc is never copied once linked:
// bucketpool always addresses it through its arena offset.
type desc struct {
	class  int32     // index into sizeclass.Table
	_      int32     // padding, keeps region 8-byte aligned
	region uintptr   // base address of this bucket's backing page(s)
	bitmap [8]uint64 // bit i set means slot i is in use
	next   int32     // arena offset of the next desc for this class, or noNext
	_      int32
}

// slotCount is the number of bits of bitmap that are meaningful for this
// descriptor; bits at or beyond it are permanently zero and never
// consulted.
func (d *desc) slotCount() int {
	return slotsFor(d.class)
}

// findFree returns the index of the lowest-numbered free slot, if any.
//
// The pool always reuses the lowest-numbered free slot first, which a
// lowest-clear-bit scan gives for free.
func (d *desc) findFree() (slot int, ok bool) {
	meaningful := d.slotCount()

	for w := 0; w < len(d.bitmap); w++ {
		base := w * 64
		if base >= meaningful {
			break
		}

		width := meaningful - base
		if width > 64 {
			width = 64
		}

		var mask uint64
		if width == 64 {
			mask = ^uint64(0)
		} else {
			mask = (uint64(1) << width) - 1
		}

		free := ^d.bitmap[w] & mask
		if free != 0 {
			return base + bits.TrailingZeros64(free), true
		}
	}

	return 0, false
}

func (d *desc) set(slot int) {
	d.bitmap[slot/64] |= uint64(1) << (slot % 64)
}

func (d *desc) clear(slot int) {
	d.bitmap[slot/64] &^= uint64(1) << (slot % 64)
}

func (d *desc) isSet(slot int) bool {
	return d.bitmap[slot/64]&(uint64(1)<<(slot%64)) != 0
}

func (d *desc) empty() bool {
	for _, w := range d.bitmap {
		if w != 0 {
			return false
		}
	}
	return true
}
