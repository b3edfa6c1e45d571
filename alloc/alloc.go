package alloc

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/util"
)

var ErrExhausted = errors.New("no free bit")

// Alloc uses a bit map to allocate numbers in [first, max). Bit 0
// corresponds to number 0, bit 1 to 1, and so on; callers map numbers to
// inodes or data blocks. Bits at or past max are never set.
//
// An Alloc works on an in-memory copy of the bitmap. Nothing reaches disk
// until the caller writes Bytes() back.
type Alloc struct {
	bitmap []byte
	max    uint64 // number of allocatable units
	first  uint64 // first number to try
}

// MkAlloc wraps a bitmap loaded from disk. bitmap must cover max bits.
func MkAlloc(bitmap []byte, max uint64, first uint64) (*Alloc, error) {
	if uint64(len(bitmap))*8 < max {
		return nil, fmt.Errorf("bitmap of %d bytes cannot hold %d bits", len(bitmap), max)
	}
	a := &Alloc{
		bitmap: bitmap,
		max:    max,
		first:  first,
	}
	return a, nil
}

// MkMaxAlloc returns an allocator over a fresh, all-free bitmap of whole
// blocks covering max bits.
func MkMaxAlloc(max uint64, first uint64) *Alloc {
	nblk := util.Max(1, util.RoundUp(max, common.NBITBLOCK))
	a, _ := MkAlloc(make([]byte, nblk*common.NBITBLOCK/8), max, first)
	return a
}

func (a *Alloc) IsUsed(n uint64) bool {
	if n >= a.max {
		return false
	}
	return a.bitmap[n/8]&(1<<(n%8)) != 0
}

// MarkUsed sets bit n. Marking a used bit is a no-op.
func (a *Alloc) MarkUsed(n uint64) error {
	if n >= a.max {
		return fmt.Errorf("mark %d: beyond capacity %d", n, a.max)
	}
	a.bitmap[n/8] = a.bitmap[n/8] | (1 << (n % 8))
	return nil
}

// FindFree returns the lowest clear bit in [from, max) without marking it.
func (a *Alloc) FindFree(from uint64) (uint64, error) {
	for n := from; n < a.max; n++ {
		if a.bitmap[n/8] == 0xFF {
			// skip to the last bit of a full byte
			n = n | 7
			continue
		}
		if !a.IsUsed(n) {
			return n, nil
		}
	}
	return 0, ErrExhausted
}

// AllocNum finds the first free number at or after first and marks it.
func (a *Alloc) AllocNum() (uint64, error) {
	n, err := a.FindFree(a.first)
	if err != nil {
		return 0, err
	}
	if err := a.MarkUsed(n); err != nil {
		return 0, err
	}
	util.DPrintf(5, "AllocNum: %d\n", n)
	return n, nil
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

// NumUsed counts the set bits below max.
func (a *Alloc) NumUsed() uint64 {
	var count uint64
	full := a.max / 8
	for _, b := range a.bitmap[:full] {
		count += popCnt(b)
	}
	for n := full * 8; n < a.max; n++ {
		if a.IsUsed(n) {
			count++
		}
	}
	return count
}

func (a *Alloc) NumFree() uint64 {
	return a.max - a.NumUsed()
}

func (a *Alloc) Max() uint64 {
	return a.max
}

// TrailingClear reports whether every bit at or past max is zero.
func (a *Alloc) TrailingClear() bool {
	for n := a.max; n < uint64(len(a.bitmap))*8; n++ {
		if a.bitmap[n/8]&(1<<(n%8)) != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the underlying bitmap.
func (a *Alloc) Bytes() []byte {
	return a.bitmap
}
