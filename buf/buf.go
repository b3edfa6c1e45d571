// buf manages sub-block disk objects, to be packed into disk blocks
package buf

import (
	"fmt"

	"github.com/mit-pdos/go-minivsfs/addr"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/util"
)

// A Buf is a write to a disk object: an inode slot, a single bitmap bit, or
// a whole block.
type Buf struct {
	Addr addr.Addr
	Sz   uint64 // number of bits
	Data []byte
}

// MkBuf wraps data as the sz-bit object at addr. For a single bit, the bit
// is taken from Data[0] at position addr.Off%8.
func MkBuf(addr addr.Addr, sz uint64, data []byte) *Buf {
	return &Buf{Addr: addr, Sz: sz, Data: data}
}

// MkBitBuf returns a one-bit object setting bit n of the bitmap at start.
func MkBitBuf(start common.Bnum, n uint64) *Buf {
	a := addr.MkBitAddr(start, n)
	return MkBuf(a, 1, []byte{1 << (a.Off % 8)})
}

// Load the bits of a disk block into a new buf, as specified by addr
func MkBufLoad(addr addr.Addr, sz uint64, blk disk.Block) *Buf {
	bytefirst := addr.Off / 8
	bytelast := (addr.Off + sz - 1) / 8
	data := blk[bytefirst : bytelast+1]
	return MkBuf(addr, sz, data)
}

// ReadBuf reads the block holding addr and returns the sz-bit object there.
// The returned Data aliases a private copy of the block.
func ReadBuf(d disk.Disk, addr addr.Addr, sz uint64) (*Buf, error) {
	blk, err := d.Read(addr.Blkno)
	if err != nil {
		return nil, err
	}
	return MkBufLoad(addr, sz, blk), nil
}

// Install 1 bit from src into dst, at offset bit. return new dst.
func installOneBit(src byte, dst byte, bit uint64) byte {
	var new byte = dst
	if src&(1<<bit) != dst&(1<<bit) {
		if src&(1<<bit) == 0 {
			// dst is 1, but should be 0
			new = new & ^(1 << bit)
		} else {
			// dst is 0, but should be 1
			new = new | (1 << bit)
		}
	}
	return new
}

// Install bit from src to dst, at dstoff in destination. dstoff is in bits.
func installBit(src []byte, dst []byte, dstoff uint64) {
	dstbyte := dstoff / 8
	dst[dstbyte] = installOneBit(src[0], dst[dstbyte], (dstoff)%8)
}

// Install bytes from src to dst.
func installBytes(src []byte, dst []byte, dstoff uint64, nbit uint64) {
	sz := nbit / 8
	copy(dst[dstoff/8:], src[:sz])
}

// Install the bits from buf into blk.  Two cases: a bit or a byte-aligned
// record
func (buf *Buf) Install(blk disk.Block) error {
	util.DPrintf(15, "%v: install\n", buf.Addr)
	if buf.Sz == 1 {
		installBit(buf.Data, blk, buf.Addr.Off)
	} else if buf.Sz%8 == 0 && buf.Addr.Off%8 == 0 {
		installBytes(buf.Data, blk, buf.Addr.Off, buf.Sz)
	} else {
		return fmt.Errorf("install %v: unsupported size %d", buf.Addr, buf.Sz)
	}
	return nil
}

// WriteDirect writes buf to its block on d, reading and merging the rest of
// the block unless buf covers it entirely.
func (buf *Buf) WriteDirect(d disk.Disk) error {
	if buf.Sz == disk.BlockSize*8 {
		return d.Write(buf.Addr.Blkno, buf.Data)
	}
	blk, err := d.Read(buf.Addr.Blkno)
	if err != nil {
		return err
	}
	if err := buf.Install(blk); err != nil {
		return err
	}
	return d.Write(buf.Addr.Blkno, blk)
}
