package addr

import (
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/disk"
)

// Addr identifies the start of a disk object.
//
// Blkno is the block number containing the object, and Off is the location of
// the object within the block (expressed as a bit offset). The size of the
// object is determined by the context in which Addr is used.
type Addr struct {
	Blkno common.Bnum
	Off   uint64 // offset in bits
}

// ByteOff is the object's byte offset within its block.
func (a Addr) ByteOff() uint64 {
	return a.Off / 8
}

func MkAddr(blkno common.Bnum, off uint64) Addr {
	return Addr{Blkno: blkno, Off: off}
}

// MkBitAddr addresses bit n of a bitmap that starts at block start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	addr := MkAddr(start+common.Bnum(i), bit)
	return addr
}

// MkRecordAddr addresses record n of a table of sz-byte records that starts
// at block start. Records never straddle blocks.
func MkRecordAddr(start common.Bnum, n uint64, sz uint64) Addr {
	perblk := disk.BlockSize / sz
	return MkAddr(start+common.Bnum(n/perblk), (n%perblk)*sz*8)
}
