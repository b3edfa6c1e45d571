// Package layout partitions an image into its fixed regions:
//
//	[superblock][inode bitmap][data bitmap][inode table][data region]
//
// The data bitmap's size depends on the data region's size, which in turn
// depends on the data bitmap's size; Plan resolves this by iterating to a
// fixed point.
package layout

import (
	"errors"
	"fmt"
	"math"

	"github.com/mit-pdos/go-minivsfs/addr"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/util"
)

var (
	ErrTooSmall    = errors.New("image too small")
	ErrBadGeometry = errors.New("inconsistent region geometry")
)

// maxIter bounds the data bitmap iteration; it settles or cycles within a
// few rounds for any 32-bit block count.
const maxIter = 8

type Layout struct {
	TotalBlocks uint64
	NInode      uint64

	InodeBitmapStart  common.Bnum
	InodeBitmapBlocks uint64
	DataBitmapStart   common.Bnum
	DataBitmapBlocks  uint64
	InodeTableStart   common.Bnum
	InodeTableBlocks  uint64
	DataStart         common.Bnum
	DataBlocks        uint64
}

// Plan lays out an image of total blocks holding ninode inodes.
func Plan(total uint64, ninode uint64) (*Layout, error) {
	if ninode == 0 {
		return nil, fmt.Errorf("%w: inode count must be positive", ErrTooSmall)
	}
	if total < common.MINBLOCKS {
		return nil, fmt.Errorf("%w: need at least %d blocks, have %d",
			ErrTooSmall, common.MINBLOCKS, total)
	}
	// direct pointers and entry inode numbers are 32 bits wide on disk
	if total > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d blocks exceed 32-bit block pointers",
			ErrBadGeometry, total)
	}
	if ninode > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d inodes exceed 32-bit inode numbers",
			ErrBadGeometry, ninode)
	}

	ibm := bitmapBlocks(ninode)
	itab := util.RoundUp(ninode, common.INODEBLK)

	// Iterate dbm = need until it is stable. On a bitmap block boundary the
	// larger bitmap shrinks the data region enough to need the smaller one
	// and the iteration cycles; a cycle settles on the larger value.
	dbm := uint64(1)
	seen := make(map[uint64]bool)
	for i := 0; i < maxIter; i++ {
		need := bitmapBlocks(dataBlocks(total, ibm, itab, dbm))
		if need == dbm {
			break
		}
		if seen[need] {
			dbm = util.Max(dbm, need)
			break
		}
		seen[dbm] = true
		dbm = need
	}

	ndata := dataBlocks(total, ibm, itab, dbm)
	if bitmapBlocks(ndata) > dbm {
		return nil, fmt.Errorf("%w: data bitmap did not converge for %d blocks",
			ErrBadGeometry, total)
	}
	if ndata == 0 {
		return nil, fmt.Errorf("%w: no room for data blocks after metadata "+
			"(%d blocks, %d inodes)", ErrTooSmall, total, ninode)
	}

	l := &Layout{
		TotalBlocks:       total,
		NInode:            ninode,
		InodeBitmapStart:  1,
		InodeBitmapBlocks: ibm,
		DataBitmapBlocks:  dbm,
		InodeTableBlocks:  itab,
		DataBlocks:        ndata,
	}
	l.DataBitmapStart = l.InodeBitmapStart + ibm
	l.InodeTableStart = l.DataBitmapStart + dbm
	l.DataStart = l.InodeTableStart + itab
	util.DPrintf(1, "Plan: %v\n", l)
	return l, nil
}

func bitmapBlocks(nbits uint64) uint64 {
	return util.Max(1, util.RoundUp(nbits, common.NBITBLOCK))
}

// dataBlocks is what remains after the superblock and metadata, clamped at 0.
func dataBlocks(total, ibm, itab, dbm uint64) uint64 {
	used := 1 + ibm + itab + dbm
	if total <= used {
		return 0
	}
	return total - used
}

// PlanKiB lays out an image of sizeKiB kibibytes, rounded down to whole
// blocks.
func PlanKiB(sizeKiB uint64, ninode uint64) (*Layout, error) {
	if util.MulOverflows(sizeKiB, 1024) {
		return nil, fmt.Errorf("%w: %d KiB overflows", ErrBadGeometry, sizeKiB)
	}
	return Plan(sizeKiB*1024/disk.BlockSize, ninode)
}

// Validate checks that the regions tile [0, TotalBlocks) in order, that each
// metadata region is large enough for what it describes, and that the
// image holds at least TotalBlocks blocks.
func (l *Layout) Validate(diskBlocks uint64) error {
	type region struct {
		name  string
		start uint64
		n     uint64
	}
	regions := []region{
		{"inode bitmap", l.InodeBitmapStart, l.InodeBitmapBlocks},
		{"data bitmap", l.DataBitmapStart, l.DataBitmapBlocks},
		{"inode table", l.InodeTableStart, l.InodeTableBlocks},
		{"data region", l.DataStart, l.DataBlocks},
	}
	next := uint64(1)
	for _, r := range regions {
		if r.start != next {
			return fmt.Errorf("%w: %s starts at %d, want %d",
				ErrBadGeometry, r.name, r.start, next)
		}
		if r.n == 0 || util.SumOverflows(r.start, r.n) {
			return fmt.Errorf("%w: %s has bad length %d", ErrBadGeometry, r.name, r.n)
		}
		next = r.start + r.n
	}
	if next != l.TotalBlocks {
		return fmt.Errorf("%w: regions cover %d blocks, total is %d",
			ErrBadGeometry, next, l.TotalBlocks)
	}
	if l.NInode == 0 || l.InodeBitmapBlocks*common.NBITBLOCK < l.NInode {
		return fmt.Errorf("%w: inode bitmap too small for %d inodes", ErrBadGeometry, l.NInode)
	}
	if l.InodeTableBlocks*common.INODEBLK < l.NInode {
		return fmt.Errorf("%w: inode table too small for %d inodes", ErrBadGeometry, l.NInode)
	}
	if l.DataBitmapBlocks*common.NBITBLOCK < l.DataBlocks {
		return fmt.Errorf("%w: data bitmap too small for %d blocks", ErrBadGeometry, l.DataBlocks)
	}
	if l.TotalBlocks > math.MaxUint32 {
		return fmt.Errorf("%w: %d blocks exceed 32-bit block pointers", ErrBadGeometry, l.TotalBlocks)
	}
	if diskBlocks < l.TotalBlocks {
		return fmt.Errorf("%w: image has %d blocks, superblock claims %d",
			ErrBadGeometry, diskBlocks, l.TotalBlocks)
	}
	return nil
}

// Inum2Addr locates inode inum's record in the inode table.
func (l *Layout) Inum2Addr(inum common.Inum) addr.Addr {
	return addr.MkRecordAddr(l.InodeTableStart, uint64(inum)-1, common.INODESZ)
}

// ValidInum reports whether inum names an inode slot.
func (l *Layout) ValidInum(inum common.Inum) bool {
	return inum != common.NULLINUM && uint64(inum) <= l.NInode
}

// DataBnum converts a data-bitmap index into an absolute block number.
func (l *Layout) DataBnum(n uint64) common.Bnum {
	return l.DataStart + n
}

// InData reports whether bn lies in the data region.
func (l *Layout) InData(bn common.Bnum) bool {
	return bn >= l.DataStart && bn < l.DataStart+l.DataBlocks
}

func (l *Layout) String() string {
	return fmt.Sprintf("{total %d inodes %d ibm %d+%d dbm %d+%d itab %d+%d data %d+%d}",
		l.TotalBlocks, l.NInode,
		l.InodeBitmapStart, l.InodeBitmapBlocks,
		l.DataBitmapStart, l.DataBitmapBlocks,
		l.InodeTableStart, l.InodeTableBlocks,
		l.DataStart, l.DataBlocks)
}
