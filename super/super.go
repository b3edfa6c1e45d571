// Package super encodes and decodes the superblock, block 0 of every image.
package super

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-minivsfs/checksum"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/layout"
)

var (
	ErrBadMagic    = errors.New("not a MiniVSFS image (bad magic)")
	ErrBadChecksum = errors.New("superblock checksum mismatch")
)

type Superblock struct {
	Magic             uint32
	Version           uint32
	BlockSize         uint32
	TotalBlocks       uint64
	InodeCount        uint64
	InodeBitmapStart  uint64
	InodeBitmapBlocks uint64
	DataBitmapStart   uint64
	DataBitmapBlocks  uint64
	InodeTableStart   uint64
	InodeTableBlocks  uint64
	DataRegionStart   uint64
	DataRegionBlocks  uint64
	RootInode         uint64
	MtimeEpoch        uint64
	Flags             uint32
	Checksum          uint32
}

// MkSuper describes an image laid out as l, created at now (epoch seconds).
func MkSuper(l *layout.Layout, now uint64) *Superblock {
	return &Superblock{
		Magic:             common.MAGIC,
		Version:           common.VERSION,
		BlockSize:         uint32(disk.BlockSize),
		TotalBlocks:       l.TotalBlocks,
		InodeCount:        l.NInode,
		InodeBitmapStart:  l.InodeBitmapStart,
		InodeBitmapBlocks: l.InodeBitmapBlocks,
		DataBitmapStart:   l.DataBitmapStart,
		DataBitmapBlocks:  l.DataBitmapBlocks,
		InodeTableStart:   l.InodeTableStart,
		InodeTableBlocks:  l.InodeTableBlocks,
		DataRegionStart:   l.DataStart,
		DataRegionBlocks:  l.DataBlocks,
		RootInode:         uint64(common.ROOTINUM),
		MtimeEpoch:        now,
		Flags:             0,
	}
}

// Encode returns the superblock as a full block with its checksum
// finalized; sb.Checksum is updated to match.
func (sb *Superblock) Encode() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt32(sb.Magic)
	enc.PutInt32(sb.Version)
	enc.PutInt32(sb.BlockSize)
	enc.PutInts([]uint64{
		sb.TotalBlocks,
		sb.InodeCount,
		sb.InodeBitmapStart,
		sb.InodeBitmapBlocks,
		sb.DataBitmapStart,
		sb.DataBitmapBlocks,
		sb.InodeTableStart,
		sb.InodeTableBlocks,
		sb.DataRegionStart,
		sb.DataRegionBlocks,
		sb.RootInode,
		sb.MtimeEpoch,
	})
	enc.PutInt32(sb.Flags)
	enc.PutInt32(0)
	blk := enc.Finish()
	sb.Checksum = checksum.FinalizeSuper(blk)
	return blk
}

// Decode parses block 0. It rejects a wrong magic number but does not verify
// the checksum; see Verify.
func Decode(blk disk.Block) (*Superblock, error) {
	if uint64(len(blk)) != disk.BlockSize {
		return nil, fmt.Errorf("superblock: %w", disk.ErrNotBlock)
	}
	dec := marshal.NewDec(blk)
	sb := &Superblock{}
	sb.Magic = dec.GetInt32()
	if sb.Magic != common.MAGIC {
		return nil, fmt.Errorf("%w: 0x%08x", ErrBadMagic, sb.Magic)
	}
	sb.Version = dec.GetInt32()
	sb.BlockSize = dec.GetInt32()
	ints := dec.GetInts(12)
	sb.TotalBlocks = ints[0]
	sb.InodeCount = ints[1]
	sb.InodeBitmapStart = ints[2]
	sb.InodeBitmapBlocks = ints[3]
	sb.DataBitmapStart = ints[4]
	sb.DataBitmapBlocks = ints[5]
	sb.InodeTableStart = ints[6]
	sb.InodeTableBlocks = ints[7]
	sb.DataRegionStart = ints[8]
	sb.DataRegionBlocks = ints[9]
	sb.RootInode = ints[10]
	sb.MtimeEpoch = ints[11]
	sb.Flags = dec.GetInt32()
	sb.Checksum = dec.GetInt32()
	return sb, nil
}

// Verify recomputes the checksum of an encoded superblock block.
func Verify(blk disk.Block) error {
	if !checksum.VerifySuper(blk) {
		return ErrBadChecksum
	}
	return nil
}

// Layout rebuilds the region geometry recorded in sb.
func (sb *Superblock) Layout() *layout.Layout {
	return &layout.Layout{
		TotalBlocks:       sb.TotalBlocks,
		NInode:            sb.InodeCount,
		InodeBitmapStart:  sb.InodeBitmapStart,
		InodeBitmapBlocks: sb.InodeBitmapBlocks,
		DataBitmapStart:   sb.DataBitmapStart,
		DataBitmapBlocks:  sb.DataBitmapBlocks,
		InodeTableStart:   sb.InodeTableStart,
		InodeTableBlocks:  sb.InodeTableBlocks,
		DataStart:         sb.DataRegionStart,
		DataBlocks:        sb.DataRegionBlocks,
	}
}

// ReadSuper reads and decodes block 0 of d.
func ReadSuper(d disk.Disk) (*Superblock, error) {
	blk, err := d.Read(0)
	if err != nil {
		return nil, err
	}
	return Decode(blk)
}
