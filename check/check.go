// Package check verifies the structural invariants of an image: checksums,
// region geometry, the root directory's shape, and agreement between the
// bitmaps and what the inodes and entries reference.
//
// Unreferenced, unallocated inode records left behind by an aborted add are
// reported as orphans rather than problems; nothing points at them.
package check

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mit-pdos/go-minivsfs/alloc"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/dir"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/fserr"
	"github.com/mit-pdos/go-minivsfs/inode"
	"github.com/mit-pdos/go-minivsfs/layout"
	"github.com/mit-pdos/go-minivsfs/super"
	"github.com/mit-pdos/go-minivsfs/util"
)

type Report struct {
	Super  *super.Superblock
	Layout *layout.Layout

	UsedInodes uint64
	UsedBlocks uint64
	Entries    []dir.Dirent

	// OrphanInodes were written but never allocated.
	OrphanInodes []common.Inum
	Problems     []string
}

func (r *Report) OK() bool {
	return len(r.Problems) == 0
}

func (r *Report) problem(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	util.DPrintf(1, "check: %s\n", msg)
	r.Problems = append(r.Problems, msg)
}

type checker struct {
	d   disk.Disk
	l   *layout.Layout
	r   *Report
	ia  *alloc.Alloc
	da  *alloc.Alloc
	ips []*inode.Inode // index inum-1

	// owner of each data block, by data-relative index
	owner map[uint64]common.Inum
}

// Check inspects the image on d. It returns an error only when the image
// cannot be interpreted at all (unreadable, bad magic, or impossible
// geometry); everything else is collected in the report.
func Check(d disk.Disk) (*Report, error) {
	blk, err := d.Read(0)
	if err != nil {
		return nil, fserr.IO("read superblock: %w", err)
	}
	sb, err := super.Decode(blk)
	if err != nil {
		return nil, fserr.Format("%w", err)
	}
	r := &Report{Super: sb, Layout: sb.Layout()}
	if err := super.Verify(blk); err != nil {
		r.problem("%v", err)
	}
	if sb.Version != common.VERSION {
		r.problem("superblock version %d, want %d", sb.Version, common.VERSION)
	}
	if uint64(sb.BlockSize) != disk.BlockSize {
		r.problem("superblock block size %d, want %d", sb.BlockSize, disk.BlockSize)
	}
	if sb.RootInode != uint64(common.ROOTINUM) {
		r.problem("superblock root inode %d, want %d", sb.RootInode, common.ROOTINUM)
	}

	sz, err := d.Size()
	if err != nil {
		return nil, fserr.IO("%w", err)
	}
	if err := r.Layout.Validate(sz); err != nil {
		return nil, fserr.Format("%w", err)
	}

	c := &checker{d: d, l: r.Layout, r: r, owner: make(map[uint64]common.Inum)}
	if err := c.loadBitmaps(); err != nil {
		return nil, err
	}
	if err := c.checkInodes(); err != nil {
		return nil, err
	}
	if err := c.checkRoot(); err != nil {
		return nil, err
	}
	c.checkDataBitmap()

	r.UsedInodes = c.ia.NumUsed()
	r.UsedBlocks = c.da.NumUsed()
	return r, nil
}

func (c *checker) loadBitmaps() error {
	ibm, err := disk.ReadBlocks(c.d, c.l.InodeBitmapStart, c.l.InodeBitmapBlocks)
	if err != nil {
		return fserr.IO("read inode bitmap: %w", err)
	}
	dbm, err := disk.ReadBlocks(c.d, c.l.DataBitmapStart, c.l.DataBitmapBlocks)
	if err != nil {
		return fserr.IO("read data bitmap: %w", err)
	}
	// Validate guarantees both bitmaps are large enough
	c.ia, _ = alloc.MkAlloc(ibm, c.l.NInode, 1)
	c.da, _ = alloc.MkAlloc(dbm, c.l.DataBlocks, 0)
	if !c.ia.TrailingClear() {
		c.r.problem("inode bitmap has bits set past inode %d", c.l.NInode)
	}
	if !c.da.TrailingClear() {
		c.r.problem("data bitmap has bits set past data block %d", c.l.DataBlocks)
	}
	return nil
}

func (c *checker) checkInodes() error {
	table, err := disk.ReadBlocks(c.d, c.l.InodeTableStart, c.l.InodeTableBlocks)
	if err != nil {
		return fserr.IO("read inode table: %w", err)
	}
	c.ips = make([]*inode.Inode, c.l.NInode)
	zero := inode.MkZero().Encode()
	for i := uint64(0); i < c.l.NInode; i++ {
		inum := common.Inum(i + 1)
		rec := table[i*common.INODESZ : (i+1)*common.INODESZ]
		ip := inode.Decode(rec)
		c.ips[i] = ip
		if !inode.Verify(rec) {
			c.r.problem("inode %d: checksum mismatch", inum)
		}
		if !c.ia.IsUsed(i) {
			if !bytes.Equal(rec, zero) {
				c.r.OrphanInodes = append(c.r.OrphanInodes, inum)
			}
			continue
		}
		if !ip.IsFile() && !ip.IsDir() {
			c.r.problem("inode %d: allocated with mode %o", inum, ip.Mode)
			continue
		}
		if !ip.Consistent() {
			c.r.problem("inode %d: size %d does not match direct pointers %v",
				inum, ip.Size, ip.Direct)
		}
		for _, bn := range ip.Blocks() {
			c.claim(inum, bn)
		}
	}
	if uint64(len(table)) > c.l.NInode*common.INODESZ {
		for _, b := range table[c.l.NInode*common.INODESZ:] {
			if b != 0 {
				c.r.problem("inode table is not zero past inode %d", c.l.NInode)
				break
			}
		}
	}
	return nil
}

func (c *checker) claim(inum common.Inum, bn common.Bnum) {
	if !c.l.InData(bn) {
		c.r.problem("inode %d: block %d outside the data region", inum, bn)
		return
	}
	n := bn - c.l.DataStart
	if prev, ok := c.owner[n]; ok {
		c.r.problem("block %d referenced by inodes %d and %d", bn, prev, inum)
		return
	}
	c.owner[n] = inum
}

func (c *checker) inodeOf(inum common.Inum) *inode.Inode {
	return c.ips[inum-1]
}

func (c *checker) checkRoot() error {
	if !c.ia.IsUsed(0) {
		c.r.problem("root inode not allocated")
	}
	root := c.inodeOf(common.ROOTINUM)
	if !root.IsDir() {
		c.r.problem("root inode has mode %o, not a directory", root.Mode)
	}
	if root.Links != 2 {
		c.r.problem("root inode has %d links, want 2", root.Links)
	}
	rd, _, err := dir.ReadRoot(c.d, c.l)
	if err != nil {
		if errors.Is(err, dir.ErrNoRootBlock) {
			c.r.problem("%v", err)
			return nil
		}
		return fserr.IO("read root directory: %w", err)
	}

	for i, name := range []string{".", ".."} {
		de := rd.Slot(uint64(i))
		if de.Name != name || de.Inum != common.ROOTINUM || de.Type != dir.TypeDir {
			c.r.problem("root slot %d is %q -> %d, want %q -> %d",
				i, de.Name, de.Inum, name, common.ROOTINUM)
		}
	}

	seen := make(map[string]uint64)
	refs := make(map[common.Inum]bool)
	for i := uint64(0); i < common.DIRENTBLK; i++ {
		de := rd.Slot(i)
		if de.Inum == common.NULLINUM {
			continue
		}
		c.r.Entries = append(c.r.Entries, de)
		if !rd.SlotValid(i) {
			c.r.problem("root slot %d: parity mismatch", i)
		}
		if prev, ok := seen[de.Name]; ok {
			c.r.problem("name %q in slots %d and %d", de.Name, prev, i)
		}
		seen[de.Name] = i
		if !c.l.ValidInum(de.Inum) {
			c.r.problem("entry %q: inode %d out of range", de.Name, de.Inum)
			continue
		}
		if !c.ia.IsUsed(uint64(de.Inum) - 1) {
			c.r.problem("entry %q: inode %d not allocated", de.Name, de.Inum)
		}
		ip := c.inodeOf(de.Inum)
		if de.Type == dir.TypeFile && !ip.IsFile() || de.Type == dir.TypeDir && !ip.IsDir() {
			c.r.problem("entry %q: type %d but inode %d has mode %o",
				de.Name, de.Type, de.Inum, ip.Mode)
		}
		if de.Inum != common.ROOTINUM {
			refs[de.Inum] = true
		}
	}

	for i := uint64(1); i < c.l.NInode; i++ {
		inum := common.Inum(i + 1)
		if c.ia.IsUsed(i) && !refs[inum] {
			c.r.problem("inode %d allocated but not in the root directory", inum)
		}
	}
	return nil
}

func (c *checker) checkDataBitmap() {
	for n := uint64(0); n < c.l.DataBlocks; n++ {
		inum, referenced := c.owner[n]
		used := c.da.IsUsed(n)
		switch {
		case referenced && !used:
			c.r.problem("block %d used by inode %d but free in the data bitmap",
				c.l.DataBnum(n), inum)
		case used && !referenced:
			c.r.problem("block %d marked used but unreferenced", c.l.DataBnum(n))
		}
	}
}
