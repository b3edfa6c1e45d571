// Package mkfs writes fresh MiniVSFS images.
package mkfs

import (
	"time"

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

type Options struct {
	// Now supplies the creation time; time.Now if nil.
	Now func() time.Time
	// NoLock skips the advisory lock on the output file.
	NoLock bool
}

func (o Options) now() uint64 {
	if o.Now == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(o.Now().Unix())
}

// Format writes a complete image laid out as l onto d, which must hold at
// least l.TotalBlocks blocks. Blocks of the data region other than the root
// directory block are left as they are.
func Format(d disk.Disk, l *layout.Layout, opts Options) (*super.Superblock, error) {
	sz, err := d.Size()
	if err != nil {
		return nil, fserr.IO("size: %w", err)
	}
	if err := l.Validate(sz); err != nil {
		return nil, fserr.Validation("%w", err)
	}
	now := opts.now()

	sb := super.MkSuper(l, now)
	if err := d.Write(0, sb.Encode()); err != nil {
		return nil, fserr.IO("write superblock: %w", err)
	}

	// inode 1 is bit 0; it belongs to root
	ibm := alloc.MkMaxAlloc(l.NInode, 1)
	if err := ibm.MarkUsed(0); err != nil {
		return nil, fserr.Validation("root inode: %w", err)
	}
	if err := writeBitmap(d, l.InodeBitmapStart, l.InodeBitmapBlocks, ibm); err != nil {
		return nil, fserr.IO("write inode bitmap: %w", err)
	}

	// the root directory takes the first data block
	dbm := alloc.MkMaxAlloc(l.DataBlocks, 0)
	if err := dbm.MarkUsed(0); err != nil {
		return nil, fserr.Validation("root directory block: %w", err)
	}
	if err := writeBitmap(d, l.DataBitmapStart, l.DataBitmapBlocks, dbm); err != nil {
		return nil, fserr.IO("write data bitmap: %w", err)
	}

	root := inode.MkRoot(l.DataBnum(0), now)
	if err := disk.WriteBlocks(d, l.InodeTableStart, inode.EncodeTable(l, root)); err != nil {
		return nil, fserr.IO("write inode table: %w", err)
	}

	if err := d.Write(l.DataBnum(0), dir.MkRootDir().Block()); err != nil {
		return nil, fserr.IO("write root directory: %w", err)
	}

	if err := d.Barrier(); err != nil {
		return nil, fserr.IO("%w", err)
	}
	util.DPrintf(1, "Format: %v root inode %d\n", l, common.ROOTINUM)
	return sb, nil
}

// writeBitmap writes a's bitmap into the n-block region at start.
func writeBitmap(d disk.Disk, start common.Bnum, n uint64, a *alloc.Alloc) error {
	data := make([]byte, n*disk.BlockSize)
	copy(data, a.Bytes())
	return disk.WriteBlocks(d, start, data)
}

// FormatFile creates the image at path, sizeKiB kibibytes rounded down to
// whole blocks, with ninode inodes. Size and inode count are validated
// before the file is touched.
func FormatFile(path string, sizeKiB uint64, ninode uint64, opts Options) (*super.Superblock, error) {
	l, err := layout.PlanKiB(sizeKiB, ninode)
	if err != nil {
		return nil, fserr.Validation("%w", err)
	}
	d, err := disk.CreateFileDisk(path, l.TotalBlocks, disk.OpenOptions{NoLock: opts.NoLock})
	if err != nil {
		return nil, fserr.IO("%w", err)
	}
	sb, err := Format(d, l, opts)
	cerr := d.Close()
	if err != nil {
		return nil, err
	}
	if cerr != nil {
		return nil, fserr.IO("close %s: %w", path, cerr)
	}
	return sb, nil
}
