// Package ingest adds one regular file to the root directory of an existing
// image.
//
// An add runs in a fixed order: file data, then the new inode, then the
// directory entry, then both bitmaps. Allocation runs on in-memory copies
// of the bitmaps; the last step sets just the claimed bits on disk, one
// read-modify-write per bit. There is no journal: if the operation fails
// after the data or inode writes (directory full, I/O error), those blocks
// stay on disk unreferenced and unmarked, and a later add may reuse them.
// Preconditions, including a duplicate name, are checked before anything is
// written.
package ingest

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/mit-pdos/go-minivsfs/alloc"
	"github.com/mit-pdos/go-minivsfs/buf"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/dir"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/fserr"
	"github.com/mit-pdos/go-minivsfs/inode"
	"github.com/mit-pdos/go-minivsfs/super"
	"github.com/mit-pdos/go-minivsfs/util"
)

var (
	ErrNoInode     = errors.New("no free inode")
	ErrNoDataBlock = errors.New("no free data block")
	ErrNotRegular  = errors.New("source is not a regular file")
)

type Options struct {
	// Now supplies the inode timestamps; time.Now if nil.
	Now func() time.Time
	// NoLock skips the advisory lock on the image.
	NoLock bool
}

func (o Options) now() uint64 {
	if o.Now == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(o.Now().Unix())
}

// Result describes a completed add.
type Result struct {
	Inum   common.Inum
	Blocks []common.Bnum
	Slot   uint64
}

// AddFile stores size bytes read from src as name in the root directory of
// the image on d. src must yield at least size bytes.
func AddFile(d disk.Disk, name string, src io.Reader, size uint64, opts Options) (*Result, error) {
	sb, err := super.ReadSuper(d)
	if err != nil {
		if errors.Is(err, super.ErrBadMagic) {
			return nil, fserr.Format("%w", err)
		}
		return nil, fserr.IO("read superblock: %w", err)
	}
	l := sb.Layout()
	sz, err := d.Size()
	if err != nil {
		return nil, fserr.IO("size: %w", err)
	}
	if err := l.Validate(sz); err != nil {
		return nil, fserr.Format("%w", err)
	}

	if err := dir.CheckName(name); err != nil {
		return nil, fserr.Validation("%w", err)
	}
	nblk := util.RoundUp(size, disk.BlockSize)
	if nblk > common.NDIRECT {
		return nil, fserr.Validation("%w: %d bytes needs %d blocks, max %d",
			inode.ErrTooLarge, size, nblk, common.NDIRECT)
	}

	rootDir, rootBn, err := dir.ReadRoot(d, l)
	if err != nil {
		if errors.Is(err, dir.ErrNoRootBlock) {
			return nil, fserr.Format("%w", err)
		}
		return nil, fserr.IO("read root directory: %w", err)
	}
	if _, ok := rootDir.Lookup(name); ok {
		return nil, fserr.Validation("%q: %w", name, dir.ErrDuplicate)
	}

	ibm, err := readBitmap(d, l.InodeBitmapStart, l.InodeBitmapBlocks, l.NInode, 1)
	if err != nil {
		return nil, err
	}
	dbm, err := readBitmap(d, l.DataBitmapStart, l.DataBitmapBlocks, l.DataBlocks, 0)
	if err != nil {
		return nil, err
	}

	// bit n is inode n+1; bit 0 is root
	ibit, err := ibm.AllocNum()
	if err != nil {
		return nil, fserr.Exhausted("%w", ErrNoInode)
	}
	inum := common.Inum(ibit + 1)

	dbits := make([]uint64, 0, nblk)
	blocks := make([]common.Bnum, 0, nblk)
	for i := uint64(0); i < nblk; i++ {
		n, err := dbm.AllocNum()
		if err != nil {
			return nil, fserr.Exhausted("%w: %d of %d allocated", ErrNoDataBlock, i, nblk)
		}
		dbits = append(dbits, n)
		blocks = append(blocks, l.DataBnum(n))
	}

	ip, err := inode.MkFile(size, blocks, opts.now())
	if err != nil {
		return nil, fserr.Validation("%w", err)
	}

	if err := writeData(d, blocks, src, size); err != nil {
		return nil, err
	}
	if err := inode.Store(d, l, inum, ip); err != nil {
		return nil, fserr.IO("write inode %d: %w", inum, err)
	}

	slot, err := rootDir.Insert(inum, name, dir.TypeFile)
	if err != nil {
		if errors.Is(err, dir.ErrFull) {
			return nil, fserr.Exhausted("%w", err)
		}
		return nil, fserr.Validation("%w", err)
	}
	if err := d.Write(rootBn, rootDir.Block()); err != nil {
		return nil, fserr.IO("write root directory: %w", err)
	}

	// commit only the bits this add claimed
	if err := markBits(d, l.InodeBitmapStart, []uint64{ibit}); err != nil {
		return nil, fserr.IO("write inode bitmap: %w", err)
	}
	if err := markBits(d, l.DataBitmapStart, dbits); err != nil {
		return nil, fserr.IO("write data bitmap: %w", err)
	}
	if err := d.Barrier(); err != nil {
		return nil, fserr.IO("%w", err)
	}

	util.DPrintf(1, "AddFile: %q inode %d size %d blocks %v\n", name, inum, size, blocks)
	return &Result{Inum: inum, Blocks: blocks, Slot: slot}, nil
}

func readBitmap(d disk.Disk, start common.Bnum, nblk uint64, max uint64, first uint64) (*alloc.Alloc, error) {
	bm, err := disk.ReadBlocks(d, start, nblk)
	if err != nil {
		return nil, fserr.IO("read bitmap at %d: %w", start, err)
	}
	a, err := alloc.MkAlloc(bm, max, first)
	if err != nil {
		return nil, fserr.Format("%w", err)
	}
	return a, nil
}

// markBits sets bits ns of the bitmap at start on disk, leaving the other
// bits of each block as they are.
func markBits(d disk.Disk, start common.Bnum, ns []uint64) error {
	for _, n := range ns {
		if err := buf.MkBitBuf(start, n).WriteDirect(d); err != nil {
			return err
		}
	}
	return nil
}

// writeData copies size bytes of src into blocks, zero-padding the last one.
func writeData(d disk.Disk, blocks []common.Bnum, src io.Reader, size uint64) error {
	remaining := size
	for _, bn := range blocks {
		blk := make(disk.Block, disk.BlockSize)
		n := util.Min(remaining, disk.BlockSize)
		if _, err := io.ReadFull(src, blk[:n]); err != nil {
			return fserr.IO("read source: %w", err)
		}
		remaining -= n
		if err := d.Write(bn, blk); err != nil {
			return fserr.IO("write data block %d: %w", bn, err)
		}
	}
	return nil
}

// AddFileFromPath adds the regular file at srcPath to the image at
// imagePath under name.
func AddFileFromPath(imagePath string, srcPath string, name string, opts Options) (*Result, error) {
	d, err := disk.OpenFileDisk(imagePath, disk.OpenOptions{NoLock: opts.NoLock})
	if err != nil {
		return nil, fserr.IO("%w", err)
	}
	defer d.Close()

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, fserr.IO("%w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return nil, fserr.IO("%w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fserr.Validation("%s: %w", srcPath, ErrNotRegular)
	}

	res, err := AddFile(d, name, src, uint64(fi.Size()), opts)
	if err != nil {
		return nil, err
	}
	return res, nil
}
