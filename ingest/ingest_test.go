package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-minivsfs/alloc"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/dir"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/fserr"
	"github.com/mit-pdos/go-minivsfs/inode"
	"github.com/mit-pdos/go-minivsfs/layout"
	"github.com/mit-pdos/go-minivsfs/mkfs"
)

var fixedNow = func() time.Time { return time.Unix(1700000000, 0) }

var opts = Options{Now: fixedNow}

func mkImage(t *testing.T, total, ninode uint64) (disk.Disk, *layout.Layout) {
	t.Helper()
	l, err := layout.Plan(total, ninode)
	require.NoError(t, err)
	d := disk.NewMemDisk(total)
	_, err = mkfs.Format(d, l, mkfs.Options{Now: fixedNow})
	require.NoError(t, err)
	return d, l
}

func snapshot(t *testing.T, d disk.Disk) []byte {
	t.Helper()
	sz, err := d.Size()
	require.NoError(t, err)
	img, err := disk.ReadBlocks(d, 0, sz)
	require.NoError(t, err)
	return img
}

func content(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + 1)
	}
	return data
}

func add(d disk.Disk, name string, data []byte) (*Result, error) {
	return AddFile(d, name, bytes.NewReader(data), uint64(len(data)), opts)
}

func bitmaps(t *testing.T, d disk.Disk, l *layout.Layout) (*alloc.Alloc, *alloc.Alloc) {
	t.Helper()
	ibm, err := disk.ReadBlocks(d, l.InodeBitmapStart, l.InodeBitmapBlocks)
	require.NoError(t, err)
	ia, err := alloc.MkAlloc(ibm, l.NInode, 1)
	require.NoError(t, err)
	dbm, err := disk.ReadBlocks(d, l.DataBitmapStart, l.DataBitmapBlocks)
	require.NoError(t, err)
	da, err := alloc.MkAlloc(dbm, l.DataBlocks, 0)
	require.NoError(t, err)
	return ia, da
}

func TestAddFile(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 256, 128)
	data := content(5000)

	res, err := add(d, "a.txt", data)
	require.NoError(t, err)
	assert.Equal(common.Inum(2), res.Inum)
	assert.Equal([]common.Bnum{l.DataStart + 1, l.DataStart + 2}, res.Blocks)
	assert.Equal(uint64(2), res.Slot)

	ip, err := inode.Load(d, l, res.Inum)
	require.NoError(t, err)
	assert.True(ip.IsFile())
	assert.Equal(uint16(1), ip.Links)
	assert.Equal(uint64(5000), ip.Size)
	assert.Equal(uint64(1700000000), ip.Mtime)
	assert.Equal(uint32(l.DataStart+1), ip.Direct[0])
	assert.Equal(uint32(l.DataStart+2), ip.Direct[1])
	assert.Equal(uint32(0), ip.Direct[2])

	b0, err := d.Read(l.DataStart + 1)
	require.NoError(t, err)
	b1, err := d.Read(l.DataStart + 2)
	require.NoError(t, err)
	assert.Equal(data[:disk.BlockSize], []byte(b0))
	assert.Equal(data[disk.BlockSize:], []byte(b1[:5000-disk.BlockSize]))
	assert.Equal(make([]byte, 2*disk.BlockSize-5000), []byte(b1[5000-disk.BlockSize:]),
		"final block zero-padded")

	ia, da := bitmaps(t, d, l)
	assert.True(ia.IsUsed(1))
	assert.Equal(uint64(2), ia.NumUsed())
	assert.True(da.IsUsed(1))
	assert.True(da.IsUsed(2))
	assert.Equal(uint64(3), da.NumUsed())

	rd, _, err := dir.ReadRoot(d, l)
	require.NoError(t, err)
	de, ok := rd.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(res.Inum, de.Inum)
	assert.Equal(dir.TypeFile, de.Type)
	assert.True(rd.SlotValid(2))
}

func TestAddCommitsOnlyClaimedBits(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 256, 128)
	ibefore, err := d.Read(l.InodeBitmapStart)
	require.NoError(t, err)
	dbefore, err := d.Read(l.DataBitmapStart)
	require.NoError(t, err)

	_, err = add(d, "a.txt", content(5000))
	require.NoError(t, err)

	iafter, err := d.Read(l.InodeBitmapStart)
	require.NoError(t, err)
	dafter, err := d.Read(l.DataBitmapStart)
	require.NoError(t, err)

	ibefore[0] |= 1 << 1
	dbefore[0] |= 1<<1 | 1<<2
	assert.Equal(ibefore, iafter)
	assert.Equal(dbefore, dafter)
}

func TestAddSecondFile(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 256, 128)

	_, err := add(d, "a", content(5000))
	require.NoError(t, err)
	res, err := add(d, "b", content(10))
	require.NoError(t, err)
	assert.Equal(common.Inum(3), res.Inum)
	assert.Equal([]common.Bnum{l.DataStart + 3}, res.Blocks)
	assert.Equal(uint64(3), res.Slot)
}

func TestAddEmptyFile(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 16, 8)

	res, err := add(d, "empty", nil)
	require.NoError(t, err)
	assert.Empty(res.Blocks)

	ip, err := inode.Load(d, l, res.Inum)
	require.NoError(t, err)
	assert.True(ip.IsFile())
	assert.Equal(uint64(0), ip.Size)
	assert.Equal(uint64(0), ip.NBlocks())

	_, da := bitmaps(t, d, l)
	assert.Equal(uint64(1), da.NumUsed(), "only the root block")
}

func TestAddDuplicateUnchanged(t *testing.T) {
	assert := assert.New(t)
	d, _ := mkImage(t, 256, 128)

	_, err := add(d, "a.txt", content(5000))
	require.NoError(t, err)
	before := snapshot(t, d)

	_, err = add(d, "a.txt", content(100))
	assert.ErrorIs(err, dir.ErrDuplicate)
	assert.Equal(fserr.CategoryValidation, fserr.CategoryOf(err))
	assert.Equal(before, snapshot(t, d), "image modified by rejected add")

	// names are case-sensitive
	_, err = add(d, "A.txt", content(100))
	assert.NoError(err)
}

func TestAddDotNames(t *testing.T) {
	d, _ := mkImage(t, 16, 8)
	_, err := add(d, ".", content(1))
	assert.ErrorIs(t, err, dir.ErrDuplicate)
	_, err = add(d, "..", content(1))
	assert.ErrorIs(t, err, dir.ErrDuplicate)
}

func TestAddSizeBoundary(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 256, 128)
	maxSize := int(common.NDIRECT * disk.BlockSize)

	res, err := add(d, "max", content(maxSize))
	require.NoError(t, err)
	assert.Len(res.Blocks, int(common.NDIRECT))
	ip, err := inode.Load(d, l, res.Inum)
	require.NoError(t, err)
	assert.Equal(uint64(maxSize), ip.Size)

	before := snapshot(t, d)
	_, err = add(d, "over", content(maxSize+1))
	assert.ErrorIs(err, inode.ErrTooLarge)
	assert.Contains(err.Error(), "file too large")
	assert.Equal(fserr.CategoryValidation, fserr.CategoryOf(err))
	assert.Equal(before, snapshot(t, d))
}

func TestAddNameLength(t *testing.T) {
	assert := assert.New(t)
	d, _ := mkImage(t, 16, 8)

	before := snapshot(t, d)
	_, err := add(d, strings.Repeat("n", 58), content(1))
	assert.ErrorIs(err, dir.ErrNameTooLong)
	assert.Equal(fserr.CategoryValidation, fserr.CategoryOf(err))
	assert.Equal(before, snapshot(t, d))

	_, err = add(d, strings.Repeat("n", 57), content(1))
	assert.NoError(err)
}

func TestAddBadName(t *testing.T) {
	d, _ := mkImage(t, 16, 8)
	for _, name := range []string{"", "a/b", "nul\x00"} {
		_, err := add(d, name, content(1))
		assert.ErrorIs(t, err, dir.ErrBadName, "name %q", name)
	}
}

func TestAddNoInode(t *testing.T) {
	assert := assert.New(t)
	d, _ := mkImage(t, 16, 2)

	res, err := add(d, "last", content(1))
	require.NoError(t, err)
	assert.Equal(common.Inum(2), res.Inum, "highest inode is allocatable")

	before := snapshot(t, d)
	_, err = add(d, "more", content(1))
	assert.ErrorIs(err, ErrNoInode)
	assert.Equal(fserr.CategoryExhausted, fserr.CategoryOf(err))
	assert.Equal(before, snapshot(t, d))
}

func TestAddNoDataBlock(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 16, 8)
	require.Equal(t, uint64(12), l.DataBlocks)

	before := snapshot(t, d)
	// 11 free blocks after the root directory
	_, err := add(d, "big", content(int(12*disk.BlockSize)))
	assert.ErrorIs(err, ErrNoDataBlock)
	assert.Equal(fserr.CategoryExhausted, fserr.CategoryOf(err))
	assert.Equal(before, snapshot(t, d))

	res, err := add(d, "fits", content(int(11*disk.BlockSize)))
	require.NoError(t, err)
	assert.Equal(l.DataStart+11, res.Blocks[10])
	_, da := bitmaps(t, d, l)
	assert.Equal(uint64(0), da.NumFree())
}

func TestAddDirectoryFull(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 256, 128)

	nfree := int(common.DIRENTBLK) - 2
	for i := 0; i < nfree; i++ {
		_, err := add(d, fmt.Sprintf("f%02d", i), nil)
		require.NoError(t, err)
	}
	rd, rootBn, err := dir.ReadRoot(d, l)
	require.NoError(t, err)
	assert.Len(rd.Entries(), int(common.DIRENTBLK))
	rootBefore, err := d.Read(rootBn)
	require.NoError(t, err)

	_, err = add(d, "one-too-many", content(10))
	assert.ErrorIs(err, dir.ErrFull)
	assert.Equal(fserr.CategoryExhausted, fserr.CategoryOf(err))

	rootAfter, err := d.Read(rootBn)
	require.NoError(t, err)
	assert.Equal(rootBefore, rootAfter)

	// the inode and data were written but never committed to the bitmaps
	ia, da := bitmaps(t, d, l)
	assert.Equal(uint64(nfree+1), ia.NumUsed())
	assert.Equal(uint64(1), da.NumUsed())
}

func TestAddShortSource(t *testing.T) {
	assert := assert.New(t)
	d, l := mkImage(t, 16, 8)

	_, err := AddFile(d, "short", bytes.NewReader(content(10)), 5000, opts)
	assert.Error(err)
	assert.Equal(fserr.CategoryIO, fserr.CategoryOf(err))

	ia, da := bitmaps(t, d, l)
	assert.Equal(uint64(1), ia.NumUsed())
	assert.Equal(uint64(1), da.NumUsed())
	rd, _, err := dir.ReadRoot(d, l)
	require.NoError(t, err)
	_, ok := rd.Lookup("short")
	assert.False(ok)
}

func TestAddBadMagic(t *testing.T) {
	assert := assert.New(t)
	d := disk.NewMemDisk(16)
	_, err := add(d, "a", content(1))
	assert.Error(err)
	assert.Equal(fserr.CategoryFormat, fserr.CategoryOf(err))
	assert.Equal(make([]byte, 16*disk.BlockSize), snapshot(t, d))
}

func TestAddTruncatedImage(t *testing.T) {
	d, _ := mkImage(t, 16, 8)
	img := snapshot(t, d)

	small := disk.NewMemDisk(12)
	require.NoError(t, disk.WriteBlocks(small, 0, img[:12*disk.BlockSize]))
	_, err := add(small, "a", content(1))
	assert.ErrorIs(t, err, layout.ErrBadGeometry)
	assert.Equal(t, fserr.CategoryFormat, fserr.CategoryOf(err))
}

func TestAddFileFromPath(t *testing.T) {
	assert := assert.New(t)
	tmp := t.TempDir()
	img := filepath.Join(tmp, "fs.img")
	_, err := mkfs.FormatFile(img, 64, 16, mkfs.Options{Now: fixedNow})
	require.NoError(t, err)

	src := filepath.Join(tmp, "hello.txt")
	data := []byte("hello, world\n")
	require.NoError(t, os.WriteFile(src, data, 0644))

	res, err := AddFileFromPath(img, src, "hello.txt", opts)
	require.NoError(t, err)
	assert.Equal(common.Inum(2), res.Inum)

	d, err := disk.OpenFileDisk(img, disk.OpenOptions{})
	require.NoError(t, err)
	blk, err := d.Read(res.Blocks[0])
	require.NoError(t, err)
	assert.Equal(data, []byte(blk[:len(data)]))
	require.NoError(t, d.Close())

	_, err = AddFileFromPath(img, tmp, "dir", opts)
	assert.ErrorIs(err, ErrNotRegular)

	_, err = AddFileFromPath(img, filepath.Join(tmp, "missing"), "m", opts)
	assert.Equal(fserr.CategoryIO, fserr.CategoryOf(err))
	assert.True(errors.Is(err, os.ErrNotExist))
}

func TestAddFileFromPathLocked(t *testing.T) {
	tmp := t.TempDir()
	img := filepath.Join(tmp, "fs.img")
	_, err := mkfs.FormatFile(img, 64, 16, mkfs.Options{Now: fixedNow})
	require.NoError(t, err)
	src := filepath.Join(tmp, "x")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	holder, err := disk.OpenFileDisk(img, disk.OpenOptions{})
	require.NoError(t, err)
	defer holder.Close()

	_, err = AddFileFromPath(img, src, "x", opts)
	assert.ErrorIs(t, err, disk.ErrLocked)
}
