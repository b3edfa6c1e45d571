package disk

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-minivsfs/util"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

type OpenOptions struct {
	// NoLock skips the advisory exclusive flock on the image.
	NoLock bool
}

// CreateFileDisk creates (or truncates) path and sizes it to exactly
// numBlocks blocks.
func CreateFileDisk(path string, numBlocks uint64, opts OpenOptions) (*fileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &fileDisk{fd: fd, numBlocks: numBlocks}
	if !opts.NoLock {
		if err := d.lock(); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	// truncate only once the lock is held, so a concurrent writer's image
	// is never clobbered
	if err := unix.Ftruncate(fd, 0); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	if err := unix.Ftruncate(fd, int64(numBlocks*BlockSize)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("size %s: %w", path, err)
	}
	util.DPrintf(1, "CreateFileDisk: %s %d blocks\n", path, numBlocks)
	return d, nil
}

// OpenFileDisk opens an existing image. Its size is the file size rounded
// down to whole blocks.
func OpenFileDisk(path string, opts OpenOptions) (*fileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: not a regular file", path)
	}
	d := &fileDisk{fd: fd, numBlocks: uint64(stat.Size) / BlockSize}
	if !opts.NoLock {
		if err := d.lock(); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}
	util.DPrintf(1, "OpenFileDisk: %s %d blocks\n", path, d.numBlocks)
	return d, nil
}

func (d *fileDisk) lock() error {
	err := unix.Flock(d.fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrLocked
	}
	if err != nil {
		return fmt.Errorf("flock: %w", err)
	}
	return nil
}

func (d *fileDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != BlockSize {
		return ErrNotBlock
	}
	if a >= d.numBlocks {
		return fmt.Errorf("read at %v: %w", a, ErrOutOfRange)
	}
	n, err := unix.Pread(d.fd, buf, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("read at %v: %w", a, err)
	}
	if uint64(n) != BlockSize {
		return fmt.Errorf("read at %v: short read of %d bytes", a, n)
	}
	util.DPrintf(20, "read: %v\n", a)
	return nil
}

func (d *fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, BlockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d *fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != BlockSize {
		return ErrNotBlock
	}
	if a >= d.numBlocks {
		return fmt.Errorf("write at %v: %w", a, ErrOutOfRange)
	}
	n, err := unix.Pwrite(d.fd, v, int64(a*BlockSize))
	if err != nil {
		return fmt.Errorf("write at %v: %w", a, err)
	}
	if uint64(n) != BlockSize {
		return fmt.Errorf("write at %v: short write of %d bytes", a, n)
	}
	util.DPrintf(20, "write: %v\n", a)
	return nil
}

// WriteBatch writes consecutive blocks with a single pwrite.
func (d *fileDisk) WriteBatch(startPos uint64, blocks []Block) error {
	n := uint64(len(blocks))
	if startPos > d.numBlocks || n > d.numBlocks-startPos {
		return fmt.Errorf("write %d blocks at %v: %w", n, startPos, ErrOutOfRange)
	}
	data := make([]byte, 0, n*BlockSize)
	for _, buf := range blocks {
		if uint64(len(buf)) != BlockSize {
			return ErrNotBlock
		}
		data = append(data, buf...)
	}
	written, err := unix.Pwrite(d.fd, data, int64(startPos*BlockSize))
	if err != nil {
		return fmt.Errorf("write %d blocks at %v: %w", n, startPos, err)
	}
	if uint64(written) != uint64(len(data)) {
		return fmt.Errorf("write %d blocks at %v: short write of %d bytes", n, startPos, written)
	}
	util.DPrintf(20, "write batch: %v+%d\n", startPos, n)
	return nil
}

func (d *fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d *fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		return fmt.Errorf("file sync failed: %w", err)
	}
	util.DPrintf(10, "barrier\n")
	return nil
}

// Close releases the flock along with the descriptor.
func (d *fileDisk) Close() error {
	return unix.Close(d.fd)
}
