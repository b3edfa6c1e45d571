package disk

import (
	"errors"

	"github.com/tchajed/goose/machine/disk"
)

// Block is a 4096-byte buffer
type Block = disk.Block

const BlockSize uint64 = disk.BlockSize

var (
	ErrOutOfRange = errors.New("block address out of range")
	ErrNotBlock   = errors.New("buffer is not block-sized")
	ErrLocked     = errors.New("image is locked by another writer")
)

// Disk provides access to a logical block-based disk
type Disk interface {
	// Read reads a disk block by address
	//
	// Expects a < Size().
	Read(a uint64) (Block, error)

	// ReadTo reads the disk block at a and stores the result in b
	//
	// Expects a < Size().
	ReadTo(a uint64, b Block) error

	// Write updates a disk block by address
	//
	// Expects a < Size().
	Write(a uint64, v Block) error

	// Size reports how big the disk is, in blocks
	Size() (uint64, error)

	// Barrier ensures data is persisted.
	//
	// When it returns, all outstanding writes are guaranteed to be durably on
	// disk
	Barrier() error

	// Close releases any resources used by the disk and makes it unusable.
	Close() error
}

type DiskWriteBatch interface {
	WriteBatch(startPos uint64, blocks []Block) error
}

// ReadBlocks reads n consecutive blocks starting at start into one buffer.
func ReadBlocks(d Disk, start uint64, n uint64) ([]byte, error) {
	data := make([]byte, n*BlockSize)
	for i := uint64(0); i < n; i++ {
		err := d.ReadTo(start+i, data[i*BlockSize:(i+1)*BlockSize])
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}

// WriteBlocks writes data, a whole number of blocks, starting at block start.
func WriteBlocks(d Disk, start uint64, data []byte) error {
	if uint64(len(data))%BlockSize != 0 {
		return ErrNotBlock
	}
	n := uint64(len(data)) / BlockSize
	blocks := make([]Block, n)
	for i := uint64(0); i < n; i++ {
		blocks[i] = data[i*BlockSize : (i+1)*BlockSize]
	}
	if bd, ok := d.(DiskWriteBatch); ok {
		return bd.WriteBatch(start, blocks)
	}
	for i, blk := range blocks {
		if err := d.Write(start+uint64(i), blk); err != nil {
			return err
		}
	}
	return nil
}
