package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	NBITBLOCK uint64 = disk.BlockSize * 8
	INODEBLK  uint64 = disk.BlockSize / INODESZ
	DIRENTBLK uint64 = disk.BlockSize / DIRENTSZ

	INODESZ  uint64 = 128 // on-disk size
	DIRENTSZ uint64 = 64  // on-disk size

	NDIRECT   uint64 = 12
	MAXFILESZ        = NDIRECT * disk.BlockSize

	// name field of a directory entry; one byte is kept for the NUL
	NAMEFIELD uint64 = 58
	MAXNAME          = NAMEFIELD - 1

	// smallest image mkfs accepts, in blocks
	MINBLOCKS uint64 = 8
)

const (
	MAGIC   uint32 = 0x4D565346 // "MVSF"
	VERSION uint32 = 1
)

// Checksum field offsets within their records.
const (
	SUPERCRCOFF  uint64 = 112
	SUPERCRCSPAN        = disk.BlockSize - 4
	INODECRCOFF  uint64 = 120
	DIRENTSUMOFF uint64 = 63
)

type Inum uint64
type Bnum = uint64

const (
	NULLINUM Inum = 0
	ROOTINUM Inum = 1
	NULLBNUM Bnum = 0
)
