// Package checksum implements the integrity fields of the on-disk records.
//
// Superblocks and inodes carry a CRC-32 (reflected polynomial 0xEDB88320,
// the IEEE polynomial); directory entries carry a one-byte XOR parity. These
// detect corruption and bugs, not tampering.
//
// The finalizers operate on encoded records and must run after every other
// field of the record has been written.
package checksum

import (
	"hash/crc32"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-minivsfs/common"
)

// Built once at package init, shared by every checksum.
var crcTable = crc32.MakeTable(crc32.IEEE)

func CRC32(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// Parity XOR-folds data into a single byte.
func Parity(data []byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

// superCRC covers the block up to its last 4 bytes, with the checksum field
// itself read as zero.
func superCRC(blk []byte) uint32 {
	tmp := make([]byte, common.SUPERCRCSPAN)
	copy(tmp, blk)
	for i := common.SUPERCRCOFF; i < common.SUPERCRCOFF+4; i++ {
		tmp[i] = 0
	}
	return CRC32(tmp)
}

// FinalizeSuper stores the superblock checksum into blk, a full encoded
// superblock block, and returns it.
func FinalizeSuper(blk []byte) uint32 {
	c := superCRC(blk)
	enc := marshal.NewEnc(4)
	enc.PutInt32(c)
	copy(blk[common.SUPERCRCOFF:common.SUPERCRCOFF+4], enc.Finish())
	return c
}

// VerifySuper recomputes the superblock checksum and compares it with the
// stored one.
func VerifySuper(blk []byte) bool {
	dec := marshal.NewDec(blk[common.SUPERCRCOFF : common.SUPERCRCOFF+4])
	return dec.GetInt32() == superCRC(blk)
}

func inodeCRC(rec []byte) uint32 {
	return CRC32(rec[:common.INODECRCOFF])
}

// FinalizeInode stores the CRC of rec's first 120 bytes in the low half of
// its trailing 8-byte integrity field; the high half is zeroed.
func FinalizeInode(rec []byte) uint32 {
	c := inodeCRC(rec)
	enc := marshal.NewEnc(8)
	enc.PutInt(uint64(c))
	copy(rec[common.INODECRCOFF:common.INODESZ], enc.Finish())
	return c
}

func VerifyInode(rec []byte) bool {
	dec := marshal.NewDec(rec[common.INODECRCOFF:common.INODESZ])
	return dec.GetInt() == uint64(inodeCRC(rec))
}

// FinalizeDirent stores the parity of the first 63 bytes as the 64th.
func FinalizeDirent(rec []byte) byte {
	x := Parity(rec[:common.DIRENTSUMOFF])
	rec[common.DIRENTSUMOFF] = x
	return x
}

func VerifyDirent(rec []byte) bool {
	return rec[common.DIRENTSUMOFF] == Parity(rec[:common.DIRENTSUMOFF])
}
