package inode

import (
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-minivsfs/buf"
	"github.com/mit-pdos/go-minivsfs/checksum"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/layout"
	"github.com/mit-pdos/go-minivsfs/util"
)

const (
	S_IFMT  uint16 = 0170000
	S_IFREG uint16 = 0100000
	S_IFDIR uint16 = 0040000
)

// There is no ownership model; every inode belongs to uid/gid 0.
const (
	DefaultUid uint32 = 0
	DefaultGid uint32 = 0
)

var (
	ErrTooLarge = errors.New("file too large")
	ErrBadInum  = errors.New("inode number out of range")
)

// Inode is the 128-byte on-disk inode record.
type Inode struct {
	Mode       uint16
	Links      uint16
	Uid        uint32
	Gid        uint32
	Size       uint64
	Atime      uint64
	Mtime      uint64
	Ctime      uint64
	Direct     [common.NDIRECT]uint32 // absolute block numbers
	Reserved   [3]uint32
	ProjId     uint32
	Uid16Gid16 uint32
	XattrPtr   uint64
	Crc        uint64 // low 32 bits: CRC of bytes [0,120)
}

// MkZero returns the record used for every free inode slot.
func MkZero() *Inode {
	return &Inode{}
}

// MkRoot returns the root directory inode, owning the single block blk.
func MkRoot(blk common.Bnum, now uint64) *Inode {
	ip := &Inode{
		Mode:  S_IFDIR,
		Links: 2, // "." and ".."
		Uid:   DefaultUid,
		Gid:   DefaultGid,
		Size:  disk.BlockSize,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	ip.Direct[0] = uint32(blk)
	return ip
}

// MkFile returns a regular-file inode of size bytes stored in blocks, in
// order. blocks must be exactly the ceil(size/BlockSize) blocks the content
// occupies.
func MkFile(size uint64, blocks []common.Bnum, now uint64) (*Inode, error) {
	n := uint64(len(blocks))
	if n > common.NDIRECT || size > n*disk.BlockSize {
		return nil, fmt.Errorf("%w: %d bytes in %d blocks (max %d direct)",
			ErrTooLarge, size, n, common.NDIRECT)
	}
	if util.RoundUp(size, disk.BlockSize) != n {
		return nil, fmt.Errorf("%d bytes need %d blocks, given %d",
			size, util.RoundUp(size, disk.BlockSize), n)
	}
	ip := &Inode{
		Mode:  S_IFREG,
		Links: 1,
		Uid:   DefaultUid,
		Gid:   DefaultGid,
		Size:  size,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	for i, bn := range blocks {
		if bn == common.NULLBNUM {
			return nil, fmt.Errorf("block %d of file is the null block", i)
		}
		ip.Direct[i] = uint32(bn)
	}
	return ip, nil
}

func (ip *Inode) IsDir() bool {
	return ip.Mode&S_IFMT == S_IFDIR
}

func (ip *Inode) IsFile() bool {
	return ip.Mode&S_IFMT == S_IFREG
}

// NBlocks counts the populated direct pointers.
func (ip *Inode) NBlocks() uint64 {
	var n uint64
	for _, bn := range ip.Direct {
		if bn != 0 {
			n++
		}
	}
	return n
}

// Blocks returns the populated direct pointers in order.
func (ip *Inode) Blocks() []common.Bnum {
	blocks := make([]common.Bnum, 0, common.NDIRECT)
	for _, bn := range ip.Direct {
		if bn != 0 {
			blocks = append(blocks, common.Bnum(bn))
		}
	}
	return blocks
}

// Consistent reports whether the populated pointers are a prefix of Direct
// and their number matches Size.
func (ip *Inode) Consistent() bool {
	n := ip.NBlocks()
	for i := uint64(0); i < n; i++ {
		if ip.Direct[i] == 0 {
			return false
		}
	}
	return n == util.RoundUp(ip.Size, disk.BlockSize)
}

// Encode returns the 128-byte record with its checksum finalized; ip.Crc is
// updated to match.
func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	// mode and links share the first little-endian word
	enc.PutInt32(uint32(ip.Mode) | uint32(ip.Links)<<16)
	enc.PutInt32(ip.Uid)
	enc.PutInt32(ip.Gid)
	enc.PutInt(ip.Size)
	enc.PutInt(ip.Atime)
	enc.PutInt(ip.Mtime)
	enc.PutInt(ip.Ctime)
	for _, bn := range ip.Direct {
		enc.PutInt32(bn)
	}
	for _, r := range ip.Reserved {
		enc.PutInt32(r)
	}
	enc.PutInt32(ip.ProjId)
	enc.PutInt32(ip.Uid16Gid16)
	enc.PutInt(ip.XattrPtr)
	enc.PutInt(0)
	rec := enc.Finish()
	ip.Crc = uint64(checksum.FinalizeInode(rec))
	return rec
}

// Decode parses a 128-byte record without verifying its checksum.
func Decode(rec []byte) *Inode {
	dec := marshal.NewDec(rec[:common.INODESZ])
	ip := &Inode{}
	w := dec.GetInt32()
	ip.Mode = uint16(w)
	ip.Links = uint16(w >> 16)
	ip.Uid = dec.GetInt32()
	ip.Gid = dec.GetInt32()
	ip.Size = dec.GetInt()
	ip.Atime = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Ctime = dec.GetInt()
	for i := range ip.Direct {
		ip.Direct[i] = dec.GetInt32()
	}
	for i := range ip.Reserved {
		ip.Reserved[i] = dec.GetInt32()
	}
	ip.ProjId = dec.GetInt32()
	ip.Uid16Gid16 = dec.GetInt32()
	ip.XattrPtr = dec.GetInt()
	ip.Crc = dec.GetInt()
	return ip
}

// Verify recomputes the checksum of an encoded record.
func Verify(rec []byte) bool {
	return checksum.VerifyInode(rec)
}

// Load reads inode inum from the inode table. The checksum is not verified.
func Load(d disk.Disk, l *layout.Layout, inum common.Inum) (*Inode, error) {
	b, err := loadBuf(d, l, inum)
	if err != nil {
		return nil, err
	}
	return Decode(b.Data), nil
}

// LoadRaw returns inode inum's encoded record.
func LoadRaw(d disk.Disk, l *layout.Layout, inum common.Inum) ([]byte, error) {
	b, err := loadBuf(d, l, inum)
	if err != nil {
		return nil, err
	}
	return util.CloneByteSlice(b.Data), nil
}

func loadBuf(d disk.Disk, l *layout.Layout, inum common.Inum) (*buf.Buf, error) {
	if !l.ValidInum(inum) {
		return nil, fmt.Errorf("load inode %d: %w", inum, ErrBadInum)
	}
	return buf.ReadBuf(d, l.Inum2Addr(inum), common.INODESZ*8)
}

// Store encodes ip and writes it into inum's slot, leaving the other
// records in the same table block untouched.
func Store(d disk.Disk, l *layout.Layout, inum common.Inum, ip *Inode) error {
	if !l.ValidInum(inum) {
		return fmt.Errorf("store inode %d: %w", inum, ErrBadInum)
	}
	util.DPrintf(5, "Store inode %d: %v\n", inum, ip)
	b := buf.MkBuf(l.Inum2Addr(inum), common.INODESZ*8, ip.Encode())
	return b.WriteDirect(d)
}

// EncodeTable builds the whole inode table for a fresh image: root in slot
// 0, finalized zero records in the remaining slots, and all-zero bytes past
// the last inode.
func EncodeTable(l *layout.Layout, root *Inode) []byte {
	table := make([]byte, l.InodeTableBlocks*disk.BlockSize)
	zero := MkZero().Encode()
	for i := uint64(0); i < l.NInode; i++ {
		rec := zero
		if i == 0 {
			rec = root.Encode()
		}
		copy(table[i*common.INODESZ:], rec)
	}
	return table
}

func (ip *Inode) String() string {
	return fmt.Sprintf("{mode %o links %d size %d direct %v}",
		ip.Mode, ip.Links, ip.Size, ip.Blocks())
}
