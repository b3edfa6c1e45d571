// Package dir manages the root directory's single block of fixed-size
// entries.
//
// The block holds DIRENTBLK slots of 64 bytes. A slot whose inode number is
// 0 is free. Slots 0 and 1 of the root block always hold "." and "..", both
// naming the root inode. The block is never grown or chained.
package dir

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-minivsfs/checksum"
	"github.com/mit-pdos/go-minivsfs/common"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/inode"
	"github.com/mit-pdos/go-minivsfs/layout"
	"github.com/mit-pdos/go-minivsfs/util"
)

const (
	TypeFile uint8 = 1
	TypeDir  uint8 = 2
)

var (
	ErrDuplicate   = errors.New("name already exists")
	ErrFull        = errors.New("directory is full")
	ErrNameTooLong = errors.New("name too long")
	ErrBadName     = errors.New("invalid name")
	ErrNoRootBlock = errors.New("root directory has no data block")
)

type Dirent struct {
	Inum     common.Inum
	Type     uint8
	Name     string
	Checksum uint8
}

// CheckName rejects names that cannot be stored in an entry. Names are
// byte strings of 1 to 57 bytes without NUL or '/'.
func CheckName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("%w: empty", ErrBadName)
	}
	if uint64(len(name)) > common.MAXNAME {
		return fmt.Errorf("%w: %d bytes, max %d", ErrNameTooLong, len(name), common.MAXNAME)
	}
	if i := bytes.IndexAny([]byte(name), "\x00/"); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrBadName, name, name[i])
	}
	return nil
}

// Encode returns the 64-byte entry with its parity byte finalized. The name
// must already have passed CheckName.
func (de *Dirent) Encode() []byte {
	enc := marshal.NewEnc(common.DIRENTSZ)
	enc.PutInt32(uint32(de.Inum))
	rec := enc.Finish()
	rec[4] = de.Type
	copy(rec[5:5+common.NAMEFIELD], de.Name)
	de.Checksum = checksum.FinalizeDirent(rec)
	return rec
}

func Decode(rec []byte) Dirent {
	dec := marshal.NewDec(rec[:4])
	de := Dirent{}
	de.Inum = common.Inum(dec.GetInt32())
	de.Type = rec[4]
	name := rec[5 : 5+common.NAMEFIELD]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	de.Name = string(name)
	de.Checksum = rec[common.DIRENTSUMOFF]
	return de
}

func Verify(rec []byte) bool {
	return checksum.VerifyDirent(rec)
}

// Dir is one directory block held in memory.
type Dir struct {
	blk disk.Block
}

func MkDir(blk disk.Block) *Dir {
	return &Dir{blk: blk}
}

// MkRootDir returns a fresh root block holding "." and "..".
func MkRootDir() *Dir {
	d := MkDir(make(disk.Block, disk.BlockSize))
	d.put(0, &Dirent{Inum: common.ROOTINUM, Type: TypeDir, Name: "."})
	d.put(1, &Dirent{Inum: common.ROOTINUM, Type: TypeDir, Name: ".."})
	return d
}

func (d *Dir) slot(i uint64) []byte {
	return d.blk[i*common.DIRENTSZ : (i+1)*common.DIRENTSZ]
}

func (d *Dir) put(i uint64, de *Dirent) {
	copy(d.slot(i), de.Encode())
}

// Slot decodes slot i, free or not.
func (d *Dir) Slot(i uint64) Dirent {
	return Decode(d.slot(i))
}

// SlotValid reports whether slot i's parity byte matches.
func (d *Dir) SlotValid(i uint64) bool {
	return Verify(d.slot(i))
}

// Lookup scans the occupied slots for an exact, case-sensitive match.
func (d *Dir) Lookup(name string) (Dirent, bool) {
	for i := uint64(0); i < common.DIRENTBLK; i++ {
		de := d.Slot(i)
		if de.Inum != common.NULLINUM && de.Name == name {
			return de, true
		}
	}
	return Dirent{}, false
}

// Insert writes an entry for name into the first free slot. It fails with
// ErrDuplicate if any occupied slot already has the name, or ErrFull if no
// slot is free; in both cases the block is unchanged.
func (d *Dir) Insert(inum common.Inum, name string, typ uint8) (uint64, error) {
	if err := CheckName(name); err != nil {
		return 0, err
	}
	free := common.DIRENTBLK
	for i := uint64(0); i < common.DIRENTBLK; i++ {
		de := d.Slot(i)
		if de.Inum == common.NULLINUM {
			if free == common.DIRENTBLK {
				free = i
			}
			continue
		}
		if de.Name == name {
			return 0, fmt.Errorf("%q: %w", name, ErrDuplicate)
		}
	}
	if free == common.DIRENTBLK {
		return 0, ErrFull
	}
	d.put(free, &Dirent{Inum: inum, Type: typ, Name: name})
	util.DPrintf(5, "dir Insert: %q -> inode %d slot %d\n", name, inum, free)
	return free, nil
}

// Entries returns the occupied slots in slot order.
func (d *Dir) Entries() []Dirent {
	var ents []Dirent
	for i := uint64(0); i < common.DIRENTBLK; i++ {
		de := d.Slot(i)
		if de.Inum != common.NULLINUM {
			ents = append(ents, de)
		}
	}
	return ents
}

func (d *Dir) Block() disk.Block {
	return d.blk
}

// ReadRoot loads the root directory's block through the root inode.
// It returns the block number along with the directory.
func ReadRoot(dsk disk.Disk, l *layout.Layout) (*Dir, common.Bnum, error) {
	root, err := inode.Load(dsk, l, common.ROOTINUM)
	if err != nil {
		return nil, 0, err
	}
	bn := common.Bnum(root.Direct[0])
	if bn == common.NULLBNUM || !l.InData(bn) {
		return nil, 0, fmt.Errorf("%w (direct[0] = %d)", ErrNoRootBlock, bn)
	}
	blk, err := dsk.Read(bn)
	if err != nil {
		return nil, 0, err
	}
	return MkDir(blk), bn, nil
}
