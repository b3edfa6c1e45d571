package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/mit-pdos/go-minivsfs/check"
	"github.com/mit-pdos/go-minivsfs/disk"
	"github.com/mit-pdos/go-minivsfs/fserr"
	"github.com/mit-pdos/go-minivsfs/ingest"
	"github.com/mit-pdos/go-minivsfs/mkfs"
)

func mkfsCommand() *command {
	return &command{
		name:  "mkfs",
		usage: "--image <file> --size-kib <n> --inodes <n>",
		flags: func(fs *pflag.FlagSet) {
			fs.String("image", "", "image file to create (overwritten)")
			fs.Uint64("size-kib", 0, "image size in KiB (default from config, 1024)")
			fs.Uint64("inodes", 0, "number of inodes (default from config, 128)")
		},
		run: runMkfs,
	}
}

func runMkfs(e *env) error {
	path, err := e.imagePath()
	if err != nil {
		return err
	}
	sizeKiB := e.cfg.Format.SizeKiB
	if e.fs.Changed("size-kib") {
		sizeKiB, _ = e.fs.GetUint64("size-kib")
	}
	ninode := e.cfg.Format.Inodes
	if e.fs.Changed("inodes") {
		ninode, _ = e.fs.GetUint64("inodes")
	}
	if sizeKiB == 0 || ninode == 0 {
		return fserr.Validation("--size-kib and --inodes must be positive")
	}

	sb, err := mkfs.FormatFile(path, sizeKiB, ninode, mkfs.Options{NoLock: !e.cfg.Lock})
	if err != nil {
		return err
	}
	l := sb.Layout()
	e.logger.Debug("formatted image", "image", path, "layout", l.String())

	w := e.stdout
	fmt.Fprintf(w, "MiniVSFS image '%s' created.\n", path)
	fmt.Fprintf(w, "  Blocks:          %d (size: %d KiB)\n", l.TotalBlocks, sizeKiB)
	fmt.Fprintf(w, "  Inodes:          %d\n", l.NInode)
	fmt.Fprintf(w, "  Layout (blocks):\n")
	fmt.Fprintf(w, "    [0] superblock\n")
	region := func(name string, start, n uint64) {
		fmt.Fprintf(w, "    [%d .. %d] %s (%d blocks)\n", start, start+n-1, name, n)
	}
	region("inode bitmap", l.InodeBitmapStart, l.InodeBitmapBlocks)
	region("data bitmap", l.DataBitmapStart, l.DataBitmapBlocks)
	region("inode table", l.InodeTableStart, l.InodeTableBlocks)
	region("data region", l.DataStart, l.DataBlocks)
	return nil
}

func addCommand() *command {
	return &command{
		name:  "add",
		usage: "--image <file> --source <file> --dest <name>",
		flags: func(fs *pflag.FlagSet) {
			fs.String("image", "", "image file to modify in place")
			fs.String("source", "", "regular file to copy into the image")
			fs.String("dest", "", "name in the root directory (default: source's name)")
		},
		run: runAdd,
	}
}

func runAdd(e *env) error {
	path, err := e.imagePath()
	if err != nil {
		return err
	}
	src, _ := e.fs.GetString("source")
	if src == "" {
		return errors.New("--source is required")
	}
	dest, _ := e.fs.GetString("dest")
	if dest == "" {
		dest = filepath.Base(src)
	}

	res, err := ingest.AddFileFromPath(path, src, dest, ingest.Options{NoLock: !e.cfg.Lock})
	if err != nil {
		return err
	}
	e.logger.Debug("added file", "image", path, "dest", dest,
		"inode", res.Inum, "blocks", res.Blocks, "slot", res.Slot)
	fmt.Fprintf(e.stdout, "File '%s' added to filesystem as '%s' (inode %d)\n",
		src, dest, res.Inum)
	return nil
}

func checkCommand() *command {
	return &command{
		name:  "check",
		usage: "--image <file>",
		flags: func(fs *pflag.FlagSet) {
			fs.String("image", "", "image file to verify")
		},
		run: runCheck,
	}
}

func runCheck(e *env) error {
	path, err := e.imagePath()
	if err != nil {
		return err
	}
	d, err := disk.OpenFileDisk(path, disk.OpenOptions{NoLock: !e.cfg.Lock})
	if err != nil {
		return fserr.IO("%w", err)
	}
	defer d.Close()

	r, err := check.Check(d)
	if err != nil {
		return err
	}

	w := e.stdout
	fmt.Fprintf(w, "%s: %d/%d inodes, %d/%d data blocks used\n", path,
		r.UsedInodes, r.Layout.NInode, r.UsedBlocks, r.Layout.DataBlocks)
	for _, de := range r.Entries {
		fmt.Fprintf(w, "  %-3d %d %s\n", de.Inum, de.Type, de.Name)
	}
	for _, inum := range r.OrphanInodes {
		e.logger.Warn("orphaned inode", "inode", inum)
	}
	if r.OK() {
		return nil
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "problem: %s\n", p)
	}
	return &exitError{Code: 1}
}
