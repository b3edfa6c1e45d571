package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-minivsfs/config"
	"github.com/mit-pdos/go-minivsfs/util"
)

func runCmd(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv(config.EnvVar, "")
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

func TestMkfsAddCheck(t *testing.T) {
	assert := assert.New(t)
	tmp := t.TempDir()
	img := filepath.Join(tmp, "fs.img")
	src := filepath.Join(tmp, "hello.txt")
	require.NoError(t, os.WriteFile(src, []byte("hello\n"), 0644))

	out, _, err := runCmd(t, "mkfs", "--image", img, "--size-kib", "64", "--inodes", "16")
	require.NoError(t, err)
	assert.Contains(out, fmt.Sprintf("MiniVSFS image '%s' created.", img))
	assert.Contains(out, "Blocks:          16 (size: 64 KiB)")
	assert.Contains(out, "[1 .. 1] inode bitmap (1 blocks)")
	assert.Contains(out, "[4 .. 15] data region (12 blocks)")

	fi, err := os.Stat(img)
	require.NoError(t, err)
	assert.Equal(int64(64*1024), fi.Size())

	out, _, err = runCmd(t, "add", "--image", img, "--source", src, "--dest", "greeting")
	require.NoError(t, err)
	assert.Equal(fmt.Sprintf("File '%s' added to filesystem as 'greeting' (inode 2)\n", src), out)

	out, _, err = runCmd(t, "add", "--image", img, "--source", src)
	require.NoError(t, err)
	assert.Contains(out, "as 'hello.txt' (inode 3)")

	out, _, err = runCmd(t, "check", "--image", img)
	require.NoError(t, err)
	assert.Contains(out, "3/16 inodes, 3/12 data blocks used")
	assert.Contains(out, "  2   1 greeting\n")
	assert.Contains(out, "  3   1 hello.txt\n")
}

func TestExitCodes(t *testing.T) {
	assert := assert.New(t)
	tmp := t.TempDir()
	img := filepath.Join(tmp, "fs.img")
	src := filepath.Join(tmp, "a")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0644))

	_, _, err := runCmd(t, "mkfs", "--image", img, "--size-kib", "16", "--inodes", "8")
	assert.Equal(2, exitCode(err), "too small: %v", err)

	_, _, err = runCmd(t, "mkfs", "--image", img, "--size-kib", "64", "--inodes", "8")
	require.NoError(t, err)
	_, _, err = runCmd(t, "add", "--image", img, "--source", src)
	require.NoError(t, err)

	_, _, err = runCmd(t, "add", "--image", img, "--source", src)
	assert.Equal(2, exitCode(err), "duplicate: %v", err)

	_, _, err = runCmd(t, "add", "--image", img, "--source", filepath.Join(tmp, "nope"))
	assert.Equal(4, exitCode(err), "missing source: %v", err)

	notImg := filepath.Join(tmp, "zeros")
	require.NoError(t, os.WriteFile(notImg, make([]byte, 64*1024), 0644))
	_, _, err = runCmd(t, "add", "--image", notImg, "--source", src)
	assert.Equal(5, exitCode(err), "bad magic: %v", err)
}

func TestCheckReportsProblems(t *testing.T) {
	tmp := t.TempDir()
	img := filepath.Join(tmp, "fs.img")
	_, _, err := runCmd(t, "mkfs", "--image", img, "--size-kib", "64", "--inodes", "8")
	require.NoError(t, err)

	data, err := os.ReadFile(img)
	require.NoError(t, err)
	data[300] ^= 0xff // superblock padding, covered by its checksum
	require.NoError(t, os.WriteFile(img, data, 0644))

	out, _, err := runCmd(t, "check", "--image", img)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "problem: superblock checksum mismatch")
}

func TestConfigFile(t *testing.T) {
	assert := assert.New(t)
	tmp := t.TempDir()
	img := filepath.Join(tmp, "cfg.img")
	cfgPath := filepath.Join(tmp, "minivsfs.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(
		"image: %s\nformat:\n  size_kib: 128\n  inodes: 32\nlock: false\n", img)), 0644))

	out, _, err := runCmd(t, "mkfs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(out, "Blocks:          32 (size: 128 KiB)")
	assert.Contains(out, "Inodes:          32")

	// flags win over the file
	out, _, err = runCmd(t, "mkfs", "--config", cfgPath, "--inodes", "64")
	require.NoError(t, err)
	assert.Contains(out, "Inodes:          64")

	_, _, err = runCmd(t, "mkfs", "--config", filepath.Join(tmp, "missing.yaml"))
	assert.ErrorIs(err, os.ErrNotExist)
}

func TestDebugLogging(t *testing.T) {
	t.Cleanup(func() { util.Debug = 0 })
	img := filepath.Join(t.TempDir(), "fs.img")
	_, stderr, err := runCmd(t, "mkfs", "--image", img, "--debug", "1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), util.Debug)
	assert.Contains(t, stderr, `"msg":"formatted image"`)
	assert.Contains(t, stderr, `"command":"mkfs"`)
}

func TestUsage(t *testing.T) {
	assert := assert.New(t)

	_, stderr, err := runCmd(t)
	assert.Equal(2, exitCode(err))
	assert.Contains(stderr, "Usage: minivsfs <command>")

	_, _, err = runCmd(t, "help")
	assert.NoError(err)

	_, _, err = runCmd(t, "frobnicate")
	assert.ErrorContains(err, `unknown command "frobnicate"`)

	_, _, err = runCmd(t, "check")
	assert.ErrorContains(err, "--image is required")

	_, _, err = runCmd(t, "add", "--image", "x")
	assert.ErrorContains(err, "--source is required")

	_, _, err = runCmd(t, "mkfs", "--bogus")
	assert.Equal(2, exitCode(err))

	_, _, err = runCmd(t, "check", "--image", "x", "extra")
	assert.ErrorContains(err, `unexpected argument "extra"`)
}
