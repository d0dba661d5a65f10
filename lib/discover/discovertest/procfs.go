// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovertest builds fixture /proc trees for scanner tests.
//
// A [Tree] lays out just enough of procfs for discover.ProcFS: per
// process comm, cmdline, the exe link and socket file descriptors, plus
// net/tcp and net/tcp6 tables. Pass [Tree.Root] as the procfs mount.
package discovertest

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Process describes one fixture process.
type Process struct {
	PID         int
	Comm        string
	Executable  string
	CommandLine []string

	// Listening ports, bound to 127.0.0.1 unless Address is set.
	Listening []uint16
	Address   netip.Addr

	// Connected adds an established (non-listening) socket, which
	// the scanner must ignore.
	Connected bool

	// HideFDs makes the fd table unreadable, as for another user's
	// process. fd becomes a plain file so the failure does not depend
	// on the test running unprivileged.
	HideFDs bool

	// Vanished leaves only the pid directory, as for a process that
	// exited between listing and reading.
	Vanished bool
}

// Tree is a fixture procfs root.
type Tree struct {
	t         *testing.T
	root      string
	nextInode uint64
	tcp       []string
	tcp6      []string
}

const tcpHeader = "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode\n"

// New creates an empty tree under t.TempDir.
func New(t *testing.T) *Tree {
	t.Helper()
	tree := &Tree{t: t, root: filepath.Join(t.TempDir(), "proc"), nextInode: 40000}
	if err := os.MkdirAll(filepath.Join(tree.root, "net"), 0o755); err != nil {
		t.Fatalf("discovertest: %v", err)
	}
	tree.flush()
	return tree
}

// Root is the mount point to hand to discover.ProcFS.
func (tree *Tree) Root() string { return tree.root }

// Add writes one process.
func (tree *Tree) Add(process Process) {
	tree.t.Helper()
	directory := filepath.Join(tree.root, strconv.Itoa(process.PID))
	fdDirectory := filepath.Join(directory, "fd")
	tree.must(os.MkdirAll(directory, 0o755))
	if process.Vanished {
		return
	}

	tree.must(os.WriteFile(filepath.Join(directory, "comm"), []byte(process.Comm+"\n"), 0o644))
	cmdline := strings.Join(process.CommandLine, "\x00")
	if cmdline != "" {
		cmdline += "\x00"
	}
	tree.must(os.WriteFile(filepath.Join(directory, "cmdline"), []byte(cmdline), 0o644))
	if process.Executable != "" {
		tree.must(os.Symlink(process.Executable, filepath.Join(directory, "exe")))
	}

	if process.HideFDs {
		tree.must(os.WriteFile(fdDirectory, nil, 0o000))
		return
	}
	tree.must(os.Mkdir(fdDirectory, 0o755))
	tree.must(os.Symlink("/dev/null", filepath.Join(fdDirectory, "0")))

	address := process.Address
	if !address.IsValid() {
		address = netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	fd := 3
	for _, port := range process.Listening {
		inode := tree.socket(fdDirectory, fd)
		fd++
		tree.addLine(address, port, 0x0A, inode)
	}
	if process.Connected {
		inode := tree.socket(fdDirectory, fd)
		tree.addLine(address, 51000, 0x01, inode)
	}
	tree.flush()
}

func (tree *Tree) socket(fdDirectory string, fd int) uint64 {
	tree.nextInode++
	target := fmt.Sprintf("socket:[%d]", tree.nextInode)
	tree.must(os.Symlink(target, filepath.Join(fdDirectory, strconv.Itoa(fd))))
	return tree.nextInode
}

func (tree *Tree) addLine(address netip.Addr, port uint16, state int, inode uint64) {
	if address.Is4() {
		line := fmt.Sprintf("%4d: %s:%04X 00000000:0000 %02X 00000000:00000000 00:00000000 00000000  1000        0 %d 1 0000000000000000 100 0 0 10 0\n",
			len(tree.tcp), hexIPv4(address), port, state, inode)
		tree.tcp = append(tree.tcp, line)
		return
	}
	line := fmt.Sprintf("%4d: %s:%04X 00000000000000000000000000000000:0000 %02X 00000000:00000000 00:00000000 00000000  1000        0 %d 1 0000000000000000 100 0 0 10 0\n",
		len(tree.tcp6), hexIPv6(address), port, state, inode)
	tree.tcp6 = append(tree.tcp6, line)
}

func (tree *Tree) flush() {
	tree.must(os.WriteFile(filepath.Join(tree.root, "net", "tcp"), []byte(tcpHeader+strings.Join(tree.tcp, "")), 0o644))
	tree.must(os.WriteFile(filepath.Join(tree.root, "net", "tcp6"), []byte(tcpHeader+strings.Join(tree.tcp6, "")), 0o644))
}

func (tree *Tree) must(err error) {
	tree.t.Helper()
	if err != nil {
		tree.t.Fatalf("discovertest: %v", err)
	}
}

// hexIPv4 renders an address the way the kernel does: the 32-bit word
// in host (little-endian) byte order.
func hexIPv4(address netip.Addr) string {
	b := address.As4()
	return fmt.Sprintf("%02X%02X%02X%02X", b[3], b[2], b[1], b[0])
}

// hexIPv6 renders four little-endian 32-bit words.
func hexIPv6(address netip.Addr) string {
	b := address.As16()
	var out strings.Builder
	for word := 0; word < 16; word += 4 {
		fmt.Fprintf(&out, "%02X%02X%02X%02X", b[word+3], b[word+2], b[word+1], b[word])
	}
	return out.String()
}
