// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net/netip"
	"slices"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// tcpListen is the kernel's TCP_LISTEN state in /proc/net/tcp.
const tcpListen = 0x0A

// ProcessInfo is the identity of one running process.
type ProcessInfo struct {
	PID         int
	Comm        string
	Executable  string
	CommandLine []string
}

// Socket is a listening TCP socket.
type Socket struct {
	Address netip.Addr `json:"address"`
	Port    uint16     `json:"port"`
}

// ProcessEnumerator reads the process table. Processes restarts from a
// fresh read on every call. A yielded error with a non-zero PID
// concerns only that process; an EnumerationError with PID 0 means the
// table itself could not be read, and iteration stops.
type ProcessEnumerator interface {
	Processes(ctx context.Context) iter.Seq2[ProcessInfo, error]
	ListeningSockets(ctx context.Context, pid int) ([]Socket, error)
}

// EnumerationError reports a failure to read process state.
type EnumerationError struct {
	PID int
	Op  string
	Err error
}

func (e *EnumerationError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("reading process table: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("process %d: %s: %v", e.PID, e.Op, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }

// ProcFS enumerates processes from a procfs mount.
type ProcFS struct {
	// Root is the mount point. Empty means /proc.
	Root string
}

func (p ProcFS) fs() (procfs.FS, error) {
	root := p.Root
	if root == "" {
		root = procfs.DefaultMountPoint
	}
	return procfs.NewFS(root)
}

// Processes yields every process in the table.
func (p ProcFS) Processes(ctx context.Context) iter.Seq2[ProcessInfo, error] {
	return func(yield func(ProcessInfo, error) bool) {
		filesystem, err := p.fs()
		if err != nil {
			yield(ProcessInfo{}, &EnumerationError{Op: "mount", Err: err})
			return
		}
		procs, err := filesystem.AllProcs()
		if err != nil {
			yield(ProcessInfo{}, &EnumerationError{Op: "listing processes", Err: err})
			return
		}
		for _, proc := range procs {
			if ctx.Err() != nil {
				yield(ProcessInfo{}, &EnumerationError{Op: "scan", Err: ctx.Err()})
				return
			}
			info, err := readIdentity(proc)
			if !yield(info, err) {
				return
			}
		}
	}
}

func readIdentity(proc procfs.Proc) (ProcessInfo, error) {
	info := ProcessInfo{PID: proc.PID}

	comm, err := proc.Comm()
	if err != nil {
		return info, &EnumerationError{PID: proc.PID, Op: "reading comm", Err: err}
	}
	info.Comm = comm

	commandLine, err := proc.CmdLine()
	if err != nil {
		return info, &EnumerationError{PID: proc.PID, Op: "reading cmdline", Err: err}
	}
	info.CommandLine = commandLine

	// The exe link is unreadable for other users' processes. comm and
	// cmdline are world-readable, so identity survives without it.
	if executable, err := proc.Executable(); err == nil {
		info.Executable = executable
	}
	return info, nil
}

// ListeningSockets returns the TCP sockets in LISTEN state held open
// by pid, ordered by port.
func (p ProcFS) ListeningSockets(ctx context.Context, pid int) ([]Socket, error) {
	filesystem, err := p.fs()
	if err != nil {
		return nil, &EnumerationError{PID: pid, Op: "mount", Err: err}
	}
	proc, err := filesystem.Proc(pid)
	if err != nil {
		return nil, &EnumerationError{PID: pid, Op: "opening", Err: err}
	}
	targets, err := proc.FileDescriptorTargets()
	if err != nil {
		return nil, &EnumerationError{PID: pid, Op: "reading file descriptors", Err: err}
	}

	inodes := make(map[uint64]bool)
	for _, target := range targets {
		if inode, ok := socketInode(target); ok {
			inodes[inode] = true
		}
	}
	if len(inodes) == 0 {
		return nil, nil
	}

	listening, err := listeningByInode(filesystem)
	if err != nil {
		return nil, &EnumerationError{PID: pid, Op: "reading socket tables", Err: err}
	}

	var sockets []Socket
	for inode := range inodes {
		sockets = append(sockets, listening[inode]...)
	}
	slices.SortFunc(sockets, func(a, b Socket) int {
		if a.Port != b.Port {
			return int(a.Port) - int(b.Port)
		}
		return a.Address.Compare(b.Address)
	})
	return slices.Compact(sockets), nil
}

// socketInode parses "socket:[12345]".
func socketInode(target string) (uint64, bool) {
	inner, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	inner, ok = strings.CutSuffix(inner, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(inner, 10, 64)
	return inode, err == nil
}

func listeningByInode(filesystem procfs.FS) (map[uint64][]Socket, error) {
	listening := make(map[uint64][]Socket)

	v4, err := filesystem.NetTCP()
	if err != nil {
		return nil, err
	}
	v6, err := filesystem.NetTCP6()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		// IPv6 may be disabled; only a present-but-unreadable table
		// is an error.
		return nil, err
	}

	lines := append(procfs.NetTCP{}, v4...)
	lines = append(lines, v6...)
	for _, line := range lines {
		if line.St != tcpListen {
			continue
		}
		address, _ := netip.AddrFromSlice(line.LocalAddr)
		listening[line.Inode] = append(listening[line.Inode], Socket{
			Address: address.Unmap(),
			Port:    uint16(line.LocalPort),
		})
	}
	return listening, nil
}
