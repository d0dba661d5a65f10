// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is secret bytes in an mmap region. It must not be copied.
// Access after Close panics.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
	closed bool
}

// New allocates a zero-filled buffer of size bytes. A failed mlock is
// tolerated and reported by Locked: unprivileged operators often have
// a small RLIMIT_MEMLOCK.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	locked := unix.Mlock(data) == nil

	return &Buffer{data: data, length: size, locked: locked}, nil
}

// NewFromBytes copies source into a new buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)
	Zero(source)
	return buffer, nil
}

// Bytes returns the secret. The slice aliases the mmap region and is
// invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data[:b.length]
}

// Len returns the secret's length.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Locked reports whether the region is locked against swap.
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// Close zeroes and releases the region. It is idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var firstError error
	if b.locked {
		if err := unix.Munlock(b.data); err != nil {
			firstError = fmt.Errorf("secret: munlock: %w", err)
		}
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}
	b.data = nil
	return firstError
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	clear(data)
}
