// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
)

// ErrorKind classifies storage failures.
type ErrorKind int

const (
	// KindNotFound: the database file does not exist.
	KindNotFound ErrorKind = iota + 1
	// KindLocked: another process holds a lock the read could not wait out.
	KindLocked
	// KindSchemaMismatch: a table, column or code value is not what
	// this version of hcops understands.
	KindSchemaMismatch
	// KindEncrypted: the file is not a plaintext SQLite database.
	KindEncrypted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindLocked:
		return "locked"
	case KindSchemaMismatch:
		return "schema mismatch"
	case KindEncrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrNotFound       = errors.New("storage: not found")
	ErrLocked         = errors.New("storage: locked")
	ErrSchemaMismatch = errors.New("storage: schema mismatch")
	ErrEncrypted      = errors.New("storage: encrypted")
)

var sentinels = map[ErrorKind]error{
	KindNotFound:       ErrNotFound,
	KindLocked:         ErrLocked,
	KindSchemaMismatch: ErrSchemaMismatch,
	KindEncrypted:      ErrEncrypted,
}

// Error describes a failed open or query.
type Error struct {
	Kind     ErrorKind
	Database DatabaseKind
	Path     string
	// Detail names the table, column or value involved.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	message := fmt.Sprintf("%s database %s: %s", e.Database, e.Path, e.Kind)
	if e.Detail != "" {
		message += ": " + e.Detail
	}
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}
