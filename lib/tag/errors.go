// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"errors"
	"fmt"
)

// ErrorKind classifies registry failures.
type ErrorKind int

const (
	// KindDuplicateName: the name is already bound to something else.
	KindDuplicateName ErrorKind = iota + 1
	// KindNotFound: no tag has this name.
	KindNotFound
	// KindInvalidName: the name is empty, too long, or has whitespace.
	KindInvalidName
	// KindStoreCorrupt: the store file cannot be used.
	KindStoreCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindDuplicateName:
		return "duplicate name"
	case KindNotFound:
		return "not found"
	case KindInvalidName:
		return "invalid name"
	case KindStoreCorrupt:
		return "store corrupt"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrDuplicateName = errors.New("tag: duplicate name")
	ErrNotFound      = errors.New("tag: not found")
	ErrInvalidName   = errors.New("tag: invalid name")
	ErrStoreCorrupt  = errors.New("tag: store corrupt")
)

// Error is returned by every Store operation that fails for a reason
// the operator can act on.
type Error struct {
	Kind ErrorKind
	// Name is the tag involved, if any.
	Name string
	// Path is the store file, set for KindStoreCorrupt.
	Path string
	// Detail explains the failure in operator terms.
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var message string
	switch {
	case e.Kind == KindStoreCorrupt:
		message = fmt.Sprintf("tag store %s is unusable", e.Path)
	case e.Name != "":
		message = fmt.Sprintf("tag %q: %s", e.Name, e.Kind)
	default:
		message = "tag: " + e.Kind.String()
	}
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
	switch target {
	case ErrDuplicateName:
		return e.Kind == KindDuplicateName
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrInvalidName:
		return e.Kind == KindInvalidName
	case ErrStoreCorrupt:
		return e.Kind == KindStoreCorrupt
	}
	return false
}
