// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/hcops/lib/endpoint"
)

// ErrorKind classifies control-plane failures.
type ErrorKind int

const (
	// KindConnectionRefused: nothing accepted the TCP connection.
	KindConnectionRefused ErrorKind = iota + 1
	// KindHandshakeFailed: something accepted the connection but the
	// websocket upgrade or app authentication did not complete.
	KindHandshakeFailed
	// KindTimeout: the dial or a request exceeded its deadline.
	KindTimeout
	// KindClosed: the session was torn down while the request waited.
	KindClosed
	// KindProtocol: the conductor sent a frame that could not be decoded.
	KindProtocol
	// KindRemote: the conductor answered with an error response.
	KindRemote
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectionRefused:
		return "connection refused"
	case KindHandshakeFailed:
		return "handshake failed"
	case KindTimeout:
		return "timeout"
	case KindClosed:
		return "session closed"
	case KindProtocol:
		return "protocol error"
	case KindRemote:
		return "conductor error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrConnectionRefused = errors.New("conductor: connection refused")
	ErrHandshakeFailed   = errors.New("conductor: handshake failed")
	ErrTimeout           = errors.New("conductor: timeout")
	ErrClosed            = errors.New("conductor: session closed")
	ErrProtocol          = errors.New("conductor: protocol error")
	ErrRemote            = errors.New("conductor: remote error")
)

var sentinels = map[ErrorKind]error{
	KindConnectionRefused: ErrConnectionRefused,
	KindHandshakeFailed:   ErrHandshakeFailed,
	KindTimeout:           ErrTimeout,
	KindClosed:            ErrClosed,
	KindProtocol:          ErrProtocol,
	KindRemote:            ErrRemote,
}

// Error is a control-plane failure against one endpoint.
type Error struct {
	Kind     ErrorKind
	Endpoint endpoint.Endpoint
	// Op is the command type or the connection phase ("dial",
	// "authenticate").
	Op  string
	Err error
}

func (e *Error) Error() string {
	message := fmt.Sprintf("%s %s: %s", e.Endpoint, e.Op, e.Kind)
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// RemoteError is the payload of a conductor error response.
type RemoteError struct {
	// Type is the conductor's error variant, e.g. "app_not_installed".
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

// classifyDial maps a dial or upgrade failure to a kind. A response
// from the server (bad status, bad upgrade) means something is
// listening, so only transport-level refusals count as refused.
func classifyDial(ctx context.Context, err error) ErrorKind {
	switch {
	case errors.Is(err, unix.ECONNREFUSED):
		return KindConnectionRefused
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTimeout
	case ctx.Err() != nil:
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindHandshakeFailed
}
