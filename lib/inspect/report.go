// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/endpoint"
	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/storage"
)

// Report annotations for a failed leg.
const (
	LiveUnavailable    = "live data unavailable"
	StorageUnavailable = "storage unavailable"
)

// Report is the reconciled view of one conductor.
type Report struct {
	Tag         string            `json:"tag"`
	Endpoint    endpoint.Endpoint `json:"endpoint"`
	GeneratedAt time.Time         `json:"generated_at"`

	// Cells are ordered by DNA, then agent.
	Cells []CellReport `json:"cells"`

	// Annotations describe whole-report degradation, such as a failed
	// leg.
	Annotations []string `json:"annotations,omitempty"`

	// LiveErr and StorageErr hold the failure behind a leg annotation.
	LiveErr    error `json:"-"`
	StorageErr error `json:"-"`
}

// LiveAvailable reports whether the live leg succeeded.
func (r *Report) LiveAvailable() bool { return r.LiveErr == nil }

// StorageAvailable reports whether the storage leg succeeded.
func (r *Report) StorageAvailable() bool { return r.StorageErr == nil }

// CellReport is everything known about one cell.
type CellReport struct {
	Cell holohash.CellID `json:"cell_id"`

	// AppID and Role are known only from the live leg.
	AppID string `json:"app_id,omitempty"`
	Role  string `json:"role,omitempty"`

	Live    *LiveCell        `json:"live,omitempty"`
	Storage *storage.Summary `json:"storage,omitempty"`

	// StorageError explains a missing Storage for this cell when the
	// storage leg as a whole succeeded.
	StorageError string `json:"storage_error,omitempty"`

	Annotations []string `json:"annotations,omitempty"`
}

// LiveCell is the conductor's current network view of a cell.
type LiveCell struct {
	// Peers are the agents the conductor holds agent infos for in the
	// cell's DNA, ordered by agent.
	Peers []Peer `json:"peers"`

	StorageArc           *conductor.Arc `json:"storage_arc,omitempty"`
	TargetArc            *conductor.Arc `json:"target_arc,omitempty"`
	PendingFetchRequests uint64         `json:"pending_fetch_requests"`
}

// Peer is one known agent.
type Peer struct {
	Agent holohash.Hash `json:"agent"`
	// Tag is the operator's agent tag, if any.
	Tag        string         `json:"tag,omitempty"`
	URL        string         `json:"url,omitempty"`
	ExpiresAt  time.Time      `json:"expires_at"`
	Expired    bool           `json:"expired,omitempty"`
	Local      bool           `json:"local,omitempty"`
	StorageArc *conductor.Arc `json:"storage_arc,omitempty"`
}

// Label returns the peer's tag, or its short hash.
func (p Peer) Label() string {
	if p.Tag != "" {
		return p.Tag
	}
	return p.Agent.Short()
}

// ErrUnavailable matches an Error from Inspect.
var ErrUnavailable = errors.New("inspect: live data and storage both unavailable")

// Error is returned when both legs fail.
type Error struct {
	Tag     string
	Live    error
	Storage error
}

func (e *Error) Error() string {
	return fmt.Sprintf("inspecting %q: %s: %v; %s: %v", e.Tag, LiveUnavailable, e.Live, StorageUnavailable, e.Storage)
}

// Unwrap exposes both leg errors to errors.Is and errors.As.
func (e *Error) Unwrap() []error { return []error{e.Live, e.Storage} }

func (e *Error) Is(target error) bool { return target == ErrUnavailable }
