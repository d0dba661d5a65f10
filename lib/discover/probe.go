// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/endpoint"
)

// DefaultProbeTimeout bounds each port probe.
const DefaultProbeTimeout = time.Second

// Prober checks whether an endpoint's admin port answers. It returns
// nil for a working admin interface; conductor.ErrConnectionRefused
// when nothing accepts the connection; anything else when something
// answered but did not behave like an admin interface.
type Prober interface {
	Probe(ctx context.Context, e endpoint.Endpoint) error
}

// ProbeOutcome classifies one probed port.
type ProbeOutcome string

const (
	ProbeAdmin           ProbeOutcome = "admin"
	ProbeRefused         ProbeOutcome = "refused"
	ProbeHandshakeFailed ProbeOutcome = "handshake_failed"
	ProbeNotTried        ProbeOutcome = "not_tried"
)

// Candidate is one port considered by ProbeAdminPort.
type Candidate struct {
	Port    uint16       `json:"port"`
	Outcome ProbeOutcome `json:"outcome"`
	Err     error        `json:"-"`
}

// AmbiguousError is returned when no single admin port could be
// chosen. Handshake failures are reachable through errors.Is and
// errors.As via Unwrap.
type AmbiguousError struct {
	PID        int
	Candidates []Candidate
}

func (e *AmbiguousError) Error() string {
	parts := make([]string, 0, len(e.Candidates))
	for _, candidate := range e.Candidates {
		parts = append(parts, fmt.Sprintf("%d (%s)", candidate.Port, candidate.Outcome))
	}
	return fmt.Sprintf("process %d: no admin port found among %s", e.PID, strings.Join(parts, ", "))
}

// Unwrap exposes the handshake failures.
func (e *AmbiguousError) Unwrap() []error {
	var errs []error
	for _, candidate := range e.Candidates {
		if candidate.Outcome == ProbeHandshakeFailed && candidate.Err != nil {
			errs = append(errs, candidate.Err)
		}
	}
	return errs
}

// ProbeOptions tunes ProbeAdminPort.
type ProbeOptions struct {
	// Timeout bounds each probe. Zero means DefaultProbeTimeout.
	Timeout time.Duration
}

// ProbeAdminPort tries each of the process's listening ports in order
// and returns the endpoint of the first that answers as an admin
// interface. A process with a single port is still probed, so a
// returned endpoint always answered.
func ProbeAdminPort(ctx context.Context, process Process, prober Prober, options ProbeOptions) (endpoint.Endpoint, error) {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	candidates := make([]Candidate, 0, len(process.Sockets))
	for _, socket := range process.Sockets {
		candidates = append(candidates, Candidate{Port: socket.Port, Outcome: ProbeNotTried})
	}
	if len(candidates) == 0 {
		for _, port := range process.ListeningPorts {
			candidates = append(candidates, Candidate{Port: port, Outcome: ProbeNotTried})
		}
	}

	for index := range candidates {
		if err := ctx.Err(); err != nil {
			return endpoint.Endpoint{}, err
		}
		target := endpoint.Endpoint{Host: probeHost(process, index), AdminPort: candidates[index].Port}

		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := prober.Probe(probeCtx, target)
		cancel()

		switch {
		case err == nil:
			candidates[index].Outcome = ProbeAdmin
			return target, nil
		case errors.Is(err, conductor.ErrConnectionRefused):
			candidates[index].Outcome = ProbeRefused
		default:
			candidates[index].Outcome = ProbeHandshakeFailed
		}
		candidates[index].Err = err
	}

	return endpoint.Endpoint{}, &AmbiguousError{PID: process.PID, Candidates: candidates}
}

// probeHost dials the socket's bound address. A wildcard listener is
// reached over the loopback address of its family.
func probeHost(process Process, index int) string {
	if index >= len(process.Sockets) {
		return endpoint.DefaultHost
	}
	address := process.Sockets[index].Address
	if !address.IsValid() {
		return endpoint.DefaultHost
	}
	if !address.Is4In6() && address.Is6() && address.IsUnspecified() {
		return "::1"
	}
	address = address.Unmap()
	if address.IsUnspecified() {
		return endpoint.DefaultHost
	}
	return address.WithZone("").String()
}
