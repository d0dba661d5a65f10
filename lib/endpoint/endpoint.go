// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// DefaultHost is the host used when an endpoint is registered without
// one. Conductors bind their admin interface to loopback by default.
const DefaultHost = "127.0.0.1"

// Endpoint identifies a conductor's control plane. Endpoints are
// values: they are compared by content, never mutated after being
// stored, and safe to copy.
type Endpoint struct {
	// Host is an IP literal or hostname. Empty means DefaultHost.
	Host string `json:"host"`

	// AdminPort is the admin interface port. Required.
	AdminPort uint16 `json:"admin_port"`

	// AppPort is the app interface port, if one is known. Most
	// endpoints leave this unset and attach an app interface on
	// demand through the admin port.
	AppPort *uint16 `json:"app_port,omitempty"`
}

// New returns a loopback endpoint for the given admin port.
func New(adminPort uint16) Endpoint {
	return Endpoint{Host: DefaultHost, AdminPort: adminPort}
}

// WithAppPort returns a copy of e with the app port set.
func (e Endpoint) WithAppPort(port uint16) Endpoint {
	e.AppPort = &port
	return e
}

// Normalize fills in the default host. Every constructor path that
// persists an endpoint normalizes first, so two endpoints that differ
// only by an empty versus explicit default host compare equal.
func (e Endpoint) Normalize() Endpoint {
	if e.Host == "" {
		e.Host = DefaultHost
	}
	return e
}

// Validate reports whether e can be dialed.
func (e Endpoint) Validate() error {
	if e.AdminPort == 0 {
		return fmt.Errorf("endpoint %s: admin port is required", e)
	}
	if e.AppPort != nil && *e.AppPort == 0 {
		return fmt.Errorf("endpoint %s: app port must be non-zero when set", e)
	}
	host := e.Normalize().Host
	if _, err := netip.ParseAddr(host); err != nil {
		// Not an IP literal. Accept hostnames, reject anything that
		// could not appear in a URL authority.
		if host == "" || len(host) > 253 {
			return fmt.Errorf("endpoint %s: invalid host %q", e, host)
		}
		for _, r := range host {
			if !(r == '-' || r == '.' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
				return fmt.Errorf("endpoint %s: invalid host %q", e, host)
			}
		}
	}
	return nil
}

// Equal reports whether two endpoints name the same control plane.
func (e Endpoint) Equal(other Endpoint) bool {
	e, other = e.Normalize(), other.Normalize()
	if e.Host != other.Host || e.AdminPort != other.AdminPort {
		return false
	}
	switch {
	case e.AppPort == nil && other.AppPort == nil:
		return true
	case e.AppPort == nil || other.AppPort == nil:
		return false
	default:
		return *e.AppPort == *other.AppPort
	}
}

// AdminAddress returns host:port for the admin interface.
func (e Endpoint) AdminAddress() string {
	return net.JoinHostPort(e.Normalize().Host, strconv.Itoa(int(e.AdminPort)))
}

// AppAddress returns host:port for the app interface, or false if no
// app port is known.
func (e Endpoint) AppAddress() (string, bool) {
	if e.AppPort == nil {
		return "", false
	}
	return net.JoinHostPort(e.Normalize().Host, strconv.Itoa(int(*e.AppPort))), true
}

// String renders the endpoint as a websocket URL for the admin port,
// with the app port appended when set.
func (e Endpoint) String() string {
	out := "ws://" + e.AdminAddress()
	if e.AppPort != nil {
		out += " (app " + strconv.Itoa(int(*e.AppPort)) + ")"
	}
	return out
}
