// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package holohash implements the 39-byte content and identity hashes
// conductors use for DNAs, agents, actions, entries and DHT ops.
//
// A [Hash] is a 3-byte type prefix, a 32-byte core, and a 4-byte DHT
// location derived from the core. Its text form is "u" followed by
// unpadded base64url, which is how operators see agent keys and DNA
// hashes in every conductor tool. On the control-plane wire a hash is
// a CBOR byte string; in --json output and logs it is the text form.
package holohash
