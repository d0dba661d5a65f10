// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR configuration used on the conductor
// control plane.
//
// Every control-plane frame is a CBOR envelope, and every command and
// response inside it is an externally tagged value of the form
// {type: <snake_case name>, value: <payload>}. [Tagged] captures that
// shape with the payload left undecoded so callers pick the concrete
// Go type only after reading the tag.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same command always produces identical bytes. That makes fake
// conductors in tests comparable byte-for-byte.
//
// # Struct Tag Rules
//
// Wire-only types use `cbor` tags. Types that also appear in --json
// output use `json` tags, which fxamacker/cbor reads as a fallback.
// Never put both on one field.
package codec
