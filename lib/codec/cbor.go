// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Hashes implement TextMarshaler for logs and JSON, but travel
	// as raw bytes on the wire through their own MarshalCBOR.
	encOptions.TextMarshaler = cbor.TextMarshalerNone
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Conductor payloads use string keys only. Without this,
		// any-typed targets decode to map[any]any, which neither
		// encoding/json nor the report renderers accept.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Protect against a hostile or broken peer announcing huge
		// containers.
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// Tagged is an externally tagged enum value: a variant name plus its
// still-encoded payload.
type Tagged struct {
	Type  string     `cbor:"type"`
	Value RawMessage `cbor:"value,omitempty"`
}

// NewTagged encodes value and pairs it with the variant name. A nil
// value produces a unit variant with no payload.
func NewTagged(variant string, value any) (Tagged, error) {
	tagged := Tagged{Type: variant}
	if value == nil {
		return tagged, nil
	}
	payload, err := Marshal(value)
	if err != nil {
		return Tagged{}, fmt.Errorf("encoding %s payload: %w", variant, err)
	}
	tagged.Value = payload
	return tagged, nil
}

// Decode unmarshals the payload into v. A unit variant (no payload)
// leaves v untouched.
func (t Tagged) Decode(v any) error {
	if len(t.Value) == 0 {
		return nil
	}
	if err := Unmarshal(t.Value, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", t.Type, err)
	}
	return nil
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for
// data. Used when reporting frames that failed to decode.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
