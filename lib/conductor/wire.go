// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"fmt"

	"github.com/bureau-foundation/hcops/lib/codec"
)

// Envelope types on the control-plane websocket.
const (
	EnvelopeRequest      = "request"
	EnvelopeResponse     = "response"
	EnvelopeSignal       = "signal"
	EnvelopeAuthenticate = "authenticate"
)

// ResultError is the result tag of a rejected command.
const ResultError = "error"

// Envelope is one websocket frame. Data holds a CBOR encoded
// codec.Tagged for requests, responses and signals, and an
// AuthenticateRequest for authenticate.
type Envelope struct {
	Type string `cbor:"type"`
	ID   uint64 `cbor:"id,omitempty"`
	Data []byte `cbor:"data,omitempty"`
}

// AuthenticateRequest is the first frame on an app session.
type AuthenticateRequest struct {
	Token []byte `cbor:"token"`
}

// Command is one control-plane request.
type Command struct {
	// Type is the snake_case command name, e.g. "list_apps".
	Type string
	// Payload is encoded as the command value. Nil sends a unit command.
	Payload any
	// ReadOnly commands may be retried on timeout.
	ReadOnly bool
}

// Response is a successful command result.
type Response struct {
	// Type is the result tag, e.g. "apps_listed".
	Type  string
	Value codec.RawMessage
}

// Decode unmarshals the result payload into v.
func (r Response) Decode(v any) error {
	return codec.Tagged{Type: r.Type, Value: r.Value}.Decode(v)
}

// Expect decodes the payload into v after checking the result tag.
// A mismatched tag is a protocol error on op.
func (r Response) Expect(resultType string, v any) error {
	if r.Type != resultType {
		return fmt.Errorf("expected %q result, got %q", resultType, r.Type)
	}
	if v == nil {
		return nil
	}
	return r.Decode(v)
}

func encodeRequest(id uint64, command Command) ([]byte, error) {
	tagged, err := codec.NewTagged(command.Type, command.Payload)
	if err != nil {
		return nil, err
	}
	data, err := codec.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", command.Type, err)
	}
	return codec.Marshal(Envelope{Type: EnvelopeRequest, ID: id, Data: data})
}

// decodeResult splits a response body into a result or a RemoteError.
func decodeResult(data []byte) (Response, *RemoteError, error) {
	var tagged codec.Tagged
	if err := codec.Unmarshal(data, &tagged); err != nil {
		return Response{}, nil, fmt.Errorf("decoding response body: %w", err)
	}
	if tagged.Type != ResultError {
		return Response{Type: tagged.Type, Value: tagged.Value}, nil, nil
	}

	var inner codec.Tagged
	if err := tagged.Decode(&inner); err != nil {
		return Response{}, nil, err
	}
	remote := &RemoteError{Type: inner.Type}
	if err := inner.Decode(&remote.Message); err != nil {
		return Response{}, nil, err
	}
	return Response{}, remote, nil
}

// EncodeError builds the body of an error response. Exported for fake
// conductors.
func EncodeError(kind, message string) ([]byte, error) {
	inner, err := codec.NewTagged(kind, message)
	if err != nil {
		return nil, err
	}
	outer, err := codec.NewTagged(ResultError, inner)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(outer)
}
