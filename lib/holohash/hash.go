// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package holohash

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/bureau-foundation/hcops/lib/codec"
)

const (
	// Size is the length of a raw hash.
	Size = 39

	prefixSize   = 3
	coreSize     = 32
	locationSize = 4
)

// Kind identifies what a hash addresses.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAgent
	KindDna
	KindAction
	KindEntry
	KindDhtOp
	KindExternal
)

var prefixes = map[Kind][prefixSize]byte{
	KindAgent:    {0x84, 0x20, 0x24},
	KindDna:      {0x84, 0x2d, 0x24},
	KindAction:   {0x84, 0x29, 0x24},
	KindEntry:    {0x84, 0x21, 0x24},
	KindDhtOp:    {0x84, 0x24, 0x24},
	KindExternal: {0x84, 0x2f, 0x24},
}

func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindDna:
		return "dna"
	case KindAction:
		return "action"
	case KindEntry:
		return "entry"
	case KindDhtOp:
		return "dht_op"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Hash is a raw 39-byte hash. The zero value means "absent".
type Hash [Size]byte

// New builds a hash of the given kind over a 32-byte core, computing
// the location suffix.
func New(kind Kind, core [coreSize]byte) Hash {
	var h Hash
	prefix := prefixes[kind]
	copy(h[:prefixSize], prefix[:])
	copy(h[prefixSize:prefixSize+coreSize], core[:])
	location := Location(core[:])
	copy(h[prefixSize+coreSize:], location[:])
	return h
}

// FromRaw validates and copies a raw 39-byte hash.
func FromRaw(raw []byte) (Hash, error) {
	var h Hash
	if len(raw) != Size {
		return h, fmt.Errorf("holohash: raw hash is %d bytes, want %d", len(raw), Size)
	}
	copy(h[:], raw)
	if h.Kind() == KindUnknown {
		return Hash{}, fmt.Errorf("holohash: unknown type prefix %x", raw[:prefixSize])
	}
	return h, nil
}

// Parse decodes the "u"-prefixed base64url text form.
func Parse(text string) (Hash, error) {
	if len(text) == 0 || text[0] != 'u' {
		return Hash{}, fmt.Errorf("holohash: %q lacks the 'u' multibase prefix", text)
	}
	raw, err := base64.RawURLEncoding.DecodeString(text[1:])
	if err != nil {
		return Hash{}, fmt.Errorf("holohash: decoding %q: %w", text, err)
	}
	return FromRaw(raw)
}

// ParseKind parses text and checks that it addresses the wanted kind.
func ParseKind(text string, want Kind) (Hash, error) {
	h, err := Parse(text)
	if err != nil {
		return Hash{}, err
	}
	if got := h.Kind(); got != want {
		return Hash{}, fmt.Errorf("holohash: %s is a %s hash, want %s", text, got, want)
	}
	return h, nil
}

// IsZero reports whether h is the absent hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Kind returns the kind identified by the type prefix.
func (h Hash) Kind() Kind {
	for kind, prefix := range prefixes {
		if bytes.Equal(h[:prefixSize], prefix[:]) {
			return kind
		}
	}
	return KindUnknown
}

// Core returns the 32-byte hash core.
func (h Hash) Core() []byte { return h[prefixSize : prefixSize+coreSize] }

// Location returns the DHT location stored in the hash suffix.
func (h Hash) Location() uint32 {
	return binary.LittleEndian.Uint32(h[prefixSize+coreSize:])
}

// LocationValid reports whether the stored location matches the core.
func (h Hash) LocationValid() bool {
	location := Location(h.Core())
	return bytes.Equal(h[prefixSize+coreSize:], location[:])
}

// Raw returns a copy of the 39 raw bytes.
func (h Hash) Raw() []byte {
	raw := make([]byte, Size)
	copy(raw, h[:])
	return raw
}

// String returns the text form, or the empty string for the zero hash.
func (h Hash) String() string {
	if h.IsZero() {
		return ""
	}
	return "u" + base64.RawURLEncoding.EncodeToString(h[:])
}

// Short returns an abbreviated text form for tables.
func (h Hash) Short() string {
	text := h.String()
	if len(text) <= 12 {
		return text
	}
	return text[:8] + "…" + text[len(text)-4:]
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*h = Hash{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalCBOR encodes the hash as a byte string, or null when zero.
func (h Hash) MarshalCBOR() ([]byte, error) {
	if h.IsZero() {
		return codec.Marshal(nil)
	}
	return codec.Marshal(h[:])
}

// UnmarshalCBOR decodes a byte string or null.
func (h *Hash) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("holohash: %w", err)
	}
	if raw == nil {
		*h = Hash{}
		return nil
	}
	parsed, err := FromRaw(raw)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Location computes the 4-byte DHT location of a hash core: a 16-byte
// BLAKE2b digest folded by XOR into 4 bytes.
func Location(core []byte) [locationSize]byte {
	digest, err := blake2b.New(16, nil)
	if err != nil {
		panic("holohash: blake2b initialization failed: " + err.Error())
	}
	digest.Write(core)
	sum := digest.Sum(nil)

	var out [locationSize]byte
	copy(out[:], sum[:locationSize])
	for i := locationSize; i < len(sum); i += locationSize {
		for j := range locationSize {
			out[j] ^= sum[i+j]
		}
	}
	return out
}
