// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bureau-foundation/hcops/lib/holohash"
)

// AgentInfo is a peer's signed self-description as gossiped on the
// network, after signature verification.
type AgentInfo struct {
	Agent      HoloHash  `json:"agent"`
	Dna        HoloHash  `json:"dna"`
	URL        string    `json:"url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Tombstone  bool      `json:"is_tombstone"`
	StorageArc *Arc      `json:"storage_arc,omitempty"`
}

// Expired reports whether the info is past its expiry at now.
func (a AgentInfo) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// The gossip encoding: an outer object carrying the inner JSON as a
// string plus an Ed25519 signature over exactly those bytes.
type signedAgentInfo struct {
	AgentInfo string `json:"agentInfo"`
	Signature string `json:"signature"`
}

type agentInfoBody struct {
	Agent       string     `json:"agent"`
	Space       string     `json:"space"`
	CreatedAt   string     `json:"createdAt"`
	ExpiresAt   string     `json:"expiresAt"`
	IsTombstone bool       `json:"isTombstone"`
	URL         string     `json:"url"`
	StorageArc  *[2]uint32 `json:"storageArc"`
}

var errBadSignature = errors.New("agent info signature does not verify")

// ParseAgentInfo decodes and verifies one encoded agent info. The signing
// key is the agent's own public key.
func ParseAgentInfo(encoded string) (AgentInfo, error) {
	var signed signedAgentInfo
	if err := json.Unmarshal([]byte(encoded), &signed); err != nil {
		return AgentInfo{}, fmt.Errorf("decoding agent info: %w", err)
	}
	var body agentInfoBody
	if err := json.Unmarshal([]byte(signed.AgentInfo), &body); err != nil {
		return AgentInfo{}, fmt.Errorf("decoding agent info body: %w", err)
	}

	agentKey, err := base64.RawURLEncoding.DecodeString(body.Agent)
	if err != nil || len(agentKey) != ed25519.PublicKeySize {
		return AgentInfo{}, fmt.Errorf("agent info: bad agent key %q", body.Agent)
	}
	space, err := base64.RawURLEncoding.DecodeString(body.Space)
	if err != nil || len(space) != 32 {
		return AgentInfo{}, fmt.Errorf("agent info: bad space %q", body.Space)
	}
	signature, err := base64.RawURLEncoding.DecodeString(signed.Signature)
	if err != nil {
		return AgentInfo{}, fmt.Errorf("agent info: bad signature encoding: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(agentKey), []byte(signed.AgentInfo), signature) {
		return AgentInfo{}, errBadSignature
	}

	info := AgentInfo{
		Agent:     holohash.New(holohash.KindAgent, [32]byte(agentKey)),
		Dna:       holohash.New(holohash.KindDna, [32]byte(space)),
		URL:       body.URL,
		Tombstone: body.IsTombstone,
	}
	if info.CreatedAt, err = parseMicros(body.CreatedAt); err != nil {
		return AgentInfo{}, fmt.Errorf("agent info createdAt: %w", err)
	}
	if info.ExpiresAt, err = parseMicros(body.ExpiresAt); err != nil {
		return AgentInfo{}, fmt.Errorf("agent info expiresAt: %w", err)
	}
	if body.StorageArc != nil {
		info.StorageArc = &Arc{Start: body.StorageArc[0], End: body.StorageArc[1]}
	}
	return info, nil
}

// EncodeAgentInfo signs and encodes an agent info the way peers gossip
// it. Used by fixtures and fake conductors.
func EncodeAgentInfo(info AgentInfo, key ed25519.PrivateKey) (string, error) {
	body := agentInfoBody{
		Agent:       base64.RawURLEncoding.EncodeToString(info.Agent.Core()),
		Space:       base64.RawURLEncoding.EncodeToString(info.Dna.Core()),
		CreatedAt:   strconv.FormatInt(info.CreatedAt.UnixMicro(), 10),
		ExpiresAt:   strconv.FormatInt(info.ExpiresAt.UnixMicro(), 10),
		IsTombstone: info.Tombstone,
		URL:         info.URL,
	}
	if info.StorageArc != nil {
		body.StorageArc = &[2]uint32{info.StorageArc.Start, info.StorageArc.End}
	}
	inner, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	outer, err := json.Marshal(signedAgentInfo{
		AgentInfo: string(inner),
		Signature: base64.RawURLEncoding.EncodeToString(ed25519.Sign(key, inner)),
	})
	if err != nil {
		return "", err
	}
	return string(outer), nil
}

func parseMicros(text string) (time.Time, error) {
	if text == "" {
		return time.Time{}, nil
	}
	micros, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(micros).UTC(), nil
}
