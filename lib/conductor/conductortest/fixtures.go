// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductortest

import (
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/holohash"
)

// Hash returns a hash of kind whose core is seed repeated.
func Hash(kind holohash.Kind, seed byte) holohash.Hash {
	var core [32]byte
	for i := range core {
		core[i] = seed
	}
	return holohash.New(kind, core)
}

// Peer is an agent with a signing key, for building signed agent infos.
type Peer struct {
	Key   ed25519.PrivateKey
	Agent holohash.Hash
}

// NewPeer derives a deterministic peer from seed.
func NewPeer(seed byte) Peer {
	var keySeed [ed25519.SeedSize]byte
	for i := range keySeed {
		keySeed[i] = seed
	}
	key := ed25519.NewKeyFromSeed(keySeed[:])
	return Peer{
		Key:   key,
		Agent: holohash.New(holohash.KindAgent, [32]byte(key.Public().(ed25519.PublicKey))),
	}
}

// AgentInfo returns the peer's signed agent info in dna, valid for an
// hour from created, covering arc (nil for no storage).
func (p Peer) AgentInfo(dna holohash.Hash, created time.Time, arc *conductor.Arc) string {
	encoded, err := conductor.EncodeAgentInfo(conductor.AgentInfo{
		Agent:      p.Agent,
		Dna:        dna,
		URL:        "ws://peer.invalid/" + p.Agent.Short(),
		CreatedAt:  created,
		ExpiresAt:  created.Add(time.Hour),
		StorageArc: arc,
	}, p.Key)
	if err != nil {
		panic("conductortest: encoding agent info: " + err.Error())
	}
	return encoded
}

// App builds an enabled app with one provisioned cell per role. The
// agent and each DNA derive from seed.
func App(appID string, seed byte, roles ...string) conductor.AppInfo {
	agent := NewPeer(seed).Agent
	app := conductor.AppInfo{
		InstalledAppID: appID,
		Status:         "enabled",
		AgentPubKey:    agent,
		CellInfo:       make(map[string][]conductor.CellInfo),
	}
	for index, role := range roles {
		cell := holohash.NewCellID(Hash(holohash.KindDna, seed+byte(index)), agent)
		app.CellInfo[role] = []conductor.CellInfo{{Type: conductor.CellProvisioned, CellID: &cell, Name: role, Enabled: true}}
	}
	return app
}

// StateDump builds a dump_state answer whose source chain holds the
// given action types in order.
func StateDump(actionTypes ...string) string {
	type record struct {
		Action struct {
			Type string `json:"type"`
		} `json:"action"`
	}
	records := make([]record, len(actionTypes))
	for i, actionType := range actionTypes {
		records[i].Action.Type = actionType
	}
	dump := []any{
		map[string]any{
			"peer_dump":         map[string]any{},
			"source_chain_dump": map[string]any{"records": records, "published_ops_count": 0},
			"integration_dump":  map[string]any{},
		},
		"human readable dump",
	}
	encoded, err := json.Marshal(dump)
	if err != nil {
		panic("conductortest: encoding state dump: " + err.Error())
	}
	return string(encoded)
}
