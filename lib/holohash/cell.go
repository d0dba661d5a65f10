// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package holohash

import (
	"fmt"
	"strings"
)

// CellID identifies one running instance of a DNA for one agent. On
// the wire it is the two-element array [dna_hash, agent_pub_key].
type CellID struct {
	_ struct{} `cbor:",toarray"`

	DnaHash     Hash `json:"dna_hash"`
	AgentPubKey Hash `json:"agent_pub_key"`
}

// NewCellID pairs a DNA hash with an agent key.
func NewCellID(dna, agent Hash) CellID {
	return CellID{DnaHash: dna, AgentPubKey: agent}
}

// ParseCellID parses "<dna>:<agent>" as printed by String.
func ParseCellID(text string) (CellID, error) {
	dnaText, agentText, ok := strings.Cut(text, ":")
	if !ok {
		return CellID{}, fmt.Errorf("holohash: cell id %q is not <dna>:<agent>", text)
	}
	dna, err := ParseKind(dnaText, KindDna)
	if err != nil {
		return CellID{}, err
	}
	agent, err := ParseKind(agentText, KindAgent)
	if err != nil {
		return CellID{}, err
	}
	return NewCellID(dna, agent), nil
}

func (c CellID) String() string {
	return c.DnaHash.String() + ":" + c.AgentPubKey.String()
}

// Less orders cells by DNA then agent, for stable reports.
func (c CellID) Less(other CellID) bool {
	if c.DnaHash != other.DnaHash {
		return c.DnaHash.String() < other.DnaHash.String()
	}
	return c.AgentPubKey.String() < other.AgentPubKey.String()
}
