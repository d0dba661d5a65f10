// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/inspect"
	"github.com/bureau-foundation/hcops/lib/storage"
	"github.com/bureau-foundation/hcops/lib/storage/storagetest"
)

func TestExploreWhoIsHere(t *testing.T) {
	h := newHarness(t)
	cell := storagetest.NewCell()
	bob := storagetest.NewHash(holohash.KindAgent)
	carol := storagetest.NewHash(holohash.KindAgent)

	dht := storagetest.Create(t, h.layout, storage.DHT, cell)
	dht.AddAgent(cell.AgentPubKey, storagetest.Int(storagetest.StatusValid))
	dht.AddAgent(bob, storagetest.Int(storagetest.StatusValid))
	cache := storagetest.Create(t, h.layout, storage.Cache, cell)
	cache.AddAgent(bob, nil)
	cache.AddAgent(carol, nil)
	storagetest.Create(t, h.layout, storage.Authored, cell)
	h.mustRun("agent-tag", "add", bob.String(), "bob")

	var agents []presentAgent
	h.runJSON(&agents, "explore", "who-is-here")
	found := map[holohash.Hash]presentAgent{}
	for _, agent := range agents {
		found[agent.Agent] = agent
	}
	if len(found) != 3 {
		t.Fatalf("found %d agents, want 3: %+v", len(found), agents)
	}
	if got := found[bob]; got.Tag != "bob" || strings.Join(got.In, ",") != "dht,cache" {
		t.Errorf("bob = %+v, want tagged and in dht,cache", got)
	}
	if got := found[carol]; strings.Join(got.In, ",") != "cache" {
		t.Errorf("carol found in %v, want cache only", got.In)
	}

	if output := h.mustRun("explore", "who-is-here"); !strings.Contains(output, "bob (") {
		t.Errorf("who-is-here table should label bob:\n%s", output)
	}
}

func TestExploreWhoIsHereWithoutCache(t *testing.T) {
	h := newHarness(t)
	cell := storagetest.NewCell()
	dht := storagetest.Create(t, h.layout, storage.DHT, cell)
	dht.AddAgent(cell.AgentPubKey, storagetest.Int(storagetest.StatusValid))
	storagetest.Create(t, h.layout, storage.Authored, cell)

	var agents []presentAgent
	h.runJSON(&agents, "explore", "--cell", cell.String(), "who-is-here")
	if len(agents) != 1 || agents[0].Agent != cell.AgentPubKey {
		t.Errorf("agents = %+v, want only the cell's agent", agents)
	}
}

func TestExploreCellSelection(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("explore", "who-is-here")
	requireCategory(t, err, cli.CategoryNotFound)

	for range 2 {
		cell := storagetest.NewCell()
		storagetest.Create(t, h.layout, storage.DHT, cell)
		storagetest.Create(t, h.layout, storage.Authored, cell)
	}
	_, err = h.run("explore", "who-is-here")
	requireCategory(t, err, cli.CategoryValidation)

	_, err = h.run("explore", "--cell", "nonsense", "who-is-here")
	requireCategory(t, err, cli.CategoryValidation)

	_, err = h.run("explore", "--cell", storagetest.NewCell().String(), "who-is-here")
	requireCategory(t, err, cli.CategoryNotFound)
}

func TestExploreAgentChain(t *testing.T) {
	h := newHarness(t)
	cell := storagetest.NewCell()
	alice := cell.AgentPubKey

	dht := storagetest.Create(t, h.layout, storage.DHT, cell)
	chain := dht.AddChain(alice, "Dna", "AgentValidationPkg", "Create")
	cache := storagetest.Create(t, h.layout, storage.Cache, cell)
	cache.AddAction(chain[1])
	cache.AddAction(storage.Action{Type: "Update", Seq: 3, Author: alice, PrevHash: chain[2].Hash})
	storagetest.Create(t, h.layout, storage.Authored, cell)
	h.mustRun("agent-tag", "add", alice.String(), "alice")

	for _, who := range []string{alice.String(), "alice"} {
		var actions []storage.Action
		h.runJSON(&actions, "explore", "agent-chain", who)
		if len(actions) != 4 {
			t.Fatalf("agent-chain %s returned %d actions, want 4", who, len(actions))
		}
		for seq, action := range actions {
			if int(action.Seq) != seq {
				t.Errorf("actions[%d].Seq = %d, want %d", seq, action.Seq, seq)
			}
		}
		if actions[3].Type != "Update" {
			t.Errorf("last action = %s, want the cached Update", actions[3].Type)
		}
	}

	_, err := h.run("explore", "agent-chain", "nobody")
	requireCategory(t, err, cli.CategoryNotFound)
}

func TestExploreDump(t *testing.T) {
	h := newHarness(t)
	cell := storagetest.NewCell()
	dht := storagetest.Create(t, h.layout, storage.DHT, cell)
	for range 3 {
		dht.AddOp(storagetest.Op{Status: storagetest.Int(storagetest.StatusValid), Integrated: true})
	}
	authored := storagetest.Create(t, h.layout, storage.Authored, cell)
	authored.AddEntry(64, "post")

	var dump cellDump
	h.runJSON(&dump, "explore", "dump", "-n", "2")
	if dump.Cell != cell {
		t.Errorf("dump cell = %s, want %s", dump.Cell, cell)
	}
	if len(dump.DhtOps) != 2 {
		t.Errorf("dump has %d DHT ops, want the limit of 2", len(dump.DhtOps))
	}
	if len(dump.AuthoredEntries) != 1 || dump.AuthoredEntries[0].Size != 64 {
		t.Errorf("authored entries = %+v, want one 64-byte entry", dump.AuthoredEntries)
	}
	if len(dump.CacheOps) != 0 {
		t.Errorf("cache ops = %+v, want none without a cache database", dump.CacheOps)
	}

	text := h.mustRun("explore", "dump")
	if !strings.Contains(text, "(none)") || !strings.Contains(text, "post") {
		t.Errorf("dump output:\n%s", text)
	}

	_, err := h.run("explore", "dump", "--limit", "-1")
	requireCategory(t, err, cli.CategoryValidation)
}

func TestSliceHashesRoundTripThroughCompare(t *testing.T) {
	h := newHarness(t)
	cell := storagetest.NewCell()
	dht := storagetest.Create(t, h.layout, storage.DHT, cell)
	storagetest.Create(t, h.layout, storage.Authored, cell)
	dht.AddSliceHash(storage.SliceHash{ArcStart: 0, ArcEnd: 1 << 30, SliceIndex: 0, Hash: storage.HexBytes{1, 2, 3}})
	dht.AddSliceHash(storage.SliceHash{ArcStart: 1 << 30, ArcEnd: 1 << 31, SliceIndex: 0, Hash: storage.HexBytes{4, 5, 6}})

	if output := h.mustRun("explore", "slice-hashes"); !strings.Contains(output, "010203") {
		t.Errorf("slice-hashes table:\n%s", output)
	}

	dir := t.TempDir()
	ours := filepath.Join(dir, "ours.json")
	saved := h.mustRun("explore", "slice-hashes", "--json")
	if err := os.WriteFile(ours, []byte(saved), 0o644); err != nil {
		t.Fatalf("writing dump: %v", err)
	}
	if output := h.mustRun("compare", "slice-hashes", ours, ours); !strings.Contains(output, "Slice hashes agree (2 slices)") {
		t.Errorf("compare of identical dumps:\n%s", output)
	}

	theirs := filepath.Join(dir, "theirs.json")
	divergent := `[
  // one slice changed, one missing
  {"arc_start": 0, "arc_end": 1073741824, "slice_index": 0, "hash": "ffffff"},
]`
	if err := os.WriteFile(theirs, []byte(divergent), 0o644); err != nil {
		t.Fatalf("writing dump: %v", err)
	}
	output, err := h.run("compare", "slice-hashes", ours, theirs)
	requireExit(t, err, 1)
	if !strings.Contains(output, "2 of 2 slices differ") {
		t.Errorf("compare output:\n%s", output)
	}

	output, err = h.run("compare", "slice-hashes", ours, theirs, "--json")
	requireExit(t, err, 1)
	var diffs []inspect.SliceHashDiff
	if decodeErr := decodeJSON(output, &diffs); decodeErr != nil {
		t.Fatalf("decoding compare output: %v\n%s", decodeErr, output)
	}
	if len(diffs) != 2 {
		t.Errorf("diffs = %+v, want 2", diffs)
	}

	_, err = h.run("compare", "slice-hashes", ours, filepath.Join(dir, "missing.json"))
	requireCategory(t, err, cli.CategoryValidation)
}

func TestStorageKey(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("storage", "key")
	requireCategory(t, err, cli.CategoryNotFound)

	key := &storage.DatabaseKey{}
	for i := range key.Key {
		key.Key[i] = 0xab
	}
	for i := range key.Salt {
		key.Salt[i] = 0x01
	}
	storagetest.WriteKeyFile(t, h.layout, key, "hunter2", storage.DefaultKeyParams)

	h.stdin.WriteString("hunter2\n")
	output := h.mustRun("storage", "key")
	if output != storage.KeyPragmas(key) {
		t.Errorf("storage key output = %q, want %q", output, storage.KeyPragmas(key))
	}

	h.stdin.WriteString("wrong\n")
	_, err = h.run("storage", "key")
	requireCategory(t, err, cli.CategoryValidation)

	_, err = h.run("storage", "key")
	requireCategory(t, err, cli.CategoryValidation)
}

func TestVersionNeedsNoConfig(t *testing.T) {
	var stdout strings.Builder
	app := &App{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml"), Stdout: &stdout}
	if err := Root(app).Execute(t.Context(), []string{"version"}, nil); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(stdout.String(), "hcops ") {
		t.Errorf("version output = %q", stdout.String())
	}
}
