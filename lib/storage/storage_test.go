// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storage_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/storage"
	"github.com/bureau-foundation/hcops/lib/storage/storagetest"
)

func openHandle(t *testing.T, layout storage.Layout, cell holohash.CellID, kind storage.DatabaseKind) *storage.Handle {
	t.Helper()
	handle, err := storage.Open(context.Background(), layout, cell, kind, storage.Options{})
	if err != nil {
		t.Fatalf("Open(%s): %v", kind, err)
	}
	t.Cleanup(func() { handle.Close() })
	return handle
}

func TestOpenMissingDatabase(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	_, err := storage.Open(context.Background(), layout, storagetest.NewCell(), storage.DHT, storage.Options{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Open = %v, want ErrNotFound", err)
	}
	var storageErr *storage.Error
	if !errors.As(err, &storageErr) || storageErr.Database != storage.DHT {
		t.Errorf("error = %#v, want *Error for the dht database", err)
	}
}

func TestOpCountsEmptyDatabase(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	storagetest.Create(t, layout, storage.DHT, cell)

	counts, err := openHandle(t, layout, cell, storage.DHT).OpCounts(context.Background())
	if err != nil {
		t.Fatalf("OpCounts: %v", err)
	}
	if len(counts) != len(storage.ValidationStates) {
		t.Fatalf("OpCounts has %d states, want %d: %v", len(counts), len(storage.ValidationStates), counts)
	}
	for _, state := range storage.ValidationStates {
		if count, ok := counts[state]; !ok || count != 0 {
			t.Errorf("counts[%s] = %d, %v; want 0, true", state, count, ok)
		}
	}
}

func TestOpCountsByState(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)

	db.AddOp(storagetest.Op{})
	db.AddOp(storagetest.Op{Stage: storagetest.Int(storagetest.StagePending)})
	db.AddOp(storagetest.Op{Stage: storagetest.Int(storagetest.StageAwaitingSysDeps)})
	db.AddOp(storagetest.Op{Stage: storagetest.Int(storagetest.StageSysValidated)})
	db.AddOp(storagetest.Op{Stage: storagetest.Int(storagetest.StageAwaitingAppDeps)})
	db.AddOp(storagetest.Op{Stage: storagetest.Int(storagetest.StageAwaitingIntegration)})
	db.AddOp(storagetest.Op{Stage: storagetest.Int(storagetest.StageAwaitingIntegration), Status: storagetest.Int(storagetest.StatusValid)})
	for range 3 {
		db.AddOp(storagetest.Op{Status: storagetest.Int(storagetest.StatusValid), Integrated: true})
	}
	db.AddOp(storagetest.Op{Status: storagetest.Int(storagetest.StatusRejected), Integrated: true})
	db.AddOp(storagetest.Op{Status: storagetest.Int(storagetest.StatusAbandoned)})

	counts, err := openHandle(t, layout, cell, storage.DHT).OpCounts(context.Background())
	if err != nil {
		t.Fatalf("OpCounts: %v", err)
	}
	want := map[storage.OpState]uint64{
		storage.OpPending:             2,
		storage.OpAwaitingSysDeps:     1,
		storage.OpSysValidated:        1,
		storage.OpAwaitingAppDeps:     1,
		storage.OpAwaitingIntegration: 2,
		storage.OpIntegrated:          3,
		storage.OpRejected:            1,
		storage.OpAbandoned:           1,
	}
	for state, count := range want {
		if counts[state] != count {
			t.Errorf("counts[%s] = %d, want %d", state, counts[state], count)
		}
	}
}

func TestOpCountsUnknownCode(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)
	db.AddOp(storagetest.Op{Stage: storagetest.Int(9)})

	_, err := openHandle(t, layout, cell, storage.DHT).OpCounts(context.Background())
	if !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Fatalf("OpCounts = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "validation_stage 9") {
		t.Errorf("error %q does not name the code", err)
	}
}

func TestAuthoredOpCounts(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.Authored, cell)
	db.AddOp(storagetest.Op{})
	db.AddOp(storagetest.Op{Published: true})
	db.AddOp(storagetest.Op{Published: true})

	counts, err := openHandle(t, layout, cell, storage.Authored).OpCounts(context.Background())
	if err != nil {
		t.Fatalf("OpCounts: %v", err)
	}
	if len(counts) != 2 || counts[storage.OpAuthored] != 1 || counts[storage.OpPublished] != 2 {
		t.Errorf("OpCounts = %v, want authored:1 published:2", counts)
	}
}

func TestOpenMissingColumn(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	schema := regexp.MustCompile(`(?m)^\s*validation_stage\s+INTEGER,\n`).ReplaceAllString(storagetest.Schema, "")
	storagetest.CreateAt(t, layout.Path(storage.DHT, cell), schema)

	_, err := storage.Open(context.Background(), layout, cell, storage.DHT, storage.Options{})
	if !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Fatalf("Open = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "DhtOp has no column validation_stage") {
		t.Errorf("error %q does not name the column", err)
	}
}

func TestOpenMissingTable(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	storagetest.CreateAt(t, layout.Path(storage.Cache, cell), `CREATE TABLE Unrelated (id INTEGER);`)

	_, err := storage.Open(context.Background(), layout, cell, storage.Cache, storage.Options{})
	if !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Fatalf("Open = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "missing table DhtOp") {
		t.Errorf("error %q does not name the table", err)
	}
}

func TestOpenEncryptedDatabase(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	path := layout.Path(storage.DHT, cell)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Repeat("\x8f\x01ciphertext", 16)), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := storage.Open(context.Background(), layout, cell, storage.DHT, storage.Options{})
	if !errors.Is(err, storage.ErrEncrypted) {
		t.Fatalf("Open = %v, want ErrEncrypted", err)
	}
}

func TestOpenLockedDatabase(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)
	release := db.Lock()

	start := time.Now()
	_, err := storage.Open(context.Background(), layout, cell, storage.DHT, storage.Options{BusyTimeout: 20 * time.Millisecond})
	if !errors.Is(err, storage.ErrLocked) {
		t.Fatalf("Open = %v, want ErrLocked", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Open waited %v on a lock", elapsed)
	}

	release()
	handle, err := storage.Open(context.Background(), layout, cell, storage.DHT, storage.Options{})
	if err != nil {
		t.Fatalf("Open after release: %v", err)
	}
	handle.Close()
}

func TestCloseTwice(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	storagetest.Create(t, layout, storage.DHT, cell)

	handle := openHandle(t, layout, cell, storage.DHT)
	if err := handle.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := handle.OpCounts(context.Background()); err == nil {
		t.Error("OpCounts on a closed handle succeeded")
	}
}

func TestRecordSummary(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)
	db.AddChain(cell.AgentPubKey, "Dna", "AgentValidationPkg", "InitZomesComplete", "Create", "Create")
	db.AddEntry(10, "")
	db.AddEntry(20, "profile")
	db.AddOp(storagetest.Op{Status: storagetest.Int(storagetest.StatusValid), Integrated: true})
	db.AddOp(storagetest.Op{})

	summary, err := openHandle(t, layout, cell, storage.DHT).RecordSummary(context.Background())
	if err != nil {
		t.Fatalf("RecordSummary: %v", err)
	}
	if summary.Actions != 5 || summary.Entries != 2 || summary.IntegratedOps != 1 {
		t.Errorf("RecordSummary = %+v, want 5 actions, 2 entries, 1 integrated op", summary)
	}
	if summary.ActionsByType["Create"] != 2 || summary.ActionsByType["Dna"] != 1 {
		t.Errorf("ActionsByType = %v", summary.ActionsByType)
	}
}

func TestAgentsInDHTRequireValidOps(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)

	valid := storagetest.NewHash(holohash.KindAgent)
	rejected := storagetest.NewHash(holohash.KindAgent)
	pending := storagetest.NewHash(holohash.KindAgent)
	db.AddAgent(valid, storagetest.Int(storagetest.StatusValid))
	db.AddAgent(rejected, storagetest.Int(storagetest.StatusRejected))
	db.AddAgent(pending, nil)

	agents, err := openHandle(t, layout, cell, storage.DHT).Agents(context.Background())
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 1 || agents[0] != valid {
		t.Errorf("Agents = %v, want [%s]", agents, valid)
	}
}

func TestAgentsInCacheCountEveryPackage(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.Cache, cell)

	first := storagetest.NewHash(holohash.KindAgent)
	second := storagetest.NewHash(holohash.KindAgent)
	db.AddAgent(first, nil)
	db.AddAgent(second, storagetest.Int(storagetest.StatusRejected))
	db.AddAgent(first, nil)

	agents, err := openHandle(t, layout, cell, storage.Cache).Agents(context.Background())
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 2 || !slices.Contains(agents, first) || !slices.Contains(agents, second) {
		t.Errorf("Agents = %v, want both agents once", agents)
	}
}

func TestChainIsOrderedBySeq(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.Authored, cell)

	other := storagetest.NewHash(holohash.KindAgent)
	db.AddChain(other, "Dna")
	written := db.AddChain(cell.AgentPubKey, "Dna", "AgentValidationPkg", "InitZomesComplete")
	db.AddAction(storage.Action{Type: "Create", Seq: 3, Author: cell.AgentPubKey, PrevHash: written[2].Hash, EntryType: "App"})

	chain, err := openHandle(t, layout, cell, storage.Authored).Chain(context.Background(), cell.AgentPubKey)
	if err != nil {
		t.Fatalf("Chain: %v", err)
	}
	if len(chain) != 4 {
		t.Fatalf("Chain has %d actions, want 4", len(chain))
	}
	for i, action := range chain {
		if action.Seq != uint32(i) {
			t.Errorf("chain[%d].Seq = %d", i, action.Seq)
		}
		if i > 0 && action.PrevHash != chain[i-1].Hash {
			t.Errorf("chain[%d].PrevHash does not link to chain[%d]", i, i-1)
		}
	}
	if chain[3].Type != "Create" || chain[3].EntryType != "App" {
		t.Errorf("chain[3] = %+v", chain[3])
	}
	if !chain[0].PrevHash.IsZero() {
		t.Errorf("genesis action has PrevHash %s", chain[0].PrevHash)
	}
}

func TestDumpListings(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)
	db.AddChain(cell.AgentPubKey, "Dna", "Create", "Create")
	db.AddEntry(12, "")
	first := db.AddOp(storagetest.Op{Status: storagetest.Int(storagetest.StatusValid), Integrated: true, AuthoredAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)})
	db.AddOp(storagetest.Op{AuthoredAt: time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)})

	handle := openHandle(t, layout, cell, storage.DHT)
	ctx := context.Background()

	ops, err := handle.Ops(ctx, 0)
	if err != nil {
		t.Fatalf("Ops: %v", err)
	}
	if len(ops) != 2 || ops[0].Hash != first.Hash || ops[0].State != storage.OpIntegrated || ops[1].State != storage.OpPending {
		t.Errorf("Ops = %+v", ops)
	}
	if ops[0].IntegratedAt.IsZero() || !ops[1].IntegratedAt.IsZero() {
		t.Errorf("IntegratedAt = %v, %v", ops[0].IntegratedAt, ops[1].IntegratedAt)
	}

	limited, err := handle.Actions(ctx, 2)
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Actions(limit 2) returned %d", len(limited))
	}

	entries, err := handle.Entries(ctx, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Size != 12 {
		t.Errorf("Entries = %+v", entries)
	}
}

func TestSliceHashes(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	db := storagetest.Create(t, layout, storage.DHT, cell)
	handle := openHandle(t, layout, cell, storage.DHT)
	ctx := context.Background()

	hashes, err := handle.SliceHashes(ctx)
	if err != nil || hashes != nil {
		t.Fatalf("SliceHashes without table = %v, %v; want nil, nil", hashes, err)
	}

	db.AddSliceHash(storage.SliceHash{ArcStart: 100, ArcEnd: 200, SliceIndex: 2, Hash: []byte{3}})
	db.AddSliceHash(storage.SliceHash{ArcStart: 4000000000, ArcEnd: 10, SliceIndex: 1, Hash: []byte{2}})
	db.AddSliceHash(storage.SliceHash{ArcStart: 0, ArcEnd: 50, SliceIndex: 1, Hash: []byte{1}})

	hashes, err = handle.SliceHashes(ctx)
	if err != nil {
		t.Fatalf("SliceHashes: %v", err)
	}
	if len(hashes) != 3 {
		t.Fatalf("SliceHashes returned %d rows", len(hashes))
	}
	for i, want := range []byte{1, 2, 3} {
		if hashes[i].Hash[0] != want {
			t.Errorf("hashes[%d] = %+v, want hash %x", i, hashes[i], want)
		}
	}
	if hashes[1].ArcStart != 4000000000 {
		t.Errorf("arc start = %d, want 4000000000 after signed storage", hashes[1].ArcStart)
	}
}

func TestSummarize(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()

	dht := storagetest.Create(t, layout, storage.DHT, cell)
	shared := storagetest.NewHash(holohash.KindAgent)
	dhtOnly := storagetest.NewHash(holohash.KindAgent)
	dht.AddAgent(shared, storagetest.Int(storagetest.StatusValid))
	dht.AddAgent(dhtOnly, storagetest.Int(storagetest.StatusValid))
	dht.AddOp(storagetest.Op{})

	cache := storagetest.Create(t, layout, storage.Cache, cell)
	cacheOnly := storagetest.NewHash(holohash.KindAgent)
	cache.AddAgent(shared, nil)
	cache.AddAgent(cacheOnly, nil)

	summary, err := storage.Summarize(context.Background(), layout, cell, storage.Options{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.PeerCount != 3 {
		t.Errorf("PeerCount = %d, want 3 (%v)", summary.PeerCount, summary.Agents)
	}
	if summary.RecordCount != 2 {
		t.Errorf("RecordCount = %d, want 2", summary.RecordCount)
	}
	if summary.OpCounts[storage.OpIntegrated] != 2 || summary.OpCounts[storage.OpPending] != 1 {
		t.Errorf("OpCounts = %v", summary.OpCounts)
	}
	if !slices.Equal(summary.Missing, []storage.DatabaseKind{storage.Authored}) {
		t.Errorf("Missing = %v, want [authored]", summary.Missing)
	}
	if summary.AuthoredOps != nil {
		t.Errorf("AuthoredOps = %v without an authored database", summary.AuthoredOps)
	}
}

func TestSummarizeRequiresDHT(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}
	cell := storagetest.NewCell()
	storagetest.Create(t, layout, storage.Cache, cell)

	_, err := storage.Summarize(context.Background(), layout, cell, storage.Options{})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Summarize = %v, want ErrNotFound", err)
	}
}

func TestLayoutCells(t *testing.T) {
	layout := storage.Layout{Root: t.TempDir()}

	cells, err := layout.Cells()
	if err != nil || len(cells) != 0 {
		t.Fatalf("Cells on an empty root = %v, %v", cells, err)
	}

	first, second := storagetest.NewCell(), storagetest.NewCell()
	storagetest.Create(t, layout, storage.Authored, first)
	storagetest.Create(t, layout, storage.Authored, second)
	storagetest.Create(t, layout, storage.DHT, first)
	for _, junk := range []string{layout.Path(storage.Authored, first) + "-wal", filepath.Join(layout.DatabasesDir(), "authored", "notes.txt")} {
		if err := os.WriteFile(junk, nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cells, err = layout.Cells()
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if len(cells) != 2 || !slices.Contains(cells, first) || !slices.Contains(cells, second) {
		t.Errorf("Cells = %v, want the two authored cells", cells)
	}
	if !cells[0].Less(cells[1]) {
		t.Errorf("Cells not sorted: %v", cells)
	}
}

func TestParseDatabaseKind(t *testing.T) {
	for _, kind := range []storage.DatabaseKind{storage.Authored, storage.DHT, storage.Cache} {
		parsed, err := storage.ParseDatabaseKind(kind.String())
		if err != nil || parsed != kind {
			t.Errorf("ParseDatabaseKind(%q) = %v, %v", kind.String(), parsed, err)
		}
	}
	if _, err := storage.ParseDatabaseKind("wasm"); err == nil {
		t.Error("ParseDatabaseKind(wasm) succeeded")
	}
}
