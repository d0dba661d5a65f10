// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storagetest builds conductor databases for tests.
//
// The schema is the subset of the conductor's tables that hcops reads,
// with the column names and types the conductor uses. Databases use
// the rollback journal so that [DB.Lock] blocks readers.
package storagetest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/storage"
)

// Schema creates the conductor tables.
const Schema = `
CREATE TABLE DhtOp (
	hash                    BLOB PRIMARY KEY ON CONFLICT IGNORE,
	type                    TEXT,
	basis_hash              BLOB,
	action_hash             BLOB,
	require_receipt         INTEGER,
	storage_center_loc      INTEGER,
	authored_timestamp      INTEGER,
	op_order                TEXT NOT NULL DEFAULT '',
	validation_status       INTEGER,
	when_integrated         INTEGER,
	withhold_publish        INTEGER,
	receipts_complete       INTEGER,
	last_publish_time       INTEGER,
	validation_stage        INTEGER,
	num_validation_attempts INTEGER,
	last_validation_attempt INTEGER,
	dependency              BLOB
);
CREATE TABLE Action (
	hash       BLOB PRIMARY KEY ON CONFLICT IGNORE,
	type       TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	author     BLOB NOT NULL,
	blob       BLOB NOT NULL,
	prev_hash  BLOB,
	entry_hash BLOB,
	entry_type TEXT
);
CREATE TABLE Entry (
	hash BLOB PRIMARY KEY ON CONFLICT IGNORE,
	blob BLOB NOT NULL,
	tag  TEXT
);
`

// SliceHashSchema creates the optional slice hash table.
const SliceHashSchema = `
CREATE TABLE IF NOT EXISTS SliceHash (
	arc_start   INTEGER NOT NULL,
	arc_end     INTEGER NOT NULL,
	slice_index INTEGER NOT NULL,
	hash        BLOB NOT NULL,
	PRIMARY KEY (arc_start, arc_end, slice_index)
);
`

var (
	seedMu sync.Mutex
	seed   uint64
)

// NewHash returns a fresh hash of kind, distinct from every other
// NewHash result in the process.
func NewHash(kind holohash.Kind) holohash.Hash {
	seedMu.Lock()
	seed++
	next := seed
	seedMu.Unlock()

	var core [32]byte
	binary.BigEndian.PutUint64(core[:8], next)
	core[8] = byte(kind)
	return holohash.New(kind, core)
}

// NewCell returns a fresh cell id.
func NewCell() holohash.CellID {
	return holohash.NewCellID(NewHash(holohash.KindDna), NewHash(holohash.KindAgent))
}

// Int is a convenience for the nullable code fields of Op.
func Int(value int64) *int64 { return &value }

// Stored validation codes.
const (
	StatusValid     = 0
	StatusRejected  = 1
	StatusAbandoned = 2

	StagePending             = 0
	StageAwaitingSysDeps     = 1
	StageSysValidated        = 2
	StageAwaitingAppDeps     = 3
	StageAwaitingIntegration = 4
)

// Op is a DhtOp row. Zero hashes are generated.
type Op struct {
	Hash       holohash.Hash
	Type       string
	BasisHash  holohash.Hash
	ActionHash holohash.Hash
	Stage      *int64
	Status     *int64
	Integrated bool
	Published  bool
	AuthoredAt time.Time
}

// DB is a writable fixture database.
type DB struct {
	t    testing.TB
	conn *sqlite.Conn
	path string
}

// Create makes the kind database for cell under layout with Schema.
func Create(t testing.TB, layout storage.Layout, kind storage.DatabaseKind, cell holohash.CellID) *DB {
	t.Helper()
	return CreateAt(t, layout.Path(kind, cell), Schema)
}

// CreateAt makes a database at path by running script.
func CreateAt(t testing.TB, path, script string) *DB {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("storagetest: %v", err)
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate)
	if err != nil {
		t.Fatalf("storagetest: opening %s: %v", path, err)
	}
	db := &DB{t: t, conn: conn, path: path}
	t.Cleanup(db.Close)
	if script != "" {
		db.Exec(script)
	}
	return db
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }

// Close closes the fixture connection. Closing twice is a no-op.
func (db *DB) Close() {
	if db.conn != nil {
		db.conn.Close()
		db.conn = nil
	}
}

// Exec runs a script of statements.
func (db *DB) Exec(script string, args ...any) {
	db.t.Helper()
	var err error
	if len(args) > 0 {
		err = sqlitex.Execute(db.conn, script, &sqlitex.ExecOptions{Args: args})
	} else {
		err = sqlitex.ExecuteScript(db.conn, script, nil)
	}
	if err != nil {
		db.t.Fatalf("storagetest: %s: %v", db.path, err)
	}
}

func blob(hash holohash.Hash) any {
	if hash.IsZero() {
		return nil
	}
	return hash.Raw()
}

func micros(when time.Time) any {
	if when.IsZero() {
		return nil
	}
	return when.UnixMicro()
}

// AddOp inserts op, generating its missing hashes, and returns the
// stored row.
func (db *DB) AddOp(op Op) Op {
	db.t.Helper()
	if op.Hash.IsZero() {
		op.Hash = NewHash(holohash.KindDhtOp)
	}
	if op.BasisHash.IsZero() {
		op.BasisHash = NewHash(holohash.KindEntry)
	}
	if op.ActionHash.IsZero() {
		op.ActionHash = NewHash(holohash.KindAction)
	}
	if op.Type == "" {
		op.Type = "StoreRecord"
	}
	if op.AuthoredAt.IsZero() {
		op.AuthoredAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	var stage, status, integrated, published any
	if op.Stage != nil {
		stage = *op.Stage
	}
	if op.Status != nil {
		status = *op.Status
	}
	if op.Integrated {
		integrated = op.AuthoredAt.Add(time.Minute).UnixMicro()
	}
	if op.Published {
		published = op.AuthoredAt.Add(time.Second).UnixMicro()
	}
	db.Exec(`INSERT INTO DhtOp (hash, type, basis_hash, action_hash, storage_center_loc, authored_timestamp,
		validation_status, when_integrated, last_publish_time, validation_stage)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		op.Hash.Raw(), op.Type, blob(op.BasisHash), blob(op.ActionHash), int64(op.BasisHash.Location()),
		micros(op.AuthoredAt), status, integrated, published, stage)
	return op
}

// AddAction inserts an Action row, generating a missing hash.
func (db *DB) AddAction(action storage.Action) storage.Action {
	db.t.Helper()
	if action.Hash.IsZero() {
		action.Hash = NewHash(holohash.KindAction)
	}
	var entryType any
	if action.EntryType != "" {
		entryType = action.EntryType
	}
	db.Exec(`INSERT INTO Action (hash, type, seq, author, blob, prev_hash, entry_hash, entry_type)
		VALUES (?, ?, ?, ?, x'', ?, ?, ?)`,
		action.Hash.Raw(), action.Type, int64(action.Seq), blob(action.Author),
		blob(action.PrevHash), blob(action.EntryHash), entryType)
	return action
}

// AddChain appends actions of the given types to agent's chain, linking
// each to the previous, and returns them in order.
func (db *DB) AddChain(agent holohash.Hash, types ...string) []storage.Action {
	db.t.Helper()
	var chain []storage.Action
	var prev holohash.Hash
	for i, actionType := range types {
		action := db.AddAction(storage.Action{Type: actionType, Seq: uint32(i), Author: agent, PrevHash: prev})
		chain = append(chain, action)
		prev = action.Hash
	}
	return chain
}

// AddEntry inserts an Entry with content of size bytes.
func (db *DB) AddEntry(size int, tag string) storage.Entry {
	db.t.Helper()
	entry := storage.Entry{Hash: NewHash(holohash.KindEntry), Size: size, Tag: tag}
	var tagValue any
	if tag != "" {
		tagValue = tag
	}
	db.Exec(`INSERT INTO Entry (hash, blob, tag) VALUES (?, ?, ?)`, entry.Hash.Raw(), make([]byte, size), tagValue)
	return entry
}

// AddAgent records agent's AgentValidationPkg action and its op. The
// op's validation status is status, or unset when status is nil.
func (db *DB) AddAgent(agent holohash.Hash, status *int64) {
	db.t.Helper()
	action := db.AddAction(storage.Action{Type: "AgentValidationPkg", Seq: 1, Author: agent})
	db.AddOp(Op{Type: "RegisterAgentActivity", ActionHash: action.Hash, BasisHash: agent, Status: status, Integrated: status != nil})
}

// AddSliceHash inserts a slice hash row, creating the table on first use.
func (db *DB) AddSliceHash(hash storage.SliceHash) {
	db.t.Helper()
	db.Exec(SliceHashSchema)
	db.Exec(`INSERT INTO SliceHash (arc_start, arc_end, slice_index, hash) VALUES (?, ?, ?, ?)`,
		int64(int32(hash.ArcStart)), int64(int32(hash.ArcEnd)), int64(hash.SliceIndex), []byte(hash.Hash))
}

// Lock takes an exclusive lock on the database from a second
// connection, blocking readers until the returned release runs. The
// lock is also released at cleanup.
func (db *DB) Lock() (release func()) {
	db.t.Helper()
	conn, err := sqlite.OpenConn(db.path, sqlite.OpenReadWrite)
	if err != nil {
		db.t.Fatalf("storagetest: locking %s: %v", db.path, err)
	}
	if err := sqlitex.ExecuteTransient(conn, "BEGIN EXCLUSIVE", nil); err != nil {
		conn.Close()
		db.t.Fatalf("storagetest: locking %s: %v", db.path, err)
	}
	var once sync.Once
	release = func() {
		once.Do(func() {
			sqlitex.ExecuteTransient(conn, "ROLLBACK", nil)
			conn.Close()
		})
	}
	db.t.Cleanup(release)
	return release
}

// WriteKeyFile seals key under passphrase into layout's db.key.
func WriteKeyFile(t testing.TB, layout storage.Layout, key *storage.DatabaseKey, passphrase string, params storage.KeyParams) {
	t.Helper()
	var nonce [24]byte
	for i := range nonce {
		nonce[i] = byte(i * 7)
	}
	text, err := storage.SealDatabaseKey(key, []byte(passphrase), nonce, params)
	if err != nil {
		t.Fatalf("storagetest: sealing key: %v", err)
	}
	if err := os.MkdirAll(layout.DatabasesDir(), 0o755); err != nil {
		t.Fatalf("storagetest: %v", err)
	}
	if err := os.WriteFile(layout.KeyFile(), []byte(text), 0o600); err != nil {
		t.Fatalf("storagetest: %v", err)
	}
}
