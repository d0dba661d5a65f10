// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/hcops/lib/clock"
	"github.com/bureau-foundation/hcops/lib/endpoint"
	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/sqliteconn"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) (*Store, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	store, err := Open(context.Background(), Config{
		Path:  filepath.Join(t.TempDir(), "hcops", "state.sqlite3"),
		Clock: fake,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store, fake
}

func TestAddResolve(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	want := endpoint.New(8888).WithAppPort(9999)
	if err := store.Add(ctx, "test", want); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := store.Resolve(ctx, "test")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Resolve = %v, want %v", got, want)
	}
	if got.AppPort == nil || *got.AppPort != 9999 {
		t.Errorf("app port not preserved: %v", got)
	}
}

func TestAddNormalizesHost(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, "bare", endpoint.Endpoint{AdminPort: 8888}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := store.Resolve(ctx, "bare")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Host != endpoint.DefaultHost || got.AppPort != nil {
		t.Errorf("Resolve = %+v, want host %s and no app port", got, endpoint.DefaultHost)
	}
}

func TestAddIdempotent(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, "test", endpoint.New(8888)); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	fake.Advance(time.Hour)
	if err := store.Add(ctx, "test", endpoint.New(8888)); err != nil {
		t.Fatalf("repeat Add: %v", err)
	}

	tags, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tags) != 1 {
		t.Fatalf("List returned %d tags, want 1", len(tags))
	}
	if !tags[0].CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want original %v", tags[0].CreatedAt, epoch)
	}
}

func TestAddDuplicateName(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, "test", endpoint.New(8888)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := store.Add(ctx, "test", endpoint.New(8889))
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("Add with different endpoint = %v, want ErrDuplicateName", err)
	}
	var tagErr *Error
	if !errors.As(err, &tagErr) || tagErr.Name != "test" {
		t.Errorf("error does not name the tag: %v", err)
	}

	// The original binding is untouched.
	got, err := store.Resolve(ctx, "test")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.AdminPort != 8888 {
		t.Errorf("AdminPort = %d after rejected Add, want 8888", got.AdminPort)
	}
}

func TestSameEndpointManyNames(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	shared := endpoint.New(8888)
	for _, name := range []string{"primary", "alias", "other"} {
		if err := store.Add(ctx, name, shared); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}
	if err := store.Add(ctx, "elsewhere", endpoint.New(7777)); err != nil {
		t.Fatalf("Add(elsewhere): %v", err)
	}

	names, err := store.NamesFor(ctx, shared)
	if err != nil {
		t.Fatalf("NamesFor: %v", err)
	}
	if got := strings.Join(names, ","); got != "alias,other,primary" {
		t.Errorf("NamesFor = %s, want alias,other,primary", got)
	}
}

func TestResolveNotFound(t *testing.T) {
	store, _ := openTestStore(t)
	_, err := store.Resolve(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve(missing) = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	if err := store.Add(ctx, "test", endpoint.New(8888)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Remove(ctx, "test"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := store.Resolve(ctx, "test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve after Remove = %v, want ErrNotFound", err)
	}
	if err := store.Remove(ctx, "test"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}

	// The name is free again.
	if err := store.Add(ctx, "test", endpoint.New(9000)); err != nil {
		t.Errorf("re-Add after Remove: %v", err)
	}
}

func TestListOrder(t *testing.T) {
	store, fake := openTestStore(t)
	ctx := context.Background()

	// "b" and "a" share a timestamp; name breaks the tie.
	mustAdd(t, store, "c", endpoint.New(3))
	fake.Advance(time.Second)
	mustAdd(t, store, "b", endpoint.New(2))
	mustAdd(t, store, "a", endpoint.New(1))

	tags, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var names []string
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	if got := strings.Join(names, ","); got != "c,a,b" {
		t.Errorf("List order = %s, want c,a,b", got)
	}
}

func TestListEmpty(t *testing.T) {
	store, _ := openTestStore(t)
	tags, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tags) != 0 {
		t.Errorf("List on empty store = %v", tags)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"test", true},
		{"prod-eu_1.a", true},
		{strings.Repeat("x", MaxNameLength), true},
		{"", false},
		{"has space", false},
		{"tab\there", false},
		{strings.Repeat("x", MaxNameLength+1), false},
	}
	for _, test := range tests {
		err := ValidateName(test.name)
		if (err == nil) != test.valid {
			t.Errorf("ValidateName(%q) = %v, want valid=%v", test.name, err, test.valid)
		}
		if err != nil && !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) error %v is not ErrInvalidName", test.name, err)
		}
	}

	store, _ := openTestStore(t)
	if err := store.Add(context.Background(), "bad name", endpoint.New(1)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Add(bad name) = %v, want ErrInvalidName", err)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite3")
	ctx := context.Background()

	first, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	mustAdd(t, first, "test", endpoint.New(8888))

	second, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	got, err := second.Resolve(ctx, "test")
	if err != nil {
		t.Fatalf("Resolve after reopen: %v", err)
	}
	if got.AdminPort != 8888 {
		t.Errorf("AdminPort = %d, want 8888", got.AdminPort)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite3")
	if err := os.WriteFile(path, []byte(strings.Repeat("not a database ", 512)), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Open(context.Background(), Config{Path: path})
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Fatalf("Open(garbage) = %v, want ErrStoreCorrupt", err)
	}
	if !strings.Contains(err.Error(), path) || !strings.Contains(err.Error(), "delete") {
		t.Errorf("error %q should name the path and the reset action", err)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.sqlite3")
	ctx := context.Background()

	conn, err := sqliteconn.OpenReadWrite(ctx, path, sqliteconn.Options{})
	if err != nil {
		t.Fatalf("OpenReadWrite: %v", err)
	}
	script := fmt.Sprintf("PRAGMA application_id = %d; PRAGMA user_version = 99;", appID)
	if err := sqlitex.ExecuteScript(conn, script, nil); err != nil {
		t.Fatalf("setting user_version: %v", err)
	}
	conn.Close()

	if _, err := Open(ctx, Config{Path: path}); !errors.Is(err, ErrStoreCorrupt) {
		t.Fatalf("Open(newer) = %v, want ErrStoreCorrupt", err)
	}
}

func TestConcurrentAddsAcrossStores(t *testing.T) {
	// Separate Store values model separate hcops processes sharing
	// one file.
	path := filepath.Join(t.TempDir(), "state.sqlite3")
	ctx := context.Background()

	if _, err := Open(ctx, Config{Path: path}); err != nil {
		t.Fatalf("initial Open: %v", err)
	}

	const writers = 8
	var group sync.WaitGroup
	errs := make(chan error, writers)
	for i := range writers {
		group.Add(1)
		go func() {
			defer group.Done()
			store, err := Open(ctx, Config{Path: path})
			if err != nil {
				errs <- err
				return
			}
			if err := store.Add(ctx, fmt.Sprintf("conductor-%d", i), endpoint.New(uint16(8000+i))); err != nil {
				errs <- err
			}
		}()
	}
	group.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Add: %v", err)
	}

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tags, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tags) != writers {
		t.Errorf("List returned %d tags, want %d", len(tags), writers)
	}
}

func TestAgentTags(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	alice := testAgent(1)
	bob := testAgent(2)

	if err := store.AddAgent(ctx, "alice", alice); err != nil {
		t.Fatalf("AddAgent(alice): %v", err)
	}
	if err := store.AddAgent(ctx, "alice", alice); err != nil {
		t.Errorf("repeat AddAgent(alice): %v", err)
	}
	if err := store.AddAgent(ctx, "alice", bob); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("AddAgent(alice, bob) = %v, want ErrDuplicateName", err)
	}
	if err := store.AddAgent(ctx, "alias", alice); !errors.Is(err, ErrDuplicateName) {
		t.Errorf("second tag for one agent = %v, want ErrDuplicateName", err)
	}
	if err := store.AddAgent(ctx, "bob", bob); err != nil {
		t.Fatalf("AddAgent(bob): %v", err)
	}

	got, err := store.ResolveAgent(ctx, "bob")
	if err != nil {
		t.Fatalf("ResolveAgent: %v", err)
	}
	if got != bob {
		t.Errorf("ResolveAgent(bob) = %v, want %v", got, bob)
	}

	names, err := store.AgentNames(ctx)
	if err != nil {
		t.Fatalf("AgentNames: %v", err)
	}
	if names[alice] != "alice" || names[bob] != "bob" || len(names) != 2 {
		t.Errorf("AgentNames = %v", names)
	}

	if err := store.RemoveAgent(ctx, "alice"); err != nil {
		t.Fatalf("RemoveAgent: %v", err)
	}
	if _, err := store.ResolveAgent(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResolveAgent after remove = %v, want ErrNotFound", err)
	}
	if err := store.RemoveAgent(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveAgent = %v, want ErrNotFound", err)
	}
}

func TestAddAgentRejectsNonAgentHash(t *testing.T) {
	store, _ := openTestStore(t)
	var core [32]byte
	dna := holohash.New(holohash.KindDna, core)
	if err := store.AddAgent(context.Background(), "dna", dna); err == nil {
		t.Fatal("AddAgent accepted a DNA hash")
	}
}

func mustAdd(t *testing.T, store *Store, name string, e endpoint.Endpoint) {
	t.Helper()
	if err := store.Add(context.Background(), name, e); err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
}

func testAgent(seed byte) holohash.Hash {
	var core [32]byte
	for i := range core {
		core[i] = seed
	}
	return holohash.New(holohash.KindAgent, core)
}
