// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"errors"
	"testing"
)

func TestArcContains(t *testing.T) {
	tests := []struct {
		arc      Arc
		location uint32
		want     bool
	}{
		{Arc{Start: 10, End: 20}, 10, true},
		{Arc{Start: 10, End: 20}, 20, true},
		{Arc{Start: 10, End: 20}, 21, false},
		{Arc{Start: 0xfffffff0, End: 5}, 0xfffffffa, true},
		{Arc{Start: 0xfffffff0, End: 5}, 3, true},
		{Arc{Start: 0xfffffff0, End: 5}, 6, false},
	}
	for _, test := range tests {
		if got := test.arc.Contains(test.location); got != test.want {
			t.Errorf("%+v.Contains(%#x) = %v, want %v", test.arc, test.location, got, test.want)
		}
	}
}

func TestAppInterfaceAllows(t *testing.T) {
	app := "forum"
	tests := []struct {
		name   string
		info   AppInterfaceInfo
		origin string
		appID  string
		allows bool
		serves bool
	}{
		{"any origin", AppInterfaceInfo{AllowedOrigins: "*"}, "hcops", "forum", true, true},
		{"listed origin", AppInterfaceInfo{AllowedOrigins: "launcher,hcops"}, "hcops", "forum", true, true},
		{"unlisted origin", AppInterfaceInfo{AllowedOrigins: "launcher"}, "hcops", "forum", false, true},
		{"dedicated to app", AppInterfaceInfo{AllowedOrigins: "*", InstalledAppID: &app}, "hcops", "forum", true, true},
		{"dedicated to other", AppInterfaceInfo{AllowedOrigins: "*", InstalledAppID: &app}, "hcops", "chat", true, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := test.info.Allows(test.origin); got != test.allows {
				t.Errorf("Allows(%q) = %v, want %v", test.origin, got, test.allows)
			}
			if got := test.info.Serves(test.appID); got != test.serves {
				t.Errorf("Serves(%q) = %v, want %v", test.appID, got, test.serves)
			}
		})
	}
}

func TestStateDumpInitialized(t *testing.T) {
	tests := []struct {
		name    string
		dump    string
		want    bool
		wantErr error
	}{
		{"initialized", `[{"source_chain_dump":{"records":[{"action":{"type":"Dna"}},{"action":{"type":"InitZomesComplete"}}]}}]`, true, nil},
		{"not yet", `[{"source_chain_dump":{"records":[{"action":{"type":"Dna"}}]}}]`, false, nil},
		{"empty chain", `[{"source_chain_dump":{"records":[]}}]`, false, nil},
		{"no chain", `[{"integration_dump":{}}]`, false, ErrNoRecords},
		{"empty tuple", `[]`, false, ErrNoRecords},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := stateDumpInitialized(test.dump)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("err = %v, want %v", err, test.wantErr)
			}
			if got != test.want {
				t.Errorf("initialized = %v, want %v", got, test.want)
			}
		})
	}

	if _, err := stateDumpInitialized("not json"); err == nil {
		t.Error("garbage dump decoded")
	}
}

func TestErrorMatchesOnlyItsSentinel(t *testing.T) {
	err := &Error{Kind: KindTimeout, Op: "list_apps"}
	if !errors.Is(err, ErrTimeout) {
		t.Error("timeout error does not match ErrTimeout")
	}
	if errors.Is(err, ErrClosed) {
		t.Error("timeout error matches ErrClosed")
	}
}
