// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discover_test

import (
	"context"
	"iter"
	"net/netip"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/bureau-foundation/hcops/lib/discover"
	"github.com/bureau-foundation/hcops/lib/discover/discovertest"
)

func newScanner(t *testing.T, root string, signatures ...string) *discover.Scanner {
	t.Helper()
	scanner, err := discover.NewScanner(discover.ScannerConfig{
		Enumerator: discover.ProcFS{Root: root},
		Signatures: signatures,
	})
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return scanner
}

func TestScanFindsConductor(t *testing.T) {
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{
		PID:         4242,
		Comm:        "holochain",
		Executable:  "/usr/bin/holochain",
		CommandLine: []string{"/usr/bin/holochain", "--config-path", "conductor.yaml"},
		Listening:   []uint16{8888},
		Connected:   true,
	})
	tree.Add(discovertest.Process{
		PID:         100,
		Comm:        "sshd",
		CommandLine: []string{"sshd"},
		Listening:   []uint16{22},
	})

	result := newScanner(t, tree.Root()).Scan(context.Background())
	if len(result.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", result.Diagnostics)
	}
	if len(result.Processes) != 1 {
		t.Fatalf("Scan found %d processes, want 1: %+v", len(result.Processes), result.Processes)
	}

	process := result.Processes[0]
	if process.PID != 4242 || !process.MatchedSignature {
		t.Errorf("process = %+v", process)
	}
	if process.Executable != "/usr/bin/holochain" {
		t.Errorf("Executable = %q", process.Executable)
	}
	port, ok := process.AdminPort()
	if !ok || port != 8888 {
		t.Errorf("AdminPort() = %d, %v; want 8888, true", port, ok)
	}
	if process.Sockets[0].Address != netip.MustParseAddr("127.0.0.1") {
		t.Errorf("socket address = %v, want 127.0.0.1", process.Sockets[0].Address)
	}
}

func TestScanMatchesArgumentBaseName(t *testing.T) {
	// Launched through a wrapper: comm and exe are the wrapper, the
	// conductor binary appears only as an argument.
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{
		PID:         7,
		Comm:        "node",
		CommandLine: []string{"node", "launcher.js", "/opt/hc/bin/holochain"},
		Listening:   []uint16{9000},
	})

	result := newScanner(t, tree.Root()).Scan(context.Background())
	if len(result.Processes) != 1 {
		t.Fatalf("Scan found %d processes, want 1", len(result.Processes))
	}
}

func TestScanDropsProcessesWithoutListeningSockets(t *testing.T) {
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{
		PID:         55,
		Comm:        "holochain",
		CommandLine: []string{"holochain"},
		Connected:   true,
	})

	result := newScanner(t, tree.Root()).Scan(context.Background())
	if len(result.Processes) != 0 {
		t.Errorf("Scan returned %+v, want nothing for a process without listeners", result.Processes)
	}
}

func TestScanMultiplePortsNeedDisambiguation(t *testing.T) {
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{
		PID:         9,
		Comm:        "holochain",
		CommandLine: []string{"holochain"},
		Listening:   []uint16{30000, 8888, 30001},
	})

	result := newScanner(t, tree.Root()).Scan(context.Background())
	if len(result.Processes) != 1 {
		t.Fatalf("Scan found %d processes, want 1", len(result.Processes))
	}
	process := result.Processes[0]
	if !slices.Equal(process.ListeningPorts, []uint16{8888, 30000, 30001}) {
		t.Errorf("ListeningPorts = %v, want sorted [8888 30000 30001]", process.ListeningPorts)
	}
	if _, ok := process.AdminPort(); ok {
		t.Error("AdminPort() ok with several ports")
	}
}

func TestScanIPv6Listener(t *testing.T) {
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{
		PID:         11,
		Comm:        "holochain",
		CommandLine: []string{"holochain"},
		Listening:   []uint16{8800},
		Address:     netip.MustParseAddr("::1"),
	})

	result := newScanner(t, tree.Root()).Scan(context.Background())
	if len(result.Processes) != 1 {
		t.Fatalf("Scan found %d processes, want 1", len(result.Processes))
	}
	if got := result.Processes[0].Sockets[0].Address; got != netip.IPv6Loopback() {
		t.Errorf("address = %v, want ::1", got)
	}
}

func TestScanSurvivesUnreadableProcesses(t *testing.T) {
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{PID: 20, Comm: "holochain", CommandLine: []string{"holochain"}, Listening: []uint16{1}, HideFDs: true})
	tree.Add(discovertest.Process{PID: 21, Vanished: true})
	tree.Add(discovertest.Process{PID: 22, Comm: "holochain", CommandLine: []string{"holochain"}, Listening: []uint16{8888}})

	result := newScanner(t, tree.Root()).Scan(context.Background())
	if len(result.Processes) != 1 || result.Processes[0].PID != 22 {
		t.Fatalf("Processes = %+v, want only pid 22", result.Processes)
	}

	var pids []int
	for _, diagnostic := range result.Diagnostics {
		pids = append(pids, diagnostic.PID)
	}
	slices.Sort(pids)
	if !slices.Equal(pids, []int{20, 21}) {
		t.Errorf("diagnostic pids = %v, want [20 21]", pids)
	}
}

func TestScanUnreadableTable(t *testing.T) {
	result := newScanner(t, filepath.Join(t.TempDir(), "no-proc-here")).Scan(context.Background())
	if len(result.Processes) != 0 {
		t.Errorf("Processes = %+v, want none", result.Processes)
	}
	if len(result.Diagnostics) != 1 || result.Diagnostics[0].PID != 0 {
		t.Errorf("Diagnostics = %+v, want one scan-level diagnostic", result.Diagnostics)
	}
}

func TestScanCustomSignature(t *testing.T) {
	tree := discovertest.New(t)
	tree.Add(discovertest.Process{PID: 30, Comm: "hc-sandbox", CommandLine: []string{"hc-sandbox", "run"}, Listening: []uint16{4000}})
	tree.Add(discovertest.Process{PID: 31, Comm: "holochain", CommandLine: []string{"holochain"}, Listening: []uint16{4001}})

	result := newScanner(t, tree.Root(), `^hc-`).Scan(context.Background())
	if len(result.Processes) != 1 || result.Processes[0].PID != 30 {
		t.Fatalf("Processes = %+v, want only pid 30", result.Processes)
	}
	if result.Processes[0].Signature != `^hc-` {
		t.Errorf("Signature = %q", result.Processes[0].Signature)
	}
}

func TestNewScannerRejectsBadSignature(t *testing.T) {
	_, err := discover.NewScanner(discover.ScannerConfig{Signatures: []string{"("}})
	if err == nil || !strings.Contains(err.Error(), "signature") {
		t.Fatalf("NewScanner = %v, want signature error", err)
	}
}

// staticEnumerator serves a fixed table, for exercising Scan without
// a filesystem.
type staticEnumerator struct {
	processes []discover.ProcessInfo
	sockets   map[int][]discover.Socket
}

func (s staticEnumerator) Processes(context.Context) iter.Seq2[discover.ProcessInfo, error] {
	return func(yield func(discover.ProcessInfo, error) bool) {
		for _, process := range s.processes {
			if !yield(process, nil) {
				return
			}
		}
	}
}

func (s staticEnumerator) ListeningSockets(_ context.Context, pid int) ([]discover.Socket, error) {
	return s.sockets[pid], nil
}

func TestScanOrdersByPID(t *testing.T) {
	loopback := netip.MustParseAddr("127.0.0.1")
	enumerator := staticEnumerator{
		processes: []discover.ProcessInfo{
			{PID: 300, Comm: "holochain"},
			{PID: 5, Comm: "holochain"},
			{PID: 40, Comm: "holochain"},
		},
		sockets: map[int][]discover.Socket{
			300: {{Address: loopback, Port: 1}},
			5:   {{Address: loopback, Port: 2}},
			40:  {{Address: loopback, Port: 3}},
		},
	}
	scanner, err := discover.NewScanner(discover.ScannerConfig{Enumerator: enumerator})
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	result := scanner.Scan(context.Background())
	var pids []int
	for _, process := range result.Processes {
		pids = append(pids, process.PID)
	}
	if !slices.Equal(pids, []int{5, 40, 300}) {
		t.Errorf("pids = %v, want [5 40 300]", pids)
	}
}
