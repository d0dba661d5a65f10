// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"
	"testing"

	"github.com/bureau-foundation/hcops/lib/discover/discovertest"
)

func TestDiscoverShowsTagsForUnambiguousPorts(t *testing.T) {
	h := newHarness(t)
	h.proc.Add(discovertest.Process{
		PID:         4242,
		Comm:        "holochain",
		Executable:  "/usr/bin/holochain",
		CommandLine: []string{"/usr/bin/holochain", "-c", "conductor.yaml"},
		Listening:   []uint16{8888},
	})
	h.proc.Add(discovertest.Process{
		PID:         4343,
		Comm:        "holochain",
		Executable:  "/usr/bin/holochain",
		CommandLine: []string{"/usr/bin/holochain"},
		Listening:   []uint16{7000, 7001},
	})
	h.proc.Add(discovertest.Process{
		PID:         5000,
		Comm:        "postgres",
		CommandLine: []string{"postgres"},
		Listening:   []uint16{5432},
	})
	h.mustRun("conductor-tag", "add", "alice", "--port", "8888")

	var output discoverOutput
	h.runJSON(&output, "discover")
	if len(output.Processes) != 2 {
		t.Fatalf("discovered %d processes, want 2: %+v", len(output.Processes), output.Processes)
	}
	byPID := map[int]discoveredProcess{}
	for _, process := range output.Processes {
		byPID[process.PID] = process
	}

	single := byPID[4242]
	if single.AdminPort == nil || *single.AdminPort != 8888 {
		t.Errorf("pid 4242 admin port = %v, want 8888", single.AdminPort)
	}
	if len(single.Tags) != 1 || single.Tags[0] != "alice" {
		t.Errorf("pid 4242 tags = %v, want [alice]", single.Tags)
	}

	several := byPID[4343]
	if several.AdminPort != nil {
		t.Errorf("pid 4343 admin port = %d, want unset", *several.AdminPort)
	}
	if len(several.Tags) != 0 {
		t.Errorf("pid 4343 tags = %v, want none", several.Tags)
	}

	table := h.mustRun("discover")
	for _, want := range []string{"4242", "alice", "ambiguous", "7000,7001"} {
		if !strings.Contains(table, want) {
			t.Errorf("discover table missing %q:\n%s", want, table)
		}
	}
	if strings.Contains(table, "postgres") {
		t.Errorf("discover table lists a non-conductor process:\n%s", table)
	}
}

func TestDiscoverReportsUnreadableProcesses(t *testing.T) {
	h := newHarness(t)
	h.proc.Add(discovertest.Process{
		PID:         20,
		Comm:        "holochain",
		CommandLine: []string{"holochain"},
		Listening:   []uint16{1},
		HideFDs:     true,
	})

	var output discoverOutput
	h.runJSON(&output, "discover")
	if len(output.Processes) != 0 {
		t.Errorf("processes = %+v, want none", output.Processes)
	}
	if len(output.Diagnostics) != 1 || output.Diagnostics[0].PID != 20 {
		t.Fatalf("diagnostics = %+v, want one for pid 20", output.Diagnostics)
	}

	text := h.mustRun("discover")
	if !strings.Contains(text, "No conductor processes found") || !strings.Contains(text, "note: pid 20") {
		t.Errorf("discover output:\n%s", text)
	}
}

func TestDiscoverNameOverride(t *testing.T) {
	h := newHarness(t)
	h.proc.Add(discovertest.Process{
		PID:         77,
		Comm:        "my-conductor",
		CommandLine: []string{"/opt/my-conductor"},
		Listening:   []uint16{9100},
	})

	var output discoverOutput
	h.runJSON(&output, "discover")
	if len(output.Processes) != 0 {
		t.Fatalf("default signatures matched %+v", output.Processes)
	}
	h.runJSON(&output, "discover", "--name", "my-conductor")
	if len(output.Processes) != 1 || output.Processes[0].PID != 77 {
		t.Errorf("processes = %+v, want pid 77", output.Processes)
	}
}
