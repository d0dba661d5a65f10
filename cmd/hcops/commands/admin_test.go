// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/conductor/conductortest"
	"github.com/bureau-foundation/hcops/lib/holohash"
)

// tagFake registers fake under tagName.
func (h *harness) tagFake(tagName string, fake *conductortest.Conductor) {
	h.t.Helper()
	h.mustRun("conductor-tag", "add", tagName, "--port", fmt.Sprint(fake.Port()))
}

func TestAdminRequiresTag(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("admin", "list-apps")
	requireCategory(t, err, cli.CategoryValidation)
}

func TestAdminUnknownTag(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("admin", "--tag", "ghost", "list-apps")
	requireCategory(t, err, cli.CategoryNotFound)
}

func TestAdminRefusedConnectionIsTransient(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	h.tagFake("gone", fake)
	fake.Close()

	_, err := h.run("admin", "--tag", "gone", "list-apps")
	requireCategory(t, err, cli.CategoryTransient)
}

func TestAdminListApps(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	forum := conductortest.App("forum", 1, "posts", "profiles")
	fake.AddApp(forum)
	h.tagFake("alice", fake)

	var apps []conductor.AppInfo
	h.runJSON(&apps, "admin", "--tag", "alice", "list-apps")
	if len(apps) != 1 || apps[0].InstalledAppID != "forum" {
		t.Fatalf("apps = %+v, want forum", apps)
	}
	if got := len(apps[0].ProvisionedCells()); got != 2 {
		t.Errorf("forum has %d provisioned cells, want 2", got)
	}

	table := h.mustRun("admin", "-t", "alice", "list-apps")
	if !strings.Contains(table, "forum") || !strings.Contains(table, "enabled") {
		t.Errorf("list-apps table:\n%s", table)
	}

	_, err := h.run("admin", "--tag", "alice", "list-apps", "--status", "paused")
	requireCategory(t, err, cli.CategoryValidation)
}

func TestAdminListCellsLabelsAgents(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	forum := conductortest.App("forum", 1, "posts")
	fake.AddApp(forum)
	h.tagFake("alice", fake)
	h.mustRun("agent-tag", "add", forum.AgentPubKey.String(), "alice-agent")

	output := h.mustRun("admin", "--tag", "alice", "list-cells")
	cell := forum.ProvisionedCells()[0].CellID
	if !strings.Contains(output, cell.DnaHash.String()) {
		t.Errorf("list-cells output missing DNA %s:\n%s", cell.DnaHash, output)
	}
	if !strings.Contains(output, "alice-agent") {
		t.Errorf("list-cells output missing agent tag:\n%s", output)
	}
}

func TestAdminInstallAppEnablesIt(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	h.tagFake("alice", fake)

	output := h.mustRun("admin", "--tag", "alice", "install-app", "/bundles/forum.happ", "--app-id", "forum")
	if !strings.Contains(output, "Installed and enabled forum") {
		t.Errorf("install output = %q", output)
	}

	var apps []conductor.AppInfo
	h.runJSON(&apps, "admin", "--tag", "alice", "list-apps", "--status", "enabled")
	if len(apps) != 1 || apps[0].InstalledAppID != "forum" {
		t.Fatalf("enabled apps = %+v, want forum", apps)
	}
}

func TestAdminInstallDuplicateIsInternal(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	fake.AddApp(conductortest.App("forum", 1, "posts"))
	h.tagFake("alice", fake)

	_, err := h.run("admin", "--tag", "alice", "install-app", "/bundles/forum.happ", "--app-id", "forum")
	requireCategory(t, err, cli.CategoryInternal)
}

func TestAdminEnableAndUninstall(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	disabled := conductortest.App("forum", 1, "posts")
	disabled.Status = "disabled"
	fake.AddApp(disabled)
	h.tagFake("alice", fake)

	if output := h.mustRun("admin", "--tag", "alice", "enable-app", "forum"); !strings.Contains(output, "Enabled forum") {
		t.Errorf("enable output = %q", output)
	}
	h.mustRun("admin", "--tag", "alice", "uninstall-app", "forum", "--force")

	var apps []conductor.AppInfo
	h.runJSON(&apps, "admin", "--tag", "alice", "list-apps")
	if len(apps) != 0 {
		t.Errorf("apps after uninstall = %+v, want none", apps)
	}

	_, err := h.run("admin", "--tag", "alice", "enable-app", "forum")
	requireCategory(t, err, cli.CategoryNotFound)
}

func TestAdminStorageInfoFiltersByApp(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	fake.SetStorageInfo(conductor.StorageInfo{Blobs: []conductor.DnaStorageInfo{
		{DnaHash: conductortest.Hash(holohash.KindDna, 1), UsedBy: []string{"forum"}, DhtDataSize: 2048, DhtDataSizeOnDisk: 4096},
		{DnaHash: conductortest.Hash(holohash.KindDna, 2), UsedBy: []string{"chat"}, DhtDataSize: 1024},
	}})
	h.tagFake("alice", fake)

	var blobs []conductor.DnaStorageInfo
	h.runJSON(&blobs, "admin", "--tag", "alice", "storage-info", "forum")
	if len(blobs) != 1 || blobs[0].UsedBy[0] != "forum" {
		t.Fatalf("blobs = %+v, want only forum's", blobs)
	}

	output := h.mustRun("admin", "--tag", "alice", "storage-info")
	if !strings.Contains(output, "2.0 KiB") || !strings.Contains(output, "Total on disk: 4.0 KiB") {
		t.Errorf("storage-info output:\n%s", output)
	}
}

func TestAdminNetworkMetricsForApp(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	forum := conductortest.App("forum", 1, "posts")
	fake.AddApp(forum)
	cell := forum.ProvisionedCells()[0].CellID
	fake.SetNetworkMetrics(cell.DnaHash, conductor.NetworkMetrics{
		PeerCount:            3,
		PendingFetchRequests: 5,
		LocalAgents: []conductor.LocalAgentMetrics{
			{Agent: cell.AgentPubKey, StorageArc: &conductor.Arc{Start: 0, End: ^uint32(0)}},
		},
	})
	fake.SetNetworkMetrics(conductortest.Hash(holohash.KindDna, 0x40), conductor.NetworkMetrics{PeerCount: 1})
	h.tagFake("alice", fake)

	var metrics map[string]conductor.NetworkMetrics
	h.runJSON(&metrics, "admin", "--tag", "alice", "network-metrics", "--app-id", "forum")
	if len(metrics) != 1 {
		t.Fatalf("metrics for %d DNAs, want 1", len(metrics))
	}
	got, ok := metrics[cell.DnaHash.String()]
	if !ok || got.PeerCount != 3 || got.PendingFetchRequests != 5 {
		t.Errorf("metrics = %+v, want forum's", metrics)
	}

	output := h.mustRun("admin", "--tag", "alice", "network-metrics", "--app-id", "forum")
	if !strings.Contains(output, "full") {
		t.Errorf("network-metrics table should render the full arc:\n%s", output)
	}

	_, err := h.run("admin", "--tag", "alice", "network-metrics", "--app-id", "missing")
	requireCategory(t, err, cli.CategoryNotFound)
}

func TestAdminNetworkStats(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	fake.SetNetworkStats(conductor.NetworkStats{
		Backend:  "tx5",
		PeerURLs: []string{"wss://relay.example/alice"},
		Connections: []conductor.ConnectionStats{
			{PubKey: "peer-one", SendMessageCount: 4, SendBytes: 1024, RecvMessageCount: 2, RecvBytes: 512},
		},
	})
	h.tagFake("alice", fake)

	output := h.mustRun("admin", "--tag", "alice", "network-stats")
	for _, want := range []string{"Backend: tx5", "wss://relay.example/alice", "peer-one", "4 msgs, 1.0 KiB"} {
		if !strings.Contains(output, want) {
			t.Errorf("network-stats output missing %q:\n%s", want, output)
		}
	}
}

func TestAdminListAgents(t *testing.T) {
	h := newHarness(t)
	fake := conductortest.New(t)
	forum := conductortest.App("forum", 1, "posts")
	fake.AddApp(forum)
	dna := forum.ProvisionedCells()[0].CellID.DnaHash

	bob := conductortest.NewPeer(2)
	carol := conductortest.NewPeer(3)
	now := time.Now()
	fake.SetAgentInfos(
		bob.AgentInfo(dna, now, &conductor.Arc{Start: 0, End: ^uint32(0)}),
		carol.AgentInfo(dna, now.Add(-3*time.Hour), nil),
	)
	h.tagFake("alice", fake)
	h.mustRun("agent-tag", "add", bob.Agent.String(), "bob")

	var agents []listedAgent
	h.runJSON(&agents, "admin", "--tag", "alice", "list-agents", "--app-id", "forum")
	if len(agents) != 2 {
		t.Fatalf("listed %d agents, want 2", len(agents))
	}
	byAgent := map[string]listedAgent{}
	for _, agent := range agents {
		byAgent[agent.Agent.String()] = agent
	}
	if got := byAgent[bob.Agent.String()]; got.Tag != "bob" || got.Expired {
		t.Errorf("bob = %+v, want tagged and live", got)
	}
	if got := byAgent[carol.Agent.String()]; !got.Expired {
		t.Errorf("carol = %+v, want expired", got)
	}

	output := h.mustRun("admin", "--tag", "alice", "list-agents")
	if !strings.Contains(output, "bob (") || !strings.Contains(output, "(expired)") {
		t.Errorf("list-agents table:\n%s", output)
	}
}
