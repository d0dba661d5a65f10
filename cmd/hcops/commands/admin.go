// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/hcops/cmd/hcops/cli"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/holohash"
)

type adminParams struct {
	tagParams
}

func adminCommand(app *App) *cli.Command {
	var params adminParams
	return &cli.Command{
		Name:    "admin",
		Summary: "Run admin calls against a tagged conductor",
		Usage:   "hcops admin --tag TAG <command> [flags]",
		Description: `Open an admin session to the conductor behind --tag and run one call.
The --tag flag goes before the subcommand.`,
		Examples: []cli.Example{
			{Description: "List installed apps", Command: "hcops admin --tag alice list-apps"},
			{Description: "Show peers for one app", Command: "hcops admin --tag alice list-agents --app-id forum"},
		},
		Params: func() any { return &params },
		Subcommands: []*cli.Command{
			adminListAppsCommand(app, &params),
			adminListCellsCommand(app, &params),
			adminInstallAppCommand(app, &params),
			adminUninstallAppCommand(app, &params),
			adminEnableAppCommand(app, &params),
			adminStorageInfoCommand(app, &params),
			adminNetworkMetricsCommand(app, &params),
			adminNetworkStatsCommand(app, &params),
			adminListAgentsCommand(app, &params),
		},
	}
}

// withAdmin opens an admin session to the tagged conductor for the
// duration of fn.
func withAdmin(ctx context.Context, env *environment, tagName string, fn func(*conductor.AdminClient) error) error {
	client, _, err := env.admin(ctx, tagName)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

// agentLabels returns the agent tag names, or an empty map when the
// store cannot be read. Labels are decoration; a broken tag store
// should not hide conductor output.
func agentLabels(ctx context.Context, env *environment) map[holohash.Hash]string {
	store, err := env.tags(ctx)
	if err == nil {
		var names map[holohash.Hash]string
		if names, err = store.AgentNames(ctx); err == nil {
			return names
		}
	}
	env.logger.Warn("agent tags unavailable", "error", err)
	return map[holohash.Hash]string{}
}

func labelAgent(agent holohash.Hash, labels map[holohash.Hash]string) string {
	if name, ok := labels[agent]; ok {
		return name + " (" + agent.Short() + ")"
	}
	return agent.String()
}

type adminListAppsParams struct {
	cli.JSONOutput
	Status string `json:"status" flag:"status" desc:"filter by status: enabled or disabled"`
}

func adminListAppsCommand(app *App, admin *adminParams) *cli.Command {
	var params adminListAppsParams
	return &cli.Command{
		Name:    "list-apps",
		Summary: "List installed apps",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			filter := conductor.AppStatusFilter(params.Status)
			switch filter {
			case conductor.AppStatusAny, conductor.AppStatusEnabled, conductor.AppStatusDisabled:
			default:
				return cli.Validation("--status must be enabled or disabled, got %q", params.Status)
			}

			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				apps, err := client.ListApps(ctx, filter)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.stdout, apps); done {
					return err
				}
				if len(apps) == 0 {
					fmt.Fprintln(env.stdout, "No apps installed")
					return nil
				}
				table := newTable(env.stdout, "APP", "STATUS", "AGENT", "CELLS")
				for _, info := range apps {
					row(table, info.InstalledAppID, info.Status, info.AgentPubKey.String(), fmt.Sprint(len(info.ProvisionedCells())))
				}
				return table.Flush()
			})
		}),
	}
}

type adminListCellsParams struct {
	cli.JSONOutput
}

func adminListCellsCommand(app *App, admin *adminParams) *cli.Command {
	var params adminListCellsParams
	return &cli.Command{
		Name:    "list-cells",
		Summary: "List running cells",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				cells, err := client.ListCells(ctx)
				if err != nil {
					return err
				}
				slices.SortFunc(cells, func(a, b conductor.CellID) int {
					switch {
					case a.Less(b):
						return -1
					case b.Less(a):
						return 1
					}
					return 0
				})
				if done, err := params.EmitJSON(env.stdout, cells); done {
					return err
				}
				if len(cells) == 0 {
					fmt.Fprintln(env.stdout, "No cells running")
					return nil
				}
				labels := agentLabels(ctx, env)
				table := newTable(env.stdout, "DNA", "AGENT")
				for _, cell := range cells {
					row(table, cell.DnaHash.String(), labelAgent(cell.AgentPubKey, labels))
				}
				return table.Flush()
			})
		}),
	}
}

type adminInstallAppParams struct {
	cli.JSONOutput
	AppID       string `json:"app_id"       flag:"app-id"       desc:"installed app id (defaults to the bundle's name)"`
	NetworkSeed string `json:"network_seed" flag:"network-seed" desc:"network seed, to join a private network"`
	Agent       string `json:"agent"        flag:"agent"        desc:"install for an existing agent key (default: generate one)"`
}

func adminInstallAppCommand(app *App, admin *adminParams) *cli.Command {
	var params adminInstallAppParams
	return &cli.Command{
		Name:    "install-app",
		Summary: "Install and enable an app bundle",
		Usage:   "hcops admin --tag TAG install-app <bundle.happ> [flags]",
		Description: `Install an app bundle from a path the conductor can read, then enable
it. The path is passed to the conductor as is.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "bundle"); err != nil {
				return err
			}
			payload := conductor.InstallAppPayload{
				Source:         conductor.AppBundleSource{Path: args[0]},
				InstalledAppID: params.AppID,
				NetworkSeed:    params.NetworkSeed,
			}
			if params.Agent != "" {
				agent, err := holohash.ParseKind(params.Agent, holohash.KindAgent)
				if err != nil {
					return cli.Wrap(cli.CategoryValidation, err)
				}
				payload.AgentKey = &agent
			}

			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				installed, err := client.InstallApp(ctx, payload)
				if err != nil {
					return err
				}
				env.logger.Info("app installed", "app_id", installed.InstalledAppID)
				enabled, err := client.EnableApp(ctx, installed.InstalledAppID)
				if err != nil {
					return fmt.Errorf("enabling %s after install: %w", installed.InstalledAppID, err)
				}
				if done, err := params.EmitJSON(env.stdout, enabled); done {
					return err
				}
				fmt.Fprintf(env.stdout, "Installed and enabled %s (agent %s)\n", enabled.InstalledAppID, enabled.AgentPubKey)
				return nil
			})
		}),
	}
}

type adminUninstallAppParams struct {
	Force bool `json:"force" flag:"force" desc:"uninstall even if other cells depend on this app's cells"`
}

func adminUninstallAppCommand(app *App, admin *adminParams) *cli.Command {
	var params adminUninstallAppParams
	return &cli.Command{
		Name:    "uninstall-app",
		Summary: "Uninstall an app",
		Usage:   "hcops admin --tag TAG uninstall-app <app-id> [--force]",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "app-id"); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				if err := client.UninstallApp(ctx, args[0], params.Force); err != nil {
					return err
				}
				fmt.Fprintf(env.stdout, "Uninstalled %s\n", args[0])
				return nil
			})
		}),
	}
}

func adminEnableAppCommand(app *App, admin *adminParams) *cli.Command {
	return &cli.Command{
		Name:    "enable-app",
		Summary: "Enable a disabled app",
		Usage:   "hcops admin --tag TAG enable-app <app-id>",
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args, "app-id"); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				enabled, err := client.EnableApp(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(env.stdout, "Enabled %s (%s)\n", enabled.InstalledAppID, enabled.Status)
				return nil
			})
		}),
	}
}

type adminStorageInfoParams struct {
	cli.JSONOutput
	AppID string `json:"app_id" flag:"app-id" desc:"only DNAs used by this app"`
}

func adminStorageInfoCommand(app *App, admin *adminParams) *cli.Command {
	var params adminStorageInfoParams
	return &cli.Command{
		Name:    "storage-info",
		Summary: "Show disk usage per DNA",
		Usage:   "hcops admin --tag TAG storage-info [app-id]",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			appID := params.AppID
			if len(args) == 1 && appID == "" {
				appID = args[0]
			} else if err := expectArgs(args); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				info, err := client.StorageInfo(ctx)
				if err != nil {
					return err
				}
				if appID != "" {
					info = info.UsedBy(appID)
				}
				if done, err := params.EmitJSON(env.stdout, info.Blobs); done {
					return err
				}
				if len(info.Blobs) == 0 {
					fmt.Fprintln(env.stdout, "No storage reported")
					return nil
				}
				table := newTable(env.stdout, "DNA", "USED BY", "AUTHORED", "DHT", "CACHE")
				var total uint64
				for _, blob := range info.Blobs {
					row(table,
						blob.DnaHash.String(),
						strings.Join(blob.UsedBy, ","),
						sizePair(blob.AuthoredDataSize, blob.AuthoredDataSizeOnDisk),
						sizePair(blob.DhtDataSize, blob.DhtDataSizeOnDisk),
						sizePair(blob.CacheDataSize, blob.CacheDataSizeOnDisk))
					total += blob.AuthoredDataSizeOnDisk + blob.DhtDataSizeOnDisk + blob.CacheDataSizeOnDisk
				}
				if err := table.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(env.stdout, "\nTotal on disk: %s\n", formatBytes(total))
				return nil
			})
		}),
	}
}

// sizePair renders data size with its on-disk size.
func sizePair(data, onDisk uint64) string {
	return formatBytes(data) + " (" + formatBytes(onDisk) + " on disk)"
}

type adminNetworkMetricsParams struct {
	cli.JSONOutput
	AppID      string `json:"app_id"      flag:"app-id"      desc:"only DNAs of this app"`
	DhtSummary bool   `json:"dht_summary" flag:"dht-summary" desc:"include the DHT summary (JSON output only)"`
}

func adminNetworkMetricsCommand(app *App, admin *adminParams) *cli.Command {
	var params adminNetworkMetricsParams
	return &cli.Command{
		Name:    "network-metrics",
		Summary: "Show arcs, peer counts and pending fetches per DNA",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				metrics, err := networkMetrics(ctx, client, params.AppID, params.DhtSummary)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.stdout, metrics); done {
					return err
				}
				if len(metrics) == 0 {
					fmt.Fprintln(env.stdout, "No network metrics reported")
					return nil
				}
				labels := agentLabels(ctx, env)
				table := newTable(env.stdout, "DNA", "PEERS", "PENDING FETCHES", "LOCAL AGENT", "STORAGE ARC", "TARGET ARC")
				for _, dna := range slices.Sorted(maps.Keys(metrics)) {
					entry := metrics[dna]
					if len(entry.LocalAgents) == 0 {
						row(table, dna, fmt.Sprint(entry.PeerCount), fmt.Sprint(entry.PendingFetchRequests), "-", "-", "-")
						continue
					}
					for _, local := range entry.LocalAgents {
						row(table, dna, fmt.Sprint(entry.PeerCount), fmt.Sprint(entry.PendingFetchRequests),
							labelAgent(local.Agent, labels), formatArc(local.StorageArc), formatArc(local.TargetArc))
					}
				}
				return table.Flush()
			})
		}),
	}
}

// networkMetrics dumps metrics for every DNA, or for appID's DNAs.
func networkMetrics(ctx context.Context, client *conductor.AdminClient, appID string, dhtSummary bool) (map[string]conductor.NetworkMetrics, error) {
	if appID == "" {
		return client.DumpNetworkMetrics(ctx, nil, dhtSummary)
	}
	hashes, err := client.DnaHashesFor(ctx, appID)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, cli.NotFound("no enabled app %q with provisioned cells", appID).
			WithHint("Run 'hcops admin --tag T list-apps' to see installed apps.")
	}
	merged := make(map[string]conductor.NetworkMetrics)
	for _, dna := range hashes {
		metrics, err := client.DumpNetworkMetrics(ctx, &dna, dhtSummary)
		if err != nil {
			return nil, err
		}
		maps.Copy(merged, metrics)
	}
	return merged, nil
}

type adminNetworkStatsParams struct {
	cli.JSONOutput
}

func adminNetworkStatsCommand(app *App, admin *adminParams) *cli.Command {
	var params adminNetworkStatsParams
	return &cli.Command{
		Name:    "network-stats",
		Summary: "Show transport connections",
		Params:  func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				stats, err := client.DumpNetworkStats(ctx)
				if err != nil {
					return err
				}
				if done, err := params.EmitJSON(env.stdout, stats); done {
					return err
				}
				fmt.Fprintf(env.stdout, "Backend: %s\n", orDash(stats.Backend))
				for _, url := range stats.PeerURLs {
					fmt.Fprintf(env.stdout, "Peer URL: %s\n", url)
				}
				if len(stats.Connections) == 0 {
					fmt.Fprintln(env.stdout, "No open connections")
					return nil
				}
				fmt.Fprintln(env.stdout)
				now := env.clock.Now()
				table := newTable(env.stdout, "PEER", "SENT", "RECEIVED", "OPENED", "WEBRTC")
				for _, connection := range stats.Connections {
					opened := "-"
					if connection.OpenedAtSeconds > 0 {
						opened = formatRelative(time.Unix(connection.OpenedAtSeconds, 0), now)
					}
					row(table,
						connection.PubKey,
						fmt.Sprintf("%d msgs, %s", connection.SendMessageCount, formatBytes(connection.SendBytes)),
						fmt.Sprintf("%d msgs, %s", connection.RecvMessageCount, formatBytes(connection.RecvBytes)),
						opened,
						fmt.Sprint(connection.IsWebRTC))
				}
				return table.Flush()
			})
		}),
	}
}

type adminListAgentsParams struct {
	cli.JSONOutput
	AppID string `json:"app_id" flag:"app-id" desc:"only peers of this app's DNAs"`
}

// listedAgent is an agent info with its tag, as list-agents prints it.
type listedAgent struct {
	conductor.AgentInfo
	Tag     string `json:"tag,omitempty"`
	Expired bool   `json:"expired"`
}

func adminListAgentsCommand(app *App, admin *adminParams) *cli.Command {
	var params adminListAgentsParams
	return &cli.Command{
		Name:    "list-agents",
		Summary: "List the peers the conductor knows",
		Description: `List the agent infos held by the conductor: every peer it has heard
from, with its transport URL, expiry and storage arc. Agents with an
agent tag show the tag.`,
		Params: func() any { return &params },
		Run: app.run(func(ctx context.Context, env *environment, args []string) error {
			if err := expectArgs(args); err != nil {
				return err
			}
			return withAdmin(ctx, env, admin.Tag, func(client *conductor.AdminClient) error {
				var dnas []conductor.HoloHash
				if params.AppID != "" {
					hashes, err := client.DnaHashesFor(ctx, params.AppID)
					if err != nil {
						return err
					}
					if len(hashes) == 0 {
						return cli.NotFound("no enabled app %q with provisioned cells", params.AppID).
							WithHint("Run 'hcops admin --tag T list-apps' to see installed apps.")
					}
					dnas = hashes
				}
				infos, err := client.AgentInfo(ctx, dnas...)
				if err != nil {
					return err
				}

				labels := agentLabels(ctx, env)
				now := env.clock.Now()
				agents := make([]listedAgent, len(infos))
				for i, info := range infos {
					agents[i] = listedAgent{AgentInfo: info, Tag: labels[info.Agent], Expired: info.Expired(now)}
				}
				slices.SortFunc(agents, func(a, b listedAgent) int {
					if c := strings.Compare(a.Dna.String(), b.Dna.String()); c != 0 {
						return c
					}
					return strings.Compare(a.Agent.String(), b.Agent.String())
				})

				if done, err := params.EmitJSON(env.stdout, agents); done {
					return err
				}
				if len(agents) == 0 {
					fmt.Fprintln(env.stdout, "No agent infos")
					return nil
				}
				table := newTable(env.stdout, "AGENT", "DNA", "URL", "EXPIRES", "ARC")
				for _, agent := range agents {
					expires := formatRelative(agent.ExpiresAt, now)
					if agent.Expired {
						expires += " (expired)"
					}
					row(table,
						labelAgent(agent.Agent, labels),
						agent.Dna.Short(),
						orDash(agent.URL),
						expires,
						formatArc(agent.StorageArc))
				}
				return table.Flush()
			})
		}),
	}
}
