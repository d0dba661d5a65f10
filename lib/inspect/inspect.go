// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package inspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/hcops/lib/clock"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/endpoint"
	"github.com/bureau-foundation/hcops/lib/holohash"
	"github.com/bureau-foundation/hcops/lib/storage"
)

// TagResolver maps a conductor tag to its endpoint. *tag.Store
// implements it.
type TagResolver interface {
	Resolve(ctx context.Context, name string) (endpoint.Endpoint, error)
}

// AgentNamer labels agent keys. *tag.Store implements it.
type AgentNamer interface {
	AgentNames(ctx context.Context) (map[holohash.Hash]string, error)
}

// Config configures an Inspector.
type Config struct {
	// Tags resolves the tag passed to Inspect. Required.
	Tags TagResolver

	// Agents labels peers. Nil leaves peers untagged.
	Agents AgentNamer

	// Manager opens the admin session for the live leg. Required.
	Manager *conductor.Manager

	// ReadRetries is passed to the admin client.
	ReadRetries int

	// Layout locates the conductor's databases. An empty Root fails
	// the storage leg.
	Layout storage.Layout

	// Storage configures each database open.
	Storage storage.Options

	// Clock decides peer expiry and stamps reports. Nil means real time.
	Clock clock.Clock

	Logger *slog.Logger
}

// Inspector produces reports. It holds no connections between calls.
type Inspector struct {
	cfg Config
}

// New returns an Inspector.
func New(cfg Config) *Inspector {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Inspector{cfg: cfg}
}

// Inspect resolves tagName and reports on every cell the conductor or
// its storage knows. A tag resolution failure is returned unchanged.
func (i *Inspector) Inspect(ctx context.Context, tagName string) (*Report, error) {
	e, err := i.cfg.Tags.Resolve(ctx, tagName)
	if err != nil {
		return nil, err
	}
	logger := i.cfg.Logger.With("tag", tagName, "endpoint", e.String())

	var (
		live       *liveView
		liveErr    error
		stored     *storedView
		storageErr error
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		live, liveErr = i.liveLeg(groupCtx, e, logger)
		return nil
	})
	group.Go(func() error {
		stored, storageErr = i.storageLeg(groupCtx, logger)
		return nil
	})
	group.Wait()

	if liveErr != nil && storageErr != nil {
		return nil, &Error{Tag: tagName, Live: liveErr, Storage: storageErr}
	}

	report := &Report{
		Tag:         tagName,
		Endpoint:    e,
		GeneratedAt: i.cfg.Clock.Now().UTC(),
		LiveErr:     liveErr,
		StorageErr:  storageErr,
	}
	if liveErr != nil {
		logger.Warn("live leg failed", "error", liveErr)
		report.Annotations = append(report.Annotations, LiveUnavailable+": "+liveErr.Error())
	}
	if storageErr != nil {
		logger.Warn("storage leg failed", "error", storageErr)
		report.Annotations = append(report.Annotations, StorageUnavailable+": "+storageErr.Error())
	}

	i.merge(ctx, report, live, stored)
	return report, nil
}

// merge joins the legs by cell. Cells the conductor reports but the
// storage leg did not read get a late read of their own, so a cell
// without an authored database still shows its DHT state or a precise
// per-cell error.
func (i *Inspector) merge(ctx context.Context, report *Report, live *liveView, stored *storedView) {
	byCell := make(map[holohash.CellID]*CellReport)
	cellFor := func(cell holohash.CellID) *CellReport {
		if existing, ok := byCell[cell]; ok {
			return existing
		}
		created := &CellReport{Cell: cell}
		byCell[cell] = created
		return created
	}

	if live != nil {
		for _, cell := range live.cells {
			entry := cellFor(cell.Cell)
			entry.AppID, entry.Role = cell.AppID, cell.Role
			entry.Live = cell.Live
			entry.Annotations = append(entry.Annotations, cell.Annotations...)
		}
	}
	if stored != nil {
		for cell, summary := range stored.summaries {
			cellFor(cell).Storage = summary
		}
		for cell, err := range stored.failures {
			cellFor(cell).StorageError = err.Error()
		}
		if live != nil {
			for cell, entry := range byCell {
				if entry.Storage != nil || entry.StorageError != "" {
					continue
				}
				summary, err := storage.Summarize(ctx, i.cfg.Layout, cell, i.cfg.Storage)
				if err != nil {
					entry.StorageError = err.Error()
					continue
				}
				entry.Storage = summary
			}
		}
	}

	for _, entry := range byCell {
		switch {
		case entry.Live == nil && live != nil:
			entry.Annotations = append(entry.Annotations, "on disk but not reported by the conductor")
		case entry.Storage == nil && stored != nil && entry.StorageError != "":
			entry.Annotations = append(entry.Annotations, "conductor reports this cell but its storage could not be read")
		}
		report.Cells = append(report.Cells, *entry)
	}
	slices.SortFunc(report.Cells, func(a, b CellReport) int {
		switch {
		case a.Cell.Less(b.Cell):
			return -1
		case b.Cell.Less(a.Cell):
			return 1
		}
		return 0
	})
}

type liveCell struct {
	Cell        holohash.CellID
	AppID       string
	Role        string
	Live        *LiveCell
	Annotations []string
}

type liveView struct {
	cells []liveCell
}

// liveLeg asks the conductor for its apps, the agent infos it holds
// for their DNAs, and each DNA's network metrics. Failing to list apps
// fails the leg; failing a per-DNA call only annotates its cells.
func (i *Inspector) liveLeg(ctx context.Context, e endpoint.Endpoint, logger *slog.Logger) (*liveView, error) {
	if i.cfg.Manager == nil {
		return nil, errors.New("no connection manager configured")
	}
	session, err := i.cfg.Manager.Open(ctx, e, conductor.TransportAdmin)
	if err != nil {
		return nil, err
	}
	admin := conductor.NewAdminClient(session, i.cfg.ReadRetries)
	defer admin.Close()

	apps, err := admin.ListApps(ctx, conductor.AppStatusAny)
	if err != nil {
		return nil, err
	}

	var names map[holohash.Hash]string
	if i.cfg.Agents != nil {
		if names, err = i.cfg.Agents.AgentNames(ctx); err != nil {
			logger.Warn("agent tags unavailable", "error", err)
		}
	}

	var dnas []holohash.Hash
	view := &liveView{}
	locals := make(map[holohash.Hash]bool)
	for _, app := range apps {
		for _, role := range app.ProvisionedCells() {
			view.cells = append(view.cells, liveCell{Cell: role.CellID, AppID: app.InstalledAppID, Role: role.Role})
			locals[role.CellID.AgentPubKey] = true
			if !slices.Contains(dnas, role.CellID.DnaHash) {
				dnas = append(dnas, role.CellID.DnaHash)
			}
		}
	}
	if len(dnas) == 0 {
		return view, nil
	}

	now := i.cfg.Clock.Now()
	peersByDna := make(map[holohash.Hash][]Peer)
	infos, infoErr := admin.AgentInfo(ctx, dnas...)
	if infoErr != nil {
		logger.Warn("agent info unavailable", "error", infoErr)
	}
	for _, info := range infos {
		peersByDna[info.Dna] = append(peersByDna[info.Dna], Peer{
			Agent:      info.Agent,
			Tag:        names[info.Agent],
			URL:        info.URL,
			ExpiresAt:  info.ExpiresAt,
			Expired:    info.Expired(now),
			Local:      locals[info.Agent],
			StorageArc: info.StorageArc,
		})
	}

	metricsByDna := make(map[holohash.Hash]conductor.NetworkMetrics)
	metricsErrs := make(map[holohash.Hash]error)
	for _, dna := range dnas {
		metrics, err := admin.DumpNetworkMetrics(ctx, &dna, false)
		if err != nil {
			metricsErrs[dna] = err
			continue
		}
		if entry, ok := metrics[dna.String()]; ok {
			metricsByDna[dna] = entry
		}
	}

	for index := range view.cells {
		cell := &view.cells[index]
		dna := cell.Cell.DnaHash
		peers := slices.Clone(peersByDna[dna])
		slices.SortFunc(peers, func(a, b Peer) int { return strings.Compare(a.Agent.String(), b.Agent.String()) })
		cell.Live = &LiveCell{Peers: peers}

		if infoErr != nil {
			cell.Annotations = append(cell.Annotations, "peer list unavailable: "+infoErr.Error())
		}
		if err := metricsErrs[dna]; err != nil {
			cell.Annotations = append(cell.Annotations, "network metrics unavailable: "+err.Error())
			continue
		}
		metrics := metricsByDna[dna]
		cell.Live.PendingFetchRequests = metrics.PendingFetchRequests
		for _, agent := range metrics.LocalAgents {
			if agent.Agent == cell.Cell.AgentPubKey {
				cell.Live.StorageArc, cell.Live.TargetArc = agent.StorageArc, agent.TargetArc
			}
		}
	}
	return view, nil
}

type storedView struct {
	summaries map[holohash.CellID]*storage.Summary
	failures  map[holohash.CellID]error
}

// storageLeg summarizes every cell found on disk. The leg fails when
// the data root is unknown or unreadable, or when no cell on disk
// could be read.
func (i *Inspector) storageLeg(ctx context.Context, logger *slog.Logger) (*storedView, error) {
	layout := i.cfg.Layout
	if layout.Root == "" {
		return nil, errors.New("conductor data root is not configured (pass --data-root)")
	}
	if _, err := os.Stat(layout.DatabasesDir()); err != nil {
		return nil, fmt.Errorf("reading data root: %w", err)
	}
	cells, err := layout.Cells()
	if err != nil {
		return nil, err
	}

	view := &storedView{
		summaries: make(map[holohash.CellID]*storage.Summary),
		failures:  make(map[holohash.CellID]error),
	}
	var lastErr error
	for _, cell := range cells {
		summary, err := storage.Summarize(ctx, layout, cell, i.cfg.Storage)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("cell storage unreadable", "cell", cell.String(), "error", err)
			view.failures[cell] = err
			lastErr = err
			continue
		}
		view.summaries[cell] = summary
	}
	if len(cells) > 0 && len(view.summaries) == 0 {
		return nil, lastErr
	}
	return view, nil
}
