// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"
	"fmt"
)

// AdminClient issues typed admin commands over a session.
type AdminClient struct {
	session *Session
	retries int
}

// NewAdminClient wraps an admin session. Read-only commands are retried
// up to retries times on timeout.
func NewAdminClient(session *Session, retries int) *AdminClient {
	return &AdminClient{session: session, retries: retries}
}

// Session is the underlying session.
func (c *AdminClient) Session() *Session { return c.session }

// Close closes the session.
func (c *AdminClient) Close() error { return c.session.Close() }

// call sends command and decodes a result tagged resultType into out.
func (c *AdminClient) call(ctx context.Context, command Command, resultType string, out any) error {
	response, err := c.session.RequestWithRetry(ctx, command, c.retries)
	if err != nil {
		return err
	}
	if err := response.Expect(resultType, out); err != nil {
		return &Error{Kind: KindProtocol, Endpoint: c.session.endpoint, Op: command.Type, Err: err}
	}
	return nil
}

func (c *AdminClient) ListApps(ctx context.Context, filter AppStatusFilter) ([]AppInfo, error) {
	payload := struct {
		StatusFilter AppStatusFilter `json:"status_filter,omitempty"`
	}{filter}
	var apps []AppInfo
	err := c.call(ctx, Command{Type: "list_apps", Payload: payload, ReadOnly: true}, "apps_listed", &apps)
	return apps, err
}

// FindApp returns the installed app with the given id.
func (c *AdminClient) FindApp(ctx context.Context, appID string) (AppInfo, error) {
	apps, err := c.ListApps(ctx, AppStatusAny)
	if err != nil {
		return AppInfo{}, err
	}
	for _, app := range apps {
		if app.InstalledAppID == appID {
			return app, nil
		}
	}
	return AppInfo{}, &Error{Kind: KindRemote, Endpoint: c.session.endpoint, Op: "list_apps",
		Err: &RemoteError{Type: "app_not_installed", Message: fmt.Sprintf("no app %q is installed", appID)}}
}

func (c *AdminClient) ListCells(ctx context.Context) ([]CellID, error) {
	var cells []CellID
	err := c.call(ctx, Command{Type: "list_cell_ids", ReadOnly: true}, "cell_ids_listed", &cells)
	return cells, err
}

func (c *AdminClient) ListAppInterfaces(ctx context.Context) ([]AppInterfaceInfo, error) {
	var interfaces []AppInterfaceInfo
	err := c.call(ctx, Command{Type: "list_app_interfaces", ReadOnly: true}, "app_interfaces_listed", &interfaces)
	return interfaces, err
}

// AttachAppInterface attaches an app interface and returns its port.
// Port 0 lets the conductor choose. A nil appID serves every app.
func (c *AdminClient) AttachAppInterface(ctx context.Context, port uint16, allowedOrigins string, appID *string) (uint16, error) {
	payload := struct {
		Port           uint16  `json:"port"`
		AllowedOrigins string  `json:"allowed_origins"`
		InstalledAppID *string `json:"installed_app_id,omitempty"`
	}{port, allowedOrigins, appID}
	var attached struct {
		Port uint16 `json:"port"`
	}
	err := c.call(ctx, Command{Type: "attach_app_interface", Payload: payload}, "app_interface_attached", &attached)
	return attached.Port, err
}

// IssueAppAuthToken issues a single-use token for appID.
func (c *AdminClient) IssueAppAuthToken(ctx context.Context, appID string) (AppAuthToken, error) {
	payload := struct {
		InstalledAppID string `json:"installed_app_id"`
		ExpirySeconds  uint64 `json:"expiry_seconds"`
		SingleUse      bool   `json:"single_use"`
	}{appID, 30, true}
	var token AppAuthToken
	err := c.call(ctx, Command{Type: "issue_app_authentication_token", Payload: payload}, "app_authentication_token_issued", &token)
	return token, err
}

func (c *AdminClient) InstallApp(ctx context.Context, payload InstallAppPayload) (AppInfo, error) {
	var app AppInfo
	err := c.call(ctx, Command{Type: "install_app", Payload: payload}, "app_installed", &app)
	return app, err
}

func (c *AdminClient) EnableApp(ctx context.Context, appID string) (AppInfo, error) {
	payload := struct {
		InstalledAppID string `json:"installed_app_id"`
	}{appID}
	var enabled struct {
		App AppInfo `json:"app"`
	}
	err := c.call(ctx, Command{Type: "enable_app", Payload: payload}, "app_enabled", &enabled)
	return enabled.App, err
}

func (c *AdminClient) UninstallApp(ctx context.Context, appID string, force bool) error {
	payload := struct {
		InstalledAppID string `json:"installed_app_id"`
		Force          bool   `json:"force"`
	}{appID, force}
	return c.call(ctx, Command{Type: "uninstall_app", Payload: payload}, "app_uninstalled", nil)
}

// AgentInfo returns the agent infos the conductor holds for the given
// DNAs, or for every DNA when none are given. Entries that fail to
// decode or verify are skipped and logged.
func (c *AdminClient) AgentInfo(ctx context.Context, dnaHashes ...HoloHash) ([]AgentInfo, error) {
	payload := struct {
		DnaHashes []HoloHash `json:"dna_hashes,omitempty"`
	}{dnaHashes}
	var encoded []string
	if err := c.call(ctx, Command{Type: "agent_info", Payload: payload, ReadOnly: true}, "agent_info", &encoded); err != nil {
		return nil, err
	}

	infos := make([]AgentInfo, 0, len(encoded))
	for _, entry := range encoded {
		info, err := ParseAgentInfo(entry)
		if err != nil {
			c.session.logger.Warn("skipping agent info", "error", err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DumpNetworkMetrics returns metrics keyed by DNA hash text. A nil dna
// dumps every DNA.
func (c *AdminClient) DumpNetworkMetrics(ctx context.Context, dna *HoloHash, includeDhtSummary bool) (map[string]NetworkMetrics, error) {
	payload := struct {
		DnaHash           *HoloHash `json:"dna_hash,omitempty"`
		IncludeDhtSummary bool      `json:"include_dht_summary"`
	}{dna, includeDhtSummary}
	var metrics map[string]NetworkMetrics
	err := c.call(ctx, Command{Type: "dump_network_metrics", Payload: payload, ReadOnly: true}, "network_metrics_dumped", &metrics)
	return metrics, err
}

func (c *AdminClient) DumpNetworkStats(ctx context.Context) (NetworkStats, error) {
	var stats NetworkStats
	err := c.call(ctx, Command{Type: "dump_network_stats", ReadOnly: true}, "network_stats_dumped", &stats)
	return stats, err
}

func (c *AdminClient) StorageInfo(ctx context.Context) (StorageInfo, error) {
	var info StorageInfo
	err := c.call(ctx, Command{Type: "storage_info", ReadOnly: true}, "storage_info", &info)
	return info, err
}

// DumpState returns the cell's state dump as the conductor's JSON text.
func (c *AdminClient) DumpState(ctx context.Context, cell CellID) (string, error) {
	payload := struct {
		CellID CellID `json:"cell_id"`
	}{cell}
	var dump string
	err := c.call(ctx, Command{Type: "dump_state", Payload: payload, ReadOnly: true}, "state_dumped", &dump)
	return dump, err
}

// DnaHashesFor returns the DNA hashes of appID's provisioned cells
// among enabled apps. An unknown app yields no hashes.
func (c *AdminClient) DnaHashesFor(ctx context.Context, appID string) ([]HoloHash, error) {
	apps, err := c.ListApps(ctx, AppStatusEnabled)
	if err != nil {
		return nil, err
	}
	var hashes []HoloHash
	for _, app := range apps {
		if app.InstalledAppID != appID {
			continue
		}
		for _, cell := range app.ProvisionedCells() {
			hashes = append(hashes, cell.CellID.DnaHash)
		}
	}
	return hashes, nil
}
