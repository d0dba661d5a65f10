// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"

	"github.com/bureau-foundation/hcops/lib/endpoint"
)

// AppClient issues typed app commands over an authenticated session.
type AppClient struct {
	session *Session
	appID   string
	retries int
}

// NewAppClient wraps an app session for appID.
func NewAppClient(session *Session, appID string, retries int) *AppClient {
	return &AppClient{session: session, appID: appID, retries: retries}
}

func (c *AppClient) Session() *Session { return c.session }

func (c *AppClient) AppID() string { return c.appID }

func (c *AppClient) Close() error { return c.session.Close() }

// Signals forwards the session's signal channel.
func (c *AppClient) Signals() <-chan Signal { return c.session.Signals() }

// AppInfo returns the app this session is authenticated for. A nil
// result means the conductor no longer has the app.
func (c *AppClient) AppInfo(ctx context.Context) (*AppInfo, error) {
	response, err := c.session.RequestWithRetry(ctx, Command{Type: "app_info", ReadOnly: true}, c.retries)
	if err != nil {
		return nil, err
	}
	var info *AppInfo
	if err := response.Expect("app_info", &info); err != nil {
		return nil, &Error{Kind: KindProtocol, Endpoint: c.session.endpoint, Op: "app_info", Err: err}
	}
	return info, nil
}

// CallZome calls fn in zome on cell with an encoded payload and returns
// the encoded result. The conductor signs the call with its keystore.
// Zome calls may write, so they are never retried.
func (c *AppClient) CallZome(ctx context.Context, cell CellID, zome, fn string, payload []byte) ([]byte, error) {
	call := ZomeCall{CellID: cell, ZomeName: zome, FnName: fn, Payload: payload}
	response, err := c.session.Request(ctx, Command{Type: "call_zome", Payload: call})
	if err != nil {
		return nil, err
	}
	var output []byte
	if err := response.Expect("zome_called", &output); err != nil {
		return nil, &Error{Kind: KindProtocol, Endpoint: c.session.endpoint, Op: "call_zome", Err: err}
	}
	return output, nil
}

// ConnectApp opens an app session for appID on the conductor behind
// admin. It reuses an attached interface that allows this manager's
// origin and is not dedicated to another app, attaches a new one on a
// conductor-chosen port otherwise, then issues a token and
// authenticates with it. host is where the app port is dialed,
// normally the admin endpoint's host.
func (m *Manager) ConnectApp(ctx context.Context, admin *AdminClient, host string, appID string) (*AppClient, error) {
	interfaces, err := admin.ListAppInterfaces(ctx)
	if err != nil {
		return nil, err
	}

	var port uint16
	for _, candidate := range interfaces {
		if candidate.Serves(appID) && candidate.Allows(m.cfg.Origin) {
			port = candidate.Port
			break
		}
	}
	if port == 0 {
		port, err = admin.AttachAppInterface(ctx, 0, m.cfg.Origin, nil)
		if err != nil {
			return nil, err
		}
		admin.session.logger.Info("attached app interface", "port", port, "app_id", appID)
	}

	token, err := admin.IssueAppAuthToken(ctx, appID)
	if err != nil {
		return nil, err
	}

	target := endpoint.Endpoint{Host: host, AdminPort: admin.session.endpoint.AdminPort}.WithAppPort(port)
	session, err := m.Open(ctx, target, TransportApp, WithToken(token.Token))
	if err != nil {
		return nil, err
	}
	return NewAppClient(session, appID, admin.retries), nil
}
