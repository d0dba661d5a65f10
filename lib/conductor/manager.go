// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/hcops/lib/clock"
	"github.com/bureau-foundation/hcops/lib/codec"
	"github.com/bureau-foundation/hcops/lib/endpoint"
)

const (
	DefaultOrigin         = "hcops"
	DefaultDialTimeout    = 5 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultSignalBuffer   = 64

	// maxFrameSize bounds a single incoming frame. State dumps of busy
	// cells are the largest responses.
	maxFrameSize = 64 << 20
)

// Config configures a Manager. Zero fields take the defaults above.
type Config struct {
	// Origin is sent as the Origin header. Conductors check it against
	// each interface's allowed origins.
	Origin string

	// DialTimeout bounds the TCP connect and websocket upgrade.
	DialTimeout time.Duration

	// RequestTimeout bounds each request. Negative disables the
	// per-request bound, leaving only the caller's context.
	RequestTimeout time.Duration

	// SignalBuffer is the capacity of each session's signal channel.
	SignalBuffer int

	Clock  clock.Clock
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.SignalBuffer <= 0 {
		c.SignalBuffer = DefaultSignalBuffer
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Manager opens sessions. It holds no connections itself.
type Manager struct {
	cfg Config
}

// NewManager returns a Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg.withDefaults()}
}

// Origin is the Origin header sessions present.
func (m *Manager) Origin() string { return m.cfg.Origin }

// OpenOption adjusts a single Open call.
type OpenOption func(*openOptions)

type openOptions struct {
	token []byte
}

// WithToken supplies the app authentication token for TransportApp.
func WithToken(token []byte) OpenOption {
	return func(o *openOptions) { o.token = token }
}

// Open dials e and returns a ready session. For TransportAdmin the
// admin port is dialed; for TransportApp the app port is dialed and
// the token from WithToken is presented.
func (m *Manager) Open(ctx context.Context, e endpoint.Endpoint, kind TransportKind, options ...OpenOption) (*Session, error) {
	var opts openOptions
	for _, option := range options {
		option(&opts)
	}

	e = e.Normalize()
	if err := e.Validate(); err != nil {
		return nil, err
	}

	var address string
	switch kind {
	case TransportAdmin:
		address = e.AdminAddress()
	case TransportApp:
		appAddress, ok := e.AppAddress()
		if !ok {
			return nil, fmt.Errorf("conductor: endpoint %s has no app port", e)
		}
		if len(opts.token) == 0 {
			return nil, errors.New("conductor: app sessions require an authentication token")
		}
		address = appAddress
	default:
		return nil, fmt.Errorf("conductor: unknown transport kind %d", kind)
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		NetDialContext:   (&net.Dialer{}).DialContext,
		HandshakeTimeout: m.cfg.DialTimeout,
	}
	header := http.Header{"Origin": []string{m.cfg.Origin}}
	conn, response, err := dialer.DialContext(dialCtx, "ws://"+address, header)
	if err != nil {
		errKind := classifyDial(dialCtx, err)
		if response != nil {
			errKind = KindHandshakeFailed
			err = fmt.Errorf("upgrade rejected with %s: %w", response.Status, err)
		}
		return nil, &Error{Kind: errKind, Endpoint: e, Op: "dial", Err: err}
	}
	conn.SetReadLimit(maxFrameSize)

	id := uuid.NewString()
	if kind == TransportApp {
		if err := authenticate(conn, opts.token); err != nil {
			conn.Close()
			return nil, &Error{Kind: KindHandshakeFailed, Endpoint: e, Op: "authenticate", Err: err}
		}
	}

	session := newSession(conn, e, kind, id, m.cfg)
	session.logger.Debug("session opened")
	return session, nil
}

func authenticate(conn *websocket.Conn, token []byte) error {
	data, err := codec.Marshal(AuthenticateRequest{Token: token})
	if err != nil {
		return err
	}
	frame, err := codec.Marshal(Envelope{Type: EnvelopeAuthenticate, Data: data})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}
