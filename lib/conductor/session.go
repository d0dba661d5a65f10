// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conductor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/hcops/lib/clock"
	"github.com/bureau-foundation/hcops/lib/codec"
	"github.com/bureau-foundation/hcops/lib/endpoint"
)

// TransportKind selects the interface a session speaks to.
type TransportKind int

const (
	TransportAdmin TransportKind = iota + 1
	TransportApp
)

func (k TransportKind) String() string {
	switch k {
	case TransportAdmin:
		return "admin"
	case TransportApp:
		return "app"
	default:
		return "unknown"
	}
}

// closeGrace bounds the close handshake.
const closeGrace = time.Second

// Signal is an unsolicited message pushed by the conductor on an app
// session.
type Signal struct {
	Type  string
	Value codec.RawMessage
}

// Decode unmarshals the signal payload into v.
func (s Signal) Decode(v any) error {
	return codec.Tagged{Type: s.Type, Value: s.Value}.Decode(v)
}

type result struct {
	response Response
	err      error
}

type pendingRequest struct {
	op     string
	result chan result
}

// Session is one open control-plane connection. It is safe for
// concurrent use: requests may be in flight at the same time and each
// resolves only with the response carrying its own id.
type Session struct {
	id             string
	endpoint       endpoint.Endpoint
	kind           TransportKind
	conn           *websocket.Conn
	clock          clock.Clock
	logger         *slog.Logger
	requestTimeout time.Duration

	writeMu sync.Mutex

	mu        sync.Mutex
	nextID    uint64
	pending   map[uint64]*pendingRequest
	failure   *Error
	responded bool

	signals   chan Signal
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(conn *websocket.Conn, e endpoint.Endpoint, kind TransportKind, id string, cfg Config) *Session {
	session := &Session{
		id:             id,
		endpoint:       e,
		kind:           kind,
		conn:           conn,
		clock:          cfg.Clock,
		logger:         cfg.Logger.With("session_id", id, "endpoint", e.String(), "transport", kind.String()),
		requestTimeout: cfg.RequestTimeout,
		pending:        make(map[uint64]*pendingRequest),
		signals:        make(chan Signal, cfg.SignalBuffer),
		done:           make(chan struct{}),
	}
	go session.readLoop()
	return session
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Endpoint is the endpoint the session was opened against.
func (s *Session) Endpoint() endpoint.Endpoint { return s.endpoint }

// Kind is the interface the session speaks to.
func (s *Session) Kind() TransportKind { return s.kind }

// Signals returns the channel of unsolicited messages. It is closed
// when the session ends. When the buffer is full new signals are
// dropped.
func (s *Session) Signals() <-chan Signal { return s.signals }

// Request sends one command and waits for its response, for ctx to
// end, or for the session's request timeout, whichever comes first.
// A request abandoned by timeout or cancellation frees its slot and
// leaves the session usable; a late response for it is discarded.
func (s *Session) Request(ctx context.Context, command Command) (Response, error) {
	s.mu.Lock()
	if s.failure != nil {
		failure := s.failure
		s.mu.Unlock()
		return Response{}, s.errorFor(command.Type, failure)
	}
	s.nextID++
	id := s.nextID
	slot := &pendingRequest{op: command.Type, result: make(chan result, 1)}
	s.pending[id] = slot
	s.mu.Unlock()

	frame, err := encodeRequest(id, command)
	if err != nil {
		s.release(id)
		return Response{}, err
	}

	s.writeMu.Lock()
	err = s.conn.WriteMessage(websocket.BinaryMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		s.release(id)
		s.mu.Lock()
		failure := s.failure
		s.mu.Unlock()
		if failure != nil {
			return Response{}, s.errorFor(command.Type, failure)
		}
		return Response{}, &Error{Kind: KindClosed, Endpoint: s.endpoint, Op: command.Type, Err: err}
	}
	s.logger.Debug("request sent", "request_id", id, "command", command.Type)

	var deadline <-chan time.Time
	if s.requestTimeout > 0 {
		deadline = s.clock.After(s.requestTimeout)
	}

	select {
	case outcome := <-slot.result:
		return outcome.response, outcome.err
	case <-ctx.Done():
		s.release(id)
		return Response{}, &Error{Kind: KindTimeout, Endpoint: s.endpoint, Op: command.Type, Err: ctx.Err()}
	case <-deadline:
		s.release(id)
		return Response{}, &Error{Kind: KindTimeout, Endpoint: s.endpoint, Op: command.Type,
			Err: errors.New("no response within " + s.requestTimeout.String())}
	}
}

// RequestWithRetry is Request with retries for read-only commands that
// timed out. Mutating commands and other failures are returned after
// the first attempt, as is any failure once ctx itself has ended.
func (s *Session) RequestWithRetry(ctx context.Context, command Command, retries int) (Response, error) {
	for attempt := 0; ; attempt++ {
		response, err := s.Request(ctx, command)
		if err == nil || !command.ReadOnly || attempt >= retries || ctx.Err() != nil || !errors.Is(err, ErrTimeout) {
			return response, err
		}
		s.logger.Info("retrying read-only command after timeout", "command", command.Type, "attempt", attempt+1)
	}
}

// Pending reports how many requests are waiting for a response.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close tears the session down: pending requests fail with KindClosed
// and Close returns once the reader goroutine has exited. Safe to call
// more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.failure == nil {
			s.failure = &Error{Kind: KindClosed, Endpoint: s.endpoint, Op: "close"}
		}
		s.mu.Unlock()

		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGrace))
		_ = s.conn.Close()
		<-s.done
		s.logger.Debug("session closed")
	})
	return nil
}

func (s *Session) release(id uint64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// errorFor restates a session-level failure for one command.
func (s *Session) errorFor(op string, failure *Error) *Error {
	return &Error{Kind: failure.Kind, Endpoint: s.endpoint, Op: op, Err: failure.Err}
}

// fail records the first session-level failure and resolves every
// pending request with it.
func (s *Session) fail(failure *Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure == nil {
		s.failure = failure
	}
	for id, slot := range s.pending {
		slot.result <- result{err: s.errorFor(slot.op, s.failure)}
		delete(s.pending, id)
	}
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer close(s.signals)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(s.readFailure(err))
			return
		}
		if messageType != websocket.BinaryMessage {
			s.logger.Warn("ignoring non-binary frame", "message_type", messageType)
			continue
		}

		var envelope Envelope
		if err := codec.Unmarshal(data, &envelope); err != nil {
			diagnostic, _ := codec.Diagnose(data)
			s.logger.Error("malformed frame", "error", err, "frame", diagnostic)
			s.fail(&Error{Kind: KindProtocol, Endpoint: s.endpoint, Op: "read", Err: err})
			_ = s.conn.Close()
			return
		}

		switch envelope.Type {
		case EnvelopeResponse:
			s.resolve(envelope)
		case EnvelopeSignal:
			s.deliverSignal(envelope.Data)
		default:
			s.logger.Debug("ignoring envelope", "type", envelope.Type, "request_id", envelope.ID)
		}
	}
}

// readFailure classifies the error that ended the reader. An app
// session closed by the conductor before it answered anything was
// refused at authentication.
func (s *Session) readFailure(err error) *Error {
	s.mu.Lock()
	responded, closing := s.responded, s.failure != nil
	s.mu.Unlock()

	if s.kind == TransportApp && !responded && !closing {
		return &Error{Kind: KindHandshakeFailed, Endpoint: s.endpoint, Op: "authenticate", Err: err}
	}
	if !closing {
		s.logger.Warn("session ended by conductor", "error", err)
	}
	return &Error{Kind: KindClosed, Endpoint: s.endpoint, Op: "read", Err: err}
}

func (s *Session) resolve(envelope Envelope) {
	s.mu.Lock()
	s.responded = true
	slot, ok := s.pending[envelope.ID]
	delete(s.pending, envelope.ID)
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("discarding response with no waiting request", "request_id", envelope.ID)
		return
	}

	response, remote, err := decodeResult(envelope.Data)
	switch {
	case err != nil:
		slot.result <- result{err: &Error{Kind: KindProtocol, Endpoint: s.endpoint, Op: slot.op, Err: err}}
	case remote != nil:
		slot.result <- result{err: &Error{Kind: KindRemote, Endpoint: s.endpoint, Op: slot.op, Err: remote}}
	default:
		slot.result <- result{response: response}
	}
}

func (s *Session) deliverSignal(data []byte) {
	var tagged codec.Tagged
	if err := codec.Unmarshal(data, &tagged); err != nil {
		s.logger.Warn("dropping undecodable signal", "error", err)
		return
	}
	select {
	case s.signals <- Signal{Type: tagged.Type, Value: tagged.Value}:
	default:
		s.logger.Warn("signal buffer full, dropping signal", "type", tagged.Type)
	}
}
