// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package conductortest runs an in-process fake conductor that speaks
// the control-plane protocol over real websockets. It keeps a small
// amount of state (installed apps, app interfaces, tokens, agent infos,
// state dumps) and answers the commands hcops issues from it. Tests
// override individual commands with Handle.
package conductortest

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/hcops/lib/codec"
	"github.com/bureau-foundation/hcops/lib/conductor"
	"github.com/bureau-foundation/hcops/lib/endpoint"
)

// Call is one request received by the fake.
type Call struct {
	ID    uint64
	Type  string
	Value codec.RawMessage
	// Origin is the Origin header of the connection.
	Origin string
	// AppID is the app an app connection authenticated for; empty on
	// the admin interface.
	AppID string
}

// Decode unmarshals the command payload.
func (c Call) Decode(v any) error {
	return codec.Tagged{Type: c.Type, Value: c.Value}.Decode(v)
}

// Reply is what a handler wants sent back.
type Reply struct {
	Type  string
	Value any

	// ErrorKind, when set, sends an error response instead.
	ErrorKind    string
	ErrorMessage string

	// Raw, when set, is written verbatim as the frame.
	Raw []byte

	// Wait delays the response until the channel is closed.
	Wait <-chan struct{}

	// NoReply swallows the request.
	NoReply bool
}

// Result is a successful reply.
func Result(resultType string, value any) Reply {
	return Reply{Type: resultType, Value: value}
}

// Fail is an error reply.
func Fail(kind, message string) Reply {
	return Reply{ErrorKind: kind, ErrorMessage: message}
}

// HandlerFunc answers one command.
type HandlerFunc func(Call) Reply

// ZomeFunc answers call_zome.
type ZomeFunc func(conductor.ZomeCall) ([]byte, error)

type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	origin  string
	appID   string
}

func (c *conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

type appInterface struct {
	info   conductor.AppInterfaceInfo
	server *httptest.Server
}

// Conductor is a running fake. Create with New; it shuts down when the
// test ends.
type Conductor struct {
	t     testing.TB
	admin *httptest.Server

	mu         sync.Mutex
	apps       []conductor.AppInfo
	interfaces []*appInterface
	tokens     map[string]string
	agentInfos []string
	states     map[string]string
	metrics    map[string]conductor.NetworkMetrics
	stats      conductor.NetworkStats
	storage    conductor.StorageInfo
	handlers   map[string]HandlerFunc
	zome       ZomeFunc
	conns      map[*conn]struct{}
	origins    []string
	commands   []string
	installs   byte
}

// New starts a fake conductor with an admin interface on a loopback
// port.
func New(t testing.TB) *Conductor {
	t.Helper()
	fake := &Conductor{
		t:        t,
		tokens:   make(map[string]string),
		states:   make(map[string]string),
		metrics:  make(map[string]conductor.NetworkMetrics),
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[*conn]struct{}),
	}
	fake.admin = httptest.NewServer(http.HandlerFunc(fake.serveAdmin))
	t.Cleanup(fake.Close)
	return fake
}

// Endpoint is the admin endpoint.
func (f *Conductor) Endpoint() endpoint.Endpoint {
	return endpoint.New(portOf(f.t, f.admin))
}

// Port is the admin port.
func (f *Conductor) Port() uint16 { return portOf(f.t, f.admin) }

// Close stops every interface and drops every connection.
func (f *Conductor) Close() {
	f.mu.Lock()
	conns := make([]*conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	interfaces := slices.Clone(f.interfaces)
	f.mu.Unlock()

	for _, c := range conns {
		c.ws.Close()
	}
	f.admin.Close()
	for _, iface := range interfaces {
		iface.server.Close()
	}
}

// Handle overrides the answer to commandType on both interfaces.
func (f *Conductor) Handle(commandType string, handler HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[commandType] = handler
}

// AddApp installs an app.
func (f *Conductor) AddApp(app conductor.AppInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apps = append(f.apps, app)
}

// AddAppInterface attaches an app interface. The port in info is
// replaced with the listener's; the final info is returned.
func (f *Conductor) AddAppInterface(info conductor.AppInterfaceInfo) conductor.AppInterfaceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attachLocked(info)
}

func (f *Conductor) attachLocked(info conductor.AppInterfaceInfo) conductor.AppInterfaceInfo {
	iface := &appInterface{}
	iface.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.serveApp(iface, w, r)
	}))
	info.Port = portOf(f.t, iface.server)
	iface.info = info
	f.interfaces = append(f.interfaces, iface)
	return info
}

// SetAgentInfos replaces the encoded agent infos returned by agent_info.
func (f *Conductor) SetAgentInfos(encoded ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentInfos = slices.Clone(encoded)
}

// SetStateDump sets the dump_state answer for cell.
func (f *Conductor) SetStateDump(cell conductor.CellID, dump string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[cell.String()] = dump
}

// SetNetworkMetrics sets the metrics for one DNA.
func (f *Conductor) SetNetworkMetrics(dna conductor.HoloHash, metrics conductor.NetworkMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[dna.String()] = metrics
}

func (f *Conductor) SetNetworkStats(stats conductor.NetworkStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
}

func (f *Conductor) SetStorageInfo(info conductor.StorageInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storage = info
}

// SetZomeHandler answers call_zome.
func (f *Conductor) SetZomeHandler(handler ZomeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zome = handler
}

// Origins returns the Origin header of every accepted connection, in
// order.
func (f *Conductor) Origins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.origins)
}

// Commands returns the type of every request received, in order.
func (f *Conductor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}

// AppInterfaces returns the attached app interfaces.
func (f *Conductor) AppInterfaces() []conductor.AppInterfaceInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	infos := make([]conductor.AppInterfaceInfo, 0, len(f.interfaces))
	for _, iface := range f.interfaces {
		infos = append(infos, iface.info)
	}
	return infos
}

// Signal pushes a signal to every app connection authenticated for
// appID and returns how many received it.
func (f *Conductor) Signal(appID, signalType string, value any) int {
	tagged, err := codec.NewTagged(signalType, value)
	if err != nil {
		f.t.Fatalf("conductortest: encoding signal: %v", err)
	}
	data, err := codec.Marshal(tagged)
	if err != nil {
		f.t.Fatalf("conductortest: encoding signal: %v", err)
	}
	frame, err := codec.Marshal(conductor.Envelope{Type: conductor.EnvelopeSignal, Data: data})
	if err != nil {
		f.t.Fatalf("conductortest: encoding signal: %v", err)
	}

	f.mu.Lock()
	var targets []*conn
	for c := range f.conns {
		if c.appID == appID {
			targets = append(targets, c)
		}
	}
	f.mu.Unlock()

	sent := 0
	for _, c := range targets {
		if c.write(frame) == nil {
			sent++
		}
	}
	return sent
}

// DropConnections closes every open connection from the server side.
func (f *Conductor) DropConnections() {
	f.mu.Lock()
	conns := make([]*conn, 0, len(f.conns))
	for c := range f.conns {
		conns = append(conns, c)
	}
	f.mu.Unlock()
	for _, c := range conns {
		c.ws.Close()
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (f *Conductor) serveAdmin(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := f.track(ws, r.Header.Get("Origin"))
	defer f.untrack(c)
	f.serve(c)
}

func (f *Conductor) serveApp(iface *appInterface, w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	f.mu.Lock()
	info := iface.info
	f.mu.Unlock()
	if !info.Allows(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := f.track(ws, origin)
	defer f.untrack(c)

	_, frame, err := ws.ReadMessage()
	if err != nil {
		return
	}
	var envelope conductor.Envelope
	var auth conductor.AuthenticateRequest
	if codec.Unmarshal(frame, &envelope) != nil || envelope.Type != conductor.EnvelopeAuthenticate ||
		codec.Unmarshal(envelope.Data, &auth) != nil {
		return
	}

	f.mu.Lock()
	appID, ok := f.tokens[string(auth.Token)]
	delete(f.tokens, string(auth.Token))
	if ok && !info.Serves(appID) {
		ok = false
	}
	c.appID = appID
	f.mu.Unlock()
	if !ok {
		return
	}
	f.serve(c)
}

func (f *Conductor) track(ws *websocket.Conn, origin string) *conn {
	c := &conn{ws: ws, origin: origin}
	f.mu.Lock()
	f.conns[c] = struct{}{}
	f.origins = append(f.origins, origin)
	f.mu.Unlock()
	return c
}

func (f *Conductor) untrack(c *conn) {
	f.mu.Lock()
	delete(f.conns, c)
	f.mu.Unlock()
	c.ws.Close()
}

// serve reads requests until the connection ends. Each request is
// answered on its own goroutine so replies can overtake each other;
// answers still running when the connection ends are written into the
// closed socket and lost.
func (f *Conductor) serve(c *conn) {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		var envelope conductor.Envelope
		if err := codec.Unmarshal(frame, &envelope); err != nil || envelope.Type != conductor.EnvelopeRequest {
			continue
		}
		var tagged codec.Tagged
		if err := codec.Unmarshal(envelope.Data, &tagged); err != nil {
			continue
		}
		call := Call{ID: envelope.ID, Type: tagged.Type, Value: tagged.Value, Origin: c.origin, AppID: c.appID}

		f.mu.Lock()
		f.commands = append(f.commands, call.Type)
		f.mu.Unlock()

		go f.answer(c, call)
	}
}

func (f *Conductor) answer(c *conn, call Call) {
	reply := f.dispatch(call)
	if reply.NoReply {
		return
	}
	if reply.Wait != nil {
		<-reply.Wait
	}

	frame := reply.Raw
	if frame == nil {
		var data []byte
		var err error
		if reply.ErrorKind != "" {
			data, err = conductor.EncodeError(reply.ErrorKind, reply.ErrorMessage)
		} else {
			var tagged codec.Tagged
			tagged, err = codec.NewTagged(reply.Type, reply.Value)
			if err == nil {
				data, err = codec.Marshal(tagged)
			}
		}
		if err != nil {
			f.t.Errorf("conductortest: encoding %s reply: %v", call.Type, err)
			return
		}
		frame, err = codec.Marshal(conductor.Envelope{Type: conductor.EnvelopeResponse, ID: call.ID, Data: data})
		if err != nil {
			f.t.Errorf("conductortest: encoding %s reply: %v", call.Type, err)
			return
		}
	}
	_ = c.write(frame)
}

func (f *Conductor) dispatch(call Call) Reply {
	f.mu.Lock()
	handler, ok := f.handlers[call.Type]
	f.mu.Unlock()
	if ok {
		return handler(call)
	}

	if call.AppID != "" {
		return f.appCommand(call)
	}
	return f.adminCommand(call)
}

func portOf(t testing.TB, server *httptest.Server) uint16 {
	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("conductortest: server url %q: %v", server.URL, err)
	}
	port, err := strconv.ParseUint(parsed.Port(), 10, 16)
	if err != nil {
		t.Fatalf("conductortest: server port %q: %v", parsed.Port(), err)
	}
	return uint16(port)
}

func randomToken() []byte {
	token := make([]byte, 16)
	rand.Read(token)
	return token
}

func badPayload(call Call, err error) Reply {
	return Fail("deserialization", fmt.Sprintf("%s payload: %v", call.Type, err))
}
