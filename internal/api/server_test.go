package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	snapbridge "github.com/snapdog2/snapdog-core/internal/bridges/snapcast"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/config"
	"github.com/snapdog2/snapdog-core/internal/infrastructure/logging"
	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
	"github.com/snapdog2/snapdog-core/internal/snapcast"
)

// fakeClient implements SnapcastClient.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	nextID    jsonrpc.HandlerID
	notify    map[jsonrpc.HandlerID]jsonrpc.NotificationHandler
	state     map[jsonrpc.HandlerID]func(from, to jsonrpc.ConnState)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		connected: true,
		notify:    make(map[jsonrpc.HandlerID]jsonrpc.NotificationHandler),
		state:     make(map[jsonrpc.HandlerID]func(from, to jsonrpc.ConnState)),
	}
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Stats() jsonrpc.Stats {
	state := jsonrpc.StateDisconnected
	if f.IsConnected() {
		state = jsonrpc.StateConnected
	}
	return jsonrpc.Stats{State: state.String(), RequestsSent: 7, Responses: 6, Pending: 1}
}

func (f *fakeClient) OnNotification(h jsonrpc.NotificationHandler) jsonrpc.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.notify[f.nextID] = h
	return f.nextID
}

func (f *fakeClient) RemoveNotification(id jsonrpc.HandlerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.notify[id]
	delete(f.notify, id)
	return ok
}

func (f *fakeClient) OnStateChange(fn func(from, to jsonrpc.ConnState)) jsonrpc.HandlerID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.state[f.nextID] = fn
	return f.nextID
}

func (f *fakeClient) RemoveStateChange(id jsonrpc.HandlerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.state[id]
	delete(f.state, id)
	return ok
}

func (f *fakeClient) setConnected(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = v
}

func (f *fakeClient) emit(method string, params string) {
	f.mu.Lock()
	var hs []jsonrpc.NotificationHandler
	for _, h := range f.notify {
		hs = append(hs, h)
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(method, json.RawMessage(params))
	}
}

func (f *fakeClient) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notify) + len(f.state)
}

// fakeService implements SnapcastService.
type fakeService struct {
	mu     sync.Mutex
	server snapcast.Server
	err    error
	calls  []string
}

func (f *fakeService) GetStatus(context.Context) (snapcast.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.server, f.err
}

func (f *fakeService) GetRPCVersion(context.Context) (snapcast.RPCVersion, error) {
	return snapcast.RPCVersion{Major: 2}, f.err
}

func (f *fakeService) SetClientVolume(_ context.Context, id string, percent int) (snapcast.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("volume %s %d", id, percent))
	if f.err != nil {
		return snapcast.Volume{}, f.err
	}
	return snapcast.Volume{Percent: percent}, nil
}

func (f *fakeService) SetClientMute(_ context.Context, id string, muted bool) (snapcast.Volume, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("mute %s %v", id, muted))
	if f.err != nil {
		return snapcast.Volume{}, f.err
	}
	return snapcast.Volume{Percent: 40, Muted: muted}, nil
}

func (f *fakeService) DeleteClient(_ context.Context, id string) (snapcast.Server, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "delete "+id)
	if f.err != nil {
		return snapcast.Server{}, f.err
	}
	for i := range f.server.Groups {
		g := &f.server.Groups[i]
		for j, c := range g.Clients {
			if c.ID == id {
				g.Clients = append(g.Clients[:j:j], g.Clients[j+1:]...)
				return f.server, nil
			}
		}
	}
	return snapcast.Server{}, &jsonrpc.RemoteError{Code: jsonrpc.CodeInternalError, Message: "client not found"}
}

// fakeBridge implements BridgeMetricsProvider.
type fakeBridge struct{}

func (fakeBridge) GetMetrics() snapbridge.BridgeMetrics {
	return snapbridge.BridgeMetrics{CommandsReceived: 3, Clients: 2}
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server backed by fakes.
func testServer(t *testing.T) (*Server, *fakeClient, *fakeService) {
	t.Helper()

	client := newFakeClient()
	service := &fakeService{server: snapcast.Server{
		Groups: []snapcast.Group{{
			ID:      "g1",
			Clients: []snapcast.Client{{ID: "c1", Connected: true}},
		}},
	}}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   testLogger(),
		Snapcast: client,
		Service:  service,
		Bridge:   fakeBridge{},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, client, service
}

func serve(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{Snapcast: newFakeClient(), Service: &fakeService{}}},
		{"missing client", Deps{Logger: testLogger(), Service: &fakeService{}}},
		{"missing service", Deps{Logger: testLogger(), Snapcast: newFakeClient()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["snapcast"] != "connected" {
		t.Errorf("snapcast = %v, want connected", resp["snapcast"])
	}
}

func TestHealth_SnapcastDown(t *testing.T) {
	srv, client, _ := testServer(t)
	client.setConnected(false)

	w := serve(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if resp := decodeBody(t, w); resp["snapcast"] != "disconnected" {
		t.Errorf("snapcast = %v, want disconnected", resp["snapcast"])
	}
}

func TestHealth_ContentType(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/health", "")
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.cfg.CORS.AllowedOrigins = []string{"http://panel.lan"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("ACAO = %q, want empty", got)
	}
}

func TestRecovery(t *testing.T) {
	srv, _, _ := testServer(t)

	h := srv.recoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if resp := decodeBody(t, w); resp["code"] != ErrCodeInternal {
		t.Errorf("code = %v, want %s", resp["code"], ErrCodeInternal)
	}
}

func TestCORS_DefaultMethods(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/snapcast/clients/c1", nil)
	req.Header.Set("Origin", "http://panel.lan")
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("Allow-Methods = %q, want DELETE included", got)
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv, _, service := testServer(t)

	body := `{"percent":10,"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := serve(t, srv, http.MethodPut, "/api/v1/snapcast/clients/c1/volume", body)
	if w.Code != http.StatusRequestEntityTooLarge && w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want 413 or 400", w.Code)
	}
	if len(service.calls) != 0 {
		t.Errorf("service calls = %v, want none", service.calls)
	}
}

func TestNotFound(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/nonexistent", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Snapcast Endpoint Tests ───────────────────────────────────────

func TestSnapcastStatus(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/snapcast/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var server snapcast.Server
	if err := json.Unmarshal(w.Body.Bytes(), &server); err != nil {
		t.Fatal(err)
	}
	if len(server.Groups) != 1 || server.Groups[0].ID != "g1" {
		t.Errorf("server = %+v", server)
	}
}

func TestSnapcastStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"timeout", jsonrpc.ErrTimeout, http.StatusGatewayTimeout, ErrCodeTimeout},
		{"not connected", fmt.Errorf("%w: dial", jsonrpc.ErrConnection), http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"connection lost", jsonrpc.ErrConnectionLost, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"remote", &jsonrpc.RemoteError{Code: jsonrpc.CodeInternalError, Message: "boom"}, http.StatusBadGateway, ErrCodeUpstream},
		{"other", errors.New("decode failed"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, service := testServer(t)
			service.err = tt.err

			w := serve(t, srv, http.MethodGet, "/api/v1/snapcast/status", "")
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if resp := decodeBody(t, w); resp["code"] != tt.wantErr {
				t.Errorf("code = %v, want %s", resp["code"], tt.wantErr)
			}
		})
	}
}

func TestSnapcastStats(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/snapcast/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var stats jsonrpc.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.RequestsSent != 7 || stats.Pending != 1 || stats.State != "connected" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSnapcastVersion(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/snapcast/version", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["major"] != float64(2) {
		t.Errorf("version = %v", resp)
	}
}

func TestGetClient(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/snapcast/clients/c1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decodeBody(t, w); resp["group_id"] != "g1" {
		t.Errorf("group_id = %v, want g1", resp["group_id"])
	}

	w = serve(t, srv, http.MethodGet, "/api/v1/snapcast/clients/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown client status = %d, want 404", w.Code)
	}
}

func TestDeleteClient(t *testing.T) {
	srv, _, service := testServer(t)

	w := serve(t, srv, http.MethodDelete, "/api/v1/snapcast/clients/c1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var server snapcast.Server
	if err := json.Unmarshal(w.Body.Bytes(), &server); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := server.FindClient("c1"); ok {
		t.Error("deleted client still in returned status")
	}

	// The server rejects unknown ids with a JSON-RPC error.
	w = serve(t, srv, http.MethodDelete, "/api/v1/snapcast/clients/c1", "")
	if w.Code != http.StatusBadGateway {
		t.Errorf("second delete status = %d, want 502", w.Code)
	}
	if len(service.calls) != 2 {
		t.Errorf("calls = %v", service.calls)
	}
}

func TestSetClientVolume(t *testing.T) {
	srv, _, service := testServer(t)

	w := serve(t, srv, http.MethodPut, "/api/v1/snapcast/clients/c1/volume", `{"percent":35,"muted":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var vol snapcast.Volume
	if err := json.Unmarshal(w.Body.Bytes(), &vol); err != nil {
		t.Fatal(err)
	}
	if !vol.Muted {
		t.Errorf("volume = %+v, want muted", vol)
	}

	service.mu.Lock()
	calls := append([]string(nil), service.calls...)
	service.mu.Unlock()
	if len(calls) != 2 || calls[0] != "volume c1 35" || calls[1] != "mute c1 true" {
		t.Errorf("calls = %v", calls)
	}
}

func TestSetClientVolume_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
	}{
		{"invalid json", "{", nil},
		{"empty body", "{}", nil},
		{"out of range", `{"percent":150}`, snapcast.ErrInvalidVolume},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, service := testServer(t)
			service.err = tt.err

			w := serve(t, srv, http.MethodPut, "/api/v1/snapcast/clients/c1/volume", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

func TestMetrics(t *testing.T) {
	srv, _, _ := testServer(t)

	w := serve(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var m SystemMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Snapcast.RequestsSent != 7 {
		t.Errorf("snapcast stats = %+v", m.Snapcast)
	}
	if m.Bridge == nil || m.Bridge.CommandsReceived != 3 || m.Bridge.Clients != 2 {
		t.Errorf("bridge = %+v", m.Bridge)
	}
}

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newWSClient(hub, nil)
	client.setChannels([]string{ChannelSnapcastNotification}, true)
	hub.Register(client)

	hub.Broadcast(ChannelSnapcastNotification, NotificationEvent{Method: "Client.OnVolumeChanged"})

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != ChannelSnapcastNotification {
			t.Errorf("event_type = %q, want %q", wsMsg.EventType, ChannelSnapcastNotification)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newWSClient(hub, nil)
	client.setChannels([]string{ChannelSnapcastConnection}, true)
	hub.Register(client)

	hub.Broadcast(ChannelSnapcastNotification, NotificationEvent{Method: "Group.OnMute"})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newWSClient(hub, nil)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

func TestHub_BroadcastAfterUnregister(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	client := newWSClient(hub, nil)
	client.setChannels([]string{ChannelSnapcastNotification}, true)
	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	if client.enqueue([]byte("late")) {
		t.Error("enqueue() after unregister = true, want false")
	}
	hub.Broadcast(ChannelSnapcastNotification, NotificationEvent{Method: "Group.OnMute"})
	if len(client.send) != 0 {
		t.Errorf("send buffer = %d messages, want 0", len(client.send))
	}
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	client := newWSClient(hub, nil)
	client.setChannels([]string{ChannelSnapcastConnection}, true)
	hub.Register(client)

	for i := 0; i < wsSendBufferSize+5; i++ {
		hub.Broadcast(ChannelSnapcastConnection, ConnectionEvent{From: "connecting", To: "connected"})
	}
	if len(client.send) != wsSendBufferSize {
		t.Errorf("send buffer = %d messages, want %d", len(client.send), wsSendBufferSize)
	}
}

func TestNewHub_Defaults(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, testLogger())

	if hub.cfg.Path != defaultWSPath || hub.cfg.PingInterval != defaultWSPingInterval ||
		hub.cfg.PongTimeout != defaultWSPongTimeout || hub.cfg.MaxMessageSize != defaultWSMaxMessageSize {
		t.Errorf("cfg = %+v", hub.cfg)
	}
}

// ─── Server Lifecycle Tests ────────────────────────────────────────

// startedServer starts a server on an ephemeral port and returns its address.
func startedServer(t *testing.T) (*Server, *fakeClient, string) {
	t.Helper()

	srv, client, _ := testServer(t)
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() })

	return srv, client, srv.Addr().String()
}

func TestServer_StartAndClose(t *testing.T) {
	srv, client, addr := startedServer(t)

	if got := client.listenerCount(); got != 2 {
		t.Errorf("listeners = %d, want 2", got)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if got := client.listenerCount(); got != 0 {
		t.Errorf("listeners after Close = %d, want 0", got)
	}

	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	running, _, _ := startedServer(t)

	srv, client, _ := testServer(t)
	srv.cfg.Port = running.Addr().(*net.TCPAddr).Port

	if err := srv.Start(context.Background()); err == nil {
		srv.Close()
		t.Fatal("Start() on a bound port should fail")
	}
	if got := client.listenerCount(); got != 0 {
		t.Errorf("listeners after failed Start = %d, want 0", got)
	}
}

func TestServer_HealthCheck(t *testing.T) {
	srv, _, _ := testServer(t)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := srv.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() with cancelled context should fail")
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

func connectWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func subscribe(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse {
		t.Fatalf("subscribe response type = %s, want response", resp.Type)
	}
}

func TestWebSocket_SubscribeUnsubscribe(t *testing.T) {
	_, _, addr := startedServer(t)
	ws := connectWebSocket(t, addr)

	subscribe(t, ws, ChannelSnapcastNotification, ChannelSnapcastConnection)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		ID:      "unsub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelSnapcastConnection}},
	}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}

	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read unsubscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "unsub-1" {
		t.Errorf("unsubscribe response = %+v", resp)
	}
}

func TestWebSocket_Ping(t *testing.T) {
	_, _, addr := startedServer(t)
	ws := connectWebSocket(t, addr)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("response = %+v, want pong ping-1", resp)
	}
}

func TestWebSocket_InvalidMessages(t *testing.T) {
	_, _, addr := startedServer(t)
	ws := connectWebSocket(t, addr)

	for _, raw := range []string{"not json", `{"type":"unknown_type","id":"x"}`} {
		if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write: %v", err)
		}

		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var resp WSMessage
		if err := ws.ReadJSON(&resp); err != nil {
			t.Fatalf("read error response: %v", err)
		}
		if resp.Type != WSTypeError {
			t.Errorf("%q: response type = %s, want error", raw, resp.Type)
		}
	}
}

func TestWebSocket_UnknownChannel(t *testing.T) {
	_, _, addr := startedServer(t)
	ws := connectWebSocket(t, addr)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-bad",
		Payload: WSSubscribePayload{Channels: []string{ChannelSnapcastNotification, "zone.volume"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != WSTypeError || resp.ID != "sub-bad" {
		t.Errorf("response = %+v, want error for sub-bad", resp)
	}
}

func TestWebSocket_RelaysSnapcastNotifications(t *testing.T) {
	_, client, addr := startedServer(t)
	ws := connectWebSocket(t, addr)

	subscribe(t, ws, ChannelSnapcastNotification)

	client.emit("Client.OnVolumeChanged", `{"id":"c1","volume":{"muted":false,"percent":12}}`)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type      string            `json:"type"`
		EventType string            `json:"event_type"`
		Payload   NotificationEvent `json:"payload"`
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != ChannelSnapcastNotification {
		t.Errorf("message = %+v", msg)
	}
	if msg.Payload.Method != "Client.OnVolumeChanged" || !strings.Contains(string(msg.Payload.Params), `"percent":12`) {
		t.Errorf("payload = %+v", msg.Payload)
	}
}
