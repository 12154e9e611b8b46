package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/groundstation/core"
	"pkt.systems/groundstation/internal/catalog"
	"pkt.systems/groundstation/internal/eventbus"
	"pkt.systems/groundstation/internal/widgets"
	"pkt.systems/groundstation/schema"
)

type testEnv struct {
	service *core.Service
	bus     *eventbus.Bus
	hub     *Hub
	server  *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	bus := eventbus.New(nil)
	hub := NewHub(cfg.HistorySize)
	defs := widgets.Catalog()
	service, err := core.NewService(core.ServiceConfig{Catalog: catalog.Names(defs)}, core.ServiceDeps{
		EventSink:     bus,
		TelemetrySink: hub,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	srv := NewServer(cfg, service, bus, hub, defs)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{service: service, bus: bus, hub: hub, server: ts}
}


func (e *testEnv) dial(t *testing.T, auth schema.ConnectAuth) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	env, err := schema.NewEnvelope(schema.EventConnect, auth)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write connect: %v", err)
	}
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event schema.EventName) schema.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var env schema.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if env.Event == event {
			return env
		}
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("unexpected health %d %v", resp.StatusCode, body)
	}
}

func TestBasePathPrefix(t *testing.T) {
	env := newTestEnv(t, Config{BasePath: "/ground/"})
	resp, err := http.Get(env.server.URL + "/ground/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestCatalogListsWidgets(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, err := http.Get(env.server.URL + "/api/catalog")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Widgets []catalogEntry `json:"widgets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Widgets) != len(widgets.Catalog()) {
		t.Fatalf("widgets = %d, want %d", len(body.Widgets), len(widgets.Catalog()))
	}
	for _, entry := range body.Widgets {
		if !entry.Allowed {
			t.Fatalf("%s should be in the default global set", entry.Name)
		}
	}
}

func TestEventsConnectAndPermissionPush(t *testing.T) {
	env := newTestEnv(t, Config{})
	viewer := env.dial(t, schema.ConnectAuth{ID: "c1"})
	readUntil(t, viewer, schema.EventWidgetPermissions)

	admin := env.dial(t, schema.ConnectAuth{ID: "ops", AdminToken: "tok"})
	readUntil(t, admin, schema.EventAdminAuthSuccess)
	readUntil(t, admin, schema.EventGlobalWidgetsUpdate)

	update, err := schema.NewEnvelope(schema.EventUpdateClientWidgets, schema.UpdateClientWidgets{
		ClientID: "c1",
		Widgets:  schema.Explicit("Temperature"),
	})
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if err := admin.WriteJSON(update); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := readUntil(t, viewer, schema.EventWidgetPermissions)
	var names []string
	if err := json.Unmarshal(got.Data, &names); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(names) != 1 || names[0] != "Temperature" {
		t.Fatalf("permissions = %v", names)
	}
}

func TestEventsSecondAdminRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	first := env.dial(t, schema.ConnectAuth{ID: "a1", AdminToken: "tok-1"})
	readUntil(t, first, schema.EventAdminAuthSuccess)
	second := env.dial(t, schema.ConnectAuth{ID: "a2", AdminToken: "tok-2"})
	failed := readUntil(t, second, schema.EventAdminAuthFailed)
	var reason string
	if err := json.Unmarshal(failed.Data, &reason); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reason != schema.ErrAdminActive.Error() {
		t.Fatalf("reason = %q", reason)
	}
}

func TestEventsRequireConnectFirst(t *testing.T) {
	env := newTestEnv(t, Config{})
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(schema.Envelope{Event: schema.EventGetGlobalWidgets}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
	if len(env.service.Clients()) != 0 {
		t.Fatalf("no client should be registered")
	}
}

func TestEventsOriginRejected(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"https://ground.example"}})
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatalf("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	srv := &Server{cfg: Config{AllowedOrigins: []string{"https://ground.example", "localhost:8080"}}}
	cases := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://ground.example", true},
		{"http://localhost:8080", true},
		{"https://other.example", false},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		if got := srv.checkOrigin(r); got != tc.want {
			t.Fatalf("checkOrigin(%q) = %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestDisconnectRemovesClient(t *testing.T) {
	env := newTestEnv(t, Config{})
	conn := env.dial(t, schema.ConnectAuth{ID: "c1"})
	readUntil(t, conn, schema.EventWidgetPermissions)
	if len(env.service.Clients()) != 1 {
		t.Fatalf("expected one client")
	}
	_ = conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for len(env.service.Clients()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamReplaysAfterLastEventID(t *testing.T) {
	env := newTestEnv(t, Config{})
	for i := 0; i < 3; i++ {
		env.service.PublishTelemetry(schema.TelemetrySnapshot{"temperature": float64(20 + i)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/api/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	scanner := bufio.NewScanner(resp.Body)
	var ids []string
	for len(ids) < 2 && scanner.Scan() {
		line := scanner.Text()
		if id, ok := strings.CutPrefix(line, "id: "); ok {
			ids = append(ids, id)
		}
	}
	if strings.Join(ids, ",") != "2,3" {
		t.Fatalf("replayed ids = %v", ids)
	}
}

func TestHubHistoryBound(t *testing.T) {
	hub := NewHub(2)
	for i := 0; i < 5; i++ {
		hub.OnTelemetry(schema.TelemetrySnapshot{"n": i})
	}
	if hub.Seq() != 5 {
		t.Fatalf("seq = %d", hub.Seq())
	}
	replay := hub.Replay(0)
	if len(replay) != 2 || replay[0].Seq != 4 || replay[1].Seq != 5 {
		t.Fatalf("replay = %+v", replay)
	}
	if got := hub.Replay(4); len(got) != 1 || got[0].Type != schema.EventDataUpdate {
		t.Fatalf("replay after 4 = %+v", got)
	}
}

func TestHubSubscribeReceivesLive(t *testing.T) {
	hub := NewHub(0)
	ch, unsub, seq, history := hub.Subscribe()
	defer unsub()
	if seq != 0 || len(history) != 0 {
		t.Fatalf("unexpected initial state %d %v", seq, history)
	}
	hub.OnTelemetry(schema.TelemetrySnapshot{"voltage": 4.2})
	select {
	case ev := <-ch:
		if ev.Seq != 1 {
			t.Fatalf("seq = %d", ev.Seq)
		}
	case <-time.After(time.Second):
		t.Fatalf("no event")
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.5:4321"
	if got := clientIP(r); got != "10.0.0.5" {
		t.Fatalf("clientIP = %q", got)
	}
	r.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")
	if got := clientIP(r); got != "192.0.2.1" {
		t.Fatalf("clientIP = %q", got)
	}
}
