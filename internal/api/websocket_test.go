package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Chuffnugget/BrightDock/internal/display"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/config"
)

// ─── WebSocket Hub Tests ───────────────────────────────────────────

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func newFakeClient(hub *Hub, channels ...string) *WSClient {
	c := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	hub.Register(c)
	return c
}

// nextEvent reads the next queued message for a fake client.
func nextEvent(t *testing.T, c *WSClient) WSMessage {
	t.Helper()
	select {
	case data := <-c.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return WSMessage{}
	}
}

// decodePayload re-decodes a generic payload into v.
func decodePayload(t *testing.T, payload any, v any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := newFakeClient(hub, ChannelStateChanged)

	hub.Broadcast(ChannelStateChanged, map[string]any{"device_id": 0})

	msg := nextEvent(t, client)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelStateChanged {
		t.Errorf("message = %+v", msg)
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := newTestHub(t)
	client := newFakeClient(hub, ChannelSyncStatus)

	hub.Broadcast(ChannelStateChanged, map[string]any{"device_id": 0})

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := newTestHub(t)
	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newFakeClient(hub)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}

	// Sending to an unregistered client must not panic.
	client.trySend([]byte("x"))
}

// ─── Event Relay ───────────────────────────────────────────────────

func TestHandleEvent_WriteResult(t *testing.T) {
	env := newTestEnv(t, "")
	client := newFakeClient(env.srv.hub, ChannelWriteResult)

	req := display.WriteRequest{ID: "w-1", DeviceID: 0, Control: display.InputSource, Value: 0x11, Source: "mqtt"}
	env.srv.handleEvent(display.Event{Type: display.EventWriteFailed, Write: &req, Err: display.ErrTransport})

	msg := nextEvent(t, client)
	var p WriteResultPayload
	decodePayload(t, msg.Payload, &p)
	if p.RequestID != "w-1" || p.Applied || p.Error != display.ErrTransport.Error() || p.Source != "mqtt" {
		t.Errorf("write_result = %+v", p)
	}
}

func TestHandleEvent_SyncStatus(t *testing.T) {
	env := newTestEnv(t, "")
	client := newFakeClient(env.srv.hub, ChannelSyncStatus, ChannelDiscovered)

	env.surface.set(func(f *fakeSurface) { f.listErr = errors.New("node down") })
	//nolint:errcheck // failure is the point
	env.coord.Poller().RunCycle(context.Background())

	msg := nextEvent(t, client)
	if msg.EventType != ChannelSyncStatus {
		t.Fatalf("event_type = %q, want %q", msg.EventType, ChannelSyncStatus)
	}
	var p SyncStatusPayload
	decodePayload(t, msg.Payload, &p)
	if !strings.HasPrefix(p.Connection, "error: ") || p.Status.LastCycleOK {
		t.Errorf("sync.status = %+v", p)
	}

	env.surface.set(func(f *fakeSurface) {
		f.listErr = nil
		f.devices = append(f.devices, display.Device{ID: 1, Model: "LG 27UK850"})
	})
	//nolint:errcheck // checked through events
	env.coord.Poller().RunCycle(context.Background())

	msg = nextEvent(t, client)
	if msg.EventType != ChannelDiscovered {
		t.Fatalf("event_type = %q, want %q", msg.EventType, ChannelDiscovered)
	}
	var dev display.Device
	decodePayload(t, msg.Payload, &dev)
	if dev.ID != 1 || dev.Model != "LG 27UK850" {
		t.Errorf("discovered = %+v", dev)
	}

	msg = nextEvent(t, client)
	decodePayload(t, msg.Payload, &p)
	if msg.EventType != ChannelSyncStatus || p.Connection != "connected" {
		t.Errorf("after recovery = %s %+v", msg.EventType, p)
	}
}

// ─── WebSocket Integration Tests ───────────────────────────────────

func dialWS(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
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

	//nolint:errcheck // Deadline failures surface on read
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp WSMessage
	if err := ws.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

// readUntil reads messages until one with eventType arrives.
func readUntil(t *testing.T, ws *websocket.Conn, eventType string) WSMessage {
	t.Helper()
	//nolint:errcheck // Deadline failures surface on read
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", eventType, err)
		}
		if msg.EventType == eventType {
			return msg
		}
	}
}

func TestWebSocket_WriteFlow(t *testing.T) {
	env := newTestEnv(t, "")
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	subscribe(t, ws, ChannelStateChanged, ChannelWriteResult)
	waitFor(t, func() bool { return env.srv.hub.ClientCount() == 1 })

	resp, err := http.DefaultClient.Do(mustRequest(t, http.MethodPut, ts.URL+"/api/v1/monitors/0/input_source", `{"value":17}`))
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("PUT status = %d, want 202", resp.StatusCode)
	}

	msg := readUntil(t, ws, ChannelStateChanged)
	var sc StateChangedPayload
	decodePayload(t, msg.Payload, &sc)
	if sc.Control != display.InputSource || sc.Value == nil || *sc.Value != 0x11 || sc.State != display.StateOptimistic {
		t.Errorf("state_changed = %+v", sc)
	}
	if sc.Label != "HDMI1" || sc.Previous == nil || *sc.Previous != 0x0f {
		t.Errorf("label/previous = %q/%v", sc.Label, sc.Previous)
	}

	msg = readUntil(t, ws, ChannelWriteResult)
	var wr WriteResultPayload
	decodePayload(t, msg.Payload, &wr)
	if !wr.Applied || wr.Value != 0x11 || wr.Source != sourceAPI {
		t.Errorf("write_result = %+v", wr)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := newTestEnv(t, "")
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	ws, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	tests := []struct {
		name     string
		send     []byte
		wantType string
		wantID   string
	}{
		{"ping", []byte(`{"type":"ping","id":"p-1"}`), WSTypePong, "p-1"},
		{"invalid json", []byte("not json"), WSTypeError, ""},
		{"unknown type", []byte(`{"type":"launch","id":"x-1"}`), WSTypeError, "x-1"},
		{"bad subscribe payload", []byte(`{"type":"subscribe","id":"s-1","payload":{"channels":"all"}}`), WSTypeError, "s-1"},
		{"unsubscribe", []byte(`{"type":"unsubscribe","id":"u-1","payload":{"channels":["sync.status"]}}`), WSTypeResponse, "u-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, tt.send); err != nil {
				t.Fatalf("write: %v", err)
			}
			//nolint:errcheck // Deadline failures surface on read
			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			var resp WSMessage
			if err := ws.ReadJSON(&resp); err != nil {
				t.Fatalf("read: %v", err)
			}
			if resp.Type != tt.wantType || resp.ID != tt.wantID {
				t.Errorf("response = %s/%q, want %s/%q", resp.Type, resp.ID, tt.wantType, tt.wantID)
			}
		})
	}
}

func TestWebSocket_ClosesOnShutdown(t *testing.T) {
	env := newTestEnv(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	env.srv.hub = NewHub(env.srv.wsCfg, testLogger())
	go env.srv.hub.Run(ctx)

	ts := httptest.NewServer(env.srv.buildRouter())
	defer ts.Close()

	ws, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	waitFor(t, func() bool { return env.srv.hub.ClientCount() == 1 })

	cancel()
	waitFor(t, func() bool { return env.srv.hub.ClientCount() == 0 })

	//nolint:errcheck // Deadline failures surface on read
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
}

func mustRequest(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}
