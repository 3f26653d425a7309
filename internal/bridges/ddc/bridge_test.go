package ddc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Chuffnugget/BrightDock/internal/display"
)

const testWait = 2 * time.Second

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu        sync.Mutex
	published []mockPublish
	connected bool
	handlers  map[string]func(topic string, payload []byte)
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockMQTTClient) Unsubscribe(topic string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, topic)
	return nil
}

func (m *MockMQTTClient) subscribed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// GetPublished returns every message published on topic.
func (m *MockMQTTClient) GetPublished(topic string) []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockPublish
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *MockMQTTClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// SimulateMessage delivers payload to every handler whose pattern matches topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	var matched []func(string, []byte)
	for pattern, h := range m.handlers {
		if topicMatches(pattern, topic) {
			matched = append(matched, h)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		h(topic, payload)
	}
}

func topicMatches(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	for i, seg := range p {
		if seg == "#" {
			return true
		}
		if i >= len(t) || (seg != "+" && seg != t[i]) {
			return false
		}
	}
	return len(p) == len(t)
}

// testSurface is an in-memory control surface with one display.
type testSurface struct {
	mu       sync.Mutex
	devices  []display.Device
	values   map[string]int
	options  display.OptionTable
	writeErr error
	listErr  error
}

func newTestSurface() *testSurface {
	return &testSurface{
		devices: []display.Device{{ID: 0, Model: "DELL U2720Q", Bus: "/dev/i2c-4"}},
		values: map[string]int{
			"0/brightness":   60,
			"0/contrast":     50,
			"0/input_source": 0x0f,
		},
		options: display.OptionTable{0x0f: "DisplayPort1", 0x11: "HDMI1"},
	}
}

func (s *testSurface) ListDevices(ctx context.Context) ([]display.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]display.Device(nil), s.devices...), nil
}

func (s *testSurface) Read(ctx context.Context, id int, c display.Control) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[fmt.Sprintf("%d/%s", id, c)]
	if !ok {
		return 0, display.ErrUnsupportedControl
	}
	return v, nil
}

func (s *testSurface) Write(ctx context.Context, id int, c display.Control, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.values[fmt.Sprintf("%d/%s", id, c)] = value
	return nil
}

func (s *testSurface) Options(ctx context.Context, id int, c display.Control) (display.OptionTable, error) {
	return s.options.Clone(), nil
}

func (s *testSurface) set(f func(*testSurface)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f(s)
}

// setupBridge starts a coordinator over surface, waits for the first
// poll cycle, then starts a bridge on a mock MQTT client.
func setupBridge(t *testing.T, surface *testSurface) (*Bridge, *MockMQTTClient, *display.Coordinator) {
	t.Helper()

	coord, err := display.New(display.Options{
		Surface:      surface,
		PollInterval: time.Hour,
		SettleDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("display.New() error = %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("coordinator Start() error = %v", err)
	}
	t.Cleanup(coord.Stop)
	waitFor(t, func() bool { return coord.LastSyncStatus().TotalCycles >= 1 })

	mqtt := NewMockMQTTClient()
	b, err := NewBridge(BridgeOptions{
		BridgeID:       "ddc-test",
		Version:        "test",
		NodeAddress:    "http://node:8000",
		HealthInterval: time.Hour,
		MQTTClient:     mqtt,
		Coordinator:    coord,
	})
	if err != nil {
		t.Fatalf("NewBridge() error = %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(b.Stop)

	return b, mqtt, coord
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func decodeAcks(t *testing.T, msgs []mockPublish) []AckMessage {
	t.Helper()
	acks := make([]AckMessage, 0, len(msgs))
	for _, m := range msgs {
		var ack AckMessage
		if err := json.Unmarshal(m.Payload, &ack); err != nil {
			t.Fatalf("ack payload: %v", err)
		}
		acks = append(acks, ack)
	}
	return acks
}

func lastState(t *testing.T, mqtt *MockMQTTClient, deviceID int) StateMessage {
	t.Helper()
	msgs := mqtt.GetPublished(StateTopic(deviceID))
	if len(msgs) == 0 {
		t.Fatalf("no state published for device %d", deviceID)
	}
	var msg StateMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].Payload, &msg); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	return msg
}

func setCommand(id string, control string, value any) []byte {
	payload, _ := json.Marshal(map[string]any{
		"id":         id,
		"command":    "set",
		"parameters": map[string]any{"control": control, "value": value},
		"source":     "automation",
	})
	return payload
}

// =============================================================================
// Construction
// =============================================================================

func TestNewBridge_Validation(t *testing.T) {
	coord, err := display.New(display.Options{Surface: newTestSurface()})
	if err != nil {
		t.Fatalf("display.New() error = %v", err)
	}

	tests := []struct {
		name string
		opts BridgeOptions
	}{
		{"missing id", BridgeOptions{MQTTClient: NewMockMQTTClient(), Coordinator: coord}},
		{"missing mqtt", BridgeOptions{BridgeID: "x", Coordinator: coord}},
		{"missing coordinator", BridgeOptions{BridgeID: "x", MQTTClient: NewMockMQTTClient()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewBridge(tt.opts); err == nil {
				t.Error("NewBridge() should fail")
			}
		})
	}
}

func TestBridge_StartPublishesStateAndDiscovery(t *testing.T) {
	b, mqtt, _ := setupBridge(t, newTestSurface())

	if err := b.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	msgs := mqtt.GetPublished(StateTopic(0))
	if len(msgs) != 1 || !msgs[0].Retained {
		t.Fatalf("state messages = %d, want one retained", len(msgs))
	}

	state := lastState(t, mqtt, 0)
	if state.Model != "DELL U2720Q" {
		t.Errorf("Model = %q", state.Model)
	}
	if state.State["brightness"] != float64(60) {
		t.Errorf("brightness = %v, want 60", state.State["brightness"])
	}
	if state.State["input_source_label"] != "DisplayPort1" {
		t.Errorf("input_source_label = %v, want DisplayPort1", state.State["input_source_label"])
	}
	if state.States["contrast"] != display.StateConfirmed {
		t.Errorf("contrast state = %q, want confirmed", state.States["contrast"])
	}

	disc := mqtt.GetPublished(DiscoveryTopic())
	if len(disc) != 1 || !disc[0].Retained {
		t.Fatalf("discovery messages = %d, want one retained", len(disc))
	}
	var dm DiscoveryMessage
	if err := json.Unmarshal(disc[0].Payload, &dm); err != nil {
		t.Fatalf("discovery payload: %v", err)
	}
	if len(dm.Devices) != 1 || dm.Devices[0].InputOptions["11"] != "HDMI1" {
		t.Errorf("discovery = %+v", dm)
	}
	if len(dm.Devices[0].Capabilities) != 3 {
		t.Errorf("capabilities = %d, want 3", len(dm.Devices[0].Capabilities))
	}

	health := mqtt.GetPublished(HealthTopic())
	if len(health) == 0 {
		t.Error("no health published on start")
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestBridge_SetCommand(t *testing.T) {
	surface := newTestSurface()
	_, mqtt, coord := setupBridge(t, surface)

	mqtt.SimulateMessage(CommandTopic(0), setCommand("cmd-1", "brightness", 40))

	acks := decodeAcks(t, mqtt.GetPublished(AckTopic(0)))
	if len(acks) != 1 {
		t.Fatalf("acks = %d, want 1", len(acks))
	}
	if acks[0].Status != AckAccepted || acks[0].CommandID != "cmd-1" || acks[0].WriteID == "" {
		t.Errorf("ack = %+v", acks[0])
	}

	// Optimistic value is published before the write drains.
	v, _ := coord.CurrentValue(0, display.Brightness)
	if v.Value != 40 {
		t.Errorf("CurrentValue() = %d, want 40", v.Value)
	}

	waitFor(t, func() bool { return len(mqtt.GetPublished(ControlChangedTopic())) == 1 })

	var ev ControlChangedEvent
	if err := json.Unmarshal(mqtt.GetPublished(ControlChangedTopic())[0].Payload, &ev); err != nil {
		t.Fatalf("event payload: %v", err)
	}
	if ev.DeviceID != 0 || ev.Control != "brightness" || ev.Value != 40 || ev.Source != "automation" {
		t.Errorf("control_changed = %+v", ev)
	}

	// The write succeeded, so no second ack.
	if n := len(mqtt.GetPublished(AckTopic(0))); n != 1 {
		t.Errorf("acks after drain = %d, want 1", n)
	}
}

func TestBridge_SetCommandRejected(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		payload  []byte
		wantCode string
	}{
		{"unknown command", CommandTopic(0), []byte(`{"id":"c","command":"blink"}`), ErrCodeInvalidCommand},
		{"missing control", CommandTopic(0), []byte(`{"id":"c","command":"set","parameters":{"value":10}}`), ErrCodeInvalidParameters},
		{"unknown control", CommandTopic(0), setCommand("c", "volume", 10), ErrCodeInvalidParameters},
		{"missing value", CommandTopic(0), []byte(`{"id":"c","command":"set","parameters":{"control":"brightness"}}`), ErrCodeInvalidParameters},
		{"fractional value", CommandTopic(0), setCommand("c", "brightness", 40.5), ErrCodeInvalidParameters},
		{"string value", CommandTopic(0), setCommand("c", "brightness", "40"), ErrCodeInvalidParameters},
		{"out of range", CommandTopic(0), setCommand("c", "brightness", 150), ErrCodeInvalidParameters},
		{"input not advertised", CommandTopic(0), setCommand("c", "input_source", 0x12), ErrCodeInvalidParameters},
		{"unknown device", CommandTopic(7), setCommand("c", "brightness", 10), ErrCodeNotConfigured},
		{"device id mismatch", CommandTopic(0), []byte(`{"id":"c","device_id":3,"command":"refresh"}`), ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mqtt, coord := setupBridge(t, newTestSurface())
			mqtt.ClearPublished()

			mqtt.SimulateMessage(tt.topic, tt.payload)

			var all []mockPublish
			for _, id := range []int{0, 7} {
				all = append(all, mqtt.GetPublished(AckTopic(id))...)
			}
			acks := decodeAcks(t, all)
			if len(acks) != 1 {
				t.Fatalf("acks = %d, want 1", len(acks))
			}
			if acks[0].Status != AckFailed || acks[0].Error == nil || acks[0].Error.Code != tt.wantCode {
				t.Errorf("ack = %+v, want failed %s", acks[0], tt.wantCode)
			}

			// Rejected commands never touch the cache.
			v, _ := coord.CurrentValue(0, display.Brightness)
			if v.Value != 60 || v.State != display.StateConfirmed {
				t.Errorf("brightness = %+v, want confirmed 60", v)
			}
			if coord.PendingWrites() != 0 {
				t.Errorf("PendingWrites() = %d, want 0", coord.PendingWrites())
			}
		})
	}
}

func TestBridge_DrainFailureSecondAck(t *testing.T) {
	surface := newTestSurface()
	_, mqtt, coord := setupBridge(t, surface)
	surface.set(func(s *testSurface) { s.writeErr = fmt.Errorf("%w: i2c timeout", display.ErrTransport) })

	mqtt.SimulateMessage(CommandTopic(0), setCommand("cmd-9", "input_source", 0x11))

	waitFor(t, func() bool { return len(mqtt.GetPublished(AckTopic(0))) == 2 })

	acks := decodeAcks(t, mqtt.GetPublished(AckTopic(0)))
	if acks[0].Status != AckAccepted {
		t.Errorf("first ack = %s, want accepted", acks[0].Status)
	}
	if acks[1].Status != AckFailed || acks[1].CommandID != "cmd-9" ||
		acks[1].Error == nil || acks[1].Error.Code != ErrCodeDeviceUnreachable {
		t.Errorf("second ack = %+v, want failed DEVICE_UNREACHABLE for cmd-9", acks[1])
	}
	if len(mqtt.GetPublished(ControlChangedTopic())) != 0 {
		t.Error("control_changed published for a failed write")
	}

	// Optimistic HDMI1 is shown until the next poll reconciles it.
	state := lastState(t, mqtt, 0)
	if state.State["input_source_label"] != "HDMI1" || state.States["input_source"] != display.StateOptimistic {
		t.Errorf("optimistic state = %+v / %+v", state.State, state.States)
	}

	if err := coord.Poller().RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	waitFor(t, func() bool {
		s := lastState(t, mqtt, 0)
		return s.State["input_source_label"] == "DisplayPort1" && s.States["input_source"] == display.StateConfirmed
	})
}

func TestBridge_RefreshCommand(t *testing.T) {
	surface := newTestSurface()
	_, mqtt, coord := setupBridge(t, surface)

	surface.set(func(s *testSurface) { s.values["0/contrast"] = 75 })
	mqtt.SimulateMessage(CommandTopic(0), []byte(`{"id":"r1","command":"refresh"}`))

	acks := decodeAcks(t, mqtt.GetPublished(AckTopic(0)))
	if len(acks) != 1 || acks[0].Status != AckAccepted {
		t.Fatalf("acks = %+v, want one accepted", acks)
	}

	waitFor(t, func() bool {
		v, _ := coord.CurrentValue(0, display.Contrast)
		return v.Value == 75
	})
	waitFor(t, func() bool { return lastState(t, mqtt, 0).State["contrast"] == float64(75) })
}

func TestBridge_StateChangeDetection(t *testing.T) {
	_, mqtt, coord := setupBridge(t, newTestSurface())
	before := len(mqtt.GetPublished(StateTopic(0)))

	// A cycle that reads the same values publishes nothing new.
	if err := coord.Poller().RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	if after := len(mqtt.GetPublished(StateTopic(0))); after != before {
		t.Errorf("state publishes = %d, want %d (unchanged)", after, before)
	}
}

func TestBridge_IgnoresMalformedTopicsAndPayloads(t *testing.T) {
	b, mqtt, _ := setupBridge(t, newTestSurface())
	mqtt.ClearPublished()

	b.handleMQTTMessage("brightdock/command/ddc", []byte(`{}`))
	b.handleMQTTMessage("brightdock/command/cec/0", []byte(`{}`))
	b.handleMQTTMessage("brightdock/command/ddc/abc", []byte(`{}`))
	b.handleMQTTMessage("brightdock/other/ddc/0", []byte(`{}`))
	mqtt.SimulateMessage(CommandTopic(0), []byte(`not json`))

	if n := len(mqtt.GetPublished(AckTopic(0))); n != 0 {
		t.Errorf("acks = %d, want 0", n)
	}
}

func TestBridge_StopIgnoresTraffic(t *testing.T) {
	b, mqtt, coord := setupBridge(t, newTestSurface())
	if mqtt.subscribed() != 2 {
		t.Fatalf("subscriptions = %d, want commands and requests", mqtt.subscribed())
	}
	b.Stop()
	b.Stop()
	mqtt.ClearPublished()

	if n := mqtt.subscribed(); n != 0 {
		t.Errorf("subscriptions after Stop() = %d, want 0", n)
	}

	// Messages already in flight still reach the handler.
	b.handleMQTTMessage(CommandTopic(0), setCommand("late", "brightness", 10))
	if len(mqtt.GetPublished(AckTopic(0))) != 0 {
		t.Error("command handled after Stop()")
	}
	v, _ := coord.CurrentValue(0, display.Brightness)
	if v.Value != 60 {
		t.Errorf("brightness = %d, want 60", v.Value)
	}
}

func TestBridge_RepublishAfterReconnect(t *testing.T) {
	b, mqtt, _ := setupBridge(t, newTestSurface())
	mqtt.ClearPublished()

	// Nothing changed, so only a forced republish sends anything.
	b.Republish()

	for _, topic := range []string{StateTopic(0), DiscoveryTopic(), HealthTopic()} {
		msgs := mqtt.GetPublished(topic)
		if len(msgs) != 1 || !msgs[0].Retained {
			t.Errorf("%s: messages = %d, want one retained", topic, len(msgs))
		}
	}
	if got := lastHealth(t, mqtt).Status; got == HealthOffline {
		t.Errorf("health after republish = %s, want the live status", got)
	}

	b.Stop()
	mqtt.ClearPublished()
	b.Republish()
	if n := len(mqtt.GetPublished(StateTopic(0))); n != 0 {
		t.Errorf("state publishes after Stop() = %d, want 0", n)
	}
}

// =============================================================================
// Requests
// =============================================================================

func TestBridge_Requests(t *testing.T) {
	_, mqtt, _ := setupBridge(t, newTestSurface())

	tests := []struct {
		name        string
		requestID   string
		payload     string
		wantSuccess bool
		wantCode    string
		check       func(t *testing.T, data map[string]any)
	}{
		{
			name: "read_state", requestID: "r1",
			payload: `{"action":"read_state","device_id":0}`, wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				dev, _ := data["device"].(map[string]any)
				state, _ := dev["state"].(map[string]any)
				if state["brightness"] != float64(60) {
					t.Errorf("read_state brightness = %v", state["brightness"])
				}
			},
		},
		{
			name: "read_state missing device", requestID: "r2",
			payload: `{"action":"read_state"}`, wantCode: ErrCodeInvalidParameters,
		},
		{
			name: "read_state unknown device", requestID: "r3",
			payload: `{"action":"read_state","device_id":4}`, wantCode: ErrCodeNotConfigured,
		},
		{
			name: "read_all", requestID: "r4",
			payload: `{"action":"read_all"}`, wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				devices, _ := data["devices"].([]any)
				if len(devices) != 1 {
					t.Errorf("read_all devices = %d, want 1", len(devices))
				}
				if _, ok := data["sync"]; !ok {
					t.Error("read_all missing sync status")
				}
			},
		},
		{
			name: "list_devices", requestID: "r5",
			payload: `{"action":"list_devices"}`, wantSuccess: true,
			check: func(t *testing.T, data map[string]any) {
				devices, _ := data["devices"].([]any)
				if len(devices) != 1 {
					t.Errorf("list_devices = %d, want 1", len(devices))
				}
			},
		},
		{
			name: "unknown action", requestID: "r6",
			payload: `{"action":"reboot"}`, wantCode: ErrCodeInvalidCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mqtt.SimulateMessage(RequestTopic(tt.requestID), []byte(tt.payload))

			msgs := mqtt.GetPublished(ResponseTopic(tt.requestID))
			if len(msgs) != 1 {
				t.Fatalf("responses = %d, want 1", len(msgs))
			}
			var resp ResponseMessage
			if err := json.Unmarshal(msgs[0].Payload, &resp); err != nil {
				t.Fatalf("response payload: %v", err)
			}
			if resp.RequestID != tt.requestID {
				t.Errorf("RequestID = %q, want %q (from topic)", resp.RequestID, tt.requestID)
			}
			if resp.Success != tt.wantSuccess {
				t.Fatalf("Success = %v, want %v (%+v)", resp.Success, tt.wantSuccess, resp.Error)
			}
			if !tt.wantSuccess && (resp.Error == nil || resp.Error.Code != tt.wantCode) {
				t.Errorf("Error = %+v, want code %s", resp.Error, tt.wantCode)
			}
			if tt.check != nil {
				tt.check(t, resp.Data)
			}
		})
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestParseSetParameters(t *testing.T) {
	ctrl, value, err := parseSetParameters(map[string]any{"control": "input_source", "value": float64(17)})
	if err != nil || ctrl != display.InputSource || value != 17 {
		t.Errorf("parseSetParameters() = %v, %d, %v", ctrl, value, err)
	}

	_, _, err = parseSetParameters(map[string]any{"control": "brightness", "value": 1e12})
	if !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("huge value error = %v, want ErrInvalidParameters", err)
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: 7", display.ErrUnknownDevice), ErrCodeNotConfigured},
		{display.ErrInvalidValue, ErrCodeInvalidParameters},
		{display.ErrUnsupportedControl, ErrCodeInvalidParameters},
		{display.ErrTransport, ErrCodeDeviceUnreachable},
		{display.ErrStopped, ErrCodeBridgeError},
	}
	for _, tt := range tests {
		if got := errorCode(tt.err); got != tt.want {
			t.Errorf("errorCode(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestTopicMatches(t *testing.T) {
	if !topicMatches(CommandSubscribeTopic(), "brightdock/command/ddc/0") {
		t.Error("command pattern should match display 0")
	}
	if topicMatches(CommandSubscribeTopic(), "brightdock/command/ddc/0/extra") {
		t.Error("+ must match a single level")
	}
}

func TestGetMetrics(t *testing.T) {
	b, mqtt, _ := setupBridge(t, newTestSurface())
	mqtt.SimulateMessage(CommandTopic(0), []byte(`{"id":"r","command":"refresh"}`))
	mqtt.SimulateMessage(RequestTopic("m1"), []byte(`{"action":"list_devices"}`))

	m := b.GetMetrics()
	if !m.Connected || m.CommandsReceived != 1 || m.RequestsReceived != 1 || m.DevicesManaged != 1 {
		t.Errorf("GetMetrics() = %+v", m)
	}
	if m.StatesPublished < 1 {
		t.Errorf("StatesPublished = %d, want >= 1", m.StatesPublished)
	}
}
