package ddc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chuffnugget/BrightDock/internal/display"
)

// topicParts is the number of segments in brightdock/{category}/ddc/{address}.
const topicParts = 4

// defaultSource tags writes that arrive without a source.
const defaultSource = "mqtt"

// Bridge translates between MQTT and the display coordinator. It handles:
//   - Receiving commands via MQTT and turning them into coordinator writes
//   - Publishing retained display state whenever a cached value changes
//   - Acknowledging commands, including late drain failures
//   - Discovery, request/response, and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	bridgeID string
	mqtt     MQTTClient
	coord    Coordinator
	health   *HealthReporter

	// pending maps coordinator write IDs to the command that produced them.
	pending   map[string]pendingCommand
	pendingMu sync.Mutex

	// stateCache holds the last published state per device for change detection.
	stateCache   map[int]string
	stateCacheMu sync.Mutex

	lastDiscovery string
	discoveryMu   sync.Mutex

	commandsRx      atomic.Uint64
	requestsRx      atomic.Uint64
	statesPublished atomic.Uint64

	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

type pendingCommand struct {
	cmd      CommandMessage
	deviceID int
}

// MQTTClient is the interface for MQTT operations.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// Coordinator is the part of *display.Coordinator the bridge drives.
type Coordinator interface {
	RequestWrite(deviceID int, ctrl display.Control, value int, source string) (display.WriteRequest, error)
	RequestRefresh()
	DeviceState(deviceID int) (display.DeviceState, bool)
	Devices() []display.Device
	Snapshot() display.Snapshot
	Subscribe(h display.EventHandler)
	Stats() display.Stats
}

// Logger is the structured logger used by the bridge.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is reported in health messages.
	Version string

	// NodeAddress is the control-surface URL reported in health messages.
	NodeAddress string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	MQTTClient  MQTTClient
	Coordinator Coordinator

	// Logger is optional.
	Logger Logger
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge ID is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}

	b := &Bridge{
		bridgeID:   opts.BridgeID,
		mqtt:       opts.MQTTClient,
		coord:      opts.Coordinator,
		pending:    make(map[string]pendingCommand),
		stateCache: make(map[int]string),
		done:       make(chan struct{}),
		logger:     opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:    opts.BridgeID,
		Version:     opts.Version,
		NodeAddress: opts.NodeAddress,
		Interval:    opts.HealthInterval,
		Publisher:   opts.MQTTClient,
		Stats:       opts.Coordinator,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start subscribes to commands and requests, hooks into coordinator
// events, publishes the current state and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("bridge already started")
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	b.coord.Subscribe(b.handleEvent)

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	// Devices discovered before the bridge started.
	b.publishDiscovery()
	for _, d := range b.coord.Devices() {
		b.publishState(d.ID)
	}

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"bridge_id", b.bridgeID,
		"devices", len(b.coord.Devices()))

	return nil
}

// Stop gracefully shuts down the bridge. Coordinator events that arrive
// afterwards are ignored.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		for _, topic := range []string{CommandSubscribeTopic(), RequestSubscribeTopic()} {
			if err := b.mqtt.Unsubscribe(topic); err != nil {
				b.logWarn("unsubscribe failed", "topic", topic, "error", err)
			}
		}
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// =============================================================================
// Inbound MQTT
// =============================================================================

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	if b.stopped() {
		return
	}

	parts := strings.Split(topic, "/")
	if len(parts) != topicParts || parts[2] != Protocol {
		b.logError("invalid topic format", fmt.Errorf("%w: %s", ErrInvalidTopic, topic))
		return
	}

	switch parts[1] {
	case "command":
		deviceID, err := strconv.Atoi(parts[3])
		if err != nil {
			b.logError("invalid device address", fmt.Errorf("%w: %s", ErrInvalidTopic, topic))
			return
		}
		b.handleCommand(deviceID, payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("%w: %s", ErrInvalidTopic, parts[1]))
	}
}

// handleCommand processes a command for one display.
func (b *Bridge) handleCommand(deviceID int, payload []byte) {
	b.commandsRx.Add(1)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"device_id", deviceID,
		"command", cmd.Command)

	if cmd.DeviceID != nil && *cmd.DeviceID != deviceID {
		b.publishAckError(cmd, deviceID, ErrCodeInvalidParameters,
			fmt.Sprintf("device_id %d does not match topic address %d", *cmd.DeviceID, deviceID))
		return
	}

	switch cmd.Command {
	case CommandSet:
		b.executeSet(cmd, deviceID)
	case CommandRefresh:
		b.coord.RequestRefresh()
		b.publishAck(NewAckMessage(cmd, deviceID, AckAccepted))
	default:
		b.publishAckError(cmd, deviceID, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

// executeSet validates and queues a write. The accepted ack and the
// pending entry are recorded under pendingMu so a drain failure always
// finds its command and is acknowledged after the accept.
func (b *Bridge) executeSet(cmd CommandMessage, deviceID int) {
	ctrl, value, err := parseSetParameters(cmd.Parameters)
	if err != nil {
		b.publishAckError(cmd, deviceID, ErrCodeInvalidParameters, err.Error())
		return
	}

	source := cmd.Source
	if source == "" {
		source = defaultSource
	}

	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	req, err := b.coord.RequestWrite(deviceID, ctrl, value, source)
	if err != nil {
		b.publishAckError(cmd, deviceID, errorCode(err), err.Error())
		return
	}

	b.pending[req.ID] = pendingCommand{cmd: cmd, deviceID: deviceID}

	ack := NewAckMessage(cmd, deviceID, AckAccepted)
	ack.WriteID = req.ID
	b.publishAck(ack)
}

// parseSetParameters extracts {"control": "...", "value": n}.
func parseSetParameters(params map[string]any) (display.Control, int, error) {
	name, ok := params["control"].(string)
	if !ok || name == "" {
		return "", 0, fmt.Errorf("%w: missing 'control' parameter", ErrInvalidParameters)
	}
	ctrl, err := display.ParseControl(name)
	if err != nil {
		return "", 0, fmt.Errorf("%w: unknown control %q", ErrInvalidParameters, name)
	}

	raw, ok := params["value"]
	if !ok {
		return "", 0, fmt.Errorf("%w: missing 'value' parameter", ErrInvalidParameters)
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return "", 0, fmt.Errorf("%w: 'value' must be an integer", ErrInvalidParameters)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		return "", 0, fmt.Errorf("%w: 'value' out of range", ErrInvalidParameters)
	}

	return ctrl, int(f), nil
}

// errorCode maps coordinator errors to ack error codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, display.ErrUnknownDevice):
		return ErrCodeNotConfigured
	case errors.Is(err, display.ErrUnsupportedControl), errors.Is(err, display.ErrInvalidValue):
		return ErrCodeInvalidParameters
	case display.IsTransportClass(err):
		return ErrCodeDeviceUnreachable
	default:
		return ErrCodeBridgeError
	}
}

func (b *Bridge) publishAck(ack AckMessage) {
	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}
	if err := b.mqtt.Publish(AckTopic(ack.DeviceID), payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, deviceID int, code, message string) {
	b.publishAck(NewAckError(cmd, deviceID, code, message))
	b.logWarn("command failed",
		"command_id", cmd.ID,
		"device_id", deviceID,
		"code", code,
		"message", message)
}

// handleRequest answers read_state, read_all and list_devices.
func (b *Bridge) handleRequest(topicID string, payload []byte) {
	b.requestsRx.Add(1)

	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = topicID
	}

	b.logInfo("received request",
		"request_id", req.RequestID,
		"action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionReadState:
		resp = b.handleReadState(req)
	case ActionReadAll:
		resp = b.handleReadAll(req)
	case ActionListDevices:
		resp = okResponse(req, map[string]any{"devices": b.coord.Devices()})
	default:
		resp = errorResponse(req, ErrCodeInvalidCommand, fmt.Sprintf("unknown action: %s", req.Action))
	}

	respPayload, err := json.Marshal(resp)
	if err != nil {
		b.logError("failed to marshal response", err)
		return
	}
	if err := b.mqtt.Publish(ResponseTopic(req.RequestID), respPayload, 1, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleReadState(req RequestMessage) ResponseMessage {
	if req.DeviceID == nil {
		return errorResponse(req, ErrCodeInvalidParameters, "device_id is required")
	}
	ds, ok := b.coord.DeviceState(*req.DeviceID)
	if !ok {
		return errorResponse(req, ErrCodeNotConfigured, fmt.Sprintf("device %d not configured", *req.DeviceID))
	}
	return okResponse(req, map[string]any{"device": NewStateMessage(ds, labelsFor(ds))})
}

func (b *Bridge) handleReadAll(req RequestMessage) ResponseMessage {
	snap := b.coord.Snapshot()
	devices := make([]StateMessage, 0, len(snap.Devices))
	for _, ds := range snap.Devices {
		devices = append(devices, NewStateMessage(ds, labelsFor(ds)))
	}
	return okResponse(req, map[string]any{
		"devices": devices,
		"sync":    snap.Status,
	})
}

func okResponse(req RequestMessage, data map[string]any) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Data:      data,
	}
}

func errorResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

// =============================================================================
// Coordinator events
// =============================================================================

// handleEvent is registered with the coordinator in Start.
func (b *Bridge) handleEvent(ev display.Event) {
	if b.stopped() {
		return
	}

	switch ev.Type {
	case display.EventValueChanged:
		b.publishState(ev.Device.ID)
	case display.EventDeviceDiscovered:
		b.publishDiscovery()
		b.publishState(ev.Device.ID)
	case display.EventWriteApplied:
		b.resolvePending(ev.Write)
		b.publishControlChanged(ev)
	case display.EventWriteFailed:
		b.handleWriteFailed(ev)
	case display.EventSyncCompleted:
		// Option tables may have arrived after the values they label.
		b.publishDiscovery()
		for _, d := range b.coord.Devices() {
			b.publishState(d.ID)
		}
	case display.EventSyncFailed:
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	}
}

// resolvePending removes and returns the command that produced req.
func (b *Bridge) resolvePending(req *display.WriteRequest) (pendingCommand, bool) {
	if req == nil {
		return pendingCommand{}, false
	}
	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()

	p, ok := b.pending[req.ID]
	delete(b.pending, req.ID)
	return p, ok
}

func (b *Bridge) handleWriteFailed(ev display.Event) {
	p, ok := b.resolvePending(ev.Write)
	if !ok {
		return
	}
	msg := "write dropped"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	b.publishAckError(p.cmd, p.deviceID, ErrCodeDeviceUnreachable, msg)
}

func (b *Bridge) publishControlChanged(ev display.Event) {
	if ev.Write == nil {
		return
	}
	w := ev.Write

	event := ControlChangedEvent{
		DeviceID:  w.DeviceID,
		Control:   w.Control.String(),
		Value:     w.Value,
		Source:    w.Source,
		Timestamp: ev.Timestamp,
	}
	if ds, ok := b.coord.DeviceState(w.DeviceID); ok {
		if table, ok := ds.Options[w.Control]; ok {
			event.Label, _ = table.Label(w.Value)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		b.logError("failed to marshal control_changed", err)
		return
	}
	if err := b.mqtt.Publish(ControlChangedTopic(), payload, 1, false); err != nil {
		b.logError("failed to publish control_changed", err)
	}
}

// publishState publishes a device's retained state if it differs from
// what was last published.
func (b *Bridge) publishState(deviceID int) {
	ds, ok := b.coord.DeviceState(deviceID)
	if !ok {
		return
	}
	msg := NewStateMessage(ds, labelsFor(ds))

	sig, err := stateSignature(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	b.stateCacheMu.Lock()
	defer b.stateCacheMu.Unlock()

	if b.stateCache[deviceID] == sig {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}
	if err := b.mqtt.Publish(StateTopic(deviceID), payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}

	b.stateCache[deviceID] = sig
	b.statesPublished.Add(1)
}

// stateSignature covers everything but the timestamp.
func stateSignature(msg StateMessage) (string, error) {
	data, err := json.Marshal(struct {
		Model  string                        `json:"model"`
		State  map[string]any                `json:"state"`
		States map[string]display.ValueState `json:"states"`
	}{msg.Model, msg.State, msg.States})
	return string(data), err
}

// labelsFor returns the current label of every enumerated control.
func labelsFor(ds display.DeviceState) map[display.Control]string {
	labels := make(map[display.Control]string)
	for ctrl, v := range ds.Values {
		if ctrl.Kind() != display.KindEnumerated || !v.Known() {
			continue
		}
		if label, ok := ds.Options[ctrl].Label(v.Value); ok {
			labels[ctrl] = label
		}
	}
	return labels
}

// publishDiscovery republishes the retained device list when it changed.
func (b *Bridge) publishDiscovery() {
	msg := NewDiscoveryMessage(b.bridgeID, b.coord.Snapshot().Devices)

	sig, err := json.Marshal(msg.Devices)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}

	b.discoveryMu.Lock()
	defer b.discoveryMu.Unlock()

	if b.lastDiscovery == string(sig) {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}
	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, true); err != nil {
		b.logError("failed to publish discovery", err)
		return
	}
	b.lastDiscovery = string(sig)
	b.logInfo("published discovery", "devices", len(msg.Devices))
}

// ClearStateCache forgets what was published so the next change
// republishes every device, e.g. after the broker lost retained messages.
func (b *Bridge) ClearStateCache() {
	b.stateCacheMu.Lock()
	b.stateCache = make(map[int]string)
	b.stateCacheMu.Unlock()

	b.discoveryMu.Lock()
	b.lastDiscovery = ""
	b.discoveryMu.Unlock()
}

// Republish publishes discovery, every device's state and health again.
// Call it after the broker connection is restored: retained messages may
// be gone and the will has marked the bridge offline.
func (b *Bridge) Republish() {
	if b.stopped() {
		return
	}
	b.ClearStateCache()
	b.publishDiscovery()
	for _, d := range b.coord.Devices() {
		b.publishState(d.ID)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to republish health", err)
	}
	b.logInfo("republished retained topics", "devices", len(b.coord.Devices()))
}

// =============================================================================
// Logging and metrics
// =============================================================================

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// BridgeMetrics contains metrics data for the API.
type BridgeMetrics struct {
	Connected        bool   `json:"connected"`
	Status           string `json:"status"`
	CommandsReceived uint64 `json:"commands_received"`
	RequestsReceived uint64 `json:"requests_received"`
	StatesPublished  uint64 `json:"states_published"`
	PendingAcks      int    `json:"pending_acks"`
	DevicesManaged   int    `json:"devices_managed"`
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	b.pendingMu.Lock()
	pending := len(b.pending)
	b.pendingMu.Unlock()

	status, _ := b.health.determineStatus()
	if b.stopped() {
		status = HealthStopping
	}

	return BridgeMetrics{
		Connected:        b.mqtt.IsConnected(),
		Status:           string(status),
		CommandsReceived: b.commandsRx.Load(),
		RequestsReceived: b.requestsRx.Load(),
		StatesPublished:  b.statesPublished.Load(),
		PendingAcks:      pending,
		DevicesManaged:   len(b.coord.Devices()),
	}
}
