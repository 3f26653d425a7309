package ddc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Chuffnugget/BrightDock/internal/display"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between home-automation platforms and the
// DDC bridge. Addresses in topics are display IDs as reported by the node.

// Protocol is the protocol segment used in every bridge topic.
const Protocol = "ddc"

// Command names accepted on the command topic.
const (
	CommandSet     = "set"
	CommandRefresh = "refresh"
)

// Request actions accepted on the request topic.
const (
	ActionReadState   = "read_state"
	ActionReadAll     = "read_all"
	ActionListDevices = "list_devices"
)

// CommandMessage is sent to the bridge to change a display control.
// Topic: brightdock/command/ddc/{device_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is optional; the topic address is authoritative.
	DeviceID *int `json:"device_id,omitempty"`

	// Command is "set" or "refresh".
	Command string `json:"command"`

	// Parameters for "set": {"control": "brightness", "value": 60}
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("automation", "voice", ...).
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// UnmarshalJSON accepts an empty or RFC3339 timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was validated and the write queued.
	AckAccepted AckStatus = "accepted"

	// AckQueued indicates the command was received while writes are pending.
	AckQueued AckStatus = "queued"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage acknowledges a command.
// Topic: brightdock/ack/ddc/{device_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  int       `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Address   string    `json:"address"`

	// WriteID is the coordinator's request ID for an accepted "set".
	WriteID string `json:"write_id,omitempty"`

	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_PARAMETERS").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage carries a display's full cached state.
// Topic: brightdock/state/ddc/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  int       `json:"device_id"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`

	// State maps control names to values. Enumerated controls with a
	// known label add "<control>_label".
	State map[string]any `json:"state"`

	// States maps control names to "confirmed", "optimistic" or "unknown".
	States map[string]display.ValueState `json:"states"`

	Protocol string `json:"protocol"`
	Address  string `json:"address"`
}

// ControlChangedEvent fires after a user write has been applied by the node.
// Topic: brightdock/event/ddc/control_changed
type ControlChangedEvent struct {
	DeviceID  int       `json:"device_id"`
	Control   string    `json:"control"`
	Value     int       `json:"value"`
	Label     string    `json:"label,omitempty"`
	Source    string    `json:"source,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: brightdock/health/ddc
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge         string            `json:"bridge"`
	Timestamp      time.Time         `json:"timestamp"`
	Status         HealthStatus      `json:"status"`
	Version        string            `json:"version"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	Connection     *ConnectionStatus `json:"connection,omitempty"`
	Statistics     *BridgeStatistics `json:"statistics,omitempty"`
	DevicesManaged int               `json:"devices_managed"`
	Reason         string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the link to the control-surface node.
type ConnectionStatus struct {
	// Status is "connecting", "connected" or "error: <last error>".
	Status string `json:"status"`

	// Address is the node URL.
	Address string `json:"address"`

	// LastSuccess is when a poll cycle last completed.
	LastSuccess *time.Time `json:"last_success,omitempty"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	PollCycles          uint64 `json:"poll_cycles"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	ReadFailures        int    `json:"read_failures"`
	WritesApplied       uint64 `json:"writes_applied"`
	WritesFailed        uint64 `json:"writes_failed"`
	WritesPending       int    `json:"writes_pending"`
}

// RequestMessage asks the bridge for state.
// Topic: brightdock/request/ddc/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state", "read_all" or "list_devices".
	Action string `json:"action"`

	// DeviceID is required for read_state.
	DeviceID *int `json:"device_id,omitempty"`
}

// ResponseMessage answers a request.
// Topic: brightdock/response/ddc/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DiscoveryMessage announces every known display.
// Topic: brightdock/discovery/ddc
// QoS: 1, Retained: Yes
type DiscoveryMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Bridge    string             `json:"bridge"`
	Devices   []DiscoveredDevice `json:"devices"`
}

// DiscoveredDevice describes one display and what it can do.
type DiscoveredDevice struct {
	Protocol     string             `json:"protocol"`
	Address      string             `json:"address"`
	DeviceID     int                `json:"device_id"`
	Model        string             `json:"model"`
	Bus          string             `json:"bus"`
	Capabilities []DeviceCapability `json:"capabilities"`
	InputOptions map[string]string  `json:"input_options,omitempty"`
}

// DeviceCapability describes one control of a display.
type DeviceCapability struct {
	Control string `json:"control"`
	VCPCode string `json:"vcp_code"`
	Kind    string `json:"kind"`
	Min     *int   `json:"min,omitempty"`
	Max     *int   `json:"max,omitempty"`
}

// =============================================================================
// Constructors
// =============================================================================

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, deviceID int, status AckStatus) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   strconv.Itoa(deviceID),
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, deviceID int, code, message string) AckMessage {
	ack := NewAckMessage(cmd, deviceID, AckFailed)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage renders a device's cached state. labels maps enumerated
// controls to the label of their current value.
func NewStateMessage(ds display.DeviceState, labels map[display.Control]string) StateMessage {
	msg := StateMessage{
		DeviceID:  ds.Device.ID,
		Model:     ds.Device.Model,
		Timestamp: time.Now().UTC(),
		State:     make(map[string]any, len(ds.Values)),
		States:    make(map[string]display.ValueState, len(ds.Values)),
		Protocol:  Protocol,
		Address:   strconv.Itoa(ds.Device.ID),
	}

	for ctrl, v := range ds.Values {
		name := ctrl.String()
		msg.States[name] = v.State
		if !v.Known() {
			msg.State[name] = nil
			continue
		}
		msg.State[name] = v.Value
		if label, ok := labels[ctrl]; ok {
			msg.State[name+"_label"] = label
		}
	}

	return msg
}

// NewDiscoveryMessage lists every device with its capabilities.
func NewDiscoveryMessage(bridgeID string, devices []display.DeviceState) DiscoveryMessage {
	msg := DiscoveryMessage{
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Devices:   make([]DiscoveredDevice, 0, len(devices)),
	}

	for _, ds := range devices {
		dd := DiscoveredDevice{
			Protocol: Protocol,
			Address:  strconv.Itoa(ds.Device.ID),
			DeviceID: ds.Device.ID,
			Model:    ds.Device.Model,
			Bus:      ds.Device.Bus,
		}
		for _, ctrl := range display.Controls() {
			dd.Capabilities = append(dd.Capabilities, newCapability(ctrl))
		}
		if table, ok := ds.Options[display.InputSource]; ok && len(table) > 0 {
			dd.InputOptions = make(map[string]string, len(table))
			for _, code := range table.Codes() {
				dd.InputOptions[fmt.Sprintf("%02x", code)] = table[code]
			}
		}
		msg.Devices = append(msg.Devices, dd)
	}

	return msg
}

func newCapability(ctrl display.Control) DeviceCapability {
	c := DeviceCapability{
		Control: ctrl.String(),
		VCPCode: fmt.Sprintf("0x%02X", ctrl.VCPCode()),
		Kind:    string(ctrl.Kind()),
	}
	if ctrl.Kind() == display.KindContinuous {
		lo, hi := ctrl.Range()
		c.Min, c.Max = &lo, &hi
	}
	return c
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version, nodeAddress string, status HealthStatus, stats display.Stats, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: stats.Devices,
		Connection: &ConnectionStatus{
			Status:  stats.Status.ConnectionLabel(),
			Address: nodeAddress,
		},
		Statistics: &BridgeStatistics{
			PollCycles:          stats.Status.TotalCycles,
			ConsecutiveFailures: stats.Status.ConsecutiveFailures,
			ReadFailures:        stats.Status.ReadFailures,
			WritesApplied:       stats.WritesApplied,
			WritesFailed:        stats.WritesFailed,
			WritesPending:       stats.PendingWrites,
		},
	}

	if !stats.Status.LastSuccessAt.IsZero() {
		at := stats.Status.LastSuccessAt
		msg.Connection.LastSuccess = &at
	}

	return msg
}

// NewLWTMessage creates the offline health message the broker publishes
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// LWTPayload is the encoded NewLWTMessage, registered as the MQTT will on
// HealthTopic when the connection is made.
func LWTPayload(bridgeID string) ([]byte, error) {
	return json.Marshal(NewLWTMessage(bridgeID))
}

// =============================================================================
// Topic helpers
// =============================================================================

var topics = mqtt.Topics{}

// CommandTopic returns the command topic for a display.
// Example: brightdock/command/ddc/0
func CommandTopic(deviceID int) string {
	return topics.BridgeCommand(Protocol, strconv.Itoa(deviceID))
}

// AckTopic returns the acknowledgment topic for a display.
func AckTopic(deviceID int) string {
	return topics.BridgeAck(Protocol, strconv.Itoa(deviceID))
}

// StateTopic returns the retained state topic for a display.
func StateTopic(deviceID int) string {
	return topics.BridgeState(Protocol, strconv.Itoa(deviceID))
}

// ControlChangedTopic returns the topic for applied user writes.
func ControlChangedTopic() string {
	return topics.BridgeEvent(Protocol, "control_changed")
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// DiscoveryTopic returns the retained device discovery topic.
func DiscoveryTopic() string {
	return topics.BridgeDiscovery(Protocol)
}

// RequestTopic returns the topic for a request.
func RequestTopic(requestID string) string {
	return topics.BridgeRequest(Protocol, requestID)
}

// ResponseTopic returns the topic for a response.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, requestID)
}

// CommandSubscribeTopic matches commands for every display.
func CommandSubscribeTopic() string {
	return topics.BridgeCommand(Protocol, "+")
}

// RequestSubscribeTopic matches every request.
func RequestSubscribeTopic() string {
	return topics.BridgeRequest(Protocol, "+")
}
