package mqtt

import "fmt"

// Topic prefixes for BrightDock.
//
// All bridge topics use the flat scheme: brightdock/{category}/{protocol}/{address}
// This matches the DDC bridge's messages.go.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	TopicPrefixBridge = "brightdock"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "brightdock/system"
)

// Topics provides builders for BrightDock MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("ddc", "0")
//	// Returns: "brightdock/state/ddc/0"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for device state updates from a bridge.
//
// Example: brightdock/state/ddc/0
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: brightdock/command/ddc/0
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: brightdock/ack/ddc/0
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeEvent returns the topic for bridge events.
//
// Example: brightdock/event/ddc/control_changed
func (Topics) BridgeEvent(protocol, eventType string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefixBridge, protocol, eventType)
}

// BridgeResponse returns the topic for request responses from a bridge.
//
// Example: brightdock/response/ddc/req-abc123
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeRequest returns the topic for requests to a bridge.
//
// Example: brightdock/request/ddc/req-abc123
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: brightdock/health/ddc
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the topic for device discovery from a bridge.
//
// Example: brightdock/discovery/ddc
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: brightdock/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
