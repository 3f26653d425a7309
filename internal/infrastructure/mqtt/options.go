package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Chuffnugget/BrightDock/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options from the MQTT config section.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID for identification
//   - Authentication credentials (if provided)
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
	opts.AddBroker(brokerURL)

	// Client identification
	opts.SetClientID(cfg.Broker.ClientID)

	// Authentication (if credentials provided)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker sends PINGs to detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	// TLS configuration if enabled
	if cfg.Broker.TLS {
		tlsConfig := &tls.Config{
			MinVersion: tlsMinVersion,
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}

// Status values and reasons for the system status topic.
const (
	statusOnline  = "online"
	statusOffline = "offline"

	reasonUnexpected = "unexpected_disconnect"
	reasonGraceful   = "graceful_shutdown"

	// serviceName identifies this process on the shared status topic.
	serviceName = "brightdock"
)

// statusPayload is published retained on the system status topic.
type statusPayload struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Will is a retained message the broker publishes on this client's behalf
// when the connection drops without a clean disconnect.
type Will struct {
	Topic   string
	Payload []byte
}

// ConnectOption customises Connect.
type ConnectOption func(*connectSettings)

type connectSettings struct {
	will *Will
}

// WithWill replaces the default system status will. MQTT allows one will
// per connection, so a process that also runs a bridge hands the will to
// the bridge's health topic.
func WithWill(w Will) ConnectOption {
	return func(s *connectSettings) {
		s.will = &w
	}
}

// configureLWT sets up Last Will and Testament for offline detection.
//
// Without an explicit will, the broker marks the service offline on
// brightdock/system/status. Either way the will is QoS 1 and retained so
// late subscribers see it.
func configureLWT(opts *pahomqtt.ClientOptions, clientID string, will *Will) {
	if will != nil && will.Topic != "" {
		opts.SetBinaryWill(will.Topic, will.Payload, 1, true)
		return
	}
	willTopic := Topics{}.SystemStatus()
	opts.SetWill(willTopic, string(buildStatusPayload(statusOffline, clientID, reasonUnexpected)), 1, true)
}

// buildStatusPayload creates the JSON payload for a system status message.
func buildStatusPayload(status, clientID, reason string) []byte {
	data, err := json.Marshal(statusPayload{
		Status:    status,
		Service:   serviceName,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return []byte(fmt.Sprintf(`{"status":%q}`, status))
	}
	return data
}
