// BrightDock - display state synchronisation for DDC/CI monitors
//
// This is the main entry point for the BrightDock coordinator. It keeps a
// cached picture of every display behind a control-surface node in sync with
// the hardware and publishes it over:
//   - a REST + WebSocket API
//   - an MQTT bridge for home automation controllers
//   - InfluxDB telemetry (optional)
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Chuffnugget/BrightDock/internal/api"
	"github.com/Chuffnugget/BrightDock/internal/bridges/ddc"
	"github.com/Chuffnugget/BrightDock/internal/controlsurface"
	"github.com/Chuffnugget/BrightDock/internal/display"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/config"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/influxdb"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/logging"
	"github.com/Chuffnugget/BrightDock/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting BrightDock",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Control-surface client (no connection is made here)
	surface, err := controlsurface.New(cfg.Node)
	if err != nil {
		return fmt.Errorf("creating control-surface client: %w", err)
	}

	// Display coordinator
	coord, err := display.New(display.Options{
		Surface:           surface,
		PollInterval:      cfg.GetPollInterval(),
		SettleDelay:       cfg.GetSettleDelay(),
		RequestTimeout:    cfg.GetRequestTimeout(),
		RefreshAfterWrite: cfg.Sync.RefreshAfterWrite,
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("creating coordinator: %w", err)
	}

	// Connect to InfluxDB (optional). Subscribed before Start so the first
	// cycle is recorded.
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		coord.Subscribe(newTelemetryRecorder(influxClient))
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("starting coordinator: %w", err)
	}
	defer func() {
		log.Info("stopping coordinator")
		coord.Stop()
	}()
	log.Info("coordinator started",
		"node", surface.URL(),
		"poll_interval", cfg.GetPollInterval(),
	)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	reconnect := &reconnectHook{log: log}
	if cfg.MQTT.Enabled {
		connectOpts, optsErr := mqttConnectOptions(cfg)
		if optsErr != nil {
			return fmt.Errorf("building MQTT will: %w", optsErr)
		}
		mqttClient, err = mqtt.Connect(cfg.MQTT, connectOpts...)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(reconnect.onConnect)
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Start the DDC bridge (requires MQTT, enforced by config validation)
	var bridge *ddc.Bridge
	if cfg.Bridge.Enabled && mqttClient != nil {
		bridge, err = startDDCBridge(ctx, cfg, coord, surface.URL(), mqttClient, log)
		if err != nil {
			return fmt.Errorf("starting DDC bridge: %w", err)
		}
		reconnect.attach(bridge)
		defer func() {
			log.Info("stopping DDC bridge")
			reconnect.attach(nil)
			bridge.Stop()
		}()
	} else {
		log.Info("DDC bridge disabled")
	}

	// HTTP API + WebSocket
	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log,
		Coordinator: coord,
		Node:        surface,
		Version:     version,
	}
	if bridge != nil {
		deps.Bridge = bridge
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if err := surface.HealthCheck(ctx); err != nil {
		// Not fatal: the coordinator keeps polling and reports the
		// connection state until the node comes back.
		log.Warn("control-surface node not reachable", "url", surface.URL(), "error", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. DDC bridge
	// 3. MQTT
	// 4. Coordinator
	// 5. InfluxDB

	log.Info("BrightDock stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses BRIGHTDOCK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("BRIGHTDOCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional infrastructure connections.
// Either client may be nil when disabled.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// mqttConnectOptions hands the connection's will to the DDC bridge when it
// runs, so an unexpected disconnect marks the bridge offline.
func mqttConnectOptions(cfg *config.Config) ([]mqtt.ConnectOption, error) {
	if !cfg.Bridge.Enabled {
		return nil, nil
	}
	payload, err := ddc.LWTPayload(cfg.Bridge.ID)
	if err != nil {
		return nil, err
	}
	return []mqtt.ConnectOption{mqtt.WithWill(mqtt.Will{Topic: ddc.HealthTopic(), Payload: payload})}, nil
}

// republisher is the part of *ddc.Bridge the reconnect hook drives.
type republisher interface {
	Republish()
}

// reconnectHook runs on every MQTT (re)connect. The broker may have lost
// retained messages and published the bridge's will, so the attached
// bridge publishes its retained topics again.
type reconnectHook struct {
	log *logging.Logger

	mu     sync.Mutex
	target republisher
}

func (h *reconnectHook) attach(r republisher) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = r
}

func (h *reconnectHook) onConnect() {
	h.mu.Lock()
	target := h.target
	h.mu.Unlock()

	h.log.Info("MQTT connected")
	if target != nil {
		target.Republish()
	}
}

// startDDCBridge creates and starts the MQTT bridge for the coordinator.
func startDDCBridge(ctx context.Context, cfg *config.Config, coord *display.Coordinator, nodeURL string, mqttClient *mqtt.Client, log *logging.Logger) (*ddc.Bridge, error) {
	bridge, err := ddc.NewBridge(ddc.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		NodeAddress:    nodeURL,
		HealthInterval: cfg.GetHealthInterval(),
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient, log: log},
		Coordinator:    coord,
		Logger:         log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}

	log.Info("DDC bridge started", "bridge_id", cfg.Bridge.ID)
	return bridge, nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the DDC bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - DDC bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
	log    *logging.Logger
}

// Publish implements ddc.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements ddc.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	err := a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
	if err != nil {
		a.log.Error("bridge subscription failed", "topic", topic, "error", err)
	}
	return err
}

// Unsubscribe implements ddc.MQTTClient.
func (a *mqttBridgeAdapter) Unsubscribe(topic string) error {
	return a.client.Unsubscribe(topic)
}

// IsConnected implements ddc.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
