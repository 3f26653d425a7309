// Package mqtt provides MQTT client connectivity for BrightDock.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring and message counters
//
// # Architecture
//
// MQTT is how home-automation platforms observe and drive the displays.
// The DDC bridge publishes display state and consumes commands through
// this client:
//
//	display.Coordinator ↔ DDC bridge ↔ MQTT Broker ↔ Home automation
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS=true) when the broker is not on localhost
//   - Anonymous access is only for local development
//   - The broker password is never logged
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommand("ddc", "+"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt
