// Package mqtt provides MQTT client connectivity for the matrix bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge publishes retained device state and health to the broker
// and consumes JSON commands from the command topic, so home-automation
// platforms can drive the matrix without speaking its serial protocol.
//
//	Automation platform ↔ MQTT Broker ↔ avmatrixd ↔ HDMI matrix (TCP)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.DeviceCommand("matrix-01"), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(payload)
//	    })
package mqtt
