// Package mqtt provides MQTT client connectivity for SnapDog Core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders for the {prefix}/{category}/snapcast/... hierarchy
//
// # Architecture
//
// MQTT is how home automation talks to SnapDog. Snapcast state is
// published as retained JSON, server notifications are mirrored as events,
// and commands arrive on the command topics.
//
//	Home automation ↔ MQTT Broker ↔ SnapDog Core ↔ Snapserver
//
// # Security Considerations
//
//   - Use TLS for brokers outside the local host (cfg.Broker.TLS=true)
//   - Credentials belong in SNAPDOG_MQTT_USERNAME / SNAPDOG_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllSnapcastCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        target, ok := topics.ParseSnapcastCommand(topic)
//	        ...
//	    })
//
//	client.Publish(topics.SnapcastHealth(), []byte(`{"status":"online"}`), client.QoS(), true)
package mqtt
