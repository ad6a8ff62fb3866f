// Package mqtt provides single-attempt broker sessions for the board bridge.
//
// A Dialer makes one connect attempt per Dial call. Paho's automatic
// reconnect is turned off: when a session drops, an EventConnectionLost is
// sent on the caller's event channel and the caller decides when to dial
// again. Inbound messages arrive on the same channel as EventMessage, in
// the order the broker delivered them.
//
// # Usage
//
//	events := make(chan mqtt.Event, 64)
//	dialer := mqtt.NewDialer(cfg.MQTT, logger)
//
//	sess, err := dialer.Dial(ctx, mqtt.Endpoint{Host: "broker.local", Port: 1883}, events)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	if err := sess.Subscribe("/tvcwb1299/mmm/sta/#", 0); err != nil {
//	    return err
//	}
//	for ev := range events {
//	    // ev.Kind, ev.Topic, ev.Payload
//	}
//
// # Security Considerations
//
//   - Set cfg.Broker.TLS for brokers outside the local network
//   - Credentials come from configuration or BOARDBRIDGE_MQTT_* variables
package mqtt
