// Package bridge connects field control boards to the device registry
// through an MQTT broker.
//
// Boards publish status messages under one topic namespace. The Manager
// keeps a broker session subscribed to the status wildcard and hands each
// message, one at a time and in arrival order, to a Pipeline:
//
//	topic ──▶ Resolver ──▶ Decode ──▶ Recorder ──▶ registry
//	                                      │
//	                                      └─ STT / TUR ──▶ Dispatcher ──▶ command topic
//
// Resolver finds the board from the last two octets of its MAC embedded in
// the topic, and on long topics the sensor from the trailing id. Decode
// splits the payload into a value and an optional device timestamp.
// Recorder stores a reading (scaled by the sensor's precision) or a board
// status code, and asks the Dispatcher to send the current time to boards
// that report startup (STT) or request it (TUR).
//
// Dropped messages are logged and counted; nothing is retried. The Manager
// retries broker connects with a fixed delay forever and notifies operators
// once per outage.
//
// # Usage
//
//	mgr := bridge.NewManager(bridge.ManagerConfig{StatusWildcard: "/tvcwb1299/mmm/sta/#"},
//	    repo, bridge.PahoDialer(mqtt.NewDialer(cfg.MQTT, log)))
//	disp := bridge.NewDispatcher(bridge.DispatcherConfig{...}, mgr, log, m)
//	rec := bridge.NewRecorder(repo, disp, log, m)
//	pipe := bridge.NewPipeline(bridge.NewResolver(layout, repo), rec, log, m)
//
//	if err := mgr.Start(ctx, pipe); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package bridge
