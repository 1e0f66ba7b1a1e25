// Package vehicle implements the vehicle-side peer of the ROV link.
//
// A Link owns one outbound TCP connection to the shore station and keeps
// it alive across faults: refused connects, socket errors, silent peer
// death. Two goroutines drive it. The network loop walks the connection
// state machine (DISCONNECTED -> CONNECTING -> CONNECTED, with
// RECONNECTING inserting a fixed delay after a fault) and, while
// connected, performs deadline-bounded reads, reassembles frames from a
// connection-local buffer, and dispatches decoded messages to the
// registered callbacks. The liveness loop independently watches the time
// since the last received byte and tears the connection down when the
// shore has been silent for three heartbeat intervals.
//
// Reconnection is unbounded. The failure counter is reported through
// ReconnectAttempts and logged when it passes the configured maximum, but
// the vehicle never stops trying to reach shore: a tele-operated vehicle
// with no link and no retry is lost equipment.
//
// Callbacks fire on the network loop's goroutine and must not block for
// long; the thruster manager and telemetry collaborators hang off these
// hooks:
//
//	link := vehicle.New(cfg, vehicle.Callbacks{
//	    OnControl:          func(cm message.ControlMessage) { ... },
//	    OnHeartbeatRequest: func() { ... },
//	    OnConnectionChange: func(connected bool) { ... },
//	})
//	if err := link.Start(); err != nil { ... }
//	defer link.Stop()
package vehicle
