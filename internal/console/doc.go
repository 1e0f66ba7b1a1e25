// Package console implements the interactive operator dashboard for a
// shore station.
//
// # Overview
//
// The dashboard is a full-screen terminal UI built on Bubble Tea. It
// shows the connected vehicles, the most recent heartbeat from each,
// and a live thruster telemetry table, and it turns operator keystrokes
// into control broadcasts.
//
// # Wiring
//
// The dashboard and the shore server are connected in two directions.
// Server events (heartbeats, connects, disconnects) flow in through the
// callbacks returned by Dashboard.Callbacks, which forward them into
// the running Bubble Tea program. Operator commands flow out through
// the Commander interface, implemented by *shore.Server:
//
//	dash := console.New()
//	srv := shore.New(cfg, dash.Callbacks())
//	if err := srv.Start(); err != nil { ... }
//	defer srv.Stop()
//	if err := dash.Run(srv); err != nil { ... }
//
// # Key Bindings
//
//   - space: toggle the run flag and broadcast
//   - l: toggle lights and broadcast
//   - arrow keys: step camera pan/tilt and broadcast
//   - r: request an immediate heartbeat from all vehicles
//   - q / ctrl+c: quit
package console
