// Package message defines the decoded application payloads carried by the
// ROV link protocol: control commands (shore to vehicle), heartbeats
// (vehicle to shore), and heartbeat requests.
//
// Messages serialize to JSON for the wire. The protocol layer treats these
// bytes as opaque; only the producing and consuming collaborators (thruster
// manager, sensor drivers, operator console) interpret them.
//
// Field validation is deliberately the consumer's job, not the protocol's:
// a control command with an out-of-range thruster velocity still travels
// the wire intact and is rejected by ControlMessage.Validate at the point
// of use, surfacing as a surface_error code in the next heartbeat rather
// than as a protocol failure.
package message
