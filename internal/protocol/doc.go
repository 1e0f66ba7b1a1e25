// Package protocol implements the ROV link wire protocol.
//
// This package handles framing, integrity checking, and the typed message
// envelope shared by the vehicle and shore peers. It is the only place in
// the codebase that knows the binary layout of bytes on the wire.
//
// # Frame Format
//
// Every message travels inside one frame:
//
//	[ length:   4 bytes, big-endian, payload byte count ]
//	[ checksum: 4 bytes, first 4 bytes of MD5(payload)  ]
//	[ payload:  length bytes                            ]
//
// The checksum detects corruption only; it provides no security. A frame
// whose checksum does not match its payload is corrupt and is never
// delivered to the application layer.
//
// # Incremental Decoding
//
// TCP delivers a byte stream, not messages, so frames arrive in arbitrary
// fragments. Decode operates on an accumulation buffer and reports how many
// bytes it consumed:
//
//	frame, n, err := protocol.Decode(buf)
//	switch {
//	case err == nil && frame == nil:
//	    // incomplete frame, wait for more bytes
//	case errors.Is(err, protocol.ErrChecksumMismatch):
//	    buf = buf[n:] // drop the corrupt frame, resume parsing
//	default:
//	    buf = buf[n:] // complete frame consumed
//	}
//
// On corruption the decoder skips the full declared frame (header plus
// declared payload length) and resynchronizes at the next header. This
// trusts the length field of a corrupt frame, which is acceptable over TCP
// where payload corruption indicates a peer bug rather than line noise.
//
// # Message Envelope
//
// A frame's payload is an envelope: a one-byte message kind followed by the
// kind-specific serialized message. Three kinds exist: HEARTBEAT (vehicle
// to shore status), CONTROL (shore to vehicle command), and
// HEARTBEAT_REQUEST (shore asking for an immediate heartbeat). Receivers
// log and discard unknown kinds rather than failing the connection.
package protocol
