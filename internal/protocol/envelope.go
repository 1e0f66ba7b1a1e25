package protocol

import (
	"errors"
	"fmt"
)

// Kind identifies the logical message type carried inside one frame.
type Kind byte

const (
	// KindHeartbeat is a periodic status report, vehicle to shore.
	KindHeartbeat Kind = 0x01
	// KindControl is an operator command, shore to vehicle.
	KindControl Kind = 0x02
	// KindHeartbeatRequest asks the vehicle for an immediate heartbeat.
	KindHeartbeatRequest Kind = 0x03
)

var (
	// ErrEmptyEnvelope is returned when a frame payload has no kind byte.
	ErrEmptyEnvelope = errors.New("protocol: empty envelope")

	// ErrUnknownKind is returned for an unrecognized message kind. The
	// receiver should log and discard the message, not fail the
	// connection.
	ErrUnknownKind = errors.New("protocol: unknown message kind")
)

// KnownKind reports whether k is a message kind this protocol version
// understands.
func KnownKind(k Kind) bool {
	switch k {
	case KindHeartbeat, KindControl, KindHeartbeatRequest:
		return true
	}
	return false
}

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindControl:
		return "control"
	case KindHeartbeatRequest:
		return "heartbeat_request"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(k))
	}
}

// Envelope is the typed logical message multiplexed over one stream: a
// kind discriminator plus the kind-specific serialized payload.
type Envelope struct {
	Kind    Kind
	Payload []byte
}

// Wrap builds the serialized envelope ready for framing: the kind byte
// followed by the payload bytes.
func Wrap(kind Kind, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(kind)
	copy(buf[1:], payload)
	return buf
}

// Unwrap parses a frame payload into its envelope. Parse errors are
// recoverable: the caller discards the one malformed message and keeps the
// connection alive.
func Unwrap(b []byte) (Envelope, error) {
	if len(b) == 0 {
		return Envelope{}, ErrEmptyEnvelope
	}
	kind := Kind(b[0])
	if !KnownKind(kind) {
		return Envelope{}, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, b[0])
	}
	payload := make([]byte, len(b)-1)
	copy(payload, b[1:])
	return Envelope{Kind: kind, Payload: payload}, nil
}
