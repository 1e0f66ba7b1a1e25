package vehicle

// State is the vehicle link's connection state. Owned exclusively by the
// Link; external code observes it through Link.State.
type State int32

const (
	// StateDisconnected means no connection exists and the network loop
	// will attempt one on its next pass.
	StateDisconnected State = iota
	// StateConnecting means a TCP connect attempt is in flight.
	StateConnecting
	// StateConnected means the link is up and frames are flowing.
	StateConnected
	// StateReconnecting means a fault occurred and the link is waiting
	// out the fixed reconnect delay before trying again.
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "invalid"
	}
}
