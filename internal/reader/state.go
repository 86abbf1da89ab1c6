package reader

// ConnState tracks where a feed connector is in its connect/reconnect cycle.
// The cycle has no terminal state: connectors run for the process lifetime.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
