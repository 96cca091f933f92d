package pairchat

// ConnectionState is the lifecycle state of the live channel.
type ConnectionState int

const (
	// StateDisconnected means Connect has not been called or the link dropped without auto reconnect.
	StateDisconnected ConnectionState = iota

	// StateConnecting means the first dial and hello are in progress.
	StateConnecting

	// StateConnected means events can be emitted and received.
	StateConnected

	// StateReconnecting means the link dropped and the channel is dialing again.
	StateReconnecting

	// StateError means reconnect attempts were exhausted.
	StateError

	// StateClosed means Close was called. The channel cannot be reused.
	StateClosed
)

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateEvent represents a state change event.
type StateEvent struct {
	OldState ConnectionState
	NewState ConnectionState
	Error    error // cause of the transition, if any
}

// Resumed reports whether the transition restored a dropped link.
// Events addressed to the user during the gap are lost; callers refresh history.
func (e StateEvent) Resumed() bool {
	return e.OldState == StateReconnecting && e.NewState == StateConnected
}
