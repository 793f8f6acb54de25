package mailbox

// State is the watcher's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StatePolling
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StatePolling:
		return "polling"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}
