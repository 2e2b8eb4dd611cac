package realtime

// State is the ready-state of the notification channel.
type State int32

const (
	Disconnected State = iota
	Connecting
	Open
	ClosedError
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case ClosedError:
		return "closed-error"
	default:
		return "unknown"
	}
}
