package dht

// State is the lifecycle phase of a Client.
type State int

const (
	Disconnected State = iota + 1
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	}
	return "<unknown>"
}
