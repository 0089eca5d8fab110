package types

// LinkState is derived every cycle from the network subsystem and never persisted.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnected
)

func (s LinkState) String() string {
	if s == LinkConnected {
		return "connected"
	}
	return "disconnected"
}

func (s LinkState) Connected() bool {
	return s == LinkConnected
}
