package connection

import "time"

// Status is the lifecycle state of the connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time copy of the connection state.
// SessionID is non-empty if and only if Status is StatusConnected.
type Snapshot struct {
	Status          Status
	Attempts        int
	SessionID       string
	LastHeartbeatAt time.Time
	LastError       error
}
