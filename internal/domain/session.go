package domain

// SessionState is the primary connection state of a device session.
type SessionState int

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionReconnecting
)

func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// SessionStatus is a point-in-time view of a session. Reconnecting is
// tracked as a flag beside the primary state: transport reconnect
// notifications set it without forcing a primary transition.
type SessionStatus struct {
	State        SessionState
	Reconnecting bool
	Message      string
	URL          string
}

// EffectiveState folds the reconnecting flag into the state value:
// a session that lost its transport and is backing off reports
// SessionReconnecting rather than plain SessionDisconnected.
func (s SessionStatus) EffectiveState() SessionState {
	if s.Reconnecting && s.State != SessionConnected {
		return SessionReconnecting
	}
	return s.State
}
