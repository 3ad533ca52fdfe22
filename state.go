package vosk

// State represents the lifecycle position of a streaming session.
type State string

const (
	// StateInit is the state of a freshly constructed session.
	StateInit State = "Init"

	// StateConnecting indicates the WebSocket connection is being established.
	StateConnecting State = "Connecting"

	// StateConfigured indicates the connection is up but no handshake has been sent yet.
	// The handshake is deferred until the first audio frame provides the sample rate.
	StateConfigured State = "Configured"

	// StateStreaming indicates the handshake was sent and audio is flowing.
	StateStreaming State = "Streaming"

	// StateClosed indicates the transport is gone. A closed session is never reused.
	StateClosed State = "Closed"
)

// IsActive returns true if the session holds, or is acquiring, a transport.
func (s State) IsActive() bool {
	switch s {
	case StateConnecting, StateConfigured, StateStreaming:
		return true
	default:
		return false
	}
}

// CanSend returns true if audio may be written in this state.
func (s State) CanSend() bool {
	switch s {
	case StateConfigured, StateStreaming:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the state cannot transition further.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}
