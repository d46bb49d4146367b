package domain

type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	StateError      ConnectionState = "error"
	StateStopped    ConnectionState = "stopped"
)

// CanStart reports whether a new session may be started from s.
func (s ConnectionState) CanStart() bool {
	return s == StateIdle || s == StateError || s == StateStopped
}

// SpeakingState is the UI-only signal derived from remote playback.
// It is empty unless the connection is established.
type SpeakingState string

const (
	SpeakingNone     SpeakingState = ""
	SpeakingThinking SpeakingState = "thinking"
	SpeakingSpeaking SpeakingState = "speaking"
)
