package session

import (
	"github.com/dkeye/Concierge/internal/domain"
)

// Snapshot is everything the control panel renders.
type Snapshot struct {
	State    domain.ConnectionState `json:"state"`
	Speaking domain.SpeakingState   `json:"speaking"`
	Muted    bool                   `json:"muted"`
	Busy     bool                   `json:"busy"`
	Error    string                 `json:"error,omitempty"`
	Label    string                 `json:"label"`

	// MicActive and AssistantActive drive the two wave indicators.
	MicActive       bool `json:"mic_active"`
	AssistantActive bool `json:"assistant_active"`

	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	Voice     string `json:"voice,omitempty"`
}

func (s Snapshot) Connected() bool { return s.State == domain.StateConnected }

func label(assistant string, state domain.ConnectionState, speaking domain.SpeakingState) string {
	if state != domain.StateConnected {
		return "Start conversation"
	}
	switch speaking {
	case domain.SpeakingThinking:
		return assistant + " thinking…"
	case domain.SpeakingSpeaking:
		return assistant + " speaking…"
	}
	return "Start conversation"
}
