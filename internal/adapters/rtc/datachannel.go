package rtc

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

type serverEvent struct {
	Type string `json:"type"`
}

// bindDataChannel logs realtime server events. Nothing depends on them.
func (m *Manager) bindDataChannel(dc *webrtc.DataChannel) {
	logger := m.logger.With().Str("channel", dc.Label()).Logger()
	dc.OnOpen(func() {
		logger.Info().Msg("data channel open")
	})
	dc.OnClose(func() {
		logger.Info().Msg("data channel closed")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			return
		}
		var ev serverEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Debug().Err(err).Msg("unparseable server event")
			return
		}
		logger.Debug().Str("event", ev.Type).Msg("server event")
	})
}
