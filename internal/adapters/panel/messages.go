package panel

import (
	"bytes"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/app/session"
	"github.com/dkeye/Concierge/internal/app/visual"
	"github.com/dkeye/Concierge/internal/core"
)

const (
	typeStatus = "status"
	typeLevels = "levels"
	typePong   = "pong"
	typeError  = "error"
)

type statusMessage struct {
	Type string `json:"type"`
	session.Snapshot
}

type levelsMessage struct {
	Type   string        `json:"type"`
	Levels visual.Levels `json:"levels"`
}

type typedMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

var levelsPrefix = []byte(`{"type":"levels"`)

func isLevels(f core.Frame) bool {
	return bytes.HasPrefix(f, levelsPrefix)
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "panel").Msg("marshal frame")
		return nil
	}
	return b
}

func StatusFrame(s session.Snapshot) core.Frame {
	return encode(statusMessage{Type: typeStatus, Snapshot: s})
}

func LevelsFrame(l visual.Levels) core.Frame {
	return encode(levelsMessage{Type: typeLevels, Levels: l})
}

// PublishStatus broadcasts a snapshot to every panel.
func (h *Hub) PublishStatus(s session.Snapshot) {
	if f := StatusFrame(s); f != nil {
		h.Broadcast(f)
	}
}

// PublishLevels broadcasts visualizer levels when anyone is listening.
func (h *Hub) PublishLevels(l visual.Levels) {
	if h.Count() == 0 {
		return
	}
	if f := LevelsFrame(l); f != nil {
		h.Broadcast(f)
	}
}
