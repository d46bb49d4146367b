package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/app/session"
	"github.com/dkeye/Concierge/internal/core"
)

const (
	writeWait  = 5 * time.Second
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type SnapshotSource interface {
	Snapshot() session.Snapshot
}

type StatusWSController struct {
	Hub        *Hub
	Sessions   SnapshotSource
	PingPeriod time.Duration
}

func NewStatusWSController(hub *Hub, sessions SnapshotSource, pingPeriod time.Duration) *StatusWSController {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &StatusWSController{Hub: hub, Sessions: sessions, PingPeriod: pingPeriod}
}

func (ctl *StatusWSController) pongWait() time.Duration {
	return ctl.PingPeriod * 10 / 9
}

func (ctl *StatusWSController) HandleStatus(ctx context.Context, c *gin.Context) {
	client := c.GetString("client_token")
	id := core.SubscriberID(uuid.NewString())

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "panel").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "panel").Str("client", client).Str("sub", string(id)).Msg("status subscriber connected")

	conn := NewStatusConn(ws, sendBuffer)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Add(id, conn, cancel)

	_ = conn.TrySend(StatusFrame(ctl.Sessions.Snapshot()))

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}

func (ctl *StatusWSController) writePump(ctx context.Context, c *StatusConn) {
	ticker := time.NewTicker(ctl.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "panel").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "panel").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "panel").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "panel").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "panel").Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *StatusWSController) readPump(ctx context.Context, id core.SubscriberID, c *StatusConn) {
	defer func() {
		log.Info().Str("module", "panel").Str("sub", string(id)).Msg("readPump closing")
		ctl.Hub.Remove(id)
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "panel").Str("sub", string(id)).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
			ctl.handleMessage(id, c, data)
		}
	}
}

func (ctl *StatusWSController) handleMessage(id core.SubscriberID, c *StatusConn, data []byte) {
	var env typedMessage
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "panel").Msg("bad json")
		ctl.sendJSON(c, typedMessage{Type: typeError, Error: "bad json"})
		return
	}

	switch env.Type {
	case "ping":
		ctl.sendJSON(c, typedMessage{Type: typePong})
	case typeStatus:
		_ = c.TrySend(StatusFrame(ctl.Sessions.Snapshot()))
	default:
		log.Warn().Str("module", "panel").Str("sub", string(id)).Str("type", env.Type).Msg("unknown message")
		ctl.sendJSON(c, typedMessage{Type: typeError, Error: "unknown message type"})
	}
}

func (ctl *StatusWSController) sendJSON(c *StatusConn, v any) {
	if f := encode(v); f != nil {
		_ = c.TrySend(f)
	}
}
