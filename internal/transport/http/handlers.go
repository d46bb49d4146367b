package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/app/session"
	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
	"github.com/dkeye/Concierge/internal/metrics"
)

// Sessions is the part of the session controller the panel drives.
type Sessions interface {
	Start(ctx context.Context, opts domain.SessionOptions) error
	ToggleMute() (bool, error)
	StopAudioOnly() error
	End()
	Snapshot() session.Snapshot
}

// Limiter gates start attempts per panel client.
type Limiter interface {
	Allow(client string) bool
}

type StartRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

type MuteResponse struct {
	Muted bool `json:"muted"`
}

type SessionHandlers struct {
	base           context.Context
	sessions       Sessions
	limiter        Limiter
	metrics        *metrics.Metrics
	connectTimeout time.Duration
}

// NewSessionHandlers builds the panel actions. Starts run on base, not on
// the request context, bounded by connectTimeout.
func NewSessionHandlers(base context.Context, s Sessions, l Limiter, m *metrics.Metrics, connectTimeout time.Duration) *SessionHandlers {
	return &SessionHandlers{base: base, sessions: s, limiter: l, metrics: m, connectTimeout: connectTimeout}
}

func (h *SessionHandlers) Register(api *gin.RouterGroup) {
	g := api.Group("/session")
	g.GET("", h.handleSnapshot)
	g.POST("/start", h.handleStart)
	g.POST("/mute", h.handleMute)
	g.POST("/stop-audio", h.handleStopAudio)
	g.POST("/end", h.handleEnd)
}

func (h *SessionHandlers) handleSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

func (h *SessionHandlers) handleStart(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start request"})
			return
		}
	}
	opts := domain.SessionOptions{Model: req.Model, Voice: req.Voice, Instructions: req.Instructions}
	if err := opts.ValidateOverrides(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := h.sessions.Snapshot()
	if snap.Busy || !snap.State.CanStart() {
		c.JSON(http.StatusConflict, gin.H{"error": core.ErrSessionActive.Error()})
		return
	}

	client := c.GetString("client_token")
	if h.limiter != nil && !h.limiter.Allow(client) {
		h.metrics.RecordRateLimitHit()
		log.Warn().Str("module", "transport.http").Str("client", client).Msg("start rate limited")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many start attempts"})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(h.base, h.connectTimeout)
		defer cancel()
		if err := h.sessions.Start(ctx, opts); err != nil {
			log.Warn().Err(err).Str("module", "transport.http").Str("client", client).Msg("start finished with error")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"state": domain.StateConnecting})
}

func (h *SessionHandlers) handleMute(c *gin.Context) {
	muted, err := h.sessions.ToggleMute()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, MuteResponse{Muted: muted})
}

func (h *SessionHandlers) handleStopAudio(c *gin.Context) {
	if err := h.sessions.StopAudioOnly(); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

func (h *SessionHandlers) handleEnd(c *gin.Context) {
	h.sessions.End()
	c.JSON(http.StatusOK, h.sessions.Snapshot())
}

func (h *SessionHandlers) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotConnected), errors.Is(err, core.ErrSessionActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
