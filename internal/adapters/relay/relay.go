// Package relay mints ephemeral realtime credentials from the long-lived
// API key, which never leaves the process.
package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/domain"
	"github.com/dkeye/Concierge/internal/metrics"
)

type Config struct {
	APIKey      string
	UpstreamURL string
	Defaults    domain.SessionOptions
	Timeout     time.Duration
}

type Relay struct {
	cfg     Config
	http    *resty.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

type EphemeralRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type upstreamRequest struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions,omitempty"`
}

func New(cfg Config, m *metrics.Metrics) *Relay {
	return &Relay{
		cfg:     cfg,
		http:    resty.New().SetTimeout(cfg.Timeout),
		metrics: m,
		logger:  log.With().Str("module", "adapters.relay").Logger(),
	}
}

func (r *Relay) Register(api *gin.RouterGroup) {
	api.GET("/ephemeral", r.handleGet)
	api.POST("/ephemeral", r.handlePost)
}

func (r *Relay) handleGet(c *gin.Context) {
	r.create(c, domain.SessionOptions{})
}

func (r *Relay) handlePost(c *gin.Context) {
	var req EphemeralRequest
	// A missing or broken body means defaults.
	_ = c.ShouldBindJSON(&req)
	r.create(c, domain.SessionOptions{Model: req.Model, Voice: req.Voice})
}

func (r *Relay) create(c *gin.Context, opts domain.SessionOptions) {
	opts = opts.WithDefaults(r.cfg.Defaults)

	if r.cfg.APIKey == "" {
		r.fail(c, http.StatusInternalServerError, "Missing OPENAI_API_KEY")
		return
	}
	if err := opts.Validate(); err != nil {
		r.fail(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := r.http.R().
		SetContext(c.Request.Context()).
		SetAuthToken(r.cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetBody(upstreamRequest{Model: opts.Model, Voice: opts.Voice, Instructions: opts.Instructions}).
		Post(r.cfg.UpstreamURL)
	if err != nil {
		r.logger.Error().Err(err).Msg("ephemeral token error")
		r.fail(c, http.StatusInternalServerError, "Server error")
		return
	}
	if !resp.IsSuccess() {
		r.logger.Error().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("ephemeral session error")
		r.fail(c, resp.StatusCode(), "Ephemeral session failed")
		return
	}

	r.logger.Info().Str("model", opts.Model).Str("voice", opts.Voice).Msg("ephemeral session minted")
	r.metrics.RecordRelay(http.StatusOK)
	c.Data(http.StatusOK, "application/json", resp.Body())
}

func (r *Relay) fail(c *gin.Context, status int, msg string) {
	r.metrics.RecordRelay(status)
	c.JSON(status, gin.H{"error": msg})
}
