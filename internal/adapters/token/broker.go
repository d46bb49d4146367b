package token

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
)

const maxBodyInError = 512

// sessionResponse is the canonical relay payload: the upstream realtime
// session object with a nested client secret.
type sessionResponse struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

type tokenRequest struct {
	Model string `json:"model,omitempty"`
	Voice string `json:"voice,omitempty"`
}

// Broker asks the local relay for a short-lived credential. It never sees
// the long-lived API key and makes exactly one attempt per call.
type Broker struct {
	url  string
	http *resty.Client
}

func NewBroker(url string, timeout time.Duration) *Broker {
	return &Broker{
		url:  url,
		http: resty.New().SetTimeout(timeout),
	}
}

func (b *Broker) RequestCredential(ctx context.Context, opts domain.SessionOptions) (domain.Credential, error) {
	logger := log.With().Str("module", "token").Str("model", opts.Model).Str("voice", opts.Voice).Logger()

	resp, err := b.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(tokenRequest{Model: opts.Model, Voice: opts.Voice}).
		Post(b.url)
	if err != nil {
		logger.Error().Err(err).Msg("token request failed")
		return domain.Credential{}, &core.Error{Kind: core.CredentialUnavailable, Op: "request", Err: err}
	}
	if !resp.IsSuccess() {
		body := truncate(resp.String())
		logger.Error().Int("status", resp.StatusCode()).Str("body", body).Msg("token endpoint rejected request")
		return domain.Credential{}, &core.Error{
			Kind:   core.CredentialUnavailable,
			Op:     "request",
			Status: resp.StatusCode(),
			Body:   body,
		}
	}

	var payload sessionResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		logger.Error().Err(err).Msg("token payload is not json")
		return domain.Credential{}, &core.Error{Kind: core.MalformedCredential, Op: "decode", Err: err}
	}
	if payload.ClientSecret == nil || strings.TrimSpace(payload.ClientSecret.Value) == "" {
		logger.Error().Msg("token payload has no client secret value")
		return domain.Credential{}, &core.Error{Kind: core.MalformedCredential, Op: "decode", Body: "missing client_secret.value"}
	}

	cred := domain.Credential{Value: payload.ClientSecret.Value}
	if payload.ClientSecret.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(payload.ClientSecret.ExpiresAt, 0)
	}
	logger.Info().Str("session", payload.ID).Time("expires_at", cred.ExpiresAt).Msg("credential issued")
	return cred, nil
}

func truncate(s string) string {
	if len(s) <= maxBodyInError {
		return s
	}
	n := maxBodyInError
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
