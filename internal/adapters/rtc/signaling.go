package rtc

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/pion/sdp/v3"

	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
)

const (
	eventsChannel = "oai-events"
	maxErrorBody  = 512
)

type sdpEnvelope struct {
	SDP string `json:"sdp"`
}

// exchange posts the local offer and returns the answer SDP.
func (m *Manager) exchange(ctx context.Context, cred domain.Credential, offer string) (string, error) {
	resp, err := m.http.R().
		SetContext(ctx).
		SetAuthToken(cred.Value).
		SetHeader("Content-Type", "application/sdp").
		SetQueryParam("model", m.cfg.Model).
		SetBody(offer).
		Post(m.cfg.SignalingURL)
	if err != nil {
		return "", &core.Error{Kind: core.SignalingRejected, Op: "signaling", Err: err}
	}

	if !resp.IsSuccess() {
		return "", &core.Error{
			Kind:   core.SignalingRejected,
			Op:     "signaling",
			Status: resp.StatusCode(),
			Body:   truncate(resp.String(), maxErrorBody),
		}
	}

	// resp.String() trims the body, and the SDP grammar needs the final CRLF.
	answer := string(resp.Body())
	if strings.Contains(resp.Header().Get("Content-Type"), "json") {
		var env sdpEnvelope
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return "", &core.Error{Kind: core.SignalingRejected, Op: "signaling", Status: resp.StatusCode(), Body: "invalid answer envelope", Err: err}
		}
		answer = env.SDP
	}

	if err := validateAnswer(answer); err != nil {
		return "", &core.Error{Kind: core.SignalingRejected, Op: "signaling", Status: resp.StatusCode(), Body: truncate(answer, maxErrorBody), Err: err}
	}
	return answer, nil
}

type answerError string

func (e answerError) Error() string { return string(e) }

const (
	errEmptyAnswer  = answerError("empty answer")
	errNoAudioMedia = answerError("answer has no audio media section")
)

// validateAnswer requires a parseable SDP with at least one audio m-line.
func validateAnswer(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errEmptyAnswer
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return err
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return nil
		}
	}
	return errNoAudioMedia
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
