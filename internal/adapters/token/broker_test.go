package token

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
)

var opts = domain.SessionOptions{Model: "gpt-realtime", Voice: "verse"}

func newRelay(t *testing.T, status int, body string) (*httptest.Server, *tokenRequest) {
	t.Helper()
	got := &tokenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestRequestCredential(t *testing.T) {
	srv, got := newRelay(t, http.StatusOK, `{"id":"sess_1","client_secret":{"value":"ek_123","expires_at":1700000060}}`)

	cred, err := NewBroker(srv.URL, time.Second).RequestCredential(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "ek_123", cred.Value)
	assert.Equal(t, time.Unix(1700000060, 0), cred.ExpiresAt)
	assert.Equal(t, "gpt-realtime", got.Model)
	assert.Equal(t, "verse", got.Voice)
}

func TestRequestCredentialUnknownExpiry(t *testing.T) {
	srv, _ := newRelay(t, http.StatusOK, `{"client_secret":{"value":"ek_123"}}`)

	cred, err := NewBroker(srv.URL, time.Second).RequestCredential(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, cred.ExpiresAt.IsZero())
}

func TestRequestCredentialRelayFailure(t *testing.T) {
	srv, _ := newRelay(t, http.StatusInternalServerError, `{"error":"Missing OPENAI_API_KEY"}`)

	_, err := NewBroker(srv.URL, time.Second).RequestCredential(context.Background(), opts)
	require.ErrorIs(t, err, core.CredentialUnavailable)

	var e *core.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.Contains(t, e.Body, "Missing OPENAI_API_KEY")
}

func TestRequestCredentialUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewBroker(url, time.Second).RequestCredential(context.Background(), opts)
	assert.ErrorIs(t, err, core.CredentialUnavailable)
}

func TestRequestCredentialMalformed(t *testing.T) {
	cases := map[string]string{
		"empty secret object": `{"client_secret": {}}`,
		"no secret":           `{"id":"sess_1"}`,
		"blank value":         `{"client_secret":{"value":"  "}}`,
		"plain value shape":   `{"client_secret":"ek_123"}`,
		"not json":            `ok`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv, _ := newRelay(t, http.StatusOK, body)
			cred, err := NewBroker(srv.URL, time.Second).RequestCredential(context.Background(), opts)
			assert.ErrorIs(t, err, core.MalformedCredential)
			assert.True(t, cred.Empty())
		})
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short"))

	long := strings.Repeat("a", maxBodyInError-1) + strings.Repeat("é", 10)
	got := truncate(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", maxBodyInError-1)+"...", got)
}
