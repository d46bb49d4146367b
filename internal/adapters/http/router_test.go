package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Concierge/internal/adapters/panel"
	"github.com/dkeye/Concierge/internal/app/session"
	"github.com/dkeye/Concierge/internal/config"
	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
	"github.com/dkeye/Concierge/internal/metrics"
)

type fakeSessions struct {
	mu     sync.Mutex
	snap   session.Snapshot
	starts atomic.Int32
	ends   atomic.Int32
	muted  bool
	opts   domain.SessionOptions
}

func (f *fakeSessions) Start(_ context.Context, opts domain.SessionOptions) error {
	f.starts.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = opts
	f.snap.State = domain.StateConnected
	return nil
}

func (f *fakeSessions) ToggleMute() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.State != domain.StateConnected {
		return false, core.ErrNotConnected
	}
	f.muted = !f.muted
	return f.muted, nil
}

func (f *fakeSessions) StopAudioOnly() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.State != domain.StateConnected {
		return core.ErrNotConnected
	}
	f.snap.Speaking = domain.SpeakingThinking
	return nil
}

func (f *fakeSessions) End() {
	f.ends.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = session.Snapshot{State: domain.StateIdle}
}

func (f *fakeSessions) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSessions) state() domain.ConnectionState {
	return f.Snapshot().State
}

type env struct {
	sessions *fakeSessions
	hub      *panel.Hub
	server   *httptest.Server
	client   *http.Client
}

func newEnv(t *testing.T, limit int) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Default()
	cfg.Mode = "test"
	cfg.StaticPath = t.TempDir()
	cfg.StartLimit = limit
	cfg.PingPeriod = time.Second

	fs := &fakeSessions{snap: session.Snapshot{State: domain.StateIdle}}
	hub := panel.NewHub(nil, fs.End)
	r := SetupRouter(context.Background(), cfg, Deps{
		Sessions: fs,
		Limiter:  panel.NewStartLimiter(cfg.StartLimit, time.Minute),
		Hub:      hub,
		Metrics:  metrics.New("test"),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &env{sessions: fs, hub: hub, server: srv, client: &http.Client{Jar: jar}}
}

func (e *env) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSnapshotEndpoint(t *testing.T) {
	e := newEnv(t, 5)
	resp, err := e.client.Get(e.server.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap session.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, domain.StateIdle, snap.State)

	var hasCookie bool
	for _, c := range resp.Cookies() {
		if c.Name == "ConciergeSessions" {
			hasCookie = true
		}
	}
	assert.True(t, hasCookie)
}

func TestStartFlow(t *testing.T) {
	e := newEnv(t, 5)

	resp := e.post(t, "/api/session/mute", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = e.post(t, "/api/session/stop-audio", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.post(t, "/api/session/start", `{"voice":"alloy"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return e.sessions.state() == domain.StateConnected }, time.Second, 5*time.Millisecond)
	e.sessions.mu.Lock()
	assert.Equal(t, "alloy", e.sessions.opts.Voice)
	e.sessions.mu.Unlock()

	resp = e.post(t, "/api/session/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, int32(1), e.sessions.starts.Load())

	resp = e.post(t, "/api/session/mute", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mute struct{ Muted bool }
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mute))
	assert.True(t, mute.Muted)

	resp = e.post(t, "/api/session/stop-audio", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.post(t, "/api/session/end", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.StateIdle, e.sessions.state())
}

func TestStartRejectsBadOptions(t *testing.T) {
	e := newEnv(t, 5)
	resp := e.post(t, "/api/session/start", `{"model":"`+strings.Repeat("m", 65)+`"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = e.post(t, "/api/session/start", `{`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, e.sessions.starts.Load())
}

func TestStartRateLimited(t *testing.T) {
	e := newEnv(t, 1)

	resp := e.post(t, "/api/session/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return e.sessions.state() == domain.StateConnected }, time.Second, 5*time.Millisecond)
	e.sessions.End()

	resp = e.post(t, "/api/session/start", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestStatusWebsocket(t *testing.T) {
	e := newEnv(t, 5)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/api/ws/status"

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "status", msg["type"])
	assert.Equal(t, "idle", msg["state"])

	require.NoError(t, ws.WriteJSON(map[string]string{"type": "ping"}))
	msg = nil
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "pong", msg["type"])

	require.Eventually(t, func() bool { return e.hub.Count() == 1 }, time.Second, 5*time.Millisecond)
	e.hub.PublishStatus(session.Snapshot{State: domain.StateConnecting, Busy: true})
	msg = nil
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "connecting", msg["state"])
	assert.Equal(t, true, msg["busy"])

	// Closing the last panel ends the session.
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = ws.Close()
	require.Eventually(t, func() bool { return e.sessions.ends.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, e.hub.Count())
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t, 5)
	resp, err := e.client.Get(e.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
