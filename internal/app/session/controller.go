// Package session drives one voice session from start to end and keeps
// the state the control panel shows.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
	"github.com/dkeye/Concierge/internal/metrics"
)

type Options struct {
	Defaults      domain.SessionOptions
	AssistantName string
	Metrics       *metrics.Metrics
	Clock         func() time.Time
}

// live is everything acquired for one connected session.
type live struct {
	gen    uint64
	id     string
	opts   domain.SessionOptions
	cred   domain.Credential
	local  core.LocalStream
	peer   core.PeerManager
	remote core.RemoteStream
	arena  *Arena
	since  time.Time
	done   chan struct{}
	stop   sync.Once
}

type Controller struct {
	broker   core.TokenBroker
	capture  core.MediaCapture
	newPeer  core.PeerFactory
	defaults domain.SessionOptions
	name     string
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger

	mu           sync.Mutex
	pubMu        sync.Mutex
	gen          uint64
	state        domain.ConnectionState
	speaking     domain.SpeakingState
	muted        bool
	busy         bool
	errMsg       string
	endRequested bool
	sess         *live

	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Snapshot)
}

func NewController(broker core.TokenBroker, capture core.MediaCapture, newPeer core.PeerFactory, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.AssistantName == "" {
		opts.AssistantName = "Assistant"
	}
	return &Controller{
		broker:   broker,
		capture:  capture,
		newPeer:  newPeer,
		defaults: opts.Defaults,
		name:     opts.AssistantName,
		metrics:  opts.Metrics,
		now:      opts.Clock,
		logger:   log.With().Str("module", "session").Logger(),
		state:    domain.StateIdle,
		subs:     make(map[int]func(Snapshot)),
	}
}

// Start runs credential, microphone and peer negotiation in that order and
// blocks until the session is connected or has failed. It is rejected with
// ErrSessionActive while another start is in flight or a session is live.
func (c *Controller) Start(ctx context.Context, opts domain.SessionOptions) error {
	opts = opts.WithDefaults(c.defaults)
	if err := opts.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.busy || !c.state.CanStart() {
		c.mu.Unlock()
		return core.ErrSessionActive
	}
	c.gen++
	gen := c.gen
	c.state = domain.StateConnecting
	c.speaking = domain.SpeakingNone
	c.busy = true
	c.muted = false
	c.errMsg = ""
	c.endRequested = false
	c.unlockAndPublish()

	started := c.now()
	c.logger.Info().Str("model", opts.Model).Str("voice", opts.Voice).Msg("starting session")
	s, err := c.connect(ctx, gen, opts)
	elapsed := c.now().Sub(started)

	c.mu.Lock()
	c.busy = false
	if err != nil {
		if c.endRequested {
			c.endRequested = false
			c.resetLocked()
		} else {
			c.state = domain.StateError
			c.errMsg = err.Error()
		}
		c.unlockAndPublish()
		c.metrics.RecordStart(kindLabel(err), elapsed)
		c.logger.Error().Err(err).Dur("elapsed", elapsed).Msg("session start failed")
		return err
	}
	c.metrics.RecordStart("", elapsed)

	if c.endRequested {
		c.endRequested = false
		c.gen++
		c.resetLocked()
		c.unlockAndPublish()
		c.logger.Info().Str("session_id", s.id).Msg("end requested during start, tearing down")
		c.metrics.RecordEnd()
		c.teardown(s)
		return nil
	}

	c.sess = s
	c.state = domain.StateConnected
	c.speaking = domain.SpeakingThinking
	c.bindLocked(s)
	c.unlockAndPublish()
	c.logger.Info().Str("session_id", s.id).Str("remote_stream", s.remote.ID()).Dur("elapsed", elapsed).Msg("session connected")
	go c.watchRemote(s)
	return nil
}

// watchRemote logs when assistant audio starts flowing for s.
func (c *Controller) watchRemote(s *live) {
	select {
	case <-s.remote.Ready():
		c.logger.Info().Str("session_id", s.id).Str("remote_stream", s.remote.ID()).Msg("assistant audio track arrived")
	case <-s.done:
	}
}

func (c *Controller) connect(ctx context.Context, gen uint64, opts domain.SessionOptions) (*live, error) {
	cred, err := c.broker.RequestCredential(ctx, opts)
	if err != nil {
		return nil, err
	}
	if cred.Expired(c.now()) {
		return nil, &core.Error{Kind: core.CredentialUnavailable, Op: "request credential", Body: "credential already expired"}
	}

	local, err := c.capture.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	peer, err := c.newPeer(opts)
	if err != nil {
		c.releaseLocal(local)
		return nil, err
	}

	remote, err := peer.Connect(ctx, cred, local)
	if err != nil {
		if derr := peer.Disconnect(); derr != nil {
			c.teardownError("close peer", derr)
		}
		c.releaseLocal(local)
		return nil, err
	}

	return &live{
		gen:    gen,
		id:     uuid.NewString(),
		opts:   opts,
		cred:   cred,
		local:  local,
		peer:   peer,
		remote: remote,
		arena:  &Arena{},
		since:  c.now(),
		done:   make(chan struct{}),
	}, nil
}

// bindLocked attaches playback and connection listeners through the arena.
func (c *Controller) bindLocked(s *live) {
	sink := s.peer.RemoteAudioSink()
	if sink != nil {
		speaking := c.onPlayback(s.gen, domain.SpeakingSpeaking)
		thinking := c.onPlayback(s.gen, domain.SpeakingThinking)
		s.arena.Bind(sink, core.EventPlay, speaking)
		s.arena.Bind(sink, core.EventPlaying, speaking)
		s.arena.Bind(sink, core.EventWaiting, thinking)
		s.arena.Bind(sink, core.EventEnded, thinking)
	}
	if events := s.peer.Events(); events != nil {
		s.arena.Bind(events, core.EventConnectionState, c.onPeerState(s.gen))
	}
}

func (c *Controller) onPlayback(gen uint64, sp domain.SpeakingState) core.Listener {
	return func(core.Event) {
		c.mu.Lock()
		if c.gen != gen || c.state != domain.StateConnected || c.speaking == sp {
			c.mu.Unlock()
			return
		}
		c.speaking = sp
		c.unlockAndPublish()
	}
}

func (c *Controller) onPeerState(gen uint64) core.Listener {
	return func(ev core.Event) {
		state, _ := ev.Data.(string)
		switch state {
		case core.PeerStateFailed:
			c.peerLost(gen, domain.StateError, "connection failed")
		case core.PeerStateClosed:
			c.peerLost(gen, domain.StateStopped, "")
		case core.PeerStateDisconnected:
			c.logger.Warn().Uint64("gen", gen).Msg("peer disconnected")
		}
	}
}

// peerLost tears down a session the remote side dropped.
func (c *Controller) peerLost(gen uint64, next domain.ConnectionState, msg string) {
	c.mu.Lock()
	if c.gen != gen || c.sess == nil {
		c.mu.Unlock()
		return
	}
	s := c.sess
	c.sess = nil
	c.gen++
	c.resetLocked()
	c.state = next
	c.errMsg = msg
	c.unlockAndPublish()

	c.logger.Warn().Str("session_id", s.id).Str("state", string(next)).Msg("peer connection lost")
	c.metrics.RecordEnd()
	// pion delivers state changes on its own goroutine; closing from inside it
	// must not block that callback.
	go c.teardown(s)
}

// ToggleMute flips the outgoing track and returns the new muted flag.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	if c.state != domain.StateConnected || c.sess == nil {
		c.mu.Unlock()
		return false, core.ErrNotConnected
	}
	s := c.sess
	enabled := c.muted
	if t := s.peer.OutgoingAudioTrack(); t != nil {
		enabled = !t.Enabled()
	}
	c.capture.SetEnabled(s.local, enabled)
	c.muted = !enabled
	muted := c.muted
	c.unlockAndPublish()
	c.logger.Debug().Bool("muted", muted).Msg("mute toggled")
	return muted, nil
}

// StopAudioOnly silences remote playback without ending the session.
func (c *Controller) StopAudioOnly() error {
	c.mu.Lock()
	if c.state != domain.StateConnected || c.sess == nil {
		c.mu.Unlock()
		return core.ErrNotConnected
	}
	sink := c.sess.peer.RemoteAudioSink()
	c.mu.Unlock()

	if sink != nil {
		sink.Pause()
	}

	c.mu.Lock()
	if c.state != domain.StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.speaking = domain.SpeakingThinking
	c.unlockAndPublish()
	return nil
}

// End detaches listeners, closes the peer connection, releases the
// microphone and resets to idle. Calling it again is a no-op. An End that
// arrives while Start is in flight runs once Start resolves.
func (c *Controller) End() {
	c.mu.Lock()
	if c.busy {
		c.endRequested = true
		c.mu.Unlock()
		return
	}
	s := c.sess
	if s == nil && c.state == domain.StateIdle {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	c.gen++
	c.resetLocked()
	c.unlockAndPublish()

	if s != nil {
		c.metrics.RecordEnd()
		c.teardown(s)
		c.logger.Info().Str("session_id", s.id).Dur("duration", c.now().Sub(s.since)).Msg("session ended")
	}
}

func (c *Controller) Close() {
	c.End()
}

func (c *Controller) teardown(s *live) {
	s.stop.Do(func() { close(s.done) })
	s.arena.Release()
	if err := s.peer.Disconnect(); err != nil {
		c.teardownError("close peer", err)
	}
	c.releaseLocal(s.local)
	s.cred = domain.Credential{}
}

func (c *Controller) releaseLocal(local core.LocalStream) {
	if err := c.capture.Release(local); err != nil {
		c.teardownError("release microphone", err)
	}
}

func (c *Controller) teardownError(op string, err error) {
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Kind != core.SessionTeardownError {
		err = &core.Error{Kind: core.SessionTeardownError, Op: op, Err: err}
	}
	c.metrics.RecordTeardownError()
	c.logger.Warn().Err(err).Msg("teardown step failed")
}

func (c *Controller) resetLocked() {
	c.state = domain.StateIdle
	c.speaking = domain.SpeakingNone
	c.muted = false
	c.errMsg = ""
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	connected := c.state == domain.StateConnected
	snap := Snapshot{
		State:           c.state,
		Speaking:        c.speaking,
		Muted:           c.muted,
		Busy:            c.busy,
		Error:           c.errMsg,
		Label:           label(c.name, c.state, c.speaking),
		MicActive:       connected && !c.muted && c.speaking != domain.SpeakingSpeaking,
		AssistantActive: connected && c.speaking == domain.SpeakingSpeaking,
	}
	if c.sess != nil {
		snap.SessionID = c.sess.id
		snap.Model = c.sess.opts.Model
		snap.Voice = c.sess.opts.Voice
	}
	return snap
}

// Subscribe registers fn for every state change and returns its cancel func.
// fn must not block or call back into the controller.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// unlockAndPublish releases c.mu and delivers the snapshot taken under it.
// Deliveries keep commit order.
func (c *Controller) unlockAndPublish() {
	snap := c.snapshotLocked()
	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()

	c.subMu.Lock()
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func kindLabel(err error) string {
	if k := core.KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}
