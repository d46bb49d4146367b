package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/core"
	"github.com/dkeye/Concierge/internal/domain"
)

type Config struct {
	ICEServers   []string
	SignalingURL string
	Model        string
	DataChannel  bool
	HTTPTimeout  time.Duration
}

func (c Config) webrtcConfig() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

// Manager owns the single peer connection to the realtime endpoint.
type Manager struct {
	cfg    Config
	http   *resty.Client
	sink   core.RemoteAudioSink
	events *core.Emitter
	logger zerolog.Logger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	dc       *webrtc.DataChannel
	outgoing core.OutgoingAudioTrack
	closed   bool
}

func NewManager(cfg Config, sink core.RemoteAudioSink) *Manager {
	return &Manager{
		cfg:    cfg,
		http:   resty.New().SetTimeout(cfg.HTTPTimeout),
		sink:   sink,
		events: core.NewEmitter(),
		logger: log.With().Str("module", "webrtc").Str("model", cfg.Model).Logger(),
	}
}

func newAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// Connect negotiates the session: local tracks first, then the offer, the
// signaling exchange and the answer. Any failure closes the connection.
func (m *Manager) Connect(ctx context.Context, cred domain.Credential, local core.LocalStream) (core.RemoteStream, error) {
	if cred.Empty() {
		return nil, &core.Error{Kind: core.MalformedCredential, Op: "connect", Body: "empty credential"}
	}
	if local == nil || len(local.AudioTracks()) == 0 {
		return nil, &core.Error{Kind: core.DeviceUnavailable, Op: "connect", Body: "no local audio track"}
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("peer manager already disconnected")
	}
	if m.pc != nil {
		m.mu.Unlock()
		return nil, core.ErrSessionActive
	}
	m.mu.Unlock()

	api, err := newAPI()
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	pc, err := api.NewPeerConnection(m.cfg.webrtcConfig())
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	remote := newRemoteStream()

	m.mu.Lock()
	m.pc = pc
	m.mu.Unlock()

	fail := func(step string, err error) (core.RemoteStream, error) {
		m.logger.Error().Err(err).Str("step", step).Msg("connect failed")
		m.closePeer()
		if core.KindOf(err) != "" {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	for i, t := range local.AudioTracks() {
		sender, err := pc.AddTrack(t.TrackLocal())
		if err != nil {
			return fail("add track", err)
		}
		go drainRTCP(sender)
		if i == 0 {
			m.mu.Lock()
			m.outgoing = t
			m.mu.Unlock()
		}
	}

	m.bindHandlers(pc, remote)

	if m.cfg.DataChannel {
		dc, err := pc.CreateDataChannel(eventsChannel, nil)
		if err != nil {
			return fail("data channel", err)
		}
		m.bindDataChannel(dc)
		m.mu.Lock()
		m.dc = dc
		m.mu.Unlock()
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fail("create offer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fail("set local description", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return fail("ice gathering", ctx.Err())
	}

	answer, err := m.exchange(ctx, cred, pc.LocalDescription().SDP)
	if err != nil {
		return fail("signaling", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fail("set remote description", err)
	}

	m.logger.Info().Str("remote_stream", remote.ID()).Msg("negotiation complete")
	return remote, nil
}

func (m *Manager) bindHandlers(pc *webrtc.PeerConnection, remote *RemoteStream) {
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		m.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		m.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		m.events.Emit(core.Event{Type: core.EventConnectionState, Data: s.String()})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		logger := m.logger.With().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Logger()
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			logger.Warn().Msg("ignoring non-audio remote track")
			return
		}
		if !remote.claim() {
			logger.Warn().Msg("ignoring extra remote audio track")
			return
		}
		logger.Info().Msg("OnTrack received")
		go m.pump(track, &logger)
	})
}

// pump forwards remote RTP payloads to the sink until the track ends.
func (m *Manager) pump(track *webrtc.TrackRemote, logger *zerolog.Logger) {
	for {
		var (
			pkt *rtp.Packet
			err error
		)
		pkt, _, err = track.ReadRTP()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info().Msg("remote track finished")
			} else {
				logger.Warn().Err(err).Msg("remote track read error, stopping")
			}
			m.sink.End()
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if err := m.sink.WriteOpus(pkt.Payload); err != nil {
			logger.Debug().Err(err).Msg("sink rejected frame")
		}
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Disconnect closes the data channel, the peer connection and the sink.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	errPeer := m.closePeer()
	errSink := m.sink.Close()
	return errors.Join(errPeer, errSink)
}

func (m *Manager) closePeer() error {
	m.mu.Lock()
	pc, dc := m.pc, m.dc
	m.pc, m.dc, m.outgoing = nil, nil, nil
	m.mu.Unlock()

	var errs []error
	if dc != nil {
		if err := dc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data channel: %w", err))
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			m.logger.Error().Err(err).Msg("close error")
			errs = append(errs, fmt.Errorf("close peer connection: %w", err))
		} else {
			m.logger.Info().Msg("closed")
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) OutgoingAudioTrack() core.OutgoingAudioTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outgoing
}

func (m *Manager) RemoteAudioSink() core.RemoteAudioSink { return m.sink }

func (m *Manager) Events() core.EventTarget { return m.events }

// PeerState returns the current connection state, or "closed" once torn down.
func (m *Manager) PeerState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pc == nil {
		return core.PeerStateClosed
	}
	return m.pc.ConnectionState().String()
}

// RemoteStream is the inbound audio stream; only the first audio track counts.
type RemoteStream struct {
	id    string
	once  sync.Once
	ready chan struct{}
}

func newRemoteStream() *RemoteStream {
	return &RemoteStream{id: uuid.NewString(), ready: make(chan struct{})}
}

func (r *RemoteStream) ID() string             { return r.id }
func (r *RemoteStream) Ready() <-chan struct{} { return r.ready }

func (r *RemoteStream) claim() bool {
	claimed := false
	r.once.Do(func() {
		close(r.ready)
		claimed = true
	})
	return claimed
}
