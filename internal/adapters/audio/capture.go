package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/config"
	"github.com/dkeye/Concierge/internal/core"
)

var errDeviceBusy = errors.New("microphone already held by another stream")

// Capture hands out the microphone. The device is exclusive: at most one
// LocalStream holds it at a time.
type Capture struct {
	cfg        config.AudioConfig
	open       InputOpener
	newEncoder EncoderMaker
	analyser   *Analyser

	mu   sync.Mutex
	held *LocalStream
}

func NewCapture(cfg config.AudioConfig, open InputOpener, newEncoder EncoderMaker, analyser *Analyser) *Capture {
	return &Capture{
		cfg:        cfg,
		open:       open,
		newEncoder: newEncoder,
		analyser:   analyser,
	}
}

func (c *Capture) Acquire(ctx context.Context) (core.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.Error{Kind: core.DeviceUnavailable, Op: "acquire", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held != nil {
		return nil, &core.Error{Kind: core.DeviceUnavailable, Op: "acquire", Err: errDeviceBusy}
	}

	id := uuid.NewString()
	logger := log.With().Str("module", "audio.capture").Str("stream", id).Logger()

	enc, err := c.newEncoder(c.cfg)
	if err != nil {
		return nil, &core.Error{Kind: core.DeviceUnavailable, Op: "encoder", Err: err}
	}
	track, err := NewLocalTrack(id)
	if err != nil {
		return nil, &core.Error{Kind: core.DeviceUnavailable, Op: "track", Err: err}
	}
	dev, err := c.open(c.cfg)
	if err != nil {
		logger.Error().Err(err).Msg("open microphone")
		return nil, mapDeviceError("open", err)
	}

	s := &LocalStream{
		id:       id,
		track:    track,
		dev:      dev,
		enc:      enc,
		analyser: c.analyser,
		frame:    c.cfg.FrameSamples() * c.cfg.Channels,
		cfg:      c.cfg,
		packet:   make([]byte, maxOpusPacket),
		logger:   logger,
	}
	if err := dev.Start(s.onSamples); err != nil {
		_ = dev.Close()
		logger.Error().Err(err).Msg("start microphone")
		return nil, mapDeviceError("start", err)
	}

	c.held = s
	logger.Info().Int("sample_rate", c.cfg.SampleRate).Int("channels", c.cfg.Channels).Msg("microphone acquired")
	return s, nil
}

func (c *Capture) SetEnabled(stream core.LocalStream, enabled bool) {
	if stream == nil {
		return
	}
	for _, t := range stream.AudioTracks() {
		t.SetEnabled(enabled)
	}
}

func (c *Capture) Release(stream core.LocalStream) error {
	s, ok := stream.(*LocalStream)
	if !ok || s == nil {
		return nil
	}
	err := s.stop()

	c.mu.Lock()
	if c.held == s {
		c.held = nil
	}
	c.mu.Unlock()
	return err
}

// Held reports whether some stream currently owns the microphone.
func (c *Capture) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held != nil
}

func mapDeviceError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") || strings.Contains(msg, "not allowed") {
		return &core.Error{Kind: core.PermissionDenied, Op: op, Err: err}
	}
	return &core.Error{Kind: core.DeviceUnavailable, Op: op, Err: err}
}

// LocalStream is an acquired microphone with a single outgoing track.
type LocalStream struct {
	id       string
	track    *LocalTrack
	dev      InputDevice
	enc      Encoder
	analyser *Analyser
	frame    int
	cfg      config.AudioConfig
	logger   zerolog.Logger

	mu      sync.Mutex
	pending []int16
	packet  []byte
	stopped bool
}

func (s *LocalStream) ID() string { return s.id }

func (s *LocalStream) AudioTracks() []core.LocalAudioTrack {
	return []core.LocalAudioTrack{s.track}
}

// onSamples runs on the device goroutine.
func (s *LocalStream) onSamples(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.pending = append(s.pending, pcm...)
	for len(s.pending) >= s.frame {
		frame := s.pending[:s.frame]
		if err := s.writeFrame(frame); err != nil && !errors.Is(err, ErrTrackStopped) {
			s.logger.Warn().Err(err).Msg("write frame")
		}
		s.pending = s.pending[s.frame:]
	}
	if len(s.pending) == 0 {
		s.pending = s.pending[:0:0]
	}
}

func (s *LocalStream) writeFrame(frame []int16) error {
	if !s.track.Enabled() {
		return s.track.WriteFrame(nil, s.cfg.FrameDuration())
	}
	if s.analyser != nil {
		s.analyser.Write(frame)
	}
	n, err := s.enc.Encode(frame, s.packet)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return s.track.WriteFrame(s.packet[:n], s.cfg.FrameDuration())
}

func (s *LocalStream) stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.pending = nil
	s.track.MarkStopped()
	s.mu.Unlock()

	if err := s.dev.Close(); err != nil {
		s.logger.Error().Err(err).Msg("close microphone")
		return &core.Error{Kind: core.SessionTeardownError, Op: "release microphone", Err: err}
	}
	s.logger.Info().Msg("microphone released")
	return nil
}
