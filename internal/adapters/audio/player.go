package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concierge/internal/config"
	"github.com/dkeye/Concierge/internal/core"
)

type playerState int

const (
	playerIdle playerState = iota
	playerPlaying
	playerWaiting
	playerPaused
	playerEnded
)

var ErrPlayerClosed = errors.New("player closed")

// Player is the remote audio sink: it decodes inbound Opus, buffers PCM
// for the output device and reports playback lifecycle events.
type Player struct {
	*core.Emitter

	cfg       config.AudioConfig
	dec       Decoder
	out       OutputDevice
	analyser  *Analyser
	resumeGap time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	// starvation longer than this while playing means waiting
	underrun  int
	maxBuffer int

	mu        sync.Mutex
	state     playerState
	queue     []int16
	starved   int
	lastWrite time.Time
	decoded   []int16
	closed    bool
}

type PlayerOption func(*Player)

func WithClock(now func() time.Time) PlayerOption {
	return func(p *Player) { p.now = now }
}

func WithAnalyser(a *Analyser) PlayerOption {
	return func(p *Player) { p.analyser = a }
}

// WithOutput attaches an output device; Start opens it.
func WithOutput(out OutputDevice) PlayerOption {
	return func(p *Player) { p.out = out }
}

func NewPlayer(cfg config.AudioConfig, dec Decoder, resumeGap time.Duration, opts ...PlayerOption) *Player {
	frame := cfg.FrameSamples() * cfg.Channels
	p := &Player{
		Emitter:   core.NewEmitter(),
		cfg:       cfg,
		dec:       dec,
		resumeGap: resumeGap,
		now:       time.Now,
		underrun:  frame * 10,
		maxBuffer: cfg.SampleRate * cfg.Channels * 5,
		// 120 ms is the longest Opus packet.
		decoded: make([]int16, cfg.SampleRate*cfg.Channels*120/1000),
		logger:  log.With().Str("module", "audio.player").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start opens the output device, if any.
func (p *Player) Start() error {
	if p.out == nil {
		return nil
	}
	if err := p.out.Start(p.Fill); err != nil {
		return mapDeviceError("start speaker", err)
	}
	return nil
}

func (p *Player) WriteOpus(payload []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPlayerClosed
	}
	n, err := p.dec.Decode(payload, p.decoded)
	if err != nil {
		p.mu.Unlock()
		return err
	}
	pcm := p.decoded[:n*p.cfg.Channels]

	now := p.now()
	var events []core.EventType
	switch p.state {
	case playerEnded:
		p.mu.Unlock()
		return nil
	case playerPaused:
		gap := now.Sub(p.lastWrite)
		p.lastWrite = now
		if gap < p.resumeGap {
			p.mu.Unlock()
			return nil
		}
		p.logger.Debug().Dur("gap", gap).Msg("resuming after pause")
		events = append(events, core.EventPlay, core.EventPlaying)
	case playerIdle:
		events = append(events, core.EventPlay, core.EventPlaying)
	case playerWaiting:
		events = append(events, core.EventPlaying)
	case playerPlaying:
	}

	p.lastWrite = now
	p.state = playerPlaying
	p.starved = 0
	p.queue = append(p.queue, pcm...)
	if over := len(p.queue) - p.maxBuffer; over > 0 {
		p.queue = p.queue[over:]
	}
	p.mu.Unlock()

	p.emit(events)
	return nil
}

// Fill is the output device callback.
func (p *Player) Fill(out []int16) {
	p.mu.Lock()
	n := 0
	if p.state == playerPlaying || p.state == playerWaiting {
		n = copy(out, p.queue)
		p.queue = p.queue[n:]
	}
	clear(out[n:])

	var events []core.EventType
	if p.state == playerPlaying && n < len(out) {
		p.starved += len(out) - n
		if p.starved >= p.underrun {
			p.state = playerWaiting
			events = append(events, core.EventWaiting)
		}
	}
	p.mu.Unlock()

	if n > 0 && p.analyser != nil {
		p.analyser.Write(out[:n])
	}
	p.emit(events)
}

// Pause stops output and rewinds by dropping everything buffered.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.state == playerEnded || p.closed {
		p.mu.Unlock()
		return
	}
	p.state = playerPaused
	p.queue = nil
	p.starved = 0
	p.lastWrite = p.now()
	p.mu.Unlock()

	p.logger.Info().Msg("playback paused")
	p.emit([]core.EventType{core.EventPause})
}

func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == playerPaused
}

func (p *Player) End() {
	p.mu.Lock()
	if p.state == playerEnded {
		p.mu.Unlock()
		return
	}
	p.state = playerEnded
	p.queue = nil
	p.mu.Unlock()

	p.logger.Info().Msg("remote stream ended")
	p.emit([]core.EventType{core.EventEnded})
}

// Buffered returns the number of queued samples.
func (p *Player) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = nil
	out := p.out
	p.mu.Unlock()

	if out != nil {
		return out.Close()
	}
	return nil
}

func (p *Player) emit(events []core.EventType) {
	for _, t := range events {
		p.Emit(core.Event{Type: t})
	}
}
