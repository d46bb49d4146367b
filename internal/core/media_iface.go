package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/Concierge/internal/domain"
)

// OutgoingAudioTrack is the microphone leg as seen by the session.
// Disabling it keeps the capture device open.
type OutgoingAudioTrack interface {
	ID() string
	Enabled() bool
	SetEnabled(bool)
}

// LocalAudioTrack is an outgoing track that can be attached to a peer connection.
type LocalAudioTrack interface {
	OutgoingAudioTrack
	TrackLocal() webrtc.TrackLocal
}

// LocalStream is the acquired microphone capture.
type LocalStream interface {
	ID() string
	AudioTracks() []LocalAudioTrack
}

// RemoteAudioSink plays inbound audio and reports its playback lifecycle
// through EventPlay, EventPlaying, EventWaiting, EventEnded and EventPause.
type RemoteAudioSink interface {
	EventTarget
	// WriteOpus queues one encoded remote frame.
	WriteOpus(payload []byte) error
	// End marks the remote stream as finished.
	End()
	// Pause halts output and drops buffered audio without ending the stream.
	Pause()
	Paused() bool
	Close() error
}

// RemoteStream is the single inbound audio stream of a session.
type RemoteStream interface {
	ID() string
	// Ready is closed once the first remote audio track arrives.
	Ready() <-chan struct{}
}

type MediaCapture interface {
	Acquire(ctx context.Context) (LocalStream, error)
	SetEnabled(stream LocalStream, enabled bool)
	// Release stops all tracks. Safe on nil or already released streams.
	Release(stream LocalStream) error
}

type PeerManager interface {
	Connect(ctx context.Context, cred domain.Credential, local LocalStream) (RemoteStream, error)
	// Disconnect closes the peer connection. Idempotent.
	Disconnect() error
	OutgoingAudioTrack() OutgoingAudioTrack
	RemoteAudioSink() RemoteAudioSink
	// Events emits EventConnectionState.
	Events() EventTarget
}

// PeerFactory builds a fresh manager for every session.
type PeerFactory func(opts domain.SessionOptions) (PeerManager, error)

type TokenBroker interface {
	RequestCredential(ctx context.Context, opts domain.SessionOptions) (domain.Credential, error)
}
