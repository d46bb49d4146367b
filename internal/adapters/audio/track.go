package audio

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

var ErrTrackStopped = errors.New("track stopped")

// LocalTrack is one outgoing microphone track. Muting flips its state and
// keeps the capture running.
type LocalTrack struct {
	track *webrtc.TrackLocalStaticSample
	state atomic.Int32 // Zero by default (TrackStateLive)
}

func NewLocalTrack(streamID string) (*LocalTrack, error) {
	t, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		streamID,
	)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{track: t}, nil
}

func (lt *LocalTrack) ID() string                    { return lt.track.ID() }
func (lt *LocalTrack) TrackLocal() webrtc.TrackLocal { return lt.track }

func (lt *LocalTrack) GetState() TrackState {
	return TrackState(lt.state.Load())
}

func (lt *LocalTrack) Enabled() bool {
	return lt.GetState() == TrackStateLive
}

// SetEnabled has no effect on a stopped track.
func (lt *LocalTrack) SetEnabled(enabled bool) {
	next := TrackStateMuted
	if enabled {
		next = TrackStateLive
	}
	for {
		cur := lt.state.Load()
		if TrackState(cur) == TrackStateStopped {
			return
		}
		if lt.state.CompareAndSwap(cur, int32(next)) {
			return
		}
	}
}

func (lt *LocalTrack) MarkStopped() {
	lt.state.Store(int32(TrackStateStopped))
}

// WriteFrame sends one encoded frame, or silence when muted.
func (lt *LocalTrack) WriteFrame(data []byte, d time.Duration) error {
	switch lt.GetState() {
	case TrackStateStopped:
		return ErrTrackStopped
	case TrackStateMuted:
		data = opusSilence
	case TrackStateLive:
	}
	return lt.track.WriteSample(media.Sample{Data: data, Duration: d})
}
