package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Concierge/internal/config"
	"github.com/dkeye/Concierge/internal/core"
)

var testAudio = config.AudioConfig{SampleRate: 48000, Channels: 1, FrameMS: 20}

type fakeInput struct {
	mu       sync.Mutex
	push     func([]int16)
	closed   int
	startErr error
}

func (f *fakeInput) Start(fn func([]int16)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.push = fn
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeInput) send(pcm []int16) {
	f.mu.Lock()
	push := f.push
	f.mu.Unlock()
	push(pcm)
}

type countingEncoder struct{ frames int }

func (e *countingEncoder) Encode(pcm []int16, data []byte) (int, error) {
	e.frames++
	data[0] = 0x78
	return 1, nil
}

func newTestCapture(dev *fakeInput, openErr error) (*Capture, *countingEncoder) {
	enc := &countingEncoder{}
	open := func(config.AudioConfig) (InputDevice, error) {
		if openErr != nil {
			return nil, openErr
		}
		return dev, nil
	}
	makeEnc := func(config.AudioConfig) (Encoder, error) { return enc, nil }
	return NewCapture(testAudio, open, makeEnc, NewAnalyser(960)), enc
}

func TestCaptureAcquireAndRelease(t *testing.T) {
	dev := &fakeInput{}
	c, enc := newTestCapture(dev, nil)

	stream, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, stream.AudioTracks(), 1)
	assert.True(t, c.Held())

	// 1.5 frames then another half: exactly two encoded frames.
	dev.send(make([]int16, 1440))
	dev.send(make([]int16, 480))
	assert.Equal(t, 2, enc.frames)

	require.NoError(t, c.Release(stream))
	assert.False(t, c.Held())
	assert.Equal(t, 1, dev.closed)

	require.NoError(t, c.Release(stream), "release is idempotent")
	require.NoError(t, c.Release(nil), "release tolerates nil")
	assert.Equal(t, 1, dev.closed)

	dev.send(make([]int16, 960))
	assert.Equal(t, 2, enc.frames, "no frames after release")
}

func TestCaptureIsExclusive(t *testing.T) {
	c, _ := newTestCapture(&fakeInput{}, nil)

	first, err := c.Acquire(context.Background())
	require.NoError(t, err)

	_, err = c.Acquire(context.Background())
	assert.ErrorIs(t, err, core.DeviceUnavailable)

	require.NoError(t, c.Release(first))
	second, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Release(second))
}

func TestCaptureErrorMapping(t *testing.T) {
	c, _ := newTestCapture(nil, errors.New("Access denied by user"))
	_, err := c.Acquire(context.Background())
	assert.ErrorIs(t, err, core.PermissionDenied)

	c, _ = newTestCapture(nil, errors.New("no capture device found"))
	_, err = c.Acquire(context.Background())
	assert.ErrorIs(t, err, core.DeviceUnavailable)

	dev := &fakeInput{startErr: errors.New("failed to start device")}
	c, _ = newTestCapture(dev, nil)
	_, err = c.Acquire(context.Background())
	assert.ErrorIs(t, err, core.DeviceUnavailable)
	assert.Equal(t, 1, dev.closed)
	assert.False(t, c.Held())
}

func TestSetEnabledKeepsCaptureOpen(t *testing.T) {
	dev := &fakeInput{}
	c, enc := newTestCapture(dev, nil)
	stream, err := c.Acquire(context.Background())
	require.NoError(t, err)
	track := stream.AudioTracks()[0]

	c.SetEnabled(stream, false)
	assert.False(t, track.Enabled())
	dev.send(make([]int16, 960))
	assert.Equal(t, 0, enc.frames, "muted frames are replaced by silence")
	assert.Equal(t, 0, dev.closed)

	c.SetEnabled(stream, true)
	assert.True(t, track.Enabled())
	dev.send(make([]int16, 960))
	assert.Equal(t, 1, enc.frames)

	require.NoError(t, c.Release(stream))
	track.SetEnabled(true)
	assert.False(t, track.Enabled(), "stopped tracks stay stopped")
}

func TestLocalTrackWriteAfterStop(t *testing.T) {
	lt, err := NewLocalTrack("s1")
	require.NoError(t, err)
	require.NoError(t, lt.WriteFrame([]byte{1}, 20*time.Millisecond))

	lt.MarkStopped()
	assert.ErrorIs(t, lt.WriteFrame([]byte{1}, 20*time.Millisecond), ErrTrackStopped)
}

func TestAnalyserTimeDomainData(t *testing.T) {
	a := NewAnalyser(4)
	dst := make([]float64, 8)
	assert.Equal(t, 0, a.TimeDomainData(dst))

	a.Write([]int16{16384, -16384})
	n := a.TimeDomainData(dst)
	require.Equal(t, 2, n)
	assert.InDelta(t, 0.5, dst[0], 1e-9)
	assert.InDelta(t, -0.5, dst[1], 1e-9)

	a.Write([]int16{1, 2, 3, 32767})
	n = a.TimeDomainData(dst)
	require.Equal(t, 4, n)
	assert.InDelta(t, 1.0/32768, dst[0], 1e-9, "oldest first after wrap")
	assert.InDelta(t, 32767.0/32768, dst[3], 1e-9)

	small := make([]float64, 2)
	require.Equal(t, 2, a.TimeDomainData(small))
	assert.InDelta(t, 3.0/32768, small[0], 1e-9, "newest samples win")
	assert.Equal(t, uint64(6), a.Total())
}
