package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Concierge/internal/core"
)

// frameDecoder yields one 20 ms frame of a constant per packet.
type frameDecoder struct{}

func (frameDecoder) Decode(data []byte, pcm []int16) (int, error) {
	n := 960
	for i := 0; i < n; i++ {
		pcm[i] = 1000
	}
	return n, nil
}

type recorder struct {
	mu     sync.Mutex
	events []core.EventType
}

func (r *recorder) listen(target core.EventTarget) {
	for _, t := range []core.EventType{core.EventPlay, core.EventPlaying, core.EventWaiting, core.EventEnded, core.EventPause} {
		target.AddListener(t, func(ev core.Event) {
			r.mu.Lock()
			r.events = append(r.events, ev.Type)
			r.mu.Unlock()
		})
	}
}

func (r *recorder) take() []core.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPlayer() (*Player, *recorder, *fakeClock) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	p := NewPlayer(testAudio, frameDecoder{}, 400*time.Millisecond, WithClock(clk.now), WithAnalyser(NewAnalyser(960)))
	rec := &recorder{}
	rec.listen(p)
	return p, rec, clk
}

func TestPlayerPlaybackLifecycle(t *testing.T) {
	p, rec, _ := newTestPlayer()

	require.NoError(t, p.WriteOpus([]byte{1}))
	assert.Equal(t, []core.EventType{core.EventPlay, core.EventPlaying}, rec.take())
	assert.Equal(t, 960, p.Buffered())

	require.NoError(t, p.WriteOpus([]byte{1}))
	assert.Empty(t, rec.take(), "steady playback emits nothing")

	out := make([]int16, 1920)
	p.Fill(out)
	assert.Equal(t, int16(1000), out[1919])
	assert.Empty(t, rec.take())

	// Starve the output long enough to count as an underrun.
	for i := 0; i < 10; i++ {
		p.Fill(out)
	}
	assert.Equal(t, []core.EventType{core.EventWaiting}, rec.take())

	require.NoError(t, p.WriteOpus([]byte{1}))
	assert.Equal(t, []core.EventType{core.EventPlaying}, rec.take())

	p.End()
	assert.Equal(t, []core.EventType{core.EventEnded}, rec.take())
	require.NoError(t, p.WriteOpus([]byte{1}))
	assert.Empty(t, rec.take(), "audio after end is ignored")
	p.End()
	assert.Empty(t, rec.take())
}

func TestPlayerPauseAndResume(t *testing.T) {
	p, rec, clk := newTestPlayer()

	require.NoError(t, p.WriteOpus([]byte{1}))
	rec.take()

	p.Pause()
	assert.True(t, p.Paused())
	assert.Equal(t, 0, p.Buffered(), "pause rewinds")
	assert.Equal(t, []core.EventType{core.EventPause}, rec.take())

	out := make([]int16, 960)
	out[0] = 7
	p.Fill(out)
	assert.Equal(t, int16(0), out[0], "paused output is silent")

	// The current response keeps streaming: stay paused.
	clk.advance(20 * time.Millisecond)
	require.NoError(t, p.WriteOpus([]byte{1}))
	assert.True(t, p.Paused())
	assert.Empty(t, rec.take())

	// A new burst after a quiet gap resumes playback.
	clk.advance(time.Second)
	require.NoError(t, p.WriteOpus([]byte{1}))
	assert.False(t, p.Paused())
	assert.Equal(t, []core.EventType{core.EventPlay, core.EventPlaying}, rec.take())
}

func TestPlayerClose(t *testing.T) {
	p, _, _ := newTestPlayer()
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.WriteOpus([]byte{1}), ErrPlayerClosed)
	p.Pause()
	assert.False(t, p.Paused())
}
