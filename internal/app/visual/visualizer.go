// Package visual turns the audio analysers into amplitude bars.
package visual

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dkeye/Concierge/internal/adapters/audio"
)

var glyphs = []rune("▁▂▃▄▅▆▇█")

var (
	micStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#4FC3F7"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B388FF")).Bold(true)
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E")).Width(10)
)

// Levels are normalized RMS bars, each in [0, 1].
type Levels struct {
	Mic       []float64 `json:"mic"`
	Assistant []float64 `json:"assistant"`
}

// tap is one analyser plus what the last tick saw of it.
type tap struct {
	a    *audio.Analyser
	buf  []float64
	seen uint64
}

// Visualizer samples the analysers on a ticker. It only reads.
type Visualizer struct {
	mic       tap
	assistant tap
	bars      int
	interval  time.Duration
}

func New(mic, assistant *audio.Analyser, bars int, interval time.Duration) *Visualizer {
	if bars <= 0 {
		bars = 24
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Visualizer{
		mic:       newTap(mic),
		assistant: newTap(assistant),
		bars:      bars,
		interval:  interval,
	}
}

func newTap(a *audio.Analyser) tap {
	t := tap{a: a}
	if a != nil {
		t.buf = make([]float64, a.Size())
	}
	return t
}

// Sample reads both analysers once. An analyser that got no new samples
// since the previous call reads as silence.
func (v *Visualizer) Sample() Levels {
	return Levels{
		Mic:       v.mic.levels(v.bars),
		Assistant: v.assistant.levels(v.bars),
	}
}

func (t *tap) levels(bars int) []float64 {
	out := make([]float64, bars)
	if t.a == nil {
		return out
	}
	total := t.a.Total()
	if total == t.seen {
		return out
	}
	t.seen = total
	n := t.a.TimeDomainData(t.buf)
	return Bucket(t.buf[:n], bars)
}

// Run publishes levels every interval until ctx is done.
func (v *Visualizer) Run(ctx context.Context, publish func(Levels)) {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish(v.Sample())
		}
	}
}

// Bucket splits samples into bars equal slices and returns the RMS of each,
// scaled so a full-scale sine reads 1.
func Bucket(samples []float64, bars int) []float64 {
	out := make([]float64, bars)
	if len(samples) == 0 || bars <= 0 {
		return out
	}
	for i := range out {
		lo := i * len(samples) / bars
		hi := (i + 1) * len(samples) / bars
		if hi <= lo {
			continue
		}
		var sum float64
		for _, s := range samples[lo:hi] {
			sum += s * s
		}
		rms := math.Sqrt(sum/float64(hi-lo)) * math.Sqrt2
		out[i] = math.Min(1, rms)
	}
	return out
}

// Render draws both traces as block glyphs.
func (v *Visualizer) Render(l Levels) string {
	return lipgloss.JoinVertical(lipgloss.Left,
		labelStyle.Render("mic")+micStyle.Render(trace(l.Mic)),
		labelStyle.Render("assistant")+assistantStyle.Render(trace(l.Assistant)),
	)
}

func trace(levels []float64) string {
	var b strings.Builder
	for _, lv := range levels {
		idx := int(math.Round(lv * float64(len(glyphs)-1)))
		idx = max(0, min(idx, len(glyphs)-1))
		b.WriteRune(glyphs[idx])
	}
	return b.String()
}
