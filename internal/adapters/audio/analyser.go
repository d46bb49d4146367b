package audio

import "sync"

// Analyser keeps the most recent PCM samples for passive inspection.
type Analyser struct {
	mu   sync.Mutex
	ring []int16
	pos  int
	full bool

	// total counts every sample ever written.
	total uint64
}

func NewAnalyser(size int) *Analyser {
	if size <= 0 {
		size = 2048
	}
	return &Analyser{ring: make([]int16, size)}
}

func (a *Analyser) Size() int { return len(a.ring) }

func (a *Analyser) Write(pcm []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total += uint64(len(pcm))
	for _, s := range pcm {
		a.ring[a.pos] = s
		a.pos++
		if a.pos == len(a.ring) {
			a.pos = 0
			a.full = true
		}
	}
}

// TimeDomainData copies samples normalized to [-1, 1], oldest first, into
// dst and returns how many were written.
func (a *Analyser) TimeDomainData(dst []float64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.pos
	start := 0
	if a.full {
		n = len(a.ring)
		start = a.pos
	}
	if n > len(dst) {
		start = (start + n - len(dst)) % len(a.ring)
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = float64(a.ring[(start+i)%len(a.ring)]) / 32768.0
	}
	return n
}

// Total reports how many samples were written since creation.
func (a *Analyser) Total() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}
