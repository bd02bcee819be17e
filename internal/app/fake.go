package app

import (
	"math/rand"
	"time"

	"github.com/guidoenr/blowcounter/internal/blow"
)

const (
	fakeSampleRate = 44100
	fakeBins       = 1024
	// bins below 300 Hz and between 300 Hz and 3 kHz at 44.1 kHz / 2048
	fakeLowBins = 13
	fakeMidBins = 139

	fakePeriod    = 3 * time.Second
	fakeBlowStart = 2 * time.Second
	fakeBlowLen   = 600 * time.Millisecond
)

// fakeGenerator synthesizes spectra for running without audio: a quiet room
// with a 600 ms blow every three seconds.
type fakeGenerator struct {
	rng   *rand.Rand
	fps   float64
	frame int
	bins  []uint8
}

func newFakeGenerator(fps float64, seed int64) *fakeGenerator {
	if fps <= 0 {
		fps = 60
	}
	return &fakeGenerator{
		rng:  rand.New(rand.NewSource(seed)),
		fps:  fps,
		bins: make([]uint8, fakeBins),
	}
}

// Next returns the spectrum for the next tick.
func (f *fakeGenerator) Next() *blow.Frame {
	elapsed := time.Duration(float64(f.frame) / f.fps * float64(time.Second))
	f.frame++

	phase := elapsed % fakePeriod
	low, mid := 40, 30
	if phase >= fakeBlowStart && phase < fakeBlowStart+fakeBlowLen {
		low, mid = 220, 20
	}

	for i := range f.bins {
		switch {
		case i < fakeLowBins:
			f.bins[i] = f.jitter(low)
		case i < fakeMidBins:
			f.bins[i] = f.jitter(mid)
		default:
			f.bins[i] = 0
		}
	}
	return &blow.Frame{Bins: f.bins, SampleRate: fakeSampleRate}
}

func (f *fakeGenerator) jitter(v int) uint8 {
	v += f.rng.Intn(7) - 3
	return uint8(min(max(v, 0), 255))
}

// reset restarts the pattern from the quiet lead-in.
func (f *fakeGenerator) reset() {
	f.frame = 0
}
