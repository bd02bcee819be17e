package blow

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	// LowBandHz is the upper edge of the low band and the lower edge of the mid band.
	LowBandHz = 300.0
	// MidBandHz is the upper edge of the mid band.
	MidBandHz = 3000.0

	ratioEpsilon    = 0.01
	centroidEpsilon = 1e-6
)

// Features are the per-frame scalars the decision is made on.
type Features struct {
	ELow     float64
	EMid     float64
	Ratio    float64
	Centroid float64
}

// Ratio is the spectral energy ratio of low to mid band.
func Ratio(eLow, eMid float64) float64 {
	return eLow / (eMid + ratioEpsilon)
}

// HzPerBin is the frequency resolution of a frame.
func HzPerBin(f Frame) float64 {
	return f.SampleRate / 2 / float64(len(f.Bins))
}

// Extractor reduces frames to Features. The result depends only on the frame;
// the extractor only keeps scratch buffers so steady-state ticks do not allocate.
type Extractor struct {
	power    []float64
	freqs    []float64
	freqStep float64
}

// Extract computes band energies, ratio and centroid. The frame must be valid.
func (e *Extractor) Extract(f Frame) Features {
	n := len(f.Bins)
	hzPerBin := HzPerBin(f)
	e.ensureWorkspace(n, hzPerBin)

	power := e.power[:n]
	for i, b := range f.Bins {
		power[i] = float64(b)
	}

	lowStart, lowEnd, midStart, midEnd := bandRanges(n, hzPerBin)
	eLow := floats.Sum(power[lowStart:lowEnd]) / float64(lowEnd-lowStart)
	eMid := floats.Sum(power[midStart:midEnd]) / float64(midEnd-midStart)

	centroid := floats.Dot(power, e.freqs[:n]) / (floats.Sum(power) + centroidEpsilon)

	return Features{
		ELow:     eLow,
		EMid:     eMid,
		Ratio:    Ratio(eLow, eMid),
		Centroid: centroid,
	}
}

func (e *Extractor) ensureWorkspace(n int, hzPerBin float64) {
	if len(e.power) != n {
		e.power = make([]float64, n)
	}
	if len(e.freqs) != n || e.freqStep != hzPerBin {
		e.freqs = make([]float64, n)
		for i := range e.freqs {
			e.freqs[i] = float64(i) * hzPerBin
		}
		e.freqStep = hzPerBin
	}
}

// binFor maps a frequency to a bin index clamped to [0, n].
func binFor(hz, hzPerBin float64, n int) int {
	bin := int(math.Floor(hz / hzPerBin))
	if bin < 0 {
		return 0
	}
	if bin > n {
		return n
	}
	return bin
}

// bandRanges returns half-open bin ranges for the low and mid bands. Both are
// at least one bin wide and stay inside the frame.
func bandRanges(n int, hzPerBin float64) (lowStart, lowEnd, midStart, midEnd int) {
	lowEnd = max(1, binFor(LowBandHz, hzPerBin, n))
	lowEnd = min(lowEnd, n)

	midStart = binFor(LowBandHz, hzPerBin, n)
	midEnd = max(midStart+1, binFor(MidBandHz, hzPerBin, n))
	if midEnd > n {
		midEnd = n
		midStart = min(midStart, n-1)
	}
	return 0, lowEnd, midStart, midEnd
}
