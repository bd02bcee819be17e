package analyzer

import (
	"math"

	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

const (
	DefaultFFTSize     = 2048
	DefaultSmoothing   = 0.3
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Config controls Analyzer behavior.
type Config struct {
	SampleRate  float64
	FFTSize     int
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

// Analyzer turns blocks of time-domain samples into byte spectra: Blackman
// window, FFT, magnitude smoothing over time, then a dB range mapped onto 0..255.
type Analyzer struct {
	sampleRate float64
	size       int
	smoothing  float64
	minDb      float64
	maxDb      float64

	input    []float64
	window   []float64
	smoothed []float64
	bins     []uint8
}

// New creates an Analyzer. FFTSize is rounded up to a power of two.
func New(cfg Config) *Analyzer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44_100
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = DefaultFFTSize
	}
	cfg.FFTSize = nextPow2(cfg.FFTSize)
	if cfg.FFTSize < 32 {
		cfg.FFTSize = 32
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels = DefaultMinDecibels
		cfg.MaxDecibels = DefaultMaxDecibels
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels = DefaultMinDecibels
		cfg.MaxDecibels = DefaultMaxDecibels
	}

	a := &Analyzer{
		sampleRate: cfg.SampleRate,
		size:       cfg.FFTSize,
		smoothing:  cfg.Smoothing,
		minDb:      cfg.MinDecibels,
		maxDb:      cfg.MaxDecibels,
		input:      make([]float64, cfg.FFTSize),
		window:     make([]float64, cfg.FFTSize),
		smoothed:   make([]float64, cfg.FFTSize/2),
		bins:       make([]uint8, cfg.FFTSize/2),
	}
	sizeF := float64(cfg.FFTSize)
	for i := range a.window {
		a.window[i] = blackman(float64(i), sizeF)
	}
	return a
}

// BinCount is the number of bins in every frame, half the FFT size.
func (a *Analyzer) BinCount() int {
	return a.size / 2
}

// SampleRate of the analysed signal.
func (a *Analyzer) SampleRate() float64 {
	return a.sampleRate
}

// Analyze returns the spectrum of the most recent FFTSize samples. Shorter
// input is zero-padded at the front. The returned frame's bins are reused by
// the next call.
func (a *Analyzer) Analyze(samples []float32) blow.Frame {
	if len(samples) > a.size {
		samples = samples[len(samples)-a.size:]
	}
	pad := a.size - len(samples)
	for i := 0; i < pad; i++ {
		a.input[i] = 0
	}
	for i, s := range samples {
		a.input[pad+i] = float64(s)
	}
	floats.Mul(a.input, a.window)

	spectrum := fft.FFTReal(a.input)

	scale := 1.0 / float64(a.size)
	for k := range a.smoothed {
		mag := cmag(spectrum[k]) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		a.bins[k] = a.toByte(a.smoothed[k])
	}

	return blow.Frame{Bins: a.bins, SampleRate: a.sampleRate}
}

// Reset clears the smoothing history.
func (a *Analyzer) Reset() {
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
}

func (a *Analyzer) toByte(mag float64) uint8 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := math.Floor(255 * (db - a.minDb) / (a.maxDb - a.minDb))
	return uint8(clamp(scaled, 0, 255))
}

func blackman(i, size float64) float64 {
	arg := 2.0 * math.Pi * i / size
	return 0.42 - 0.5*math.Cos(arg) + 0.08*math.Cos(2*arg)
}

func cmag(c complex128) float64 {
	return math.Sqrt(real(c)*real(c) + imag(c)*imag(c))
}

func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

func clamp(v, minVal, maxVal float64) float64 {
	if v < minVal {
		return minVal
	}
	if v > maxVal {
		return maxVal
	}
	return v
}
