package analyzer

import "github.com/guidoenr/blowcounter/internal/blow"

// SampleSource provides the latest block of mono samples.
type SampleSource interface {
	Samples() []float32
	SampleRate() float64
}

// Source is a spectral frame source backed by live or replayed samples.
type Source struct {
	samples  SampleSource
	analyzer *Analyzer
}

// NewSource wires samples into a fresh Analyzer running at their sample rate.
func NewSource(samples SampleSource, fftSize int) *Source {
	return &Source{
		samples: samples,
		analyzer: New(Config{
			SampleRate: samples.SampleRate(),
			FFTSize:    fftSize,
			Smoothing:  DefaultSmoothing,
		}),
	}
}

// Frame analyses the current samples. It returns nil when nothing is
// available yet.
func (s *Source) Frame() *blow.Frame {
	if s == nil || s.samples == nil {
		return nil
	}
	samples := s.samples.Samples()
	if len(samples) == 0 {
		return nil
	}
	f := s.analyzer.Analyze(samples)
	return &f
}

// BinCount reports the frame size this source produces.
func (s *Source) BinCount() int {
	return s.analyzer.BinCount()
}
