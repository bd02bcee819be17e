// Package blow detects deliberate blows into a microphone from short-time
// spectra and turns them into debounced, counted events.
//
// The pipeline per frame is: feature extraction, then either baseline
// calibration or the three-condition decision, then the Idle/Blowing state
// machine. Detector ties the stages together and owns all mutable state.
package blow

import (
	"errors"
	"math"
)

var (
	// ErrEmptyFrame indicates a frame without bins.
	ErrEmptyFrame = errors.New("spectral frame has no bins")
	// ErrInvalidSampleRate indicates a non-positive or non-finite sample rate.
	ErrInvalidSampleRate = errors.New("spectral frame sample rate must be positive")
)

// Frame is one spectrum: byte magnitudes per bin covering [0, SampleRate/2).
type Frame struct {
	Bins       []uint8
	SampleRate float64
}

// BinCount returns the number of frequency bins.
func (f Frame) BinCount() int {
	return len(f.Bins)
}

// Nyquist returns the highest frequency the frame can represent.
func (f Frame) Nyquist() float64 {
	return f.SampleRate / 2
}

// Validate checks the frame invariants.
func (f Frame) Validate() error {
	if len(f.Bins) == 0 {
		return ErrEmptyFrame
	}
	if !(f.SampleRate > 0) || math.IsInf(f.SampleRate, 0) {
		return ErrInvalidSampleRate
	}
	return nil
}
