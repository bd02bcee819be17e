package blow

import (
	"testing"
	"time"

	"github.com/guidoenr/blowcounter/internal/params"
)

const (
	testSampleRate = 44100.0
	testBins       = 1024
)

// bandFrame fills the low band with low, the mid band with mid and leaves
// everything above 3 kHz silent.
func bandFrame(t *testing.T, low, mid uint8) *Frame {
	t.Helper()
	f := &Frame{Bins: make([]uint8, testBins), SampleRate: testSampleRate}
	_, lowEnd, midStart, midEnd := bandRanges(testBins, HzPerBin(*f))
	for i := 0; i < lowEnd; i++ {
		f.Bins[i] = low
	}
	for i := midStart; i < midEnd; i++ {
		f.Bins[i] = mid
	}
	return f
}

func quietFrame(t *testing.T) *Frame {
	return bandFrame(t, 40, 30)
}

func blowFrame(t *testing.T) *Frame {
	return bandFrame(t, 220, 20)
}

func testThresholds() params.Thresholds {
	th := params.Defaults()
	th.SERRatio = 2.2
	th.BlowDuration = 100 * time.Millisecond
	th.Cooldown = 500 * time.Millisecond
	return th
}

func newTestDetector(t *testing.T, opts ...Option) *Detector {
	t.Helper()
	d, err := NewDetector(testThresholds(), opts...)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
