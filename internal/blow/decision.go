package blow

import (
	"math"

	"github.com/guidoenr/blowcounter/internal/params"
)

// Verdict records which of the three acoustic conditions held for a frame.
type Verdict struct {
	Calibrating bool
	EnergyOK    bool
	RatioOK     bool
	CentroidOK  bool
}

// Candidate is true when every condition holds outside calibration.
func (v Verdict) Candidate() bool {
	return !v.Calibrating && v.EnergyOK && v.RatioOK && v.CentroidOK
}

// EnergyThreshold is the low-band level a frame has to exceed. It follows the
// calibrated noise floor but never drops below the fixed floor.
func EnergyThreshold(th params.Thresholds, b Baseline) float64 {
	return math.Max(th.EnergyFloor, b.MeanLow+th.StdMultiplier*b.StdLow)
}

// Evaluate applies the energy, ratio and centroid tests.
func Evaluate(f Features, th params.Thresholds, b Baseline, calibrating bool) Verdict {
	if calibrating {
		return Verdict{Calibrating: true}
	}
	return Verdict{
		EnergyOK:   f.ELow > EnergyThreshold(th, b),
		RatioOK:    f.Ratio > th.SERRatio,
		CentroidOK: f.Centroid < th.CentroidCeilingHz,
	}
}

// IsCandidate is shorthand for Evaluate(...).Candidate().
func IsCandidate(f Features, th params.Thresholds, b Baseline, calibrating bool) bool {
	return Evaluate(f, th, b, calibrating).Candidate()
}
