package blow

import (
	"math"
	"time"
)

// Baseline is the background noise floor per band.
type Baseline struct {
	MeanLow float64
	StdLow  float64
	MeanMid float64
	StdMid  float64
}

// Calibrator accumulates band energies over a fixed wall-clock window and
// turns them into a Baseline. The window end is polled on each observation, so
// its resolution is one tick.
type Calibrator struct {
	active bool
	end    time.Time

	sumLow, sumLowSq float64
	sumMid, sumMidSq float64
	count            int

	baseline  Baseline
	committed bool
}

// Start begins a new calibration window, discarding any in-progress sums.
func (c *Calibrator) Start(now time.Time, d time.Duration) {
	c.active = true
	c.end = now.Add(d)
	c.sumLow, c.sumLowSq = 0, 0
	c.sumMid, c.sumMidSq = 0, 0
	c.count = 0
}

// Observe folds one frame into the window. When the window has elapsed the
// baseline is committed and done is true.
func (c *Calibrator) Observe(eLow, eMid float64, now time.Time) (b Baseline, done bool) {
	if !c.active {
		return c.baseline, false
	}
	c.sumLow += eLow
	c.sumLowSq += eLow * eLow
	c.sumMid += eMid
	c.sumMidSq += eMid * eMid
	c.count++

	if now.Before(c.end) {
		return c.baseline, false
	}
	c.baseline = c.finalize()
	c.committed = true
	c.active = false
	c.end = time.Time{}
	return c.baseline, true
}

// Cancel drops the current window without committing anything.
func (c *Calibrator) Cancel() {
	c.active = false
	c.end = time.Time{}
	c.sumLow, c.sumLowSq = 0, 0
	c.sumMid, c.sumMidSq = 0, 0
	c.count = 0
}

// Active reports whether a window is open.
func (c *Calibrator) Active() bool {
	return c.active
}

// Baseline returns the last committed baseline and whether one exists. Before
// the first commit it is the zero baseline, which leaves the energy floor as
// the only energy gate.
func (c *Calibrator) Baseline() (Baseline, bool) {
	return c.baseline, c.committed
}

// Samples returns how many frames the open window has seen.
func (c *Calibrator) Samples() int {
	return c.count
}

func (c *Calibrator) finalize() Baseline {
	n := float64(max(c.count, 1))
	meanLow := c.sumLow / n
	meanMid := c.sumMid / n
	varLow := math.Max(c.sumLowSq/n-meanLow*meanLow, 0)
	varMid := math.Max(c.sumMidSq/n-meanMid*meanMid, 0)
	return Baseline{
		MeanLow: meanLow,
		StdLow:  math.Sqrt(varLow),
		MeanMid: meanMid,
		StdMid:  math.Sqrt(varMid),
	}
}
