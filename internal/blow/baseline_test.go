package blow

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/stat"
)

func TestCalibratorConstantInput(t *testing.T) {
	var c Calibrator
	tick := 16 * time.Millisecond
	c.Start(epoch, 9*tick)

	for i := 0; i < 10; i++ {
		b, done := c.Observe(50, 20, epoch.Add(time.Duration(i)*tick))
		if i < 9 {
			if done {
				t.Fatalf("calibration finished early at tick %d", i)
			}
			continue
		}
		if !done {
			t.Fatalf("calibration not finished after 10 ticks")
		}
		want := Baseline{MeanLow: 50, StdLow: 0, MeanMid: 20, StdMid: 0}
		if b != want {
			t.Fatalf("baseline=%+v want=%+v", b, want)
		}
	}
	if c.Active() {
		t.Fatalf("calibrator still active after finishing")
	}
	if _, ok := c.Baseline(); !ok {
		t.Fatalf("baseline not committed")
	}
}

func TestCalibratorMatchesPopulationStats(t *testing.T) {
	lows := []float64{12, 40, 33, 18, 27, 51, 9, 30}
	mids := []float64{5, 8, 13, 2, 7, 9, 11, 4}

	var c Calibrator
	c.Start(epoch, time.Duration(len(lows)-1)*time.Millisecond)
	var b Baseline
	var done bool
	for i := range lows {
		b, done = c.Observe(lows[i], mids[i], epoch.Add(time.Duration(i)*time.Millisecond))
	}
	if !done {
		t.Fatalf("calibration did not finish")
	}

	meanLow, stdLow := stat.PopMeanStdDev(lows, nil)
	meanMid, stdMid := stat.PopMeanStdDev(mids, nil)
	for _, tc := range []struct {
		name      string
		got, want float64
	}{
		{"meanLow", b.MeanLow, meanLow},
		{"stdLow", b.StdLow, stdLow},
		{"meanMid", b.MeanMid, meanMid},
		{"stdMid", b.StdMid, stdMid},
	} {
		if math.Abs(tc.got-tc.want) > 1e-9 {
			t.Fatalf("%s=%f want=%f", tc.name, tc.got, tc.want)
		}
	}
}

func TestCalibratorCancelCommitsNothing(t *testing.T) {
	var c Calibrator
	c.Start(epoch, time.Second)
	c.Observe(80, 10, epoch)
	c.Observe(90, 10, epoch.Add(10*time.Millisecond))
	c.Cancel()

	if c.Active() {
		t.Fatalf("calibrator active after cancel")
	}
	if _, ok := c.Baseline(); ok {
		t.Fatalf("cancelled calibration committed a baseline")
	}
	if _, done := c.Observe(80, 10, epoch.Add(2*time.Second)); done {
		t.Fatalf("observe after cancel should be ignored")
	}
}

func TestCalibratorRestartDropsSums(t *testing.T) {
	var c Calibrator
	c.Start(epoch, time.Second)
	c.Observe(500, 500, epoch)

	c.Start(epoch, 0)
	b, done := c.Observe(10, 4, epoch)
	if !done {
		t.Fatalf("zero-length window should finish on first observation")
	}
	if b.MeanLow != 10 || b.MeanMid != 4 {
		t.Fatalf("restart kept old sums: %+v", b)
	}
}
