package blow

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestTickSkipsWithoutFrame(t *testing.T) {
	d := newTestDetector(t)
	d.Start(epoch)

	res := d.Tick(nil, epoch)
	if res.Processed || res.Snapshot != nil {
		t.Fatalf("nil frame processed: %+v", res)
	}
	res = d.Tick(&Frame{SampleRate: testSampleRate}, epoch)
	if res.Processed {
		t.Fatalf("empty frame processed")
	}
	res = d.Tick(&Frame{Bins: []uint8{10, 10, 10, 10}, SampleRate: math.Inf(1)}, epoch)
	if res.Processed || math.IsNaN(res.Features.Centroid) {
		t.Fatalf("infinite sample rate processed: %+v", res.Features)
	}

	// skipped ticks do not advance the snapshot cadence
	res = d.Tick(quietFrame(t), epoch)
	if res.Snapshot == nil {
		t.Fatalf("first processed tick should carry a snapshot")
	}
}

func TestTickIgnoredWhileStopped(t *testing.T) {
	d := newTestDetector(t)
	for i := 0; i < 30; i++ {
		if res := d.Tick(blowFrame(t), epoch.Add(time.Duration(i)*10*time.Millisecond)); res.Processed {
			t.Fatalf("stopped detector processed a frame")
		}
	}
	if d.Count() != 0 {
		t.Fatalf("count=%d want=0", d.Count())
	}
}

func TestCalibrateRequiresRunning(t *testing.T) {
	d := newTestDetector(t)
	if d.Calibrate(epoch, time.Second) {
		t.Fatalf("calibration started while stopped")
	}
	d.Start(epoch)
	if !d.Calibrate(epoch, time.Second) || !d.Calibrating() {
		t.Fatalf("calibration did not start while running")
	}
}

func TestCalibrationMasksCandidates(t *testing.T) {
	d := newTestDetector(t)
	d.Start(epoch)
	d.Calibrate(epoch, 200*time.Millisecond)

	for i := 0; i < 20; i++ {
		res := d.Tick(blowFrame(t), epoch.Add(time.Duration(i)*10*time.Millisecond))
		if res.Candidate() {
			t.Fatalf("tick %d reported a candidate during calibration", i)
		}
		if res.Snapshot != nil {
			t.Fatalf("tick %d produced a snapshot during calibration", i)
		}
	}
	if d.Count() != 0 || d.State() != Idle {
		t.Fatalf("state machine advanced during calibration: count=%d state=%s", d.Count(), d.State())
	}
}

func TestDetectorEndToEnd(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	vibrations := 0
	d := newTestDetector(t,
		WithLogger(logger),
		WithFeedback(FeedbackFunc(func(time.Duration) { vibrations++ })),
	)

	tick := 10 * time.Millisecond
	now := epoch
	d.Start(now)
	d.Calibrate(now, 100*time.Millisecond)

	calibrated := false
	for i := 0; i <= 10; i++ {
		res := d.Tick(quietFrame(t), now)
		if res.CalibrationDone {
			calibrated = true
			if res.Baseline.MeanLow != 40 || res.Baseline.StdLow != 0 {
				t.Fatalf("baseline=%+v want meanLow=40 stdLow=0", res.Baseline)
			}
		}
		now = now.Add(tick)
	}
	if !calibrated || d.Calibrating() {
		t.Fatalf("calibration did not complete")
	}

	counted := 0
	for i := 0; i < 30; i++ {
		res := d.Tick(blowFrame(t), now)
		if !res.Candidate() {
			t.Fatalf("blow frame rejected: %+v", res.Verdict)
		}
		if res.Counted {
			counted++
		}
		now = now.Add(tick)
	}
	if counted != 1 || d.Count() != 1 || vibrations != 1 {
		t.Fatalf("counted=%d count=%d vibrations=%d want 1/1/1", counted, d.Count(), vibrations)
	}

	var sawCount bool
	for _, e := range hook.AllEntries() {
		if e.Message == "blow counted" {
			sawCount = true
			if e.Data["count"] != 1 {
				t.Fatalf("logged count=%v want=1", e.Data["count"])
			}
		}
	}
	if !sawCount {
		t.Fatalf("no log entry for the counted blow")
	}
}

func TestSnapshotCadence(t *testing.T) {
	d := newTestDetector(t)
	d.Start(epoch)

	var records []Record
	for i := 0; i < 13; i++ {
		res := d.Tick(quietFrame(t), epoch.Add(time.Duration(i)*10*time.Millisecond))
		if (res.Snapshot != nil) != (res.Record != nil) {
			t.Fatalf("tick %d: snapshot and record out of step", i)
		}
		if res.Record != nil {
			records = append(records, *res.Record)
		}
	}
	if len(records) != 3 {
		t.Fatalf("records=%d want=3 (ticks 0, 6, 12)", len(records))
	}
	if records[1].Elapsed != 60*time.Millisecond || records[2].Elapsed != 120*time.Millisecond {
		t.Fatalf("elapsed=%s,%s want 60ms,120ms", records[1].Elapsed, records[2].Elapsed)
	}
}

func TestStopDiscardsCalibration(t *testing.T) {
	d := newTestDetector(t)
	d.Start(epoch)
	d.Calibrate(epoch, time.Second)
	d.Tick(quietFrame(t), epoch)
	d.Tick(quietFrame(t), epoch.Add(10*time.Millisecond))
	d.Stop()

	if d.Calibrating() {
		t.Fatalf("calibration survived stop")
	}
	if _, ok := d.Baseline(); ok {
		t.Fatalf("partial calibration was committed")
	}

	// a later run starts from a clean session
	d.Start(epoch.Add(time.Minute))
	if d.Calibrating() || d.State() != Idle {
		t.Fatalf("restart inherited state: calibrating=%v state=%s", d.Calibrating(), d.State())
	}
}

func TestStopResetsSessionButKeepsCount(t *testing.T) {
	d := newTestDetector(t)
	d.Start(epoch)
	now := epoch
	for i := 0; i < 15; i++ {
		d.Tick(blowFrame(t), now)
		now = now.Add(10 * time.Millisecond)
	}
	if d.Count() != 1 || d.State() != Blowing {
		t.Fatalf("setup: count=%d state=%s", d.Count(), d.State())
	}
	d.Stop()
	if d.State() != Idle || d.Count() != 1 {
		t.Fatalf("after stop: state=%s count=%d", d.State(), d.Count())
	}
	d.Reset()
	if d.Count() != 0 {
		t.Fatalf("count=%d after reset", d.Count())
	}
}

func TestSetThresholds(t *testing.T) {
	d := newTestDetector(t)
	th := testThresholds()
	th.SERRatio = 5

	d.Start(epoch)
	if err := d.SetThresholds(th); !errors.Is(err, ErrRunning) {
		t.Fatalf("err=%v want ErrRunning", err)
	}
	d.Stop()
	if err := d.SetThresholds(th); err != nil {
		t.Fatalf("SetThresholds while stopped: %v", err)
	}
	if d.Thresholds().SERRatio != 5 {
		t.Fatalf("ser=%v want=5", d.Thresholds().SERRatio)
	}

	th.SERRatio = 50
	if err := d.SetThresholds(th); err == nil {
		t.Fatalf("out of range thresholds accepted")
	}
}
