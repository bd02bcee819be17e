package blow

import (
	"errors"
	"io"
	"time"

	"github.com/guidoenr/blowcounter/internal/params"
	"github.com/sirupsen/logrus"
)

const (
	// SnapshotInterval is how many ticks pass between diagnostic snapshots.
	SnapshotInterval = 6
	// FeedbackPulse is the vibration length requested for each counted blow.
	FeedbackPulse = 100 * time.Millisecond
)

// ErrRunning is returned when thresholds are changed during detection.
var ErrRunning = errors.New("detector is running; stop it before changing thresholds")

// Feedback is notified on every counted blow.
type Feedback interface {
	Vibrate(d time.Duration)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(d time.Duration)

// Vibrate calls f(d).
func (f FeedbackFunc) Vibrate(d time.Duration) { f(d) }

// Result describes what a single tick did.
type Result struct {
	// Processed is false when the tick was skipped.
	Processed bool
	Features  Features
	Verdict   Verdict
	State     State
	Count     int
	Counted   bool

	Calibrating     bool
	CalibrationDone bool
	Baseline        Baseline

	// Snapshot and Record are set every SnapshotInterval ticks outside calibration.
	Snapshot *Snapshot
	Record   *Record
}

// Candidate reports the tick's acoustic decision.
func (r Result) Candidate() bool {
	return r.Verdict.Candidate()
}

// Detector is the whole per-tick pipeline and everything it mutates. It is
// not safe for concurrent use: one goroutine owns it and calls Tick.
type Detector struct {
	thresholds params.Thresholds
	extractor  Extractor
	calibrator Calibrator
	machine    Machine
	feedback   Feedback
	log        logrus.FieldLogger

	running bool
	started time.Time
	ticks   uint64
}

// Option customizes a Detector.
type Option func(*Detector)

// WithFeedback sets the counted-blow notifier.
func WithFeedback(f Feedback) Option {
	return func(d *Detector) { d.feedback = f }
}

// WithLogger sets the logger used for state transitions.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Detector) { d.log = l }
}

// NewDetector validates th and returns a stopped detector.
func NewDetector(th params.Thresholds, opts ...Option) (*Detector, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{thresholds: th}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		d.log = quiet
	}
	return d, nil
}

// Start begins detection. Session and calibration state from any earlier run
// are discarded; the last committed baseline is kept until a new calibration
// completes.
func (d *Detector) Start(now time.Time) {
	d.running = true
	d.started = now
	d.ticks = 0
	d.calibrator.Cancel()
	d.machine.Abandon()
	d.log.WithField("count", d.machine.Count()).Debug("detector started")
}

// Stop ends detection. An open calibration window is discarded without
// committing a baseline. The counter keeps its value.
func (d *Detector) Stop() {
	if d.calibrator.Active() {
		d.log.WithField("frames", d.calibrator.Samples()).Debug("calibration discarded on stop")
	}
	d.running = false
	d.calibrator.Cancel()
	d.machine.Abandon()
	d.log.WithField("count", d.machine.Count()).Debug("detector stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (d *Detector) Running() bool {
	return d.running
}

// Calibrate opens a calibration window of length dur. It does nothing and
// returns false while detection is stopped.
func (d *Detector) Calibrate(now time.Time, dur time.Duration) bool {
	if !d.running || dur <= 0 {
		return false
	}
	d.calibrator.Start(now, dur)
	d.log.WithField("duration", dur).Debug("calibration started")
	return true
}

// Reset zeroes the counter and returns the state machine to Idle.
func (d *Detector) Reset() {
	d.machine.Reset()
}

// SetThresholds replaces the thresholds. Only allowed while stopped.
func (d *Detector) SetThresholds(th params.Thresholds) error {
	if d.running {
		return ErrRunning
	}
	if err := th.Validate(); err != nil {
		return err
	}
	d.thresholds = th
	return nil
}

// Thresholds returns the active thresholds.
func (d *Detector) Thresholds() params.Thresholds {
	return d.thresholds
}

// Count is the number of blows counted since the last Reset.
func (d *Detector) Count() int {
	return d.machine.Count()
}

// State is the blow session state.
func (d *Detector) State() State {
	return d.machine.State()
}

// Calibrating reports whether a calibration window is open.
func (d *Detector) Calibrating() bool {
	return d.calibrator.Active()
}

// Baseline returns the last committed baseline.
func (d *Detector) Baseline() (Baseline, bool) {
	return d.calibrator.Baseline()
}

// Tick runs the pipeline for one frame. A nil or invalid frame, or a stopped
// detector, makes the tick a no-op.
func (d *Detector) Tick(frame *Frame, now time.Time) Result {
	baseline, _ := d.calibrator.Baseline()
	res := Result{
		State:       d.machine.State(),
		Count:       d.machine.Count(),
		Calibrating: d.calibrator.Active(),
		Baseline:    baseline,
	}
	if !d.running || frame == nil {
		return res
	}
	if err := frame.Validate(); err != nil {
		d.log.WithError(err).Debug("frame skipped")
		return res
	}

	res.Processed = true
	res.Features = d.extractor.Extract(*frame)
	tick := d.ticks
	d.ticks++

	if d.calibrator.Active() {
		b, done := d.calibrator.Observe(res.Features.ELow, res.Features.EMid, now)
		res.Baseline = b
		res.Calibrating = !done
		res.CalibrationDone = done
		res.Verdict = Verdict{Calibrating: true}
		if done {
			d.log.WithFields(logrus.Fields{
				"meanLow": b.MeanLow,
				"stdLow":  b.StdLow,
				"meanMid": b.MeanMid,
				"stdMid":  b.StdMid,
			}).Info("calibration complete")
		}
		return res
	}

	res.Verdict = Evaluate(res.Features, d.thresholds, baseline, false)
	res.Counted = d.machine.Step(res.Verdict.Candidate(), now, d.thresholds)
	res.State = d.machine.State()
	res.Count = d.machine.Count()

	if res.Counted {
		d.log.WithFields(logrus.Fields{
			"count": res.Count,
			"eLow":  res.Features.ELow,
			"ratio": res.Features.Ratio,
		}).Info("blow counted")
		if d.feedback != nil {
			d.feedback.Vibrate(FeedbackPulse)
		}
	}

	if tick%SnapshotInterval == 0 {
		snap := NewSnapshot(res.Features, res.Verdict.Candidate())
		res.Snapshot = &snap
		res.Record = &Record{
			Elapsed:   now.Sub(d.started),
			Features:  res.Features,
			Candidate: res.Verdict.Candidate(),
		}
	}
	return res
}
