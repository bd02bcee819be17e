package app

import (
	"context"
	"time"

	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/guidoenr/blowcounter/internal/params"
)

// Status is the published view of the detector, refreshed every tick.
type Status struct {
	RunID       string
	Source      string
	Running     bool
	Calibrating bool
	State       string
	Count       int
	Volume      int
	Snapshot    *blow.Snapshot
	Settings    params.Settings
	Records     int
	Message     string
	Updated     time.Time
}

// EventType names what an Event reports.
type EventType string

const (
	EventBlow    EventType = "blow"
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
)

// Event is pushed to subscribers when something happens between status polls.
type Event struct {
	Type   EventType
	Status Status
}

const subscriberBuffer = 16

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdCalibrate
	cmdReset
	cmdSettings
	cmdRecording
	cmdClearHistory
)

type command struct {
	kind     commandKind
	settings params.Settings
	record   bool
	reply    chan error
}

// Start opens the frame source and begins detection with an automatic
// calibration window.
func (a *App) Start(ctx context.Context) error {
	return a.do(ctx, command{kind: cmdStart})
}

// Stop ends detection and releases the frame source.
func (a *App) Stop(ctx context.Context) error {
	return a.do(ctx, command{kind: cmdStop})
}

// Calibrate opens a manual calibration window. It returns ErrStopped when
// detection is not running.
func (a *App) Calibrate(ctx context.Context) error {
	return a.do(ctx, command{kind: cmdCalibrate})
}

// Reset zeroes the counter.
func (a *App) Reset(ctx context.Context) error {
	return a.do(ctx, command{kind: cmdReset})
}

// UpdateSettings replaces the settings. Thresholds are snapped to their
// steps first; blow.ErrRunning is returned while detection runs.
func (a *App) UpdateSettings(ctx context.Context, s params.Settings) error {
	return a.do(ctx, command{kind: cmdSettings, settings: s})
}

// SetRecording turns the diagnostic history on or off.
func (a *App) SetRecording(ctx context.Context, on bool) error {
	return a.do(ctx, command{kind: cmdRecording, record: on})
}

// ClearHistory drops all recorded rows.
func (a *App) ClearHistory(ctx context.Context) error {
	return a.do(ctx, command{kind: cmdClearHistory})
}

// Status returns the last published status. Safe for concurrent use.
func (a *App) Status() Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// Subscribe registers for events. The returned cancel function must be
// called to release the subscription. Slow subscribers miss events.
func (a *App) Subscribe() (<-chan Event, func()) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	id := a.nextID
	a.nextID++
	ch := make(chan Event, subscriberBuffer)
	a.subs[id] = ch
	return ch, func() {
		a.subsMu.Lock()
		defer a.subsMu.Unlock()
		if _, ok := a.subs[id]; ok {
			delete(a.subs, id)
			close(ch)
		}
	}
}

func (a *App) do(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case a.commands <- cmd:
	case <-a.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) handle(cmd command) error {
	var err error
	switch cmd.kind {
	case cmdStart:
		err = a.startDetection()
	case cmdStop:
		a.stopDetection("stopped")
	case cmdCalibrate:
		err = a.calibrate()
	case cmdReset:
		a.reset()
	case cmdSettings:
		err = a.applySettings(cmd.settings)
	case cmdRecording:
		if a.settings.Record != cmd.record {
			a.toggleRecording()
		}
	case cmdClearHistory:
		err = a.clearHistory()
	}
	a.publish()
	return err
}

// publish refreshes the shared status copy from loop-owned state.
func (a *App) publish() Status {
	s := Status{
		RunID:       a.runID,
		Source:      a.sourceLabel,
		Running:     a.detector.Running(),
		Calibrating: a.detector.Calibrating(),
		State:       a.detector.State().String(),
		Count:       a.detector.Count(),
		Volume:      a.volume,
		Snapshot:    a.snapshot,
		Settings:    a.settings,
		Records:     a.history.Len(),
		Message:     a.message,
		Updated:     a.clock(),
	}
	a.statusMu.Lock()
	a.status = s
	a.statusMu.Unlock()
	return s
}

func (a *App) broadcast(evt Event) {
	a.subsMu.Lock()
	defer a.subsMu.Unlock()
	for _, ch := range a.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
