package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/eiannone/keyboard"
	"github.com/google/uuid"
	"github.com/guidoenr/blowcounter/internal/audio"
	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/guidoenr/blowcounter/internal/params"
	"github.com/guidoenr/blowcounter/internal/render"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	// ErrNoSource is returned by Start when no frame source is configured.
	ErrNoSource = errors.New("no audio source available")
	// ErrStopped is returned for operations that need detection running.
	ErrStopped = errors.New("detection is stopped")
	// ErrClosed is returned when the run loop is not accepting commands.
	ErrClosed = errors.New("app is not running")
)

// Config configures the application runtime.
type Config struct {
	DeviceName   string
	FilePath     string
	TargetFPS    float64
	BufferSize   int
	DisableAudio bool
	Settings     params.Settings
	HistoryPath  string
	// Audio is required for microphone input.
	Audio *audio.Context
	// Reloads delivers settings file changes; optional.
	Reloads <-chan params.Reload
	// Interactive enables the terminal dashboard and keyboard controls.
	Interactive bool
	Palette     string
	Out         io.Writer
	Log         logrus.FieldLogger
}

type inputEvent int

const (
	inputEventToggle inputEvent = iota
	inputEventCalibrate
	inputEventReset
	inputEventRecord
	inputEventClear
	inputEventQuit
)

// App ties together a frame source, the detector, the history recorder and
// the terminal dashboard. Run owns all of them; other goroutines go through
// the control methods.
type App struct {
	cfg         Config
	log         logrus.FieldLogger
	out         io.Writer
	clock       func() time.Time
	detector    *blow.Detector
	open        sourceOpener
	source      frameSource
	sourceLabel string
	settings    params.Settings
	pending     *params.Settings
	history     *history
	renderer    *render.Renderer
	runID       string
	volume      int
	snapshot    *blow.Snapshot
	message     string
	width       int
	inputEvents chan inputEvent

	commands chan command
	done     chan struct{}

	statusMu sync.RWMutex
	status   Status

	subsMu sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// New constructs the application using the provided configuration. File
// input is decoded here so a bad file fails before the loop starts.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 60
	}
	if cfg.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		cfg.Log = l
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Settings == (params.Settings{}) {
		cfg.Settings = params.DefaultSettings()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings: %w", err)
	}

	a := &App{
		cfg:      cfg,
		log:      cfg.Log,
		out:      cfg.Out,
		clock:    time.Now,
		settings: cfg.Settings,
		commands: make(chan command),
		done:     make(chan struct{}),
		subs:     make(map[int]chan Event),
		width:    80,
	}

	opts := []blow.Option{blow.WithLogger(cfg.Log)}
	if cfg.Interactive {
		opts = append(opts, blow.WithFeedback(blow.FeedbackFunc(a.bell)))
	}
	detector, err := blow.NewDetector(cfg.Settings.Thresholds, opts...)
	if err != nil {
		return nil, err
	}
	a.detector = detector

	switch {
	case cfg.DisableAudio:
		a.open = openFake(cfg.TargetFPS, time.Now().UnixNano())
		a.sourceLabel = "synthetic"
		a.log.Info("audio disabled, using synthetic generator")
	case cfg.FilePath != "":
		clip, err := audio.DecodeFile(ctx, cfg.FilePath, audio.DecodeConfig{})
		if err != nil {
			return nil, err
		}
		a.open = openFile(clip)
		a.sourceLabel = "file " + clip.Meta.DisplayName()
		a.log.WithFields(logrus.Fields{
			"file":     clip.Meta.Path,
			"title":    clip.Meta.Title,
			"format":   clip.Meta.Format,
			"duration": clip.Duration().Round(time.Millisecond),
		}).Info("audio file decoded")
	case cfg.Audio != nil:
		a.open = openMic(cfg.Audio, cfg)
		a.sourceLabel = "microphone"
		if cfg.DeviceName != "" {
			a.sourceLabel += " " + cfg.DeviceName
		}
	}

	hist, err := newHistory(cfg.HistoryPath, cfg.Log)
	if err != nil {
		return nil, err
	}
	a.history = hist

	if cfg.Interactive {
		renderer, err := render.New(a.width, cfg.Palette, true)
		if err != nil {
			return nil, err
		}
		a.renderer = renderer
	}

	a.publish()
	return a, nil
}

// Run drives detection at the target FPS until the context is cancelled or
// the user quits.
func (a *App) Run(ctx context.Context) error {
	defer close(a.done)
	defer a.stopDetection("shutdown")

	frameDuration := time.Duration(float64(time.Second) / a.cfg.TargetFPS)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	if a.cfg.Interactive {
		enterAltScreen(a.out)
		clearScreen(a.out)
		hideCursor(a.out)
		defer func() {
			showCursor(a.out)
			exitAltScreen(a.out)
		}()

		inputCtx, cancelInput := context.WithCancel(ctx)
		defer cancelInput()
		a.startInputListener(inputCtx)
		a.ensureDimensions()
	}

	reloads := a.cfg.Reloads
	for {
		var sourceDone <-chan struct{}
		if a.source != nil {
			sourceDone = a.source.Done()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-a.inputEvents:
			if !ok {
				a.inputEvents = nil
				continue
			}
			if evt == inputEventQuit {
				return nil
			}
			a.handleInput(evt)
		case cmd := <-a.commands:
			cmd.reply <- a.handle(cmd)
		case <-sourceDone:
			a.log.Info("playback finished")
			a.stopDetection("playback finished")
		case r, ok := <-reloads:
			if !ok {
				reloads = nil
				continue
			}
			a.reload(r)
		case now := <-ticker.C:
			a.step(now)
		}
	}
}

// Close releases held resources.
func (a *App) Close() error {
	var errs []error
	if a.source != nil {
		errs = append(errs, a.source.Close())
		a.source = nil
	}
	errs = append(errs, a.history.Close())
	return errors.Join(errs...)
}

func (a *App) step(now time.Time) {
	var frame *blow.Frame
	if a.source != nil {
		frame = a.source.Frame()
	}

	res := a.detector.Tick(frame, now)
	if res.Processed {
		a.volume = int(math.Round(res.Features.ELow))
	}
	if res.Snapshot != nil {
		a.snapshot = res.Snapshot
	}
	if res.Record != nil && a.settings.Record {
		a.history.add(*res.Record)
	}
	if res.CalibrationDone {
		a.message = "calibrated"
	}

	status := a.publish()
	if res.Counted {
		a.broadcast(Event{Type: EventBlow, Status: status})
	}
	if a.renderer != nil {
		a.draw(status)
	}
}

func (a *App) startDetection() error {
	if a.detector.Running() {
		return nil
	}
	if a.open == nil {
		return ErrNoSource
	}
	src, err := a.open(a.settings)
	if err != nil {
		a.message = err.Error()
		a.log.WithError(err).Error("could not open audio source")
		return err
	}
	a.source = src

	now := a.clock()
	a.runID = uuid.NewString()
	a.snapshot = nil
	a.message = ""
	a.detector.Start(now)
	a.detector.Calibrate(now, a.settings.AutoCalibration)
	a.history.begin(a.runID, now)
	a.log.WithFields(logrus.Fields{
		"run_id": a.runID,
		"source": a.sourceLabel,
		"ser":    a.settings.Thresholds.SERRatio,
	}).Info("detection started")

	a.broadcast(Event{Type: EventStarted, Status: a.publish()})
	return nil
}

func (a *App) stopDetection(reason string) {
	if !a.detector.Running() {
		return
	}
	a.detector.Stop()
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.log.WithError(err).Warn("closing audio source")
		}
		a.source = nil
	}
	a.history.end()
	a.log.WithFields(logrus.Fields{
		"run_id": a.runID,
		"count":  a.detector.Count(),
		"reason": reason,
	}).Info("detection stopped")
	a.runID = ""
	a.volume = 0
	a.message = reason

	if a.pending != nil {
		next := *a.pending
		a.pending = nil
		if err := a.applySettings(next); err != nil {
			a.log.WithError(err).Warn("deferred settings rejected")
		}
	}

	a.broadcast(Event{Type: EventStopped, Status: a.publish()})
}

func (a *App) applySettings(s params.Settings) error {
	if a.detector.Running() {
		return blow.ErrRunning
	}
	s.Thresholds = s.Thresholds.Snap()
	if err := s.Validate(); err != nil {
		return err
	}
	if err := a.detector.SetThresholds(s.Thresholds); err != nil {
		return err
	}
	a.settings = s
	a.log.WithFields(logrus.Fields{
		"ser":         s.Thresholds.SERRatio,
		"duration":    s.Thresholds.BlowDuration,
		"cooldown":    s.Thresholds.Cooldown,
		"suppression": s.NoiseSuppression,
	}).Info("settings applied")
	return nil
}

func (a *App) reload(r params.Reload) {
	if r.Err != nil {
		a.log.WithError(r.Err).Warn("settings file ignored")
		return
	}
	if a.detector.Running() {
		s := r.Settings
		a.pending = &s
		a.log.Info("settings file changed, applying after stop")
		return
	}
	if err := a.applySettings(r.Settings); err != nil {
		a.log.WithError(err).Warn("settings file rejected")
		return
	}
	a.publish()
}

func (a *App) handleInput(evt inputEvent) {
	var err error
	switch evt {
	case inputEventToggle:
		if a.detector.Running() {
			a.stopDetection("stopped")
		} else {
			err = a.startDetection()
		}
	case inputEventCalibrate:
		err = a.calibrate()
	case inputEventReset:
		a.reset()
	case inputEventRecord:
		a.toggleRecording()
	case inputEventClear:
		err = a.clearHistory()
	}
	if err != nil {
		a.message = err.Error()
	}
	a.publish()
}

func (a *App) calibrate() error {
	if !a.detector.Calibrate(a.clock(), a.settings.ManualCalibration) {
		return ErrStopped
	}
	a.message = "calibrating"
	return nil
}

func (a *App) reset() {
	a.detector.Reset()
	a.message = "counter reset"
	a.log.Info("counter reset")
}

func (a *App) toggleRecording() {
	a.settings.Record = !a.settings.Record
	a.message = "recording " + onOff(a.settings.Record)
}

func (a *App) clearHistory() error {
	if err := a.history.clear(); err != nil {
		return err
	}
	a.message = "history cleared"
	return nil
}

func (a *App) bell(time.Duration) {
	fmt.Fprint(a.out, "\a")
}

func (a *App) draw(s Status) {
	a.ensureDimensions()
	baseline, _ := a.detector.Baseline()
	frame := a.renderer.Render(render.View{
		Source:          a.sourceLabel,
		RunID:           s.RunID,
		Running:         s.Running,
		Calibrating:     s.Calibrating,
		State:           a.detector.State(),
		Count:           s.Count,
		Volume:          s.Volume,
		EnergyThreshold: blow.EnergyThreshold(a.settings.Thresholds, baseline),
		Snapshot:        s.Snapshot,
		Settings:        s.Settings,
		Recording:       s.Settings.Record,
		Records:         s.Records,
		Message:         s.Message,
	})

	moveCursorHome(a.out)
	for _, line := range frame.Lines {
		fmt.Fprint(a.out, line, "\x1b[K\n")
	}
	fmt.Fprint(a.out, "\x1b[K\n", statusBar(frame.Status, a.width), "\x1b[J")
}

func (a *App) ensureDimensions() {
	fd := int(os.Stdout.Fd())
	if fd < 0 {
		return
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 || w == a.width {
		return
	}
	a.width = w
	a.renderer.Resize(w)
}

func (a *App) startInputListener(ctx context.Context) {
	if err := keyboard.Open(); err != nil {
		a.log.WithError(err).Warn("keyboard input disabled")
		a.inputEvents = nil
		return
	}

	events := make(chan inputEvent, 16)
	a.inputEvents = events

	closeOnce := &sync.Once{}
	go func() {
		<-ctx.Done()
		closeOnce.Do(func() {
			_ = keyboard.Close()
		})
	}()

	go func() {
		defer close(events)
		defer closeOnce.Do(func() {
			_ = keyboard.Close()
		})
		for {
			char, key, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			evt, ok := keyEvent(char, key)
			if !ok {
				continue
			}
			if evt == inputEventQuit {
				events <- evt
				return
			}
			select {
			case events <- evt:
			default:
			}
		}
	}()
}

func keyEvent(char rune, key keyboard.Key) (inputEvent, bool) {
	if key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
		return inputEventQuit, true
	}
	switch char {
	case 'q', 'Q':
		return inputEventQuit, true
	case 's', 'S', ' ':
		return inputEventToggle, true
	case 'c', 'C':
		return inputEventCalibrate, true
	case 'r', 'R':
		return inputEventReset, true
	case 'l', 'L':
		return inputEventRecord, true
	case 'x', 'X':
		return inputEventClear, true
	}
	return 0, false
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// statusBar fits text to width terminal cells.
func statusBar(text string, width int) string {
	if width <= 0 {
		return text
	}
	text = ansi.Truncate(text, width, "")
	return text + strings.Repeat(" ", width-ansi.StringWidth(text))
}

func clearScreen(w io.Writer) {
	fmt.Fprint(w, "\x1b[2J")
	moveCursorHome(w)
}

func moveCursorHome(w io.Writer) {
	fmt.Fprint(w, "\x1b[H")
}

func hideCursor(w io.Writer) {
	fmt.Fprint(w, "\x1b[?25l")
}

func showCursor(w io.Writer) {
	fmt.Fprint(w, "\x1b[?25h")
}

func enterAltScreen(w io.Writer) {
	fmt.Fprint(w, "\x1b[?1049h")
}

func exitAltScreen(w io.Writer) {
	fmt.Fprint(w, "\x1b[?1049l\x1b[0m")
}
