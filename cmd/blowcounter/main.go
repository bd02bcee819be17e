package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/guidoenr/blowcounter/internal/app"
	"github.com/guidoenr/blowcounter/internal/audio"
	"github.com/guidoenr/blowcounter/internal/cli"
	"github.com/guidoenr/blowcounter/internal/params"
	"github.com/guidoenr/blowcounter/internal/web"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"
)

var (
	version = "0.1.0"
)

// CLI defines the command-line interface
type CLI struct {
	Device      string        `help:"PortAudio input device (substring match)"`
	File        string        `type:"existingfile" help:"Detect blows in an audio file instead of the microphone"`
	FPS         float64       `name:"fps" default:"60" help:"Detection ticks per second"`
	BufferSize  int           `default:"4096" help:"Capture ring buffer size in samples"`
	NoAudio     bool          `help:"Run with synthetic input (for testing)"`
	Debug       bool          `help:"Enable verbose logging"`
	Config      string        `short:"c" type:"path" help:"INI settings file; watched for changes"`
	SaveConfig  bool          `help:"Write the effective settings to --config and exit"`
	WebPort     int           `default:"0" help:"Serve the HTTP control API on this port (0 disables)"`
	History     string        `type:"path" help:"Append the diagnostic history to this CSV file"`
	SER         float64       `name:"ser" help:"Low/mid energy ratio threshold (2-10)"`
	Duration    time.Duration `help:"Minimum blow duration (100ms-1s)"`
	Cooldown    time.Duration `help:"Pause required between counted blows (100ms-2s)"`
	Suppression string        `enum:",on,off" default:"" help:"Noise suppression on live capture (on|off)"`
	Palette     string        `default:"blocks" help:"Meter palette (blocks|shade|ascii)"`
	Start       bool          `help:"Start detection immediately"`

	ListAudioDevices bool `help:"List available audio input devices and exit"`
	Version          bool `short:"v" help:"Show version information"`
}

// overrides applies flags given on the command line on top of s.
func (c *CLI) overrides(s params.Settings) params.Settings {
	if c.SER > 0 {
		s.Thresholds.SERRatio = c.SER
	}
	if c.Duration > 0 {
		s.Thresholds.BlowDuration = c.Duration
	}
	if c.Cooldown > 0 {
		s.Thresholds.Cooldown = c.Cooldown
	}
	switch c.Suppression {
	case "on":
		s.NoiseSuppression = true
	case "off":
		s.NoiseSuppression = false
	}
	s.Thresholds = s.Thresholds.Snap()
	return s
}

func main() {
	cliArgs := &CLI{}
	kctx := kong.Parse(cliArgs,
		kong.Name("blowcounter"),
		kong.Description("Counts breath blows at a microphone from spectral features"),
		kong.UsageOnError(),
	)

	if cliArgs.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}
	if cliArgs.FPS <= 0 {
		cli.PrintError(fmt.Sprintf("fps must be positive (got %.2f)", cliArgs.FPS))
		kctx.PrintUsage(false)
		os.Exit(1)
	}
	if cliArgs.SaveConfig && cliArgs.Config == "" {
		cli.PrintError("--save-config needs --config")
		os.Exit(1)
	}

	if err := run(cliArgs); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

func run(c *CLI) error {
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	logger, closeLog := newLogger(c.Debug, interactive)
	defer closeLog()

	settings, err := loadSettings(c, logger)
	if err != nil {
		return err
	}
	if c.SaveConfig {
		if err := params.Save(c.Config, settings); err != nil {
			return err
		}
		fmt.Printf("settings written to %s\n", c.Config)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var actx *audio.Context
	if c.ListAudioDevices || (!c.NoAudio && c.File == "") {
		actx, err = audio.OpenContext()
		if err != nil {
			return err
		}
		defer actx.Close()
	}

	if c.ListAudioDevices {
		devices, err := actx.Devices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		auto := ""
		if dev, err := actx.AutoDetectDevice(); err == nil && dev != nil {
			auto = fmt.Sprintf("%s (%.0f Hz, %d channels)", dev.Name, dev.DefaultSampleRate, dev.MaxInputChannels)
		}
		cli.PrintDevices(os.Stdout, devices, auto)
		return nil
	}

	var reloads <-chan params.Reload
	if c.Config != "" {
		watcher, err := params.Watch(ctx, c.Config)
		if err != nil {
			logger.WithError(err).Warn("settings file will not be watched")
		} else {
			defer watcher.Close()
			reloads = withOverrides(ctx, watcher.Updates(), c)
		}
	}

	a, err := app.New(ctx, app.Config{
		DeviceName:   c.Device,
		FilePath:     c.File,
		TargetFPS:    c.FPS,
		BufferSize:   c.BufferSize,
		DisableAudio: c.NoAudio,
		Settings:     settings,
		HistoryPath:  c.History,
		Audio:        actx,
		Reloads:      reloads,
		Interactive:  interactive,
		Palette:      c.Palette,
		Log:          logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("cleanup error")
		}
	}()

	if c.WebPort > 0 {
		srv := web.NewServer(a, logger)
		go func() {
			if err := srv.Start(ctx, c.WebPort); err != nil {
				logger.WithError(err).Error("web server stopped")
			}
		}()
	}

	if c.Start || !interactive {
		go func() {
			if err := a.Start(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("could not start detection")
			}
		}()
	}

	if err := a.Run(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Println("\nExiting...")
			return nil
		}
		return fmt.Errorf("runtime error: %w", err)
	}
	fmt.Printf("blows counted: %d\n", a.Status().Count)
	return nil
}

// newLogger logs to stderr, or to a file while the dashboard owns the
// terminal.
func newLogger(debug, interactive bool) (*logrus.Logger, func()) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	if !interactive {
		logger.SetOutput(os.Stderr)
		return logger, func() {}
	}
	if !debug {
		logger.SetOutput(io.Discard)
		return logger, func() {}
	}
	f, err := os.Create("blowcounter-debug.log")
	if err != nil {
		logger.SetOutput(io.Discard)
		return logger, func() {}
	}
	logger.SetOutput(f)
	return logger, func() { _ = f.Close() }
}

func loadSettings(c *CLI, logger logrus.FieldLogger) (params.Settings, error) {
	settings := params.DefaultSettings()
	if c.Config != "" {
		loaded, err := params.Load(c.Config)
		switch {
		case err == nil:
			settings = loaded
		case errors.Is(err, fs.ErrNotExist):
			logger.WithField("path", c.Config).Info("settings file not found, using defaults")
		default:
			return settings, err
		}
	}
	settings = c.overrides(settings)
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// withOverrides re-applies command-line flags to every reloaded file.
func withOverrides(ctx context.Context, in <-chan params.Reload, c *CLI) <-chan params.Reload {
	out := make(chan params.Reload)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-in:
				if !ok {
					return
				}
				if r.Err == nil {
					r.Settings = c.overrides(r.Settings)
				}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
