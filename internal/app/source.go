package app

import (
	"fmt"

	"github.com/guidoenr/blowcounter/internal/analyzer"
	"github.com/guidoenr/blowcounter/internal/audio"
	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/guidoenr/blowcounter/internal/params"
)

// frameSource supplies one spectral frame per tick while detection runs.
// It is opened on start and closed on stop.
type frameSource interface {
	Frame() *blow.Frame
	// Done is closed when the source runs out; nil for endless sources.
	Done() <-chan struct{}
	Close() error
}

// sourceOpener opens a frame source for a new run.
type sourceOpener func(settings params.Settings) (frameSource, error)

type micSource struct {
	capture *audio.Capture
	frames  *analyzer.Source
}

func openMic(ctx *audio.Context, cfg Config) sourceOpener {
	return func(settings params.Settings) (frameSource, error) {
		capture, err := audio.NewCapture(ctx, audio.Config{
			DeviceName:       cfg.DeviceName,
			BufferSize:       cfg.BufferSize,
			Channels:         1,
			NoiseSuppression: settings.NoiseSuppression,
		})
		if err != nil {
			return nil, fmt.Errorf("audio capture: %w", err)
		}
		return &micSource{
			capture: capture,
			frames:  analyzer.NewSource(capture, analyzer.DefaultFFTSize),
		}, nil
	}
}

func (m *micSource) Frame() *blow.Frame    { return m.frames.Frame() }
func (m *micSource) Done() <-chan struct{} { return nil }
func (m *micSource) Close() error          { return m.capture.Close() }

type fileSource struct {
	player *audio.Player
	frames *analyzer.Source
}

func openFile(clip *audio.Clip) sourceOpener {
	return func(params.Settings) (frameSource, error) {
		player := audio.NewPlayer(clip, analyzer.DefaultFFTSize)
		player.Start()
		return &fileSource{
			player: player,
			frames: analyzer.NewSource(player, analyzer.DefaultFFTSize),
		}, nil
	}
}

func (f *fileSource) Frame() *blow.Frame    { return f.frames.Frame() }
func (f *fileSource) Done() <-chan struct{} { return f.player.Done() }
func (f *fileSource) Close() error          { return f.player.Close() }

type fakeSource struct {
	gen *fakeGenerator
}

func openFake(fps float64, seed int64) sourceOpener {
	gen := newFakeGenerator(fps, seed)
	return func(params.Settings) (frameSource, error) {
		gen.reset()
		return &fakeSource{gen: gen}, nil
	}
}

func (f *fakeSource) Frame() *blow.Frame    { return f.gen.Next() }
func (f *fakeSource) Done() <-chan struct{} { return nil }
func (f *fakeSource) Close() error          { return nil }
