package audio

import (
	"sync"
	"time"
)

// DefaultPlayerWindow is the number of trailing samples a Player exposes.
const DefaultPlayerWindow = 4096

// Player replays a Clip against the wall clock so file input behaves like a
// live capture. Done closes when playback reaches the end of the clip.
type Player struct {
	clip   *Clip
	window int
	now    func() time.Time

	mu      sync.Mutex
	start   time.Time
	playing bool
	timer   *time.Timer
	done    chan struct{}
}

// NewPlayer prepares a player over clip. It does not start playback.
func NewPlayer(clip *Clip, window int) *Player {
	if window <= 0 {
		window = DefaultPlayerWindow
	}
	return &Player{clip: clip, window: window, now: time.Now}
}

// Start rewinds and begins playback.
func (p *Player) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.start = p.now()
	p.playing = true
	done := make(chan struct{})
	p.done = done
	p.timer = time.AfterFunc(p.clip.Duration(), func() { close(done) })
}

// Stop halts playback. Done does not fire for a stopped run.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Player) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.playing = false
	p.done = nil
}

// Close stops playback.
func (p *Player) Close() error {
	p.Stop()
	return nil
}

// Done returns a channel closed when the current run reaches the end of the
// clip. It is nil while stopped.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Position reports how far into the clip playback is.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return 0
	}
	return min(p.now().Sub(p.start), p.clip.Duration())
}

// Samples returns up to window samples ending at the playback position.
func (p *Player) Samples() []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return nil
	}

	elapsed := p.now().Sub(p.start)
	end := int(elapsed.Seconds() * p.clip.SampleRate)
	end = min(max(end, 0), len(p.clip.Samples))
	if end == 0 {
		return nil
	}
	begin := max(0, end-p.window)
	out := make([]float32, end-begin)
	copy(out, p.clip.Samples[begin:end])
	return out
}

// SampleRate returns the clip sample rate.
func (p *Player) SampleRate() float64 {
	return p.clip.SampleRate
}

// Meta returns the clip metadata.
func (p *Player) Meta() Metadata {
	return p.clip.Meta
}
