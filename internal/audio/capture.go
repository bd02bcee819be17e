package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// ErrNoContext is returned when a capture is opened without a PortAudio session.
var ErrNoContext = errors.New("audio context is not open")

// Capture wraps a PortAudio input stream and exposes thread-safe access to the
// latest mono samples.
type Capture struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int
	device     *portaudio.DeviceInfo
	suppress   *dcBlocker

	mu     sync.RWMutex
	buffer []float32
	index  int
	mono   []float32
}

// Config controls how a Capture instance is created.
type Config struct {
	DeviceName string
	BufferSize int
	Channels   int
	// NoiseSuppression removes DC offset and rumble before samples reach the
	// ring buffer. It only shapes the input; detection is unaffected by the flag.
	NoiseSuppression bool
}

const defaultBufferSize = 4096

// NewCapture opens and starts a PortAudio input stream.
func NewCapture(ctx *Context, cfg Config) (*Capture, error) {
	if ctx == nil {
		return nil, ErrNoContext
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	device, err := findDevice(cfg.DeviceName)
	if err != nil {
		return nil, err
	}
	if cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}

	capture := &Capture{
		sampleRate: device.DefaultSampleRate,
		buffer:     make([]float32, cfg.BufferSize),
		channels:   cfg.Channels,
		device:     device,
	}
	if cfg.NoiseSuppression {
		capture.suppress = newDCBlocker(dcBlockerPole)
	}

	framesPerBuffer := len(capture.buffer) / 4
	if framesPerBuffer < 64 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      capture.sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}, capture.process)
	if err != nil {
		return nil, fmt.Errorf("open stream on %q: %w", device.Name, err)
	}
	capture.stream = stream

	if err := capture.stream.Start(); err != nil {
		_ = capture.stream.Close()
		return nil, fmt.Errorf("start stream on %q: %w", device.Name, err)
	}

	return capture, nil
}

// Close stops and closes the underlying PortAudio stream.
func (c *Capture) Close() error {
	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil
	if err := stream.Stop(); err != nil && !errorsIsInvalidStreamState(err) {
		_ = stream.Close()
		return err
	}
	return stream.Close()
}

// SampleRate returns the stream sample rate.
func (c *Capture) SampleRate() float64 {
	return c.sampleRate
}

// Device returns the PortAudio device associated with the capture stream.
func (c *Capture) Device() *portaudio.DeviceInfo {
	return c.device
}

// Samples returns the most recent samples, oldest first.
func (c *Capture) Samples() []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cp := make([]float32, len(c.buffer))
	copy(cp, c.buffer[c.index:])
	copy(cp[len(c.buffer)-c.index:], c.buffer[:c.index])
	return cp
}

func (c *Capture) process(in []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mono := in
	if c.channels > 1 {
		n := len(in) / c.channels
		if cap(c.mono) < n {
			c.mono = make([]float32, n)
		}
		mono = c.mono[:n]
		for i := range mono {
			sum := float32(0)
			base := i * c.channels
			for ch := 0; ch < c.channels; ch++ {
				sum += in[base+ch]
			}
			mono[i] = sum / float32(c.channels)
		}
	}
	if c.suppress != nil {
		if c.channels == 1 {
			if cap(c.mono) < len(in) {
				c.mono = make([]float32, len(in))
			}
			mono = c.mono[:len(in)]
			copy(mono, in)
		}
		c.suppress.apply(mono)
	}

	c.buffer, c.index = writeRing(c.buffer, c.index, mono)
}

// writeRing appends in to the ring buffer and returns the new write index.
func writeRing(buffer []float32, index int, in []float32) ([]float32, int) {
	if len(in) == 0 {
		return buffer, index
	}

	if len(in) >= len(buffer) {
		copy(buffer, in[len(in)-len(buffer):])
		return buffer, 0
	}

	if index+len(in) <= len(buffer) {
		copy(buffer[index:], in)
		index += len(in)
		if index == len(buffer) {
			index = 0
		}
		return buffer, index
	}

	remaining := len(buffer) - index
	copy(buffer[index:], in[:remaining])
	copy(buffer, in[remaining:])
	return buffer, len(in) - remaining
}

func findDevice(name string) (*portaudio.DeviceInfo, error) {
	if name != "" {
		return findDeviceByName(name)
	}

	if dev, err := portaudio.DefaultInputDevice(); err == nil && dev != nil && dev.MaxInputChannels > 0 {
		return dev, nil
	}

	if host, err := portaudio.DefaultHostApi(); err == nil {
		if host != nil && host.DefaultInputDevice != nil && host.DefaultInputDevice.MaxInputChannels > 0 {
			return host.DefaultInputDevice, nil
		}
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	if candidate := pickMicrophone(devices); candidate != nil {
		return candidate, nil
	}

	return nil, fmt.Errorf("no suitable audio input device found")
}

func findDeviceByName(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	lower := strings.ToLower(name)
	for _, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}
		if strings.Contains(strings.ToLower(device.Name), lower) {
			return device, nil
		}
	}

	return nil, fmt.Errorf("audio device %q not found", name)
}

// pickMicrophone ranks input devices, preferring real microphones over
// loopback and monitor sources.
func pickMicrophone(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	type scored struct {
		dev   *portaudio.DeviceInfo
		score int
	}

	var results []scored
	for _, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		results = append(results, scored{dev: d, score: micScore(d.Name)})
	}
	if len(results) == 0 {
		return nil
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score == results[j].score {
			return strings.ToLower(results[i].dev.Name) < strings.ToLower(results[j].dev.Name)
		}
		return results[i].score > results[j].score
	})

	return results[0].dev
}

func micScore(name string) int {
	lower := strings.ToLower(name)
	score := 0
	for _, kw := range []string{"mic", "microphone", "headset", "input"} {
		if strings.Contains(lower, kw) {
			score += 20
			break
		}
	}
	for _, kw := range []string{"monitor", "loopback", "stereo mix", "what u hear"} {
		if strings.Contains(lower, kw) {
			score -= 40
			break
		}
	}
	if strings.Contains(lower, "default") {
		score += 10
	}
	return score
}

// errorsIsInvalidStreamState checks if the provided error stems from stopping an already stopped stream.
func errorsIsInvalidStreamState(err error) bool {
	if err == nil {
		return false
	}
	const invalidStateMsg = "PaErrorCode -9986"
	return strings.Contains(err.Error(), invalidStateMsg)
}
