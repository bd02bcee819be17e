package audio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dhowden/tag"
)

// DefaultFileSampleRate is the rate audio files are resampled to on decode.
const DefaultFileSampleRate = 44100

var (
	// ErrEmptyClip is returned when a file decodes to no samples.
	ErrEmptyClip = errors.New("audio file contains no samples")
	// ErrFFmpegMissing is returned when the ffmpeg binary cannot be found.
	ErrFFmpegMissing = errors.New("ffmpeg not found in PATH")
)

// Metadata describes a decoded file. Tag fields are empty when the container
// carries none.
type Metadata struct {
	Path     string
	Title    string
	Artist   string
	Format   string
	FileType string
}

// DisplayName returns the title when tagged, otherwise the file name.
func (m Metadata) DisplayName() string {
	if m.Title == "" {
		return filepath.Base(m.Path)
	}
	if m.Artist == "" {
		return m.Title
	}
	return m.Artist + " - " + m.Title
}

// Clip is a fully decoded mono recording.
type Clip struct {
	Samples    []float32
	SampleRate float64
	Meta       Metadata
}

// Duration returns the play length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(c.Samples)) / c.SampleRate * float64(time.Second))
}

// DecodeConfig controls file decoding.
type DecodeConfig struct {
	FFmpegPath string
	SampleRate int
}

// DecodeFile decodes any container ffmpeg understands into mono float32 PCM.
func DecodeFile(ctx context.Context, path string, cfg DecodeConfig) (*Clip, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultFileSampleRate
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	bin, err := exec.LookPath(cfg.FFmpegPath)
	if err != nil {
		return nil, ErrFFmpegMissing
	}

	args := []string{
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"pipe:1",
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	samples, readErr := readPCM(bufio.NewReader(stdout))
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %s", filepath.Base(path), err, bytes.TrimSpace(stderr.Bytes()))
	}
	if readErr != nil {
		return nil, fmt.Errorf("read decoded pcm: %w", readErr)
	}
	if len(samples) == 0 {
		return nil, ErrEmptyClip
	}

	return &Clip{
		Samples:    samples,
		SampleRate: float64(cfg.SampleRate),
		Meta:       readMetadata(path),
	}, nil
}

// readPCM reads little-endian float32 samples until EOF. A trailing partial
// sample is dropped.
func readPCM(r io.Reader) ([]float32, error) {
	var samples []float32
	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := buf[:n]
			if len(carry) > 0 {
				data = append(carry, data...)
				carry = nil
			}
			whole := len(data) &^ 3
			for i := 0; i < whole; i += 4 {
				bits := binary.LittleEndian.Uint32(data[i : i+4])
				samples = append(samples, math.Float32frombits(bits))
			}
			if whole < len(data) {
				carry = append([]byte(nil), data[whole:]...)
			}
		}
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return samples, err
		}
	}
}

func readMetadata(path string) Metadata {
	meta := Metadata{Path: path}
	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return meta
	}
	meta.Title = m.Title()
	meta.Artist = m.Artist()
	meta.Format = string(m.Format())
	meta.FileType = string(m.FileType())
	return meta
}
