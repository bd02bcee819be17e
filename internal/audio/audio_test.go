package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"testing/iotest"
	"time"
)

func TestWriteRing(t *testing.T) {
	buf := make([]float32, 4)
	buf, idx := writeRing(buf, 0, []float32{1, 2, 3})
	if idx != 3 {
		t.Fatalf("index=%d want=3", idx)
	}
	buf, idx = writeRing(buf, idx, []float32{4, 5})
	if idx != 1 || buf[3] != 4 || buf[0] != 5 {
		t.Fatalf("wrap: buf=%v idx=%d", buf, idx)
	}
	buf, idx = writeRing(buf, idx, []float32{6, 7, 8, 9, 10})
	if idx != 0 || buf[0] != 7 || buf[3] != 10 {
		t.Fatalf("overflow: buf=%v idx=%d", buf, idx)
	}
	if _, got := writeRing(buf, 2, nil); got != 2 {
		t.Fatalf("empty write moved index to %d", got)
	}
}

func TestCaptureSamplesOldestFirst(t *testing.T) {
	c := &Capture{buffer: make([]float32, 4), channels: 1}
	c.process([]float32{1, 2, 3})
	c.process([]float32{4, 5})
	got := c.Samples()
	want := []float32{2, 3, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples=%v want=%v", got, want)
		}
	}
}

func TestCaptureDownmixesStereo(t *testing.T) {
	c := &Capture{buffer: make([]float32, 2), channels: 2}
	c.process([]float32{1, 0, 0.5, 0.5})
	got := c.Samples()
	if got[0] != 0.5 || got[1] != 0.5 {
		t.Fatalf("mono=%v want [0.5 0.5]", got)
	}
}

func TestDCBlockerRemovesOffset(t *testing.T) {
	d := newDCBlocker(dcBlockerPole)
	buf := make([]float32, 4000)
	for i := range buf {
		buf[i] = 0.5
	}
	d.apply(buf)
	if tail := math.Abs(float64(buf[len(buf)-1])); tail > 1e-3 {
		t.Fatalf("offset not removed: %f", tail)
	}
	if buf[0] != 0.5 {
		t.Fatalf("first sample=%f want=0.5", buf[0])
	}
}

func TestCaptureNoiseSuppressionKeepsInputIntact(t *testing.T) {
	c := &Capture{buffer: make([]float32, 8), channels: 1, suppress: newDCBlocker(dcBlockerPole)}
	in := []float32{0.5, 0.5, 0.5, 0.5}
	c.process(in)
	if in[1] != 0.5 {
		t.Fatalf("callback buffer was modified: %v", in)
	}
	if got := c.Samples(); got[7] >= 0.5 {
		t.Fatalf("suppressed sample=%f want < 0.5", got[7])
	}
}

func TestMicScorePrefersMicrophones(t *testing.T) {
	if micScore("USB Microphone") <= micScore("Monitor of Built-in Audio") {
		t.Fatalf("microphone should outrank monitor source")
	}
	if micScore("default") <= micScore("hw:1,0") {
		t.Fatalf("default should outrank an unnamed device")
	}
}

func encodePCM(samples []float32) []byte {
	var b bytes.Buffer
	for _, s := range samples {
		_ = binary.Write(&b, binary.LittleEndian, s)
	}
	return b.Bytes()
}

func TestReadPCMAcrossShortReads(t *testing.T) {
	want := []float32{0, 0.25, -0.5, 1}
	data := append(encodePCM(want), 0x01, 0x02)

	got, err := readPCM(iotest.OneByteReader(bytes.NewReader(data)))
	if err != nil {
		t.Fatalf("readPCM: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("samples=%v want=%v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("samples=%v want=%v", got, want)
		}
	}
}

func TestDecodeFileMissing(t *testing.T) {
	_, err := DecodeFile(context.Background(), filepath.Join(t.TempDir(), "nope.wav"), DecodeConfig{})
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if errors.Is(err, ErrFFmpegMissing) {
		t.Fatalf("missing file reported as missing ffmpeg")
	}
}

func TestMetadataDisplayName(t *testing.T) {
	cases := []struct {
		meta Metadata
		want string
	}{
		{Metadata{Path: "/tmp/take1.wav"}, "take1.wav"},
		{Metadata{Path: "/tmp/a.mp3", Title: "Candles"}, "Candles"},
		{Metadata{Path: "/tmp/a.mp3", Title: "Candles", Artist: "Kid"}, "Kid - Candles"},
	}
	for _, tc := range cases {
		if got := tc.meta.DisplayName(); got != tc.want {
			t.Fatalf("DisplayName()=%q want=%q", got, tc.want)
		}
	}
}

func TestPlayerFollowsClock(t *testing.T) {
	clip := &Clip{Samples: make([]float32, 1000), SampleRate: 1000}
	for i := range clip.Samples {
		clip.Samples[i] = float32(i)
	}
	now := time.Unix(100, 0)
	p := NewPlayer(clip, 100)
	p.now = func() time.Time { return now }

	if p.Samples() != nil || p.Done() != nil {
		t.Fatalf("stopped player produced samples or a done channel")
	}

	p.Start()
	defer p.Close()
	if p.Samples() != nil {
		t.Fatalf("no samples should be available at position 0")
	}

	now = now.Add(50 * time.Millisecond)
	got := p.Samples()
	if len(got) != 50 || got[49] != 49 {
		t.Fatalf("at 50ms: len=%d last=%v", len(got), got[len(got)-1])
	}

	now = now.Add(450 * time.Millisecond)
	got = p.Samples()
	if len(got) != 100 || got[0] != 400 || got[99] != 499 {
		t.Fatalf("at 500ms: len=%d first=%v last=%v", len(got), got[0], got[99])
	}

	now = now.Add(time.Hour)
	if got := p.Samples(); got[99] != 999 {
		t.Fatalf("past end last=%v want=999", got[99])
	}
	if p.Position() != time.Second {
		t.Fatalf("position=%s want=1s", p.Position())
	}
}

func TestPlayerDoneFiresAtEnd(t *testing.T) {
	clip := &Clip{Samples: make([]float32, 20), SampleRate: 1000}
	p := NewPlayer(clip, 0)
	p.Start()
	defer p.Close()

	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("done did not fire")
	}
}

func TestPlayerStopCancelsDone(t *testing.T) {
	clip := &Clip{Samples: make([]float32, 50), SampleRate: 1000}
	p := NewPlayer(clip, 0)
	p.Start()
	done := p.Done()
	p.Stop()

	select {
	case <-done:
		t.Fatalf("done fired after stop")
	case <-time.After(150 * time.Millisecond):
	}
	if p.Done() != nil {
		t.Fatalf("stopped player kept a done channel")
	}
}
