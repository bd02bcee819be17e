package render

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/guidoenr/blowcounter/internal/params"
)

func TestMeterWidth(t *testing.T) {
	r, err := New(60, "ascii", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cases := []struct {
		value float64
		want  string
	}{
		{0, "          "},
		{255, "@@@@@@@@@@"},
		{500, "@@@@@@@@@@"},
		{127.5, "@@@@@     "},
		{-5, "          "},
	}
	for _, tc := range cases {
		got := r.Meter(tc.value, 255, 10)
		if utf8.RuneCountInString(got) != 10 {
			t.Fatalf("meter(%v) has %d cells want 10", tc.value, utf8.RuneCountInString(got))
		}
		if got != tc.want {
			t.Fatalf("meter(%v)=%q want=%q", tc.value, got, tc.want)
		}
	}
	if got := r.Meter(1, 0, 4); got != "    " {
		t.Fatalf("zero scale meter=%q", got)
	}
}

func TestMeterPartialCell(t *testing.T) {
	r, _ := New(60, "shade", false)
	// 1.5 of 4 cells: one full cell and a half shaded one
	got := []rune(r.Meter(1.5, 4, 4))
	if got[0] != '█' || got[1] != '▒' || got[2] != ' ' {
		t.Fatalf("meter=%q", string(got))
	}
}

func TestRenderView(t *testing.T) {
	r, _ := New(80, "", false)
	snap := blow.Snapshot{ELow: 200, EMid: 20, Ratio: 10, Centroid: 799, Candidate: true}
	f := r.Render(View{
		Source:    "mic",
		RunID:     "0123456789abcdef",
		Running:   true,
		State:     blow.Blowing,
		Count:     7,
		Volume:    200,
		Snapshot:  &snap,
		Settings:  params.DefaultSettings(),
		Recording: true,
		Records:   3,
	})
	text := strings.Join(f.Lines, "\n")
	for _, want := range []string{"Count", "7", "listening", "blowing", "E_low 200", "centroid  799 Hz", "duration 100ms", "cooldown 500ms", "on (3 rows)"} {
		if !strings.Contains(text, want) {
			t.Fatalf("dashboard missing %q:\n%s", want, text)
		}
	}
	if !strings.Contains(f.Status, "[s] stop") || !strings.Contains(f.Status, "run 01234567") {
		t.Fatalf("status=%q", f.Status)
	}
}

func TestRenderStopped(t *testing.T) {
	r, _ := New(80, "", false)
	f := r.Render(View{Settings: params.DefaultSettings(), Message: "no source"})
	text := strings.Join(f.Lines, "\n")
	if !strings.Contains(text, "stopped") {
		t.Fatalf("dashboard missing stopped state:\n%s", text)
	}
	if !strings.Contains(f.Status, "[s] start") || !strings.Contains(f.Status, "no source") {
		t.Fatalf("status=%q", f.Status)
	}
}

func TestNewRejectsNegativeWidth(t *testing.T) {
	if _, err := New(-1, "", false); err == nil {
		t.Fatalf("expected error for negative width")
	}
}
