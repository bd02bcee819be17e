package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/guidoenr/blowcounter/internal/blow"
	"github.com/guidoenr/blowcounter/internal/params"
)

const (
	defaultWidth = 80
	minMeter     = 10
	// byteScale is the top of the spectral byte range the meters are drawn against.
	byteScale = 255.0
	// ratioScale caps the SER meter; ratios above it draw a full bar.
	ratioScale = 20.0
)

var (
	accentColor = lipgloss.Color("#2E9BD6")
	mutedColor  = lipgloss.Color("#888888")
	okColor     = lipgloss.Color("#00AA00")
	warnColor   = lipgloss.Color("#FFA500")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	countStyle = lipgloss.NewStyle().Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(9)
	runStyle   = lipgloss.NewStyle().Bold(true).Foreground(okColor)
	calStyle   = lipgloss.NewStyle().Bold(true).Foreground(warnColor)
	stopStyle  = lipgloss.NewStyle().Foreground(mutedColor)
)

// View is everything the dashboard shows for one frame.
type View struct {
	Source          string
	RunID           string
	Running         bool
	Calibrating     bool
	State           blow.State
	Count           int
	Volume          int
	EnergyThreshold float64
	Snapshot        *blow.Snapshot
	Settings        params.Settings
	Recording       bool
	Records         int
	Message         string
}

// Frame contains the rendered dashboard lines and the status bar text.
type Frame struct {
	Lines  []string
	Status string
}

// Renderer draws the detector dashboard as terminal lines.
type Renderer struct {
	width         int
	palette       []rune
	paletteName   string
	useANSI       bool
	statusBuilder strings.Builder
}

var (
	resetANSI       = "\x1b[0m"
	precomputedANSI [256]string
)

func init() {
	for i := range precomputedANSI {
		precomputedANSI[i] = "\x1b[38;5;" + strconv.Itoa(i) + "m"
	}
}

// New creates a Renderer.
func New(width int, paletteName string, useANSI bool) (*Renderer, error) {
	if width < 0 {
		return nil, fmt.Errorf("invalid width: %d", width)
	}
	if width == 0 {
		width = defaultWidth
	}
	r := &Renderer{width: width, useANSI: useANSI}
	r.SetPalette(paletteName)
	return r, nil
}

// SetPalette switches the meter character ramp.
func (r *Renderer) SetPalette(name string) {
	if name == "" {
		name = "blocks"
	}
	r.palette = Palette(name)
	r.paletteName = name
}

// PaletteName returns the active palette.
func (r *Renderer) PaletteName() string { return r.paletteName }

// Resize updates the terminal width the meters are fitted to.
func (r *Renderer) Resize(width int) {
	if width > 0 {
		r.width = width
	}
}

// Render converts a View into dashboard lines.
func (r *Renderer) Render(v View) Frame {
	meterWidth := max(minMeter, r.width-labelStyle.GetWidth()-14)

	lines := make([]string, 0, 8)
	header := titleStyle.Render("Blow Counter")
	if v.Source != "" {
		header += " " + stopStyle.Render(v.Source)
	}
	lines = append(lines, header, "")

	lines = append(lines, labelStyle.Render("Count")+countStyle.Render(strconv.Itoa(v.Count)))
	lines = append(lines, labelStyle.Render("State")+stateLabel(v))

	volume := labelStyle.Render("Volume") + r.Meter(float64(v.Volume), byteScale, meterWidth) +
		fmt.Sprintf(" %3d", v.Volume)
	if v.Running && v.EnergyThreshold > 0 {
		volume += stopStyle.Render(fmt.Sprintf("  floor %.0f", v.EnergyThreshold))
	}
	lines = append(lines, volume)

	if s := v.Snapshot; s != nil {
		lines = append(lines,
			labelStyle.Render("SER")+r.Meter(s.Ratio, ratioScale, meterWidth)+fmt.Sprintf(" %4.1f", s.Ratio),
			labelStyle.Render("Spectrum")+fmt.Sprintf("E_low %3.0f  E_mid %3.0f  centroid %4.0f Hz  %s",
				s.ELow, s.EMid, s.Centroid, candidateLabel(s.Candidate)),
		)
	} else {
		lines = append(lines, labelStyle.Render("SER")+stopStyle.Render("-"), labelStyle.Render("Spectrum")+stopStyle.Render("-"))
	}

	th := v.Settings.Thresholds
	lines = append(lines, labelStyle.Render("Settings")+fmt.Sprintf("ser %.1f  duration %s  cooldown %s  suppression %s",
		th.SERRatio, formatMillis(th.BlowDuration), formatMillis(th.Cooldown), onOff(v.Settings.NoiseSuppression)))

	rec := onOff(v.Recording)
	if v.Records > 0 {
		rec += fmt.Sprintf(" (%d rows)", v.Records)
	}
	lines = append(lines, labelStyle.Render("History")+rec)

	return Frame{Lines: lines, Status: r.buildStatus(v)}
}

// Meter draws value/scale as a bar of exactly width cells.
func (r *Renderer) Meter(value, scale float64, width int) string {
	if width <= 0 {
		return ""
	}
	frac := 0.0
	if scale > 0 {
		frac = clamp01(value / scale)
	}
	cells := frac * float64(width)
	full := int(math.Floor(cells))
	steps := len(r.palette) - 1

	var b strings.Builder
	b.Grow(width * 3)
	if r.useANSI {
		b.WriteString(colorCode(hsvToANSI(lerp(0.33, 0, frac), 0.8, 0.9)))
	}
	for i := 0; i < full; i++ {
		b.WriteRune(r.palette[steps])
	}
	if full < width {
		partial := clampInt(int((cells-float64(full))*float64(steps)), 0, steps)
		b.WriteRune(r.palette[partial])
		for i := full + 1; i < width; i++ {
			b.WriteRune(r.palette[0])
		}
	}
	if r.useANSI {
		b.WriteString(resetANSI)
	}
	return b.String()
}

func stateLabel(v View) string {
	switch {
	case !v.Running:
		return stopStyle.Render("stopped")
	case v.Calibrating:
		return calStyle.Render("calibrating")
	default:
		return runStyle.Render("listening") + stopStyle.Render(" · "+v.State.String())
	}
}

func candidateLabel(ok bool) string {
	if ok {
		return runStyle.Render("blow")
	}
	return stopStyle.Render("quiet")
}

func (r *Renderer) buildStatus(v View) string {
	builder := &r.statusBuilder
	builder.Reset()
	builder.Grow(96)
	if v.Running {
		builder.WriteString("[s] stop")
	} else {
		builder.WriteString("[s] start")
	}
	builder.WriteString(" [c] calibrate [r] reset [l] record [x] clear [q] quit")
	if v.RunID != "" {
		builder.WriteString(" | run ")
		builder.WriteString(shortID(v.RunID))
	}
	if v.Message != "" {
		builder.WriteString(" | ")
		builder.WriteString(v.Message)
	}
	return builder.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatMillis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func colorCode(index int) string {
	if index < 0 {
		index = 0
	} else if index >= len(precomputedANSI) {
		index = len(precomputedANSI) - 1
	}
	return precomputedANSI[index]
}

func hsvToANSI(h, s, v float64) int {
	r, g, b := hsvToRGB(h, s, v)
	return rgbToANSI(r, g, b)
}

func hsvToRGB(h, s, v float64) (float64, float64, float64) {
	h = clamp01(h)
	s = clamp01(s)
	v = clamp01(v)

	if s == 0 {
		return v, v, v
	}

	hv := h * 6.0
	i := math.Floor(hv)
	f := hv - i
	p := v * (1.0 - s)
	q := v * (1.0 - s*f)
	t := v * (1.0 - s*(1.0-f))

	switch int(i) % 6 {
	case 0:
		return v, t, p
	case 1:
		return q, v, p
	case 2:
		return p, v, t
	case 3:
		return p, q, v
	case 4:
		return t, p, v
	default:
		return v, p, q
	}
}

func rgbToANSI(r, g, b float64) int {
	r = clamp01(r)
	g = clamp01(g)
	b = clamp01(b)

	// grayscale ramp for unsaturated colors
	if math.Abs(r-g) < 0.02 && math.Abs(g-b) < 0.02 {
		gray := int(clampFloat(math.Round(r*23), 0, 23))
		return 232 + gray
	}

	ri := int(clampFloat(r*5+0.5, 0, 5))
	gi := int(clampFloat(g*5+0.5, 0, 5))
	bi := int(clampFloat(b*5+0.5, 0, 5))

	return 16 + 36*ri + 6*gi + bi
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func lerp(a, b, t float64) float64 {
	return a*(1-t) + b*t
}
