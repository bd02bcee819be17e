package audio

// dcBlockerPole places the high-pass corner around 8 Hz at 44.1 kHz.
const dcBlockerPole = 0.995

// dcBlocker is a first-order DC blocking filter: y[n] = x[n] - x[n-1] + R*y[n-1].
type dcBlocker struct {
	pole float64
	x1   float64
	y1   float64
}

func newDCBlocker(pole float64) *dcBlocker {
	return &dcBlocker{pole: pole}
}

// apply filters buf in place, carrying state across calls.
func (d *dcBlocker) apply(buf []float32) {
	for i, s := range buf {
		x := float64(s)
		y := x - d.x1 + d.pole*d.y1
		d.x1 = x
		d.y1 = y
		buf[i] = float32(y)
	}
}

