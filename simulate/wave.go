// Package simulate generates synthetic ECG and PPG streams and serves them
// as an hrmon session. The waveforms are shaped like the real signals but
// are not clinical models.
package simulate

import "math"

// Wave is a signal defined at every instant, in the calibrated unit of the
// channel it feeds.
type Wave interface {
	At(t float64) float64
}

// WaveFunc adapts a function to a Wave.
type WaveFunc func(t float64) float64

// At implements Wave.
func (f WaveFunc) At(t float64) float64 { return f(t) }

// ECG is a lead II shaped waveform in mV built from gaussian P, Q, R, S and
// T waves on a slow respiratory baseline.
type ECG struct {
	BPM       float64
	Amplitude float64 // R-peak height, mV
	Noise     float64 // peak noise, mV
	MainsHz   float64
	Mains     float64 // mains interference amplitude, mV
}

// At implements Wave.
func (w ECG) At(t float64) float64 {
	ph := fract(t * w.BPM / 60)

	v := 0.05 * math.Sin(2*math.Pi*0.3*t)
	v += 0.10 * gauss(ph, 0.18, 0.025)
	v += -0.12 * gauss(ph, 0.30, 0.010)
	v += 1.00 * gauss(ph, 0.32, 0.008)
	v += -0.25 * gauss(ph, 0.35, 0.012)
	v += 0.30 * gauss(ph, 0.60, 0.060)
	v *= w.Amplitude

	if w.Mains != 0 {
		v += w.Mains * math.Sin(2*math.Pi*w.MainsHz*t)
	}
	return v + w.Noise*hash(t)
}

// PPG is a pulse wave with a systolic peak and a smaller dicrotic wave on
// top of a DC level, in the normalized units of the optical channels.
type PPG struct {
	BPM       float64
	DC        float64
	Amplitude float64
	Noise     float64
}

// At implements Wave.
func (w PPG) At(t float64) float64 {
	ph := fract(t * w.BPM / 60)

	v := gauss(ph, 0.2, 0.08) + 0.3*gauss(ph, 0.5, 0.06)
	return w.DC + w.Amplitude*v + w.Noise*hash(t)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }

// hash is deterministic noise in [-1, 1).
func hash(t float64) float64 {
	return 2*fract(math.Sin(t*12.9898)*43758.5453) - 1
}
