// Package filter implements causal second-order IIR filters that process one
// sample per call.
//
// Low-pass and high-pass filters are Butterworth sections and the band-stop
// filter is a notch whose edges are the two configured cutoffs. All three are
// designed with the bilinear transform and frequency pre-warping, so the
// -3 dB points land on the configured frequencies.
package filter

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

// ErrConfig is returned when a filter cannot be built from its parameters.
var ErrConfig = errors.New("invalid filter configuration")

// Kind selects the filter response.
type Kind int

// Filter kinds.
const (
	LowPass Kind = iota
	HighPass
	BandStop
)

func (k Kind) String() string {
	switch k {
	case LowPass:
		return "low-pass"
	case HighPass:
		return "high-pass"
	case BandStop:
		return "band-stop"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts "lowpass", "highpass" or "bandstop" (or their hyphenated
// forms) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "lowpass", "low-pass", "lpf":
		return LowPass, nil
	case "highpass", "high-pass", "hpf":
		return HighPass, nil
	case "bandstop", "band-stop", "bsf", "notch":
		return BandStop, nil
	}
	return 0, fmt.Errorf("filter: unknown kind %q: %w", s, ErrConfig)
}

// Filter is a single-channel biquad. It is not safe for concurrent use.
type Filter struct {
	kind    Kind
	rate    float64
	cutoffs []float64

	// Normalized coefficients, a0 == 1.
	b0, b1, b2 float64
	a1, a2     float64

	// Delay line: x[n-1], x[n-2], y[n-1], y[n-2].
	x [2]float64
	y [2]float64

	primed bool
	pass   bool
	mute   bool
}

// New returns a filter of the given kind for a stream sampled at
// samplingRate Hz. Low-pass and high-pass filters take one cutoff, band-stop
// filters take the lower and upper edge of the stop band. Every cutoff must
// satisfy 0 <= f < samplingRate/2, and band-stop edges must be increasing.
// A 0 Hz high-pass passes the signal unchanged, a 0 Hz low-pass outputs 0,
// and a band-stop with a 0 Hz lower edge stops everything below its upper
// edge.
func New(kind Kind, samplingRate float64, cutoffs ...float64) (*Filter, error) {
	if err := validate(kind, cutoffs); err != nil {
		return nil, err
	}
	if !(samplingRate > 0) || math.IsInf(samplingRate, 0) {
		return nil, fmt.Errorf("filter: sampling rate %v must be positive: %w", samplingRate, ErrConfig)
	}
	nyquist := samplingRate / 2
	for _, f := range cutoffs {
		if f >= nyquist {
			return nil, fmt.Errorf("filter: cutoff %v Hz must be below %v Hz: %w", f, nyquist, ErrConfig)
		}
	}

	f := &Filter{
		kind:    kind,
		rate:    samplingRate,
		cutoffs: append([]float64(nil), cutoffs...),
	}
	f.design()

	return f, nil
}

// Mains returns a band-stop filter removing mains interference at hz (50 or
// 60) with a 2 Hz wide stop band.
func Mains(samplingRate, hz float64) (*Filter, error) {
	return New(BandStop, samplingRate, hz-1, hz+1)
}

func validate(kind Kind, cutoffs []float64) error {
	want := 1
	switch kind {
	case LowPass, HighPass:
	case BandStop:
		want = 2
	default:
		return fmt.Errorf("filter: unknown kind %v: %w", kind, ErrConfig)
	}
	if len(cutoffs) != want {
		return fmt.Errorf("filter: %v takes %d cutoff(s), got %d: %w", kind, want, len(cutoffs), ErrConfig)
	}
	for _, f := range cutoffs {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return fmt.Errorf("filter: cutoff %v Hz is out of range: %w", f, ErrConfig)
		}
	}
	if kind == BandStop {
		if cutoffs[0] >= cutoffs[1] {
			return fmt.Errorf("filter: band-stop edges %v Hz must be increasing: %w", cutoffs, ErrConfig)
		}
	}
	return nil
}

// design computes the coefficients from the analog prototypes
//
//	low-pass   wc^2            / (s^2 + sqrt2*wc*s + wc^2)
//	high-pass  s^2             / (s^2 + sqrt2*wc*s + wc^2)
//	band-stop  (s^2 + w0^2)    / (s^2 + B*s + w0^2)
//
// A band-stop starting at 0 Hz reduces to the first-order high-pass
// s / (s + wh).
//
// with s = k(1 - z^-1)/(1 + z^-1), k = 2*rate, and every analog frequency
// pre-warped as w = k*tan(pi*f/rate).
func (f *Filter) design() {
	k := 2 * f.rate
	k2 := k * k
	warp := func(hz float64) float64 { return k * math.Tan(math.Pi*hz/f.rate) }

	var b0, b1, b2, a0, a1, a2 float64
	switch f.kind {
	case LowPass, HighPass:
		wc := warp(f.cutoffs[0])
		if wc == 0 {
			f.pass = f.kind == HighPass
			f.mute = f.kind == LowPass
			return
		}
		wc2 := wc * wc
		a0 = k2 + math.Sqrt2*wc*k + wc2
		a1 = 2 * (wc2 - k2)
		a2 = k2 - math.Sqrt2*wc*k + wc2
		if f.kind == LowPass {
			b0, b1, b2 = wc2, 2*wc2, wc2
		} else {
			b0, b1, b2 = k2, -2*k2, k2
		}
	case BandStop:
		wl, wh := warp(f.cutoffs[0]), warp(f.cutoffs[1])
		if wl == 0 {
			b0, b1 = k, -k
			a0, a1 = k+wh, wh-k
			break
		}
		w02 := wl * wh
		bw := wh - wl
		b0, b1, b2 = k2+w02, 2*(w02-k2), k2+w02
		a0 = k2 + bw*k + w02
		a1 = 2 * (w02 - k2)
		a2 = k2 - bw*k + w02
	}

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

// Apply filters one sample and returns the filtered value. The first sample
// primes the delay line at the filter's steady state for that value. A
// sample that is not finite leaves the delay line untouched and returns the
// previous output.
func (f *Filter) Apply(x float64) float64 {
	switch {
	case f.pass:
		return x
	case f.mute:
		return 0
	case math.IsNaN(x) || math.IsInf(x, 0):
		return f.y[0]
	}
	if !f.primed {
		g := f.dcGain()
		f.x = [2]float64{x, x}
		f.y = [2]float64{g * x, g * x}
		f.primed = true
	}

	y := f.b0*x + f.b1*f.x[0] + f.b2*f.x[1] - f.a1*f.y[0] - f.a2*f.y[1]

	f.x[1], f.x[0] = f.x[0], x
	f.y[1], f.y[0] = f.y[0], y

	return y
}

func (f *Filter) dcGain() float64 {
	den := 1 + f.a1 + f.a2
	if den == 0 {
		return 0
	}
	return (f.b0 + f.b1 + f.b2) / den
}

// Response returns the magnitude of the filter's frequency response at hz.
func (f *Filter) Response(hz float64) float64 {
	switch {
	case f.pass:
		return 1
	case f.mute:
		return 0
	}
	z1 := cmplx.Exp(complex(0, -2*math.Pi*hz/f.rate)) // z^-1
	z2 := z1 * z1
	num := complex(f.b0, 0) + complex(f.b1, 0)*z1 + complex(f.b2, 0)*z2
	den := 1 + complex(f.a1, 0)*z1 + complex(f.a2, 0)*z2
	return cmplx.Abs(num / den)
}

// Kind returns the filter kind.
func (f *Filter) Kind() Kind { return f.kind }

// SamplingRate returns the sampling rate the filter was designed for.
func (f *Filter) SamplingRate() float64 { return f.rate }

// Cutoffs returns a copy of the configured cutoff frequencies.
func (f *Filter) Cutoffs() []float64 { return append([]float64(nil), f.cutoffs...) }
