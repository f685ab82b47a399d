package channel

import (
	"fmt"
	"math"
	"sort"
)

// Calibration constants of the supported front ends.
const (
	adcBits = 12
	adcVRef = 3000.0 // mV

	exgBits = 24
	exgVRef = 2420.0 // mV
	exgGain = 6

	ppgBits = 18

	clockHz = 32768.0

	gsrFeedback = 40.2  // kOhms, range 0 feedback resistor
	gsrBias     = 500.0 // mV
)

type key struct {
	name   Name
	format Format
}

type entry struct {
	unit    Unit
	bits    int
	counter bool
	offset  float64
	gain    float64
	curve   func(float64) float64
}

var registry = map[key]entry{}

func init() {
	adc := adcVRef / float64(uint(1)<<adcBits-1)
	exg := exgVRef / float64(uint(1)<<(exgBits-1)-1) / exgGain

	for _, n := range []Name{ECGLLRA, ECGLARA, ECGVXRL, ECGLLLA} {
		add(n, exgBits, entry{unit: MilliVolts, gain: exg})
	}
	for _, n := range []Name{InternalADCA1, InternalADCA12, InternalADCA13, InternalADCA14} {
		add(n, adcBits, entry{unit: MilliVolts, gain: adc})
	}
	add(GSR, adcBits, entry{unit: KiloOhms, gain: adc, curve: gsrResistance})
	for _, n := range []Name{PPGRed, PPGIR} {
		add(n, ppgBits, entry{unit: NoUnits, gain: 1 / float64(uint(1)<<ppgBits-1)})
	}
	add(Timestamp, 24, entry{unit: MilliSeconds, gain: 1000 / clockHz, counter: true})
	add(SystemTimestamp, 64, entry{unit: MilliSeconds, gain: 1})
}

// add registers the uncalibrated path of n together with its calibrated
// path.
func add(n Name, bits int, cal entry) {
	cal.bits = bits
	registry[key{n, Raw}] = entry{unit: NoUnits, bits: bits, counter: cal.counter, gain: 1}
	registry[key{n, Cal}] = cal
}

// gsrResistance converts the GSR amplifier output (mV) to skin resistance.
// Outputs at or below the bias voltage have no physical meaning and decode
// to NaN.
func gsrResistance(mv float64) float64 {
	d := mv/gsrBias - 1
	if d <= 0 {
		return math.NaN()
	}
	return gsrFeedback / d
}

// Descriptor holds the parameters needed to decode one channel
// representation from a raw count.
type Descriptor struct {
	// ID is the resolved identity; its Unit is never Default.
	ID ID
	// Bits is the resolution of the raw count.
	Bits int
	// Counter marks a free-running count that rolls over at 2^Bits.
	Counter bool
	// Offset and Gain define the linear part of the decode:
	// (raw - Offset) * Gain.
	Offset float64
	Gain   float64

	base  Unit
	curve func(float64) float64
}

// Decode converts a raw transport count to the descriptor's format and
// unit. The result may be NaN when the count is outside the physical range
// of the channel.
func (d Descriptor) Decode(raw float64) float64 {
	v := (raw - d.Offset) * d.Gain
	if d.curve != nil {
		v = d.curve(v)
	}
	if d.base != d.ID.Unit {
		// Lookup only builds descriptors with convertible units.
		v, _ = Convert(v, d.base, d.ID.Unit)
	}
	return v
}

// Lookup resolves id to its decode parameters. An empty unit selects the
// registry default for the name and format. Unknown combinations return an
// error wrapping ErrUnsupported.
func Lookup(id ID) (Descriptor, error) {
	e, ok := registry[key{id.Name, id.Format}]
	if !ok {
		return Descriptor{}, fmt.Errorf("channel: could not resolve %s: %w", id, ErrUnsupported)
	}
	if id.Unit == Default {
		id.Unit = e.unit
	}
	if !Convertible(e.unit, id.Unit) {
		return Descriptor{}, fmt.Errorf("channel: could not resolve %s in %q: %w", id, id.Unit, ErrUnsupported)
	}

	return Descriptor{
		ID:     id,
		Bits:    e.bits,
		Counter: e.counter,
		Offset:  e.offset,
		Gain:    e.gain,
		base:    e.unit,
		curve:   e.curve,
	}, nil
}

// DefaultUnit returns the unit the registry uses for name and format.
func DefaultUnit(n Name, f Format) (Unit, bool) {
	e, ok := registry[key{n, f}]
	return e.unit, ok
}

// Names returns every registered channel name in lexical order.
func Names() []Name {
	seen := map[Name]bool{}
	var names []Name
	for k := range registry {
		if !seen[k.name] {
			seen[k.name] = true
			names = append(names, k.name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Supported returns every registered (name, format) pair with its default
// unit, ordered by name then format.
func Supported() []ID {
	ids := make([]ID, 0, len(registry))
	for k, e := range registry {
		ids = append(ids, ID{Name: k.name, Format: k.format, Unit: e.unit})
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Format < ids[j].Format
	})
	return ids
}
