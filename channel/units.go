package channel

import "fmt"

type dimension int

const (
	dimNone dimension = iota
	dimVoltage
	dimTime
	dimResistance
)

// units maps each unit to its dimension and its scale to the SI base.
var units = map[Unit]struct {
	dim   dimension
	scale float64
}{
	NoUnits:      {dimNone, 1},
	MilliVolts:   {dimVoltage, 1e-3},
	Volts:        {dimVoltage, 1},
	MilliSeconds: {dimTime, 1e-3},
	Seconds:      {dimTime, 1},
	KiloOhms:     {dimResistance, 1},
	MicroSiemens: {dimResistance, 1},
}

// Convertible reports whether a value in unit from can be expressed in
// unit to.
func Convertible(from, to Unit) bool {
	if from == to {
		return true
	}
	f, ok := units[from]
	if !ok {
		return false
	}
	t, ok := units[to]
	if !ok {
		return false
	}
	return f.dim == t.dim && f.dim != dimNone
}

// Convert expresses v, given in unit from, in unit to. Resistance and
// conductance convert reciprocally (kOhms <-> uSiemens).
func Convert(v float64, from, to Unit) (float64, error) {
	if from == to {
		return v, nil
	}
	if !Convertible(from, to) {
		return 0, fmt.Errorf("channel: could not convert %q to %q: %w", from, to, ErrUnsupported)
	}
	if units[from].dim == dimResistance {
		// 1 kOhm is 1000 uS and back.
		return 1000 / v, nil
	}
	return v * units[from].scale / units[to].scale, nil
}
