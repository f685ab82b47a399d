// Package channel describes the signals a sensor can stream and how their
// transport-level raw counts decode into raw or calibrated values.
//
// A channel is identified by its name, its format and, optionally, its
// unit. Leaving the unit empty selects the default unit the registry
// defines for that name and format.
package channel

import (
	"errors"
	"fmt"
)

// ErrUnsupported is returned when a name, format and unit combination has
// no decode path in the registry.
var ErrUnsupported = errors.New("unsupported channel")

// Name is the identity of a physiological or auxiliary signal.
type Name string

// Supported channel names.
const (
	ECGLLRA Name = "ECG_LL_RA"
	ECGLARA Name = "ECG_LA_RA"
	ECGVXRL Name = "ECG_VX_RL"
	ECGLLLA Name = "ECG_LL_LA"

	InternalADCA1  Name = "INTERNAL_ADC_A1"
	InternalADCA12 Name = "INTERNAL_ADC_A12"
	InternalADCA13 Name = "INTERNAL_ADC_A13"
	InternalADCA14 Name = "INTERNAL_ADC_A14"

	GSR Name = "GSR"

	PPGRed Name = "PPG_RED"
	PPGIR  Name = "PPG_IR"

	Timestamp       Name = "TIMESTAMP"
	SystemTimestamp Name = "SYSTEM_TIMESTAMP"
)

// Format selects between the uncalibrated and calibrated representation of
// a channel.
type Format string

// Formats.
const (
	Raw Format = "RAW"
	Cal Format = "CAL"
)

// Unit is the physical unit label of a value. The zero value means "the
// registry default".
type Unit string

// Units.
const (
	Default      Unit = ""
	NoUnits      Unit = "no units"
	MilliVolts   Unit = "mVolts"
	Volts        Unit = "Volts"
	MilliSeconds Unit = "mSecs"
	Seconds      Unit = "Secs"
	KiloOhms     Unit = "kOhms"
	MicroSiemens Unit = "uSiemens"
)

// ID identifies one channel representation.
type ID struct {
	Name   Name
	Format Format
	Unit   Unit
}

// String returns the id as NAME/FORMAT[/unit].
func (id ID) String() string {
	if id.Unit == Default {
		return fmt.Sprintf("%s/%s", id.Name, id.Format)
	}
	return fmt.Sprintf("%s/%s/%s", id.Name, id.Format, id.Unit)
}

// ParseFormat converts a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case Raw, Cal:
		return Format(s), nil
	case "CALIBRATED":
		return Cal, nil
	}
	return "", fmt.Errorf("channel: unknown format %q: %w", s, ErrUnsupported)
}

// ParseName converts a configuration string to a Name known by the
// registry.
func ParseName(s string) (Name, error) {
	n := Name(s)
	for _, f := range []Format{Raw, Cal} {
		if _, ok := registry[key{n, f}]; ok {
			return n, nil
		}
	}
	return "", fmt.Errorf("channel: unknown name %q: %w", s, ErrUnsupported)
}
