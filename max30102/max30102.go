// Package max30102 drives a MAX30102 pulse oximetry sensor over I²C and
// serves its red and IR LED channels as an hrmon session.
package max30102

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

var (
	// ErrNotDevice throws an error when the device part ID does not match a
	// MAX30102 signature (0x15).
	ErrNotDevice error = errors.New("max30102: part ID does not match (0x15)")
	// ErrTimeout is returned when the device does not clear or raise a flag
	// in time.
	ErrTimeout = errors.New("max30102: timed out waiting for device")
)

// pollTimeout bounds every wait on a register flag.
const pollTimeout = 500 * time.Millisecond

// Sample is one FIFO entry, in raw ADC counts.
type Sample struct {
	Red, IR uint32
}

// Device defines a MAX30102 device.
type Device struct {
	dev  *i2c.Dev
	bus  i2c.BusCloser
	log  *zap.Logger
	rate float64
	rev  byte
}

// Open initializes the host drivers, opens the named I²C bus and returns
// the device on it. If busName is empty, the first available bus is used.
// Closing the device closes the bus.
func Open(busName string, addr uint16, opts ...Option) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("max30102: could not initialize host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("max30102: could not open I2C bus: %w", err)
	}

	d, err := New(bus, addr, opts...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	d.bus = bus

	return d, nil
}

// New returns the MAX30102 at addr on bus. By default, this sets the LED
// pulse amplitude to 7mA, with a pulse width of 411us and a sample rate of
// 100 samples/s, in SpO2 mode. opts are applied after the defaults.
//
// If addr is 0, the default address (0x57) is used.
func New(bus i2c.Bus, addr uint16, opts ...Option) (*Device, error) {
	if addr == 0 {
		addr = Addr
	}

	d := &Device{
		dev: &i2c.Dev{
			Addr: addr,
			Bus:  bus,
		},
		log: zap.NewNop(),
	}

	part, err := d.Read(RegPartID)
	if err != nil {
		return nil, fmt.Errorf("max30102: could not get part ID: %w", err)
	}
	if part != PartID {
		return nil, ErrNotDevice
	}
	if d.rev, err = d.Read(RegRevID); err != nil {
		return nil, fmt.Errorf("max30102: could not get revision ID: %w", err)
	}

	if err := d.Reset(); err != nil {
		return nil, fmt.Errorf("max30102: could not reset device: %w", err)
	}
	defaults := []Option{
		RedPulseAmp(7),
		IRPulseAmp(7),
		PulseWidth(PW411),
		SampleRate(SR100),
		AlmostFullValue(0),
		FIFORollover(true),
		Mode(ModeSpO2),
	}
	if _, err = d.Options(append(defaults, opts...)...); err != nil {
		return nil, fmt.Errorf("max30102: could not initialize device: %w", err)
	}
	if err := d.drain(); err != nil {
		return nil, fmt.Errorf("max30102: could not empty FIFO: %w", err)
	}

	return d, nil
}

// Close puts the device in power-save mode and closes the bus if the
// device opened it.
func (d *Device) Close() error {
	err := d.Shutdown()
	if d.bus != nil {
		if cerr := d.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// RevID returns the revision ID read when the device was opened.
func (d *Device) RevID() byte { return d.rev }

// SamplingRate returns the configured samples per second.
func (d *Device) SamplingRate() float64 { return d.rate }

func (d *Device) waitUntil(reg, flag byte, set bool) error {
	deadline := time.Now().Add(pollTimeout)
	for {
		state, err := d.Read(reg)
		if err != nil {
			return fmt.Errorf("could not wait for %#x in %#x: %w", flag, reg, err)
		}
		if (state&flag != 0) == set {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("flag %#x in %#x: %w", flag, reg, ErrTimeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Temperature returns the current die temperature of the device in °C.
func (d *Device) Temperature() (float64, error) {
	if err := d.Write(TempCfg, TempEna); err != nil {
		return 0, fmt.Errorf("max30102: could not enable temperature: %w", err)
	}
	if err := d.waitUntil(TempCfg, TempEna, false); err != nil {
		return 0, fmt.Errorf("max30102: could not read temperature: %w", err)
	}

	i, err := d.Read(TempInt)
	if err != nil {
		return 0, fmt.Errorf("max30102: could not read integer part of temperature: %w", err)
	}

	f, err := d.Read(TempFrac)
	if err != nil {
		return 0, fmt.Errorf("max30102: could not read fractional part of temperature: %w", err)
	}

	return float64(int8(i)) + (float64(f&0x0F) * 0.0625), nil
}

// Read reads a single byte from a register.
func (d *Device) Read(reg byte) (byte, error) {
	b := make([]byte, 1)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return 0, fmt.Errorf("max30102: could not read byte: %w", err)
	}

	return b[0], nil
}

// ReadBytes read n bytes from a register.
func (d *Device) ReadBytes(reg byte, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := d.dev.Tx([]byte{reg}, b); err != nil {
		return nil, fmt.Errorf("max30102: could not read %d bytes: %w", n, err)
	}

	return b, nil
}

// Write writes a byte to a register.
func (d *Device) Write(reg, data byte) error {
	n, err := d.dev.Write([]byte{reg, data})
	if err != nil {
		return err
	}
	n-- // remove register write
	if n != 1 {
		return fmt.Errorf("write: wrong number of bytes written: want %d, got %d", 1, n)
	}

	return nil
}

// Reset resets the device. All configurations, thresholds, and data registers
// are reset to their power-on state.
func (d *Device) Reset() error {
	if err := d.Write(ModeCfg, ResetControl); err != nil {
		return fmt.Errorf("max30102: could not reset: %w", err)
	}
	if err := d.waitUntil(ModeCfg, ResetControl, false); err != nil {
		return fmt.Errorf("max30102: could not reset: %w", err)
	}

	return nil
}

// ReadFIFO returns every sample waiting in the FIFO, oldest first.
func (d *Device) ReadFIFO() ([]Sample, error) {
	n, err := d.available()
	if err != nil {
		return nil, fmt.Errorf("max30102: could not read FIFO pointers: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	b, err := d.ReadBytes(FIFOData, n*sampleSize)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, n)
	for i := range samples {
		s := b[i*sampleSize:]
		samples[i] = Sample{
			Red: count(s[0:3]),
			IR:  count(s[3:6]),
		}
	}
	return samples, nil
}

// count assembles an 18-bit left-justified FIFO value.
func count(b []byte) uint32 {
	const msbMask byte = 0b0000_0011
	return uint32(b[0]&msbMask)<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func (d *Device) drain() error {
	_, err := d.ReadFIFO()
	return err
}

func (d *Device) available() (int, error) {
	wr, err := d.Read(FIFOWrPtr)
	if err != nil {
		return 0, err
	}
	rd, err := d.Read(FIFORdPtr)
	if err != nil {
		return 0, err
	}

	if wr == rd {
		ovf, err := d.Read(OvfCount)
		if err != nil {
			return 0, err
		}
		if ovf == 0 {
			return 0, nil
		}
		d.log.Warn("FIFO overflow", zap.Uint8("lost", ovf))
		return fifoDepth, nil
	}
	return (int(wr) + fifoDepth - int(rd)) % fifoDepth, nil
}

// batch waits until at least n samples were read and returns their mean
// normalized red and IR levels.
func (d *Device) batch(n int) (red, ir float64, err error) {
	deadline := time.Now().Add(pollTimeout)
	got := 0
	for got < n {
		samples, err := d.ReadFIFO()
		if err != nil {
			return 0, 0, err
		}
		for _, s := range samples {
			red += float64(s.Red) / MaxCount
			ir += float64(s.IR) / MaxCount
		}
		got += len(samples)
		if got >= n {
			break
		}
		if time.Now().After(deadline) {
			return 0, 0, fmt.Errorf("%d of %d samples: %w", got, n, ErrTimeout)
		}
		time.Sleep(time.Millisecond)
	}
	return red / float64(got), ir / float64(got), nil
}

// Calibrate raises the current of each LED in 0.5mA steps, up to 5mA,
// until its mean level reaches 40% of the full scale.
func (d *Device) Calibrate() error {
	const (
		target = 0.4
		step   = 0.5
		limit  = 5.0
		settle = 40 * time.Millisecond
		n      = 8
	)

	calibrate := func(amp func(float64) Option, level func(red, ir float64) float64) (float64, error) {
		current := 0.0
		if _, err := d.Options(amp(current)); err != nil {
			return 0, err
		}
		for current < limit {
			current += step
			if _, err := d.Options(amp(current)); err != nil {
				return 0, err
			}
			time.Sleep(settle)
			if err := d.drain(); err != nil {
				return 0, err
			}
			red, ir, err := d.batch(n)
			if err != nil {
				return 0, err
			}
			if level(red, ir) >= target {
				break
			}
		}
		return current, nil
	}

	irAmp, err := calibrate(IRPulseAmp, func(_, ir float64) float64 { return ir })
	if err != nil {
		return fmt.Errorf("max30102: could not calibrate IR LED: %w", err)
	}
	redAmp, err := calibrate(RedPulseAmp, func(red, _ float64) float64 { return red })
	if err != nil {
		return fmt.Errorf("max30102: could not calibrate red LED: %w", err)
	}

	d.log.Info("calibration done",
		zap.Float64("ir_amp_ma", irAmp),
		zap.Float64("red_amp_ma", redAmp),
	)
	return nil
}

// Shutdown sets the device into power-save mode.
func (d *Device) Shutdown() error {
	_, err := d.config(ModeCfg, ^modeSHDN, modeSHDN)

	return err
}

// Startup wakes the device from power-save mode.
func (d *Device) Startup() error {
	_, err := d.config(ModeCfg, ^modeSHDN, 0)

	return err
}
