// Package heartrate estimates heart rate from filtered ECG or PPG samples.
//
// Both estimators start in a training period, during which they learn the
// amplitude of the waveform and report no heart rate, then switch for good
// to estimating. Output is held between beats and whenever beats cannot be
// found; it is never negative or non-finite.
package heartrate

import (
	"errors"
	"fmt"
	"math"
)

// ErrConfig is returned when an estimator cannot be built from its
// parameters.
var ErrConfig = errors.New("invalid estimator configuration")

// State is the phase of an estimator.
type State int

// Estimator states.
const (
	Training State = iota
	Estimating
)

func (s State) String() string {
	switch s {
	case Training:
		return "training"
	case Estimating:
		return "estimating"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Estimator is the per-sample interface shared by ECG and PPG.
type Estimator interface {
	// Update consumes one filtered sample taken at t seconds and returns
	// the current heart rate. ok is false while no heart rate exists.
	Update(x, t float64) (bpm float64, ok bool)
	// HeartRate returns the last published heart rate.
	HeartRate() (bpm float64, ok bool)
	// State returns the current phase.
	State() State
}

const (
	// DefaultTrainingPeriod is the warm-up of both estimators, in seconds.
	DefaultTrainingPeriod = 10.0

	// Beat intervals outside [minInterval, maxInterval] are discarded
	// (more than 250 bpm, less than 10 bpm).
	minInterval = 0.238
	maxInterval = 6.0

	// maxGap is the longest pause between training samples that still
	// counts as contiguous input.
	maxGap = 2.0

	// windowSpan is the length of the training windows, in seconds.
	windowSpan = 2.0

	// holdWindow is how long an estimator waits for a beat before it
	// relaxes its detection level.
	holdWindow = 3.0

	// levelWeight is the weight of a new beat in the adaptive levels.
	levelWeight = 1.0 / 8
)

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func checkRate(samplingRate float64) error {
	if !(samplingRate > 0) || math.IsInf(samplingRate, 0) {
		return fmt.Errorf("heartrate: sampling rate %v must be positive: %w", samplingRate, ErrConfig)
	}
	return nil
}

func checkTraining(seconds float64) error {
	if !(seconds > 0) || math.IsInf(seconds, 0) {
		return fmt.Errorf("heartrate: training period %v must be positive: %w", seconds, ErrConfig)
	}
	return nil
}

// clock rejects timestamps that are not finite or do not strictly
// increase.
type clock struct {
	last    float64
	started bool
}

// advance accepts t and returns the time elapsed since the previous
// accepted timestamp (0 for the first one).
func (c *clock) advance(t float64) (float64, bool) {
	if !finite(t) {
		return 0, false
	}
	if !c.started {
		c.last, c.started = t, true
		return 0, true
	}
	if t <= c.last {
		return 0, false
	}
	gap := t - c.last
	c.last = t
	return gap, true
}
