package heartrate

import (
	"fmt"
	"math"
)

// ECGOption configures an ECG estimator and returns the previous value of
// the option.
type ECGOption func(e *ECG) (ECGOption, error)

// WithTrainingPeriod sets the training period in seconds.
func WithTrainingPeriod(seconds float64) ECGOption {
	return func(e *ECG) (ECGOption, error) {
		if err := checkTraining(seconds); err != nil {
			return nil, err
		}
		old := e.training
		e.training = seconds
		return WithTrainingPeriod(old), nil
	}
}

// WithRefractory sets the shortest accepted time between two R-peaks, in
// seconds.
func WithRefractory(seconds float64) ECGOption {
	return func(e *ECG) (ECGOption, error) {
		if !(seconds > 0) || seconds > maxInterval {
			return nil, fmt.Errorf("heartrate: refractory %v s is out of range: %w", seconds, ErrConfig)
		}
		old := e.refractory
		e.refractory = seconds
		return WithRefractory(old), nil
	}
}

// ECG detects R-peaks in a filtered ECG lead.
//
// During training it records the peak absolute amplitude of every window
// and the mean absolute amplitude of the whole period. Afterwards a peak
// starts when the rectified signal crosses halfway between the noise and
// signal levels and ends when it drops back below; the maximum of that
// excursion is the R-peak. The signal level follows accepted peaks, the
// noise level follows the mean absolute amplitude and every peak that
// falls inside the refractory window.
type ECG struct {
	rate       float64
	training   float64
	refractory float64

	state State
	clock clock
	train trainer

	signal, noise float64
	trained       float64
	noiseAlpha    float64

	peak struct {
		active bool
		value  float64
		at     float64
	}
	lastBeat float64
	haveBeat bool
	quiet    float64

	bpm movingAverage
}

// NewECG returns an ECG estimator for a stream sampled at samplingRate Hz.
func NewECG(samplingRate float64, opts ...ECGOption) (*ECG, error) {
	if err := checkRate(samplingRate); err != nil {
		return nil, err
	}
	e := &ECG{
		rate:       samplingRate,
		training:   DefaultTrainingPeriod,
		refractory: minInterval,
	}
	for _, opt := range opts {
		if _, err := opt(e); err != nil {
			return nil, err
		}
	}
	// noise level time constant of 2 s
	e.noiseAlpha = 1 / (2 * samplingRate)

	return e, nil
}

// Update implements Estimator.
func (e *ECG) Update(x, t float64) (float64, bool) {
	if !finite(x) {
		return e.HeartRate()
	}
	gap, ok := e.clock.advance(t)
	if !ok {
		return e.HeartRate()
	}

	switch e.state {
	case Training:
		e.learn(x, t, gap)
	case Estimating:
		e.detect(math.Abs(x), t)
	}

	return e.HeartRate()
}

func (e *ECG) learn(x, t, gap float64) {
	if e.train.n == 0 || gap > maxGap {
		e.train.reset(t)
	}
	e.train.add(math.Abs(x), t)
	if e.train.elapsed() < e.training {
		return
	}

	e.train.finish()
	e.noise = e.train.meanAbs()
	e.signal = math.Max(median(e.train.maxima), e.noise)
	e.trained = e.signal
	e.quiet = t
	e.state = Estimating
}

func (e *ECG) threshold() float64 {
	return e.noise + 0.5*(e.signal-e.noise)
}

func (e *ECG) detect(a, t float64) {
	thr := e.threshold()
	e.noise += (a - e.noise) * e.noiseAlpha

	switch {
	case e.peak.active && a > e.peak.value:
		e.peak.value, e.peak.at = a, t
	case e.peak.active && a < thr:
		e.peak.active = false
		e.beat(e.peak.value, e.peak.at)
	case !e.peak.active && a > thr:
		e.peak.active = true
		e.peak.value, e.peak.at = a, t
	}

	// No beat for a while: halve the signal level once per hold window,
	// never below a quarter of what training found.
	if t-e.quiet > holdWindow {
		e.signal = math.Max(e.signal/2, e.trained/4)
		e.signal = math.Max(e.signal, e.noise)
		e.quiet = t
	}
}

func (e *ECG) beat(value, at float64) {
	if e.haveBeat && at-e.lastBeat < e.refractory {
		e.noise += (value - e.noise) * levelWeight
		e.signal = math.Max(e.signal, e.noise)
		return
	}
	e.signal += (value - e.signal) * levelWeight

	if e.haveBeat {
		if ibi := at - e.lastBeat; ibi >= minInterval && ibi <= maxInterval {
			e.bpm.add(60 / ibi)
		}
	}
	e.lastBeat, e.haveBeat = at, true
	e.quiet = at
}

// HeartRate implements Estimator.
func (e *ECG) HeartRate() (float64, bool) {
	return e.bpm.mean, e.bpm.valid
}

// State implements Estimator.
func (e *ECG) State() State { return e.state }

// SamplingRate returns the rate the estimator was built for.
func (e *ECG) SamplingRate() float64 { return e.rate }
