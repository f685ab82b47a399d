package heartrate

import (
	"fmt"
	"math"
)

const (
	// ppgRefractory is the shortest accepted time between two pulses
	// (200 bpm).
	ppgRefractory = 0.3
	// ppgEnter places the pulse detection level above the center, as a
	// fraction of the pulse amplitude.
	ppgEnter = 0.3
)

// PPG detects pulses in a filtered photoplethysmogram.
//
// Training learns the center and half-amplitude of the waveform from the
// extremes of each window. A pulse starts when the signal rises above the
// center by a fraction of the amplitude and ends when it falls back under
// the center, so the dicrotic notch does not count as a second beat. Every
// pulse refreshes the center and amplitude from its peak and the trough
// before it.
type PPG struct {
	rate     float64
	training float64

	state State
	clock clock
	train trainer

	center, amp float64
	trainedAmp  float64

	pulse struct {
		active bool
		peak   float64
		at     float64
	}
	trough   float64
	lastBeat float64
	haveBeat bool
	quiet    float64

	beats *beatRing
	bpm   float64
	valid bool
}

// NewPPG returns a PPG estimator for a stream sampled at samplingRate Hz,
// averaging the heart rate over the last averagingBeats pulses after a
// training period of trainingSeconds.
func NewPPG(samplingRate float64, averagingBeats int, trainingSeconds float64) (*PPG, error) {
	if err := checkRate(samplingRate); err != nil {
		return nil, err
	}
	if averagingBeats < 1 {
		return nil, fmt.Errorf("heartrate: averaging over %d beats: %w", averagingBeats, ErrConfig)
	}
	if err := checkTraining(trainingSeconds); err != nil {
		return nil, err
	}

	return &PPG{
		rate:     samplingRate,
		training: trainingSeconds,
		beats:    newBeatRing(averagingBeats),
	}, nil
}

// Update implements Estimator.
func (p *PPG) Update(x, t float64) (float64, bool) {
	if !finite(x) {
		return p.HeartRate()
	}
	gap, ok := p.clock.advance(t)
	if !ok {
		return p.HeartRate()
	}

	switch p.state {
	case Training:
		p.learn(x, t, gap)
	case Estimating:
		p.detect(x, t)
	}

	return p.HeartRate()
}

func (p *PPG) learn(x, t, gap float64) {
	if p.train.n == 0 || gap > maxGap {
		p.train.reset(t)
	}
	p.train.add(x, t)
	if p.train.elapsed() < p.training {
		return
	}

	p.train.finish()
	mid := make([]float64, len(p.train.maxima))
	half := make([]float64, len(p.train.maxima))
	for i := range p.train.maxima {
		mid[i] = (p.train.maxima[i] + p.train.minima[i]) / 2
		half[i] = (p.train.maxima[i] - p.train.minima[i]) / 2
	}
	p.center = median(mid)
	p.amp = median(half)
	p.trainedAmp = p.amp
	p.trough = p.center - p.amp
	p.quiet = t
	p.state = Estimating
}

func (p *PPG) detect(x, t float64) {
	if p.pulse.active {
		if x > p.pulse.peak {
			p.pulse.peak, p.pulse.at = x, t
		}
		if x < p.center {
			p.pulse.active = false
			p.beat()
			p.trough = x
		}
	} else {
		if x < p.trough {
			p.trough = x
		}
		if x > p.center+ppgEnter*p.amp {
			p.pulse.active = true
			p.pulse.peak, p.pulse.at = x, t
		}
	}

	if t-p.quiet > holdWindow {
		p.amp = math.Max(p.amp/2, p.trainedAmp/4)
		p.quiet = t
	}
}

func (p *PPG) beat() {
	peak, at := p.pulse.peak, p.pulse.at
	if p.haveBeat && at-p.lastBeat < ppgRefractory {
		return
	}
	p.center += ((peak+p.trough)/2 - p.center) * levelWeight
	p.amp += ((peak-p.trough)/2 - p.amp) * levelWeight

	if p.haveBeat {
		if ibi := at - p.lastBeat; ibi >= minInterval && ibi <= maxInterval {
			p.beats.add(60 / ibi)
			p.bpm, p.valid = p.beats.mean(), true
		}
	}
	p.lastBeat, p.haveBeat = at, true
	p.quiet = at
}

// HeartRate implements Estimator.
func (p *PPG) HeartRate() (float64, bool) {
	return p.bpm, p.valid
}

// State implements Estimator.
func (p *PPG) State() State { return p.state }

// SamplingRate returns the rate the estimator was built for.
func (p *PPG) SamplingRate() float64 { return p.rate }

// AveragingBeats returns how many beats the heart rate is averaged over.
func (p *PPG) AveragingBeats() int { return len(p.beats.buffer) }
