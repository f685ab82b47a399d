package hrmon

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
	"github.com/cgxeiji/hrmon/filter"
	"github.com/cgxeiji/hrmon/heartrate"
)

// ErrConfig is returned when a monitor cannot be built or bound.
var ErrConfig = errors.New("invalid monitor configuration")

// DefaultMainsHz is the mains frequency removed from ECG leads.
const DefaultMainsHz = 50.0

// MonitorConfig selects the channels and processing of a monitor.
type MonitorConfig struct {
	Kind Kind
	// Signal is the channel heart rate is derived from.
	Signal channel.ID
	// Timestamp is the channel holding the sample time. An empty name
	// selects the calibrated device TIMESTAMP.
	Timestamp channel.ID
	// Filters runs on Signal before the estimator; nil selects
	// DefaultFilters.
	Filters []filter.Spec
	// MainsHz is used by the default ECG filters. Zero selects
	// DefaultMainsHz.
	MainsHz float64
	// TrainingPeriod in seconds. Zero selects
	// heartrate.DefaultTrainingPeriod.
	TrainingPeriod float64
	// AveragingBeats of the PPG estimator. Zero selects 1.
	AveragingBeats int
}

// DefaultFilters returns the filter chain used for kind when none is
// configured.
func DefaultFilters(kind Kind, mainsHz float64) []filter.Spec {
	if mainsHz == 0 {
		mainsHz = DefaultMainsHz
	}
	switch kind {
	case ECG:
		return []filter.Spec{
			{Kind: filter.HighPass, Cutoffs: []float64{0.05}},
			{Kind: filter.BandStop, Cutoffs: []float64{mainsHz - 1, mainsHz + 1}},
		}
	case PPG:
		return []filter.Spec{
			{Kind: filter.LowPass, Cutoffs: []float64{5}},
			{Kind: filter.HighPass, Cutoffs: []float64{0.5}},
		}
	}
	return nil
}

// MonitorState is the lifecycle phase of a monitor.
type MonitorState int

// Monitor states.
const (
	Unbound MonitorState = iota
	Bound
	Failed
)

func (s MonitorState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("MonitorState(%d)", int(s))
}

// Monitor turns the clusters of one session into heart-rate readings.
//
// A monitor is configured without knowing the sampling rate of its
// stream. Bind supplies the rate, either explicitly or from the rate
// source on the first cluster, and builds the filter chain and the
// estimator. Handle must not be called concurrently; Runner serializes
// delivery for that purpose.
type Monitor struct {
	id   uuid.UUID
	cfg  MonitorConfig
	log  *zap.Logger
	rate func() float64

	mu     sync.Mutex
	state  MonitorState
	err    error
	chain  filter.Chain
	est    heartrate.Estimator
	phase  heartrate.State
	last   float64
	hasBPM bool
	lastT  float64
	ticked bool
}

// NewMonitor validates cfg and returns an unbound monitor.
func NewMonitor(cfg MonitorConfig, opts ...Option) (*Monitor, error) {
	if cfg.Kind != ECG && cfg.Kind != PPG {
		return nil, fmt.Errorf("hrmon: monitor kind %v: %w", cfg.Kind, ErrConfig)
	}
	if _, err := channel.Lookup(cfg.Signal); err != nil {
		return nil, fmt.Errorf("hrmon: could not use signal channel: %w", err)
	}
	if cfg.Timestamp.Name == "" {
		cfg.Timestamp = channel.ID{Name: channel.Timestamp, Format: channel.Cal}
	}
	cfg.Timestamp.Unit = channel.Seconds
	if _, err := channel.Lookup(cfg.Timestamp); err != nil {
		return nil, fmt.Errorf("hrmon: could not use timestamp channel: %w", err)
	}
	if cfg.Filters == nil {
		cfg.Filters = DefaultFilters(cfg.Kind, cfg.MainsHz)
	}
	for i, s := range cfg.Filters {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("hrmon: filter %d (%v): %w", i, s, err)
		}
	}
	if cfg.TrainingPeriod == 0 {
		cfg.TrainingPeriod = heartrate.DefaultTrainingPeriod
	}
	if cfg.AveragingBeats == 0 {
		cfg.AveragingBeats = 1
	}

	m := &Monitor{
		id:  uuid.New(),
		cfg: cfg,
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(
		zap.String("monitor_id", m.id.String()),
		zap.Stringer("kind", cfg.Kind),
		zap.Stringer("signal", cfg.Signal),
	)

	return m, nil
}

// Bind builds the filters and the estimator for samplingRate. A monitor
// can be bound once; an error leaves it Failed and every later cluster
// is ignored.
func (m *Monitor) Bind(samplingRate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bind(samplingRate)
}

func (m *Monitor) bind(samplingRate float64) error {
	switch m.state {
	case Bound:
		return fmt.Errorf("hrmon: monitor %s is already bound: %w", m.id, ErrConfig)
	case Failed:
		return m.err
	}

	chain, err := filter.NewChain(samplingRate, m.cfg.Filters...)
	if err != nil {
		return m.fail(samplingRate, err)
	}
	var est heartrate.Estimator
	switch m.cfg.Kind {
	case ECG:
		est, err = heartrate.NewECG(samplingRate, heartrate.WithTrainingPeriod(m.cfg.TrainingPeriod))
	case PPG:
		est, err = heartrate.NewPPG(samplingRate, m.cfg.AveragingBeats, m.cfg.TrainingPeriod)
	}
	if err != nil {
		return m.fail(samplingRate, err)
	}

	m.chain, m.est = chain, est
	m.state = Bound
	m.log.Info("monitor bound", zap.Float64("sampling_rate", samplingRate))
	return nil
}

func (m *Monitor) fail(samplingRate float64, err error) error {
	m.state = Failed
	m.err = fmt.Errorf("hrmon: could not bind monitor at %v Hz: %w", samplingRate, err)
	m.log.Error("monitor failed", zap.Float64("sampling_rate", samplingRate), zap.Error(err))
	return m.err
}

// Handle processes one cluster. The reading is valid when ok is true;
// Updated reports whether this cluster produced a new value. Clusters
// without the signal or timestamp channel are skipped and leave the
// monitor untouched.
func (m *Monitor) Handle(c *cluster.Cluster) (r Reading, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	x, okX := c.Get(m.cfg.Signal)
	ts, okT := c.Get(m.cfg.Timestamp)
	if !okX || !okT {
		return m.reading(c, ts.Data, false), m.hasBPM && m.state == Bound
	}

	if m.state == Unbound {
		if m.rate == nil {
			return Reading{}, false
		}
		if err := m.bind(m.rate()); err != nil {
			return Reading{}, false
		}
	}
	if m.state != Bound {
		return Reading{}, false
	}

	// Malformed samples or non-increasing times never reach the filters.
	if !finite(x.Data) || !finite(ts.Data) || (m.ticked && ts.Data <= m.lastT) {
		return m.reading(c, ts.Data, false), m.hasBPM
	}
	m.lastT, m.ticked = ts.Data, true

	bpm, valid := m.est.Update(m.chain.Apply(x.Data), ts.Data)
	if st := m.est.State(); st != m.phase {
		m.phase = st
		m.log.Info("estimator state changed", zap.Stringer("state", st), zap.Float64("timestamp", ts.Data))
	}
	updated := valid && (!m.hasBPM || bpm != m.last)
	m.last, m.hasBPM = bpm, valid

	return m.reading(c, ts.Data, updated), valid
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (m *Monitor) reading(c *cluster.Cluster, t float64, updated bool) Reading {
	return Reading{
		MonitorID: m.id.String(),
		DeviceID:  c.DeviceID(),
		Kind:      m.cfg.Kind,
		BPM:       m.last,
		Timestamp: t,
		Updated:   updated,
	}
}

// ID returns the identity of the monitor.
func (m *Monitor) ID() uuid.UUID { return m.id }

// Config returns the configuration with defaults applied.
func (m *Monitor) Config() MonitorConfig { return m.cfg }

// State returns the lifecycle phase of the monitor.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the bind error of a Failed monitor.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Trained reports whether the estimator has finished training.
func (m *Monitor) Trained() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == heartrate.Estimating
}
