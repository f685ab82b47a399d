package hrmon

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// An Option configures a monitor.
type Option func(m *Monitor) Option

// WithLogger sets the logger of the monitor. By default, the monitor logs
// nothing.
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) Option {
		old := m.log
		if l == nil {
			l = zap.NewNop()
		}
		m.log = l
		return WithLogger(old)
	}
}

// WithRateSource sets where the monitor reads the sampling rate from when
// the first cluster arrives before Bind was called.
func WithRateSource(rate func() float64) Option {
	return func(m *Monitor) Option {
		old := m.rate
		m.rate = rate
		return WithRateSource(old)
	}
}

// WithID overrides the random identity of the monitor.
func WithID(id uuid.UUID) Option {
	return func(m *Monitor) Option {
		old := m.id
		m.id = id
		return WithID(old)
	}
}
