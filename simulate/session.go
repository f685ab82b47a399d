package simulate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

// ErrNoWave is returned when a session has no channel to generate.
var ErrNoWave = errors.New("no wave configured")

// An Option configures a session.
type Option func(s *Session) Option

// WithWave feeds the calibrated channel n from w. Setting a nil wave
// removes the channel.
func WithWave(n channel.Name, w Wave) Option {
	return func(s *Session) Option {
		old := s.waves[n]
		if w == nil {
			delete(s.waves, n)
		} else {
			s.waves[n] = w
		}
		return WithWave(n, old)
	}
}

// WithLogger sets the logger of the session.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) Option {
		old := s.log
		if l == nil {
			l = zap.NewNop()
		}
		s.log = l
		return WithLogger(old)
	}
}

// WithStart sets the stream time of the first sample, in seconds.
func WithStart(t float64) Option {
	return func(s *Session) Option {
		old := s.start
		s.start = t
		return WithStart(old)
	}
}

type source struct {
	desc channel.Descriptor
	wave Wave
}

// Session is a device that samples its waves at a fixed rate. Samples
// carry raw counts and a device TIMESTAMP, and are decoded the same way a
// real device stream is.
type Session struct {
	hrmon.Hub

	deviceID string
	rate     float64
	start    float64
	log      *zap.Logger
	waves    map[channel.Name]Wave

	sources []source
	clock   channel.Descriptor
	decoder *cluster.Decoder

	mu sync.Mutex
	n  int64
}

// New returns a session for deviceID sampling at rate Hz.
func New(deviceID string, rate float64, opts ...Option) (*Session, error) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("simulate: sampling rate %v must be positive", rate)
	}
	s := &Session{
		deviceID: deviceID,
		rate:     rate,
		log:      zap.NewNop(),
		waves:    map[channel.Name]Wave{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.waves) == 0 {
		return nil, fmt.Errorf("simulate: could not start %s: %w", deviceID, ErrNoWave)
	}

	names := make([]channel.Name, 0, len(s.waves)+1)
	for n := range s.waves {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, n := range names {
		d, err := channel.Lookup(channel.ID{Name: n, Format: channel.Cal})
		if err != nil {
			return nil, fmt.Errorf("simulate: could not generate %s: %w", n, err)
		}
		s.sources = append(s.sources, source{desc: d, wave: s.waves[n]})
	}

	clock, err := channel.Lookup(channel.ID{Name: channel.Timestamp, Format: channel.Cal})
	if err != nil {
		return nil, fmt.Errorf("simulate: could not resolve the device clock: %w", err)
	}
	s.clock = clock

	s.decoder, err = cluster.NewDecoder(append(names, channel.Timestamp)...)
	if err != nil {
		return nil, fmt.Errorf("simulate: could not build decoder: %w", err)
	}

	return s, nil
}

// DeviceID implements hrmon.Session.
func (s *Session) DeviceID() string { return s.deviceID }

// SamplingRate implements hrmon.Session.
func (s *Session) SamplingRate() float64 { return s.rate }

// Packet returns the raw packet of sample i. The clock count rolls over at
// 2^Bits like the device counter does.
func (s *Session) Packet(i int64) cluster.Packet {
	t := s.start + float64(i)/s.rate
	p := cluster.Packet{
		DeviceID: s.deviceID,
		Channels: make(map[channel.Name]float64, len(s.sources)+1),
	}
	for _, src := range s.sources {
		p.Channels[src.desc.ID.Name] = encode(src.desc, src.wave.At(t))
	}
	ms, _ := channel.Convert(t, channel.Seconds, s.clock.ID.Unit)
	p.Channels[channel.Timestamp] = math.Mod(encode(s.clock, ms), math.Exp2(float64(s.clock.Bits)))
	return p
}

// encode inverts the linear calibration of d for a value in the
// registry default unit.
func encode(d channel.Descriptor, v float64) float64 {
	return math.Round(v/d.Gain + d.Offset)
}

// Next generates the next sample, delivers it to every subscriber and
// returns it.
func (s *Session) Next() *cluster.Cluster {
	s.mu.Lock()
	i := s.n
	s.n++
	s.mu.Unlock()

	c := s.decoder.Decode(s.Packet(i))
	s.Deliver(c)
	return c
}

// Replay generates and delivers n samples as fast as possible.
func (s *Session) Replay(n int) {
	for i := 0; i < n; i++ {
		s.Next()
	}
}

// Samples returns how many samples were generated.
func (s *Session) Samples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Run delivers samples in real time until ctx is done. Samples that fall
// due between two ticks are delivered together on the next tick.
func (s *Session) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / s.rate)
	if period < time.Millisecond {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.log.Info("simulation started",
		zap.String("device_id", s.deviceID),
		zap.Float64("sampling_rate", s.rate),
		zap.Int("channels", len(s.sources)),
	)
	begin := time.Now()
	base := s.Samples()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulation stopped", zap.Int64("samples", s.Samples()))
			return ctx.Err()
		case now := <-ticker.C:
			due := base + int64(now.Sub(begin).Seconds()*s.rate)
			for s.Samples() < due {
				s.Next()
			}
		}
	}
}
