package max30102

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

// Session streams the LED channels of a device. Every FIFO sample becomes a
// cluster holding PPG_RED, PPG_IR and SYSTEM_TIMESTAMP; the timestamp is the
// host time of the first sample plus the sample period times the sample
// index.
type Session struct {
	hrmon.Hub

	dev      *Device
	deviceID string
	decoder  *cluster.Decoder
	log      *zap.Logger
	now      func() time.Time

	start time.Time
	n     atomic.Int64
}

// NewSession returns a session reading dev. The device must have a sample
// rate configured.
func NewSession(dev *Device, deviceID string, log *zap.Logger) (*Session, error) {
	if dev.SamplingRate() <= 0 {
		return nil, fmt.Errorf("max30102: no sample rate configured for %s", deviceID)
	}
	decoder, err := cluster.NewDecoder(channel.PPGRed, channel.PPGIR, channel.SystemTimestamp)
	if err != nil {
		return nil, fmt.Errorf("max30102: could not build decoder: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		dev:      dev,
		deviceID: deviceID,
		decoder:  decoder,
		log:      log.With(zap.String("device_id", deviceID)),
		now:      time.Now,
	}, nil
}

// DeviceID implements hrmon.Session.
func (s *Session) DeviceID() string { return s.deviceID }

// SamplingRate implements hrmon.Session.
func (s *Session) SamplingRate() float64 { return s.dev.SamplingRate() }

// Samples returns how many samples were delivered.
func (s *Session) Samples() int64 { return s.n.Load() }

// Poll reads the FIFO once and delivers its samples. It returns how many
// samples were delivered.
func (s *Session) Poll() (int, error) {
	samples, err := s.dev.ReadFIFO()
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return 0, nil
	}
	if s.start.IsZero() {
		s.start = s.now()
	}

	startMs := float64(s.start.UnixNano()) / 1e6
	for _, smp := range samples {
		s.Deliver(s.decoder.Decode(cluster.Packet{
			DeviceID: s.deviceID,
			Channels: map[channel.Name]float64{
				channel.PPGRed:          float64(smp.Red),
				channel.PPGIR:           float64(smp.IR),
				channel.SystemTimestamp: startMs + float64(s.n.Load())*1000/s.SamplingRate(),
			},
		}))
		s.n.Add(1)
	}
	return len(samples), nil
}

// Run polls the device until ctx is done, about four times per FIFO fill.
// A read error stops the session.
func (s *Session) Run(ctx context.Context) error {
	interval := time.Duration(float64(fifoDepth) / 4 / s.SamplingRate() * float64(time.Second))
	t := time.NewTicker(interval)
	defer t.Stop()

	s.log.Info("sensor session started",
		zap.Float64("sampling_rate", s.SamplingRate()),
		zap.Uint8("rev_id", s.dev.RevID()),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sensor session stopped", zap.Int64("samples", s.n.Load()))
			return ctx.Err()
		case <-t.C:
			if _, err := s.Poll(); err != nil {
				s.log.Error("could not read sensor", zap.Error(err))
				return fmt.Errorf("max30102: session %s: %w", s.deviceID, err)
			}
		}
	}
}
