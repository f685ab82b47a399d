package hrmon

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Kind is the signal a monitor derives heart rate from.
type Kind int

// Monitor kinds.
const (
	ECG Kind = iota
	PPG
)

func (k Kind) String() string {
	switch k {
	case ECG:
		return "ecg"
	case PPG:
		return "ppg"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case ECG, PPG:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("hrmon: unknown kind %d", int(k))
}

// UnmarshalText decodes a kind encoded by MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseKind converts "ecg" or "ppg" to a Kind. "gsr" selects PPG, since
// the PPG sensor of a GSR unit is read through the same estimator.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "ecg", "ECG":
		return ECG, nil
	case "ppg", "PPG", "gsr", "GSR":
		return PPG, nil
	}
	return 0, fmt.Errorf("hrmon: unknown kind %q: %w", s, ErrConfig)
}

// Reading is one heart-rate value produced by a monitor.
type Reading struct {
	MonitorID string  `json:"monitor_id"`
	DeviceID  string  `json:"device_id"`
	Kind      Kind    `json:"kind"`
	BPM       float64 `json:"bpm"`
	// Timestamp is the stream time of the sample, in seconds.
	Timestamp float64 `json:"timestamp"`
	// Updated is set on the tick a new beat changed the heart rate.
	Updated bool `json:"-"`
}

// Sink consumes readings.
type Sink interface {
	Publish(ctx context.Context, r Reading) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, r Reading) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, r Reading) error {
	return f(ctx, r)
}

// LogSink writes readings to a logger.
type LogSink struct {
	Logger *zap.Logger
}

// Publish implements Sink.
func (s LogSink) Publish(_ context.Context, r Reading) error {
	s.Logger.Info("heart rate",
		zap.String("monitor_id", r.MonitorID),
		zap.String("device_id", r.DeviceID),
		zap.Stringer("kind", r.Kind),
		zap.Float64("bpm", r.BPM),
		zap.Float64("timestamp", r.Timestamp),
	)
	return nil
}
