// Package redisstream appends heart-rate readings to a Redis stream.
package redisstream

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/cgxeiji/hrmon"
)

// Options configures a Sink.
type Options struct {
	// Stream is the key of the stream.
	Stream string
	// MaxLen trims the stream to about this many entries on every append
	// when positive.
	MaxLen int64
}

// Sink is an hrmon.Sink writing one stream entry per reading.
type Sink struct {
	client *redis.Client
	opts   Options
}

// NewClient returns a client for the server at addr.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewSink returns a sink on client.
func NewSink(client *redis.Client, opts Options) (*Sink, error) {
	if opts.Stream == "" {
		return nil, fmt.Errorf("redisstream: empty stream key")
	}
	return &Sink{client: client, opts: opts}, nil
}

// Ping checks the connection to the server.
func (s *Sink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisstream: could not reach server: %w", err)
	}
	return nil
}

// Publish implements hrmon.Sink.
func (s *Sink) Publish(ctx context.Context, r hrmon.Reading) error {
	args := &redis.XAddArgs{
		Stream: s.opts.Stream,
		Values: Values(r),
	}
	if s.opts.MaxLen > 0 {
		args.MaxLen = s.opts.MaxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redisstream: could not append to %s: %w", s.opts.Stream, err)
	}
	return nil
}

// Values returns the stream fields of r.
func Values(r hrmon.Reading) map[string]interface{} {
	return map[string]interface{}{
		"monitor_id": r.MonitorID,
		"device_id":  r.DeviceID,
		"kind":       r.Kind.String(),
		"bpm":        strconv.FormatFloat(r.BPM, 'f', 2, 64),
		"timestamp":  strconv.FormatFloat(r.Timestamp, 'f', 6, 64),
	}
}
