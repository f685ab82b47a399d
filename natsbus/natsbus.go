// Package natsbus carries sample packets and heart-rate readings over NATS.
//
// Packets are the JSON form of cluster.Packet, one per sample; readings are
// the JSON form of hrmon.Reading.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

// Connect dials url and keeps reconnecting for as long as the connection
// is in use.
func Connect(url, name string, log *zap.Logger) (*nats.Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(
		url,
		nats.Name(name),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("natsbus: could not connect to %s: %w", url, err)
	}
	return nc, nil
}

// SessionConfig describes the stream a session subscribes to.
type SessionConfig struct {
	Subject      string
	DeviceID     string
	SamplingRate float64
	// Channels are the enabled channels decoded from every packet.
	Channels []channel.Name
}

// Session delivers the packets published on a subject as clusters.
// Packets from other devices than DeviceID are ignored when DeviceID is
// set.
type Session struct {
	hrmon.Hub

	conn    *nats.Conn
	cfg     SessionConfig
	decoder *cluster.Decoder
	log     *zap.Logger

	malformed atomic.Uint64
}

// NewSession returns a session on conn. conn may be nil when packets are
// fed through HandleData only.
func NewSession(conn *nats.Conn, cfg SessionConfig, log *zap.Logger) (*Session, error) {
	if cfg.Subject == "" {
		return nil, errors.New("natsbus: empty subject")
	}
	if !(cfg.SamplingRate > 0) {
		return nil, fmt.Errorf("natsbus: sampling rate %v must be positive", cfg.SamplingRate)
	}
	decoder, err := cluster.NewDecoder(cfg.Channels...)
	if err != nil {
		return nil, fmt.Errorf("natsbus: could not build decoder: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		conn:    conn,
		cfg:     cfg,
		decoder: decoder,
		log:     log.With(zap.String("subject", cfg.Subject)),
	}, nil
}

// DeviceID implements hrmon.Session.
func (s *Session) DeviceID() string { return s.cfg.DeviceID }

// SamplingRate implements hrmon.Session.
func (s *Session) SamplingRate() float64 { return s.cfg.SamplingRate }

// Malformed returns how many messages could not be decoded.
func (s *Session) Malformed() uint64 { return s.malformed.Load() }

// HandleData decodes one packet and delivers it.
func (s *Session) HandleData(data []byte) error {
	p, err := cluster.UnmarshalPacket(data)
	if err != nil {
		s.malformed.Add(1)
		return err
	}
	if s.cfg.DeviceID != "" && p.DeviceID != s.cfg.DeviceID {
		return nil
	}
	s.Deliver(s.decoder.Decode(p))
	return nil
}

// Run subscribes to the subject and delivers packets until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("natsbus: session has no connection")
	}
	sub, err := s.conn.Subscribe(s.cfg.Subject, func(msg *nats.Msg) {
		if err := s.HandleData(msg.Data); err != nil {
			s.log.Warn("dropping malformed packet", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("natsbus: could not subscribe to %s: %w", s.cfg.Subject, err)
	}
	s.log.Info("session subscribed")

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil {
		s.log.Warn("could not unsubscribe", zap.Error(err))
	}
	return ctx.Err()
}

// Publisher is the part of *nats.Conn a sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes readings. A "{device}" or "{kind}" in the subject is
// replaced by the device id or kind of each reading.
type Sink struct {
	pub     Publisher
	subject string
}

// NewSink returns a sink publishing on subject.
func NewSink(pub Publisher, subject string) *Sink {
	return &Sink{pub: pub, subject: subject}
}

// Publish implements hrmon.Sink.
func (s *Sink) Publish(ctx context.Context, r hrmon.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("natsbus: could not encode reading: %w", err)
	}
	subject := s.Subject(r)
	if err := s.pub.Publish(subject, b); err != nil {
		return fmt.Errorf("natsbus: could not publish to %s: %w", subject, err)
	}
	return nil
}

// Subject returns the subject r is published on.
func (s *Sink) Subject(r hrmon.Reading) string {
	return strings.NewReplacer(
		"{device}", r.DeviceID,
		"{kind}", r.Kind.String(),
	).Replace(s.subject)
}
