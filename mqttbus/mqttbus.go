// Package mqttbus carries sample packets and heart-rate readings over an
// MQTT broker, in the same JSON forms as natsbus.
package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqttbus: broker did not respond in time")

// ClientConfig holds the broker connection settings.
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// Connect opens an auto-reconnecting client to the broker.
func Connect(cfg ClientConfig, log *zap.Logger) (mqtt.Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", zap.String("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttbus: could not connect to %s: %w", cfg.Broker, token.Error())
	}
	return client, nil
}

// SessionConfig describes the stream a session subscribes to.
type SessionConfig struct {
	Topic        string
	QoS          byte
	DeviceID     string
	SamplingRate float64
	Channels     []channel.Name
}

// Session delivers the packets published on a topic as clusters.
type Session struct {
	hrmon.Hub

	client  mqtt.Client
	cfg     SessionConfig
	decoder *cluster.Decoder
	log     *zap.Logger

	malformed atomic.Uint64
}

// NewSession returns a session on client. client may be nil when messages
// are fed through HandleMessage only.
func NewSession(client mqtt.Client, cfg SessionConfig, log *zap.Logger) (*Session, error) {
	if cfg.Topic == "" {
		return nil, errors.New("mqttbus: empty topic")
	}
	if !(cfg.SamplingRate > 0) {
		return nil, fmt.Errorf("mqttbus: sampling rate %v must be positive", cfg.SamplingRate)
	}
	decoder, err := cluster.NewDecoder(cfg.Channels...)
	if err != nil {
		return nil, fmt.Errorf("mqttbus: could not build decoder: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		client:  client,
		cfg:     cfg,
		decoder: decoder,
		log:     log.With(zap.String("topic", cfg.Topic)),
	}, nil
}

// DeviceID implements hrmon.Session.
func (s *Session) DeviceID() string { return s.cfg.DeviceID }

// SamplingRate implements hrmon.Session.
func (s *Session) SamplingRate() float64 { return s.cfg.SamplingRate }

// Malformed returns how many messages could not be decoded.
func (s *Session) Malformed() uint64 { return s.malformed.Load() }

// HandleMessage is the subscription callback of the session.
func (s *Session) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	p, err := cluster.UnmarshalPacket(msg.Payload())
	if err != nil {
		s.malformed.Add(1)
		s.log.Warn("dropping malformed packet", zap.String("msg_topic", msg.Topic()), zap.Error(err))
		return
	}
	if s.cfg.DeviceID != "" && p.DeviceID != s.cfg.DeviceID {
		return
	}
	s.Deliver(s.decoder.Decode(p))
}

// Run subscribes to the topic and delivers packets until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.client == nil {
		return errors.New("mqttbus: session has no client")
	}
	if token := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.HandleMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttbus: could not subscribe to %s: %w", s.cfg.Topic, token.Error())
	}
	s.log.Info("session subscribed")

	<-ctx.Done()
	if token := s.client.Unsubscribe(s.cfg.Topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		s.log.Warn("could not unsubscribe", zap.Error(token.Error()))
	}
	return ctx.Err()
}

// Publisher is the part of mqtt.Client a sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Sink publishes readings. A "{device}" or "{kind}" in the topic is
// replaced by the device id or kind of each reading.
type Sink struct {
	pub      Publisher
	topic    string
	qos      byte
	retained bool
}

// NewSink returns a sink publishing on topic. Retained readings let a
// display show the last heart rate as soon as it subscribes.
func NewSink(pub Publisher, topic string, qos byte, retained bool) *Sink {
	return &Sink{pub: pub, topic: topic, qos: qos, retained: retained}
}

// Publish implements hrmon.Sink. It waits for the broker until the
// deadline of ctx, or one second without one.
func (s *Sink) Publish(ctx context.Context, r hrmon.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("mqttbus: could not encode reading: %w", err)
	}
	topic := s.Topic(r)

	wait := time.Second
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	token := s.pub.Publish(topic, s.qos, s.retained, b)
	if !token.WaitTimeout(wait) {
		return fmt.Errorf("mqttbus: publish to %s: %w", topic, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttbus: could not publish to %s: %w", topic, err)
	}
	return nil
}

// Topic returns the topic r is published on.
func (s *Sink) Topic(r hrmon.Reading) string {
	return strings.NewReplacer(
		"{device}", r.DeviceID,
		"{kind}", r.Kind.String(),
	).Replace(s.topic)
}
