package mqttbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgxeiji/hrmon"
	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeToken struct {
	err  error
	done bool
}

func (t fakeToken) Wait() bool                     { return t.done }
func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

type fakePublisher struct {
	token    fakeToken
	topics   []string
	payloads [][]byte
	retained bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload.([]byte))
	p.retained = retained
	return p.token
}

func TestSessionHandleMessage(t *testing.T) {
	s, err := NewSession(nil, SessionConfig{
		Topic:        "shimmer/+/samples",
		SamplingRate: 128,
		Channels:     []channel.Name{channel.PPGIR, channel.Timestamp},
	}, nil)
	require.NoError(t, err)

	var got []*cluster.Cluster
	s.Subscribe(func(c *cluster.Cluster) { got = append(got, c) })

	b, err := cluster.Packet{
		DeviceID: "gsr-7",
		Channels: map[channel.Name]float64{channel.PPGIR: 131071, channel.Timestamp: 256},
	}.Marshal()
	require.NoError(t, err)

	s.HandleMessage(nil, fakeMessage{topic: "shimmer/gsr-7/samples", payload: b})
	s.HandleMessage(nil, fakeMessage{topic: "shimmer/gsr-7/samples", payload: []byte("nope")})

	assert.EqualValues(t, 1, s.Malformed())
	require.Len(t, got, 1)
	assert.Equal(t, "gsr-7", got[0].DeviceID())
	v, ok := got[0].Get(channel.ID{Name: channel.PPGIR, Format: channel.Cal})
	require.True(t, ok)
	assert.InDelta(t, 0.5, v.Data, 1e-5)
	ts, ok := got[0].Get(channel.ID{Name: channel.Timestamp, Format: channel.Cal, Unit: channel.Seconds})
	require.True(t, ok)
	assert.InDelta(t, 1.0/128, ts.Data, 1e-12)
}

func TestSessionFiltersDevice(t *testing.T) {
	s, err := NewSession(nil, SessionConfig{
		Topic:        "samples",
		DeviceID:     "a",
		SamplingRate: 128,
		Channels:     []channel.Name{channel.PPGIR},
	}, nil)
	require.NoError(t, err)

	n := 0
	s.Subscribe(func(*cluster.Cluster) { n++ })
	for _, id := range []string{"a", "b", "a"} {
		b, err := cluster.Packet{DeviceID: id, Channels: map[channel.Name]float64{channel.PPGIR: 1}}.Marshal()
		require.NoError(t, err)
		s.HandleMessage(nil, fakeMessage{payload: b})
	}
	assert.Equal(t, 2, n)
	assert.Error(t, s.Run(context.Background()))
}

func TestSink(t *testing.T) {
	pub := &fakePublisher{token: fakeToken{done: true}}
	sink := NewSink(pub, "hr/{device}/{kind}", 1, true)
	r := hrmon.Reading{MonitorID: "m", DeviceID: "gsr-7", Kind: hrmon.PPG, BPM: 70, Timestamp: 3}

	require.NoError(t, sink.Publish(context.Background(), r))
	assert.Equal(t, []string{"hr/gsr-7/ppg"}, pub.topics)
	assert.True(t, pub.retained)
	var back hrmon.Reading
	require.NoError(t, json.Unmarshal(pub.payloads[0], &back))
	assert.Equal(t, r, back)

	pub.token = fakeToken{done: false}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sink.Publish(ctx, r), ErrTimeout)

	refused := errors.New("not authorized")
	pub.token = fakeToken{done: true, err: refused}
	assert.ErrorIs(t, sink.Publish(context.Background(), r), refused)
}
