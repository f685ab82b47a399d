package redisstream

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgxeiji/hrmon"
)

func newSink(t *testing.T, opts Options) (*Sink, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { client.Close() })

	s, err := NewSink(client, opts)
	require.NoError(t, err)
	return s, mr
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	s, _ := newSink(t, Options{Stream: "hr:readings"})
	require.NoError(t, s.Ping(ctx))

	r := hrmon.Reading{MonitorID: "m-1", DeviceID: "shimmer-1", Kind: hrmon.ECG, BPM: 61.234, Timestamp: 12.5}
	require.NoError(t, s.Publish(ctx, r))
	r.BPM = 62
	require.NoError(t, s.Publish(ctx, r))

	msgs, err := s.client.XRange(ctx, "hr:readings", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, map[string]interface{}{
		"monitor_id": "m-1",
		"device_id":  "shimmer-1",
		"kind":       "ecg",
		"bpm":        "61.23",
		"timestamp":  "12.500000",
	}, msgs[0].Values)
	assert.Equal(t, "62.00", msgs[1].Values["bpm"])
}

func TestPublishTrims(t *testing.T) {
	ctx := context.Background()
	s, _ := newSink(t, Options{Stream: "hr", MaxLen: 3})

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Publish(ctx, hrmon.Reading{BPM: float64(60 + i)}))
	}
	n, err := s.client.XLen(ctx, "hr").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(10))
	assert.GreaterOrEqual(t, n, int64(3))
}

func TestPublishServerDown(t *testing.T) {
	s, mr := newSink(t, Options{Stream: "hr"})
	mr.Close()

	assert.Error(t, s.Publish(context.Background(), hrmon.Reading{}))
	assert.Error(t, s.Ping(context.Background()))
}

func TestNewSinkNeedsStream(t *testing.T) {
	_, err := NewSink(nil, Options{})
	assert.Error(t, err)
}
