package simulate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

func TestWavesAreDeterministic(t *testing.T) {
	ecg := ECG{BPM: 60, Amplitude: 1, Noise: 0.01}
	ppg := PPG{BPM: 75, DC: 0.5, Amplitude: 0.1}
	for _, ts := range []float64{0, 0.123, 1.5, 42} {
		assert.Equal(t, ecg.At(ts), ecg.At(ts))
		assert.Equal(t, ppg.At(ts), ppg.At(ts))
	}
	// R-peak at 32% of the cycle dominates the beat.
	assert.Greater(t, ecg.At(0.32), 0.9)
	assert.Less(t, ecg.At(0.9), 0.2)
	assert.InDelta(t, 0.6, ppg.At(0.2*60/75), 0.01)
}

func TestNewErrors(t *testing.T) {
	_, err := New("sim", 0, WithWave(channel.ECGLLRA, ECG{BPM: 60, Amplitude: 1}))
	assert.Error(t, err)

	_, err = New("sim", 512)
	assert.ErrorIs(t, err, ErrNoWave)

	_, err = New("sim", 512, WithWave(channel.Name("NOPE"), ECG{}))
	assert.ErrorIs(t, err, channel.ErrUnsupported)
}

func TestNextRoundTripsCalibration(t *testing.T) {
	wave := ECG{BPM: 60, Amplitude: 1}
	s, err := New("sim-1", 512, WithWave(channel.ECGLLRA, wave))
	require.NoError(t, err)

	var got []*cluster.Cluster
	unsubscribe := s.Subscribe(func(c *cluster.Cluster) { got = append(got, c) })
	s.Replay(200)
	unsubscribe()
	s.Next()

	require.Len(t, got, 200)
	assert.EqualValues(t, 201, s.Samples())
	for i, c := range got {
		assert.Equal(t, "sim-1", c.DeviceID())

		ts, ok := c.Get(channel.ID{Name: channel.Timestamp, Format: channel.Cal, Unit: channel.Seconds})
		require.True(t, ok)
		want := float64(i) / 512
		assert.InDelta(t, want, ts.Data, 1e-9)

		v, ok := c.Get(channel.ID{Name: channel.ECGLLRA, Format: channel.Cal})
		require.True(t, ok)
		assert.InDelta(t, wave.At(want), v.Data, 1e-3)
		assert.Equal(t, channel.MilliVolts, v.Unit)
	}
}

func TestPacketCarriesRawCounts(t *testing.T) {
	s, err := New("sim", 128, WithWave(channel.PPGIR, PPG{BPM: 60, DC: 0.5, Amplitude: 0.1}))
	require.NoError(t, err)

	p := s.Packet(128)
	assert.Equal(t, float64(32768), p.Channels[channel.Timestamp])
	assert.Contains(t, p.Channels, channel.PPGIR)
	assert.NotContains(t, p.Channels, channel.PPGRed)
}

func TestClockRollsOver(t *testing.T) {
	s, err := New("sim", 128,
		WithStart(510),
		WithWave(channel.PPGIR, PPG{BPM: 75, DC: 0.5, Amplitude: 0.1}),
	)
	require.NoError(t, err)

	// 2^24 ticks of the 32768 Hz clock is 512 s.
	assert.Equal(t, float64(510*32768), s.Packet(0).Channels[channel.Timestamp])
	assert.Equal(t, float64(32768), s.Packet(3*128).Channels[channel.Timestamp])

	var got []float64
	s.Subscribe(func(c *cluster.Cluster) {
		ts, ok := c.Get(channel.ID{Name: channel.Timestamp, Format: channel.Cal, Unit: channel.Seconds})
		require.True(t, ok)
		got = append(got, ts.Data)
	})
	s.Replay(5 * 128)

	require.Len(t, got, 5*128)
	for i, ts := range got {
		assert.InDelta(t, 510+float64(i)/128, ts, 1e-6, "sample %d", i)
	}
}

func TestRunDeliversInRealTime(t *testing.T) {
	s, err := New("sim", 1000, WithWave(channel.PPGRed, PPG{BPM: 60, DC: 0.5, Amplitude: 0.1}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Run(ctx), context.DeadlineExceeded)
	assert.Greater(t, s.Samples(), int64(10))
}
