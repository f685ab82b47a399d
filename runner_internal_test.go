package hrmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cgxeiji/hrmon/channel"
	"github.com/cgxeiji/hrmon/cluster"
)

type staticSession struct {
	Hub
}

func (*staticSession) DeviceID() string      { return "static" }
func (*staticSession) SamplingRate() float64 { return 128 }

func TestEnqueueDropsWhenFull(t *testing.T) {
	m, err := NewMonitor(MonitorConfig{Kind: PPG, Signal: channel.ID{Name: channel.PPGRed, Format: channel.Cal}})
	require.NoError(t, err)

	r := Attach(&staticSession{}, m, WithQueueSize(2))
	for i := 0; i < 5; i++ {
		r.enqueue(&cluster.Cluster{})
	}

	stats := r.Stats()
	assert.EqualValues(t, 5, stats.Received)
	assert.EqualValues(t, 3, stats.Dropped)
	assert.Zero(t, stats.Handled)
	assert.Len(t, r.queue, 2)
}
