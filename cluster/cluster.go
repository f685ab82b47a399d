// Package cluster holds the decoded multi-channel reading a device session
// produces for one instant of the sensor stream.
package cluster

import (
	"github.com/cgxeiji/hrmon/channel"
)

// Value is one scalar read from a cluster, together with the labels needed
// to display it.
type Value struct {
	Data   float64
	Unit   channel.Unit
	Format channel.Format
}

type entry struct {
	id   channel.ID
	data float64
}

// Cluster is an immutable snapshot of every channel a device delivered at
// one instant. A nil *Cluster behaves as an empty cluster.
type Cluster struct {
	deviceID string
	entries  []entry
}

// DeviceID returns the identity of the device that produced the cluster.
func (c *Cluster) DeviceID() string {
	if c == nil {
		return ""
	}
	return c.deviceID
}

// Len returns the number of entries in the cluster.
func (c *Cluster) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Get returns the value of id. An empty unit matches the entry stored in
// the registry default unit, or the first entry for the name and format.
// When only a different unit of the same dimension is stored, the value is
// converted. A channel that is not present reports false; that is the
// normal outcome for channels the device configuration does not enable.
func (c *Cluster) Get(id channel.ID) (Value, bool) {
	if c == nil {
		return Value{}, false
	}

	var candidate *entry
	for i := range c.entries {
		e := &c.entries[i]
		if e.id.Name != id.Name || e.id.Format != id.Format {
			continue
		}
		if e.id.Unit == id.Unit {
			return e.value(), true
		}
		if candidate == nil {
			candidate = e
		}
		if id.Unit == channel.Default {
			if def, ok := channel.DefaultUnit(id.Name, id.Format); ok && def == e.id.Unit {
				candidate = e
			}
		}
	}
	if candidate == nil {
		return Value{}, false
	}
	if id.Unit == channel.Default {
		return candidate.value(), true
	}

	v, err := channel.Convert(candidate.data, candidate.id.Unit, id.Unit)
	if err != nil {
		return Value{}, false
	}
	return Value{Data: v, Unit: id.Unit, Format: id.Format}, true
}

// Names returns the channel name of every entry, in entry order. Names,
// Formats, Units and Values are parallel slices.
func (c *Cluster) Names() []channel.Name {
	out := make([]channel.Name, c.Len())
	for i := range out {
		out[i] = c.entries[i].id.Name
	}
	return out
}

// Formats returns the format label of every entry, in entry order.
func (c *Cluster) Formats() []channel.Format {
	out := make([]channel.Format, c.Len())
	for i := range out {
		out[i] = c.entries[i].id.Format
	}
	return out
}

// Units returns the unit label of every entry, in entry order.
func (c *Cluster) Units() []channel.Unit {
	out := make([]channel.Unit, c.Len())
	for i := range out {
		out[i] = c.entries[i].id.Unit
	}
	return out
}

// Values returns the scalar of every entry, in entry order.
func (c *Cluster) Values() []float64 {
	out := make([]float64, c.Len())
	for i := range out {
		out[i] = c.entries[i].data
	}
	return out
}

func (e *entry) value() Value {
	return Value{Data: e.data, Unit: e.id.Unit, Format: e.id.Format}
}
