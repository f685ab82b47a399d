package cluster

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/cgxeiji/hrmon/channel"
)

// Packet carries the raw counts of one sensor reading.
type Packet struct {
	DeviceID string                   `json:"device_id"`
	Channels map[channel.Name]float64 `json:"channels"`
}

// Marshal encodes p in its JSON wire form.
func (p Packet) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalPacket decodes a packet from its JSON wire form.
func UnmarshalPacket(b []byte) (Packet, error) {
	var p Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return Packet{}, fmt.Errorf("cluster: could not decode packet: %w", err)
	}
	return p, nil
}

type decodePath struct {
	raw channel.Descriptor
	cal channel.Descriptor

	// rollover state of counter channels
	last  float64
	laps  float64
	begun bool
}

// unwrap extends a rolling counter past 2^Bits. A count more than half the
// range below the previous one starts a new lap; one more than half the
// range above it is a late sample from the previous lap.
func (p *decodePath) unwrap(raw float64) float64 {
	span := math.Exp2(float64(p.raw.Bits))
	if !p.begun {
		p.last, p.begun = raw, true
		return raw
	}
	switch {
	case raw < p.last-span/2:
		p.laps += span
	case raw > p.last+span/2:
		return raw + p.laps - span
	}
	p.last = raw
	return raw + p.laps
}

// Decoder turns packets into clusters for a fixed set of enabled channels.
// It keeps the rollover state of counter channels, so one decoder serves
// one device stream.
type Decoder struct {
	mu    sync.Mutex
	paths []*decodePath
}

// NewDecoder returns a decoder for the given channels. Every channel must
// have both a raw and a calibrated path in the registry. Repeated names are
// enabled once.
func NewDecoder(names ...channel.Name) (*Decoder, error) {
	d := &Decoder{}
	enabled := make(map[channel.Name]bool, len(names))
	for _, n := range names {
		if enabled[n] {
			continue
		}
		enabled[n] = true
		raw, err := channel.Lookup(channel.ID{Name: n, Format: channel.Raw})
		if err != nil {
			return nil, fmt.Errorf("cluster: could not enable %s: %w", n, err)
		}
		cal, err := channel.Lookup(channel.ID{Name: n, Format: channel.Cal})
		if err != nil {
			return nil, fmt.Errorf("cluster: could not enable %s: %w", n, err)
		}
		d.paths = append(d.paths, &decodePath{raw: raw, cal: cal})
	}

	return d, nil
}

// Decode builds the cluster for p. Each enabled channel present in the
// packet contributes a RAW and a CAL entry; a calibrated value that is not
// finite is left out. Channels that are absent from the packet, or not
// enabled, are skipped. Counter channels are unwrapped first, so both
// entries keep increasing across a rollover.
func (d *Decoder) Decode(p Packet) *Cluster {
	d.mu.Lock()
	defer d.mu.Unlock()

	c := &Cluster{deviceID: p.DeviceID}
	for _, path := range d.paths {
		raw, ok := p.Channels[path.raw.ID.Name]
		if !ok || math.IsNaN(raw) || math.IsInf(raw, 0) {
			continue
		}
		if path.raw.Counter {
			raw = path.unwrap(raw)
		}
		c.entries = append(c.entries, entry{id: path.raw.ID, data: raw})

		cal := path.cal.Decode(raw)
		if math.IsNaN(cal) || math.IsInf(cal, 0) {
			continue
		}
		c.entries = append(c.entries, entry{id: path.cal.ID, data: cal})
	}

	return c
}
