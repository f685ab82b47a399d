package cluster

import (
	"errors"
	"fmt"

	"github.com/cgxeiji/hrmon/channel"
)

// ErrDuplicate is returned when a cluster would hold two values for the
// same channel identity.
var ErrDuplicate = errors.New("duplicate channel")

// Builder assembles a Cluster. The zero value is not usable; call
// NewBuilder.
type Builder struct {
	c    *Cluster
	seen map[channel.ID]bool
	err  error
}

// NewBuilder returns a Builder for a cluster of the given device.
func NewBuilder(deviceID string) *Builder {
	return &Builder{
		c:    &Cluster{deviceID: deviceID},
		seen: make(map[channel.ID]bool),
	}
}

// Add appends a value. An empty unit is resolved to the registry default.
// Errors are sticky and reported by Build.
func (b *Builder) Add(id channel.ID, v float64) *Builder {
	if b.err != nil {
		return b
	}
	if id.Unit == channel.Default {
		u, ok := channel.DefaultUnit(id.Name, id.Format)
		if !ok {
			b.err = fmt.Errorf("cluster: could not add %s: %w", id, channel.ErrUnsupported)
			return b
		}
		id.Unit = u
	}
	if b.seen[id] {
		b.err = fmt.Errorf("cluster: could not add %s: %w", id, ErrDuplicate)
		return b
	}
	b.seen[id] = true
	b.c.entries = append(b.c.entries, entry{id: id, data: v})

	return b
}

// Build returns the assembled cluster. The builder must not be used
// afterwards.
func (b *Builder) Build() (*Cluster, error) {
	if b.err != nil {
		return nil, b.err
	}
	c := b.c
	b.c = nil
	return c, nil
}
