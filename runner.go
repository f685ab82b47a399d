package hrmon

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon/cluster"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = time.Second
)

// RunnerOption configures a Runner.
type RunnerOption func(r *Runner) RunnerOption

// WithQueueSize sets how many clusters may wait for the monitor before
// new ones are dropped.
func WithQueueSize(n int) RunnerOption {
	return func(r *Runner) RunnerOption {
		old := cap(r.queue)
		if n < 1 {
			n = 1
		}
		r.queue = make(chan *cluster.Cluster, n)
		return WithQueueSize(old)
	}
}

// WithSinks adds sinks that receive every updated reading.
func WithSinks(sinks ...Sink) RunnerOption {
	return func(r *Runner) RunnerOption {
		old := r.sinks
		r.sinks = append(append([]Sink(nil), r.sinks...), sinks...)
		return withSinkList(old)
	}
}

func withSinkList(sinks []Sink) RunnerOption {
	return func(r *Runner) RunnerOption {
		old := r.sinks
		r.sinks = sinks
		return withSinkList(old)
	}
}

// WithPublishTimeout bounds every call to a sink.
func WithPublishTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) RunnerOption {
		old := r.timeout
		r.timeout = d
		return WithPublishTimeout(old)
	}
}

// WithRunnerLogger sets the logger of the runner.
func WithRunnerLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) RunnerOption {
		old := r.log
		if l == nil {
			l = zap.NewNop()
		}
		r.log = l
		return WithRunnerLogger(old)
	}
}

// Stats counts what a runner did with the clusters it received.
type Stats struct {
	Received  uint64
	Dropped   uint64
	Handled   uint64
	Published uint64
	Failed    uint64
}

// Runner feeds the clusters of a session to a monitor on a single
// goroutine and publishes the readings.
type Runner struct {
	session Session
	monitor *Monitor
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger

	queue chan *cluster.Cluster
	last  atomic.Value // Reading

	received, dropped, handled, published, failed atomic.Uint64
}

// Attach prepares a runner for m on s. Nothing is delivered until Run is
// called.
func Attach(s Session, m *Monitor, opts ...RunnerOption) *Runner {
	r := &Runner{
		session: s,
		monitor: m,
		timeout: defaultPublishTimeout,
		log:     zap.NewNop(),
		queue:   make(chan *cluster.Cluster, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(
		zap.String("monitor_id", m.ID().String()),
		zap.String("device_id", s.DeviceID()),
	)
	return r
}

// enqueue runs on the session goroutine and never blocks.
func (r *Runner) enqueue(c *cluster.Cluster) {
	r.received.Add(1)
	select {
	case r.queue <- c:
	default:
		if r.dropped.Add(1) == 1 {
			r.log.Warn("monitor queue full, dropping clusters", zap.Int("queue_size", cap(r.queue)))
		}
	}
}

// Run subscribes to the session and processes clusters until ctx is
// done. The monitor is bound from the session sampling rate if it was not
// bound before.
func (r *Runner) Run(ctx context.Context) error {
	if r.monitor.State() == Unbound {
		if err := r.monitor.Bind(r.session.SamplingRate()); err != nil {
			return err
		}
	}

	unsubscribe := r.session.Subscribe(r.enqueue)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-r.queue:
			r.process(ctx, c)
		}
	}
}

func (r *Runner) process(ctx context.Context, c *cluster.Cluster) {
	reading, ok := r.monitor.Handle(c)
	r.handled.Add(1)
	if !ok {
		return
	}
	r.last.Store(reading)
	if !reading.Updated {
		return
	}

	for _, s := range r.sinks {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Publish(pctx, reading)
		cancel()
		if err != nil {
			r.failed.Add(1)
			r.log.Error("could not publish reading", zap.Error(err))
			continue
		}
		r.published.Add(1)
	}
}

// Last returns the most recent valid reading.
func (r *Runner) Last() (Reading, bool) {
	v, ok := r.last.Load().(Reading)
	return v, ok
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Received:  r.received.Load(),
		Dropped:   r.dropped.Load(),
		Handled:   r.handled.Load(),
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
	}
}
