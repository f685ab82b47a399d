package heartrate

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// trainer accumulates the training period in fixed windows and keeps the
// extremes of each one.
type trainer struct {
	start  float64
	sumAbs float64
	n      int

	win struct {
		start, last float64
		max, min    float64
		n           int
	}
	maxima, minima []float64
}

func (t *trainer) reset(ts float64) {
	*t = trainer{start: ts}
	t.open(ts)
}

func (t *trainer) open(ts float64) {
	t.win.start, t.win.last = ts, ts
	t.win.max, t.win.min = math.Inf(-1), math.Inf(1)
	t.win.n = 0
}

func (t *trainer) close() {
	if t.win.n == 0 {
		return
	}
	t.maxima = append(t.maxima, t.win.max)
	t.minima = append(t.minima, t.win.min)
}

func (t *trainer) add(x, ts float64) {
	if ts-t.win.start >= windowSpan {
		t.close()
		t.open(ts)
	}
	t.win.last = ts
	t.win.n++
	if x > t.win.max {
		t.win.max = x
	}
	if x < t.win.min {
		t.win.min = x
	}
	t.sumAbs += math.Abs(x)
	t.n++
}

func (t *trainer) elapsed() float64 {
	return t.win.last - t.start
}

// finish closes the last window if it covers at least half a span.
func (t *trainer) finish() {
	if t.win.last-t.win.start >= windowSpan/2 {
		t.close()
	}
	t.win.n = 0
}

func (t *trainer) meanAbs() float64 {
	if t.n == 0 {
		return 0
	}
	return t.sumAbs / float64(t.n)
}

// median returns the median of v, or 0 for an empty slice.
func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

// beatRing keeps the most recent instantaneous heart rates.
type beatRing struct {
	buffer []float64
	idx    int
	full   bool
}

func newBeatRing(size int) *beatRing {
	return &beatRing{buffer: make([]float64, size)}
}

func (r *beatRing) add(bpm float64) {
	r.buffer[r.idx] = bpm
	r.idx++
	if r.idx == len(r.buffer) {
		r.idx = 0
		r.full = true
	}
}

func (r *beatRing) mean() float64 {
	if r.full {
		return stat.Mean(r.buffer, nil)
	}
	if r.idx == 0 {
		return 0
	}
	return stat.Mean(r.buffer[:r.idx], nil)
}
