package heartrate

// movingAverage stores an estimated moving average of the last 4 values.
// The first value pre-fills the average.
type movingAverage struct {
	mean  float64
	valid bool
}

func (m *movingAverage) add(n float64) {
	if !m.valid {
		m.mean, m.valid = n, true
		return
	}
	m.mean += (n - m.mean) / 4
}
