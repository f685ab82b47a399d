package filter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		rate    float64
		cutoffs []float64
	}{
		{"zero rate", LowPass, 0, []float64{5}},
		{"negative rate", HighPass, -128, []float64{0.5}},
		{"nan rate", LowPass, math.NaN(), []float64{5}},
		{"at nyquist", LowPass, 128, []float64{64}},
		{"above nyquist", HighPass, 128, []float64{100}},
		{"negative cutoff", HighPass, 128, []float64{-1}},
		{"nan cutoff", LowPass, 128, []float64{math.NaN()}},
		{"missing cutoff", LowPass, 128, nil},
		{"extra cutoff", HighPass, 128, []float64{1, 2}},
		{"band-stop single", BandStop, 512, []float64{50}},
		{"band-stop reversed", BandStop, 512, []float64{51, 49}},
		{"band-stop equal", BandStop, 512, []float64{50, 50}},
		{"band-stop upper at nyquist", BandStop, 512, []float64{49, 256}},
		{"unknown kind", Kind(9), 512, []float64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.kind, tt.rate, tt.cutoffs...)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
			assert.Nil(t, f)
		})
	}
}

func TestNewAcceptsInRange(t *testing.T) {
	for _, rate := range []float64{128, 256, 512, 1024} {
		for _, fc := range []float64{0.05, 0.5, 5, rate/2 - 1} {
			_, err := New(LowPass, rate, fc)
			assert.NoError(t, err, "low-pass %v@%v", fc, rate)
			_, err = New(HighPass, rate, fc)
			assert.NoError(t, err, "high-pass %v@%v", fc, rate)
		}
		_, err := New(HighPass, rate, 0)
		assert.NoError(t, err)
		_, err = Mains(rate, 50)
		assert.NoError(t, err)
		_, err = Mains(rate, 60)
		assert.NoError(t, err)
	}
}

func TestCutoffIsMinus3dB(t *testing.T) {
	half := 1 / math.Sqrt2
	for _, tt := range []struct {
		kind Kind
		rate float64
		fc   float64
	}{
		{LowPass, 128, 5},
		{LowPass, 512, 40},
		{HighPass, 128, 0.5},
		{HighPass, 512, 0.05},
	} {
		f, err := New(tt.kind, tt.rate, tt.fc)
		require.NoError(t, err)
		assert.InDelta(t, half, f.Response(tt.fc), 1e-6, "%v %v@%v", tt.kind, tt.fc, tt.rate)
	}

	bs, err := New(BandStop, 512, 49, 51)
	require.NoError(t, err)
	assert.InDelta(t, half, bs.Response(49), 1e-6)
	assert.InDelta(t, half, bs.Response(51), 1e-6)
	assert.Less(t, bs.Response(50), 0.05)
	assert.InDelta(t, 1.0, bs.Response(10), 0.01)
	assert.InDelta(t, 1.0, bs.Response(100), 0.01)
}

func TestConstantStreamConverges(t *testing.T) {
	lp, err := New(LowPass, 128, 5)
	require.NoError(t, err)
	hp, err := New(HighPass, 128, 0.5)
	require.NoError(t, err)
	bs, err := Mains(512, 50)
	require.NoError(t, err)

	var ylp, yhp, ybs float64
	for i := 0; i < 2000; i++ {
		ylp = lp.Apply(3)
		yhp = hp.Apply(3)
		ybs = bs.Apply(3)
	}
	assert.InDelta(t, 3.0, ylp, 1e-9)
	assert.InDelta(t, 0.0, yhp, 1e-9)
	assert.InDelta(t, 3.0, ybs, 1e-9)
}

func TestStepConverges(t *testing.T) {
	lp, err := New(LowPass, 128, 5)
	require.NoError(t, err)

	lp.Apply(0)
	var y float64
	for i := 0; i < 512; i++ {
		y = lp.Apply(1)
	}
	assert.InDelta(t, 1.0, y, 1e-6)
}

// peak returns the largest magnitude of f's output over the last second of
// an n-second sine at hz.
func peak(f *Filter, rate, hz float64, seconds int) float64 {
	n := int(rate) * seconds
	var max float64
	for i := 0; i < n; i++ {
		y := f.Apply(math.Sin(2 * math.Pi * hz * float64(i) / rate))
		if i >= n-int(rate) && math.Abs(y) > max {
			max = math.Abs(y)
		}
	}
	return max
}

func TestBandStopRemovesMains(t *testing.T) {
	stop, err := Mains(512, 50)
	require.NoError(t, err)
	pass, err := Mains(512, 50)
	require.NoError(t, err)

	assert.Less(t, peak(stop, 512, 50, 4), 0.05)
	assert.Greater(t, peak(pass, 512, 10, 4), 0.95)

	sixty, err := Mains(512, 60)
	require.NoError(t, err)
	assert.Less(t, peak(sixty, 512, 60, 4), 0.05)
}

func TestHighPassRemovesDrift(t *testing.T) {
	hp, err := New(HighPass, 128, 0.5)
	require.NoError(t, err)

	n := 128 * 20
	var last float64
	for i := 0; i < n; i++ {
		ts := float64(i) / 128
		// 10 Hz tone over a slow ramp
		last = hp.Apply(5 + 0.2*ts + math.Sin(2*math.Pi*10*ts))
	}
	assert.Less(t, math.Abs(last), 1.05)

	tone, err := New(HighPass, 128, 0.5)
	require.NoError(t, err)
	assert.Greater(t, peak(tone, 128, 10, 4), 0.95)
}

func TestZeroHighPassIsIdentity(t *testing.T) {
	f, err := New(HighPass, 128, 0)
	require.NoError(t, err)
	for _, x := range []float64{1, -2, 3.5} {
		assert.Equal(t, x, f.Apply(x))
	}
	assert.Equal(t, 1.0, f.Response(10))
}

func TestZeroLowPassIsSilent(t *testing.T) {
	f, err := New(LowPass, 128, 0)
	require.NoError(t, err)
	for _, x := range []float64{1, -2, 3.5} {
		assert.Equal(t, 0.0, f.Apply(x))
	}
	assert.Equal(t, 0.0, f.Response(10))
}

func TestBandStopFromZero(t *testing.T) {
	f, err := New(BandStop, 512, 0, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0, f.Response(0), 1e-12)
	assert.InDelta(t, math.Sqrt(0.5), f.Response(10), 1e-9)
	assert.Greater(t, f.Response(100), 0.99)

	// a constant sits in the stop band
	var y float64
	for i := 0; i < 512; i++ {
		y = f.Apply(3)
	}
	assert.InDelta(t, 0, y, 1e-9)
}

func TestNonFiniteSampleLeavesStateUntouched(t *testing.T) {
	a, err := New(HighPass, 512, 0.5)
	require.NoError(t, err)
	b, err := New(HighPass, 512, 0.5)
	require.NoError(t, err)

	var last float64
	for i := 0; i < 600; i++ {
		if i == 300 {
			for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
				assert.Equal(t, last, b.Apply(bad))
			}
		}
		x := math.Sin(float64(i) * 0.1)
		last = a.Apply(x)
		require.Equal(t, last, b.Apply(x), "sample %d", i)
	}
}

func TestDeterministic(t *testing.T) {
	a, err := New(BandStop, 512, 49, 51)
	require.NoError(t, err)
	b, err := New(BandStop, 512, 49, 51)
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		x := math.Sin(float64(i)*0.37) + 0.1*float64(i%7)
		require.Equal(t, a.Apply(x), b.Apply(x))
	}
}

func TestChain(t *testing.T) {
	_, err := NewChain(128, Spec{Kind: LowPass, Cutoffs: []float64{5}}, Spec{Kind: HighPass, Cutoffs: []float64{80}})
	assert.ErrorIs(t, err, ErrConfig)

	c, err := NewChain(128, Spec{Kind: LowPass, Cutoffs: []float64{5}}, Spec{Kind: HighPass, Cutoffs: []float64{0.5}})
	require.NoError(t, err)
	require.Len(t, c, 2)
	assert.Equal(t, LowPass, c[0].Kind())
	assert.Equal(t, HighPass, c[1].Kind())

	lp, _ := New(LowPass, 128, 5)
	hp, _ := New(HighPass, 128, 0.5)
	for i := 0; i < 300; i++ {
		x := math.Cos(float64(i) * 0.2)
		require.Equal(t, hp.Apply(lp.Apply(x)), c.Apply(x))
	}

	assert.NoError(t, Spec{Kind: BandStop, Cutoffs: []float64{49, 51}}.Validate())
	assert.ErrorIs(t, Spec{Kind: BandStop, Cutoffs: []float64{51, 49}}.Validate(), ErrConfig)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("notch")
	require.NoError(t, err)
	assert.Equal(t, BandStop, k)
	assert.Equal(t, "band-stop", k.String())

	_, err = ParseKind("comb")
	assert.ErrorIs(t, err, ErrConfig)
}
