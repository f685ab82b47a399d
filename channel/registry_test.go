package channel

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupDefaultUnit(t *testing.T) {
	d, err := Lookup(ID{Name: ECGLLRA, Format: Cal})
	require.NoError(t, err)
	assert.Equal(t, MilliVolts, d.ID.Unit)
	assert.Equal(t, 24, d.Bits)
	assert.False(t, d.Counter)

	d, err = Lookup(ID{Name: ECGLLRA, Format: Raw})
	require.NoError(t, err)
	assert.Equal(t, NoUnits, d.ID.Unit)
	assert.Equal(t, 1234.0, d.Decode(1234))
}

func TestLookupCounter(t *testing.T) {
	for _, f := range []Format{Raw, Cal} {
		d, err := Lookup(ID{Name: Timestamp, Format: f})
		require.NoError(t, err)
		assert.True(t, d.Counter, f)
		assert.Equal(t, 24, d.Bits, f)
	}
	d, err := Lookup(ID{Name: SystemTimestamp, Format: Cal})
	require.NoError(t, err)
	assert.False(t, d.Counter)
}

func TestLookupUnsupported(t *testing.T) {
	tests := []ID{
		{Name: "ECG_XX", Format: Cal},
		{Name: ECGLLRA, Format: "CALIBRATED_FANCY"},
		{Name: ECGLLRA, Format: Cal, Unit: MilliSeconds},
		{Name: Timestamp, Format: Raw, Unit: Seconds},
		{Name: PPGRed, Format: Cal, Unit: Volts},
	}
	for _, id := range tests {
		t.Run(id.String(), func(t *testing.T) {
			_, err := Lookup(id)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnsupported))
		})
	}
}

func TestDecodeCalibrated(t *testing.T) {
	adc, err := Lookup(ID{Name: InternalADCA13, Format: Cal})
	require.NoError(t, err)
	assert.InDelta(t, 3000.0, adc.Decode(4095), 1e-9)
	assert.InDelta(t, 0.0, adc.Decode(0), 1e-9)

	volts, err := Lookup(ID{Name: InternalADCA13, Format: Cal, Unit: Volts})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, volts.Decode(4095), 1e-9)

	ts, err := Lookup(ID{Name: Timestamp, Format: Cal})
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, ts.Decode(32768), 1e-9)

	secs, err := Lookup(ID{Name: Timestamp, Format: Cal, Unit: Seconds})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, secs.Decode(65536), 1e-9)

	exg, err := Lookup(ID{Name: ECGLARA, Format: Cal})
	require.NoError(t, err)
	assert.InDelta(t, 2420.0/6, exg.Decode(1<<23-1), 1e-6)
}

func TestDecodeGSR(t *testing.T) {
	kohms, err := Lookup(ID{Name: GSR, Format: Cal})
	require.NoError(t, err)
	// 1500 mV output => 40.2 / (3 - 1)
	raw := 1500.0 / (3000.0 / 4095)
	assert.InDelta(t, 20.1, kohms.Decode(raw), 1e-9)
	assert.True(t, math.IsNaN(kohms.Decode(0)))

	us, err := Lookup(ID{Name: GSR, Format: Cal, Unit: MicroSiemens})
	require.NoError(t, err)
	assert.InDelta(t, 1000/20.1, us.Decode(raw), 1e-9)
}

func TestConvert(t *testing.T) {
	v, err := Convert(1500, MilliSeconds, Seconds)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 1e-12)

	v, err = Convert(2, Volts, MilliVolts)
	require.NoError(t, err)
	assert.InDelta(t, 2000.0, v, 1e-9)

	_, err = Convert(1, Volts, Seconds)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Convert(1, NoUnits, Volts)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestEnumeration(t *testing.T) {
	names := Names()
	assert.Contains(t, names, ECGLLRA)
	assert.Contains(t, names, InternalADCA13)
	assert.Contains(t, names, Timestamp)
	assert.Contains(t, names, SystemTimestamp)
	assert.True(t, sort.SliceIsSorted(names, func(i, j int) bool { return names[i] < names[j] }))

	ids := Supported()
	assert.Len(t, ids, 2*len(names))
	for _, id := range ids {
		assert.NotEqual(t, Default, id.Unit, id.String())
		_, err := Lookup(id)
		assert.NoError(t, err, id.String())
	}
}

func TestParse(t *testing.T) {
	n, err := ParseName("INTERNAL_ADC_A13")
	require.NoError(t, err)
	assert.Equal(t, InternalADCA13, n)

	_, err = ParseName("BOGUS")
	assert.ErrorIs(t, err, ErrUnsupported)

	f, err := ParseFormat("CALIBRATED")
	require.NoError(t, err)
	assert.Equal(t, Cal, f)
}
