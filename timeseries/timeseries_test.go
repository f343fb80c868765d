package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSingleTimeSeriesRejectsShortData(t *testing.T) {
	_, err := NewSingleTimeSeries("active_power", time.Now(), time.Hour, []float64{1})
	require.ErrorIs(t, err, ErrTooShort)
}

func TestNewNonSequentialTimeSeriesRejectsNonIncreasingTimestamps(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := NewNonSequentialTimeSeries("x", []time.Time{base, base}, []float64{1, 2})
	require.ErrorIs(t, err, ErrNotStrictlyIncreasing)
}

func TestResolveWindowAlignedStart(t *testing.T) {
	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	meta := Metadata{
		Type:             KindSingle,
		InitialTimestamp: &initial,
		Resolution:       &resolution,
		Length:           8784,
	}
	start := initial.Add(5 * time.Hour)

	offset, length, err := ResolveWindow(meta, &start, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, offset)
	assert.Equal(t, 5, length)
}

func TestResolveWindowRejectsMisalignedStart(t *testing.T) {
	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	meta := Metadata{Type: KindSingle, InitialTimestamp: &initial, Resolution: &resolution, Length: 10}
	start := initial.Add(30 * time.Minute)

	_, _, err := ResolveWindow(meta, &start, 1)
	require.ErrorIs(t, err, ErrAlignmentError)
}

func TestResolveWindowRejectsOutOfRange(t *testing.T) {
	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	meta := Metadata{Type: KindSingle, InitialTimestamp: &initial, Resolution: &resolution, Length: 10}

	_, _, err := ResolveWindow(meta, nil, 20)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestCanonicalFeaturesIsOrderIndependent(t *testing.T) {
	a := CanonicalFeatures(map[string]string{"scenario": "one", "weather_year": "2020"})
	b := CanonicalFeatures(map[string]string{"weather_year": "2020", "scenario": "one"})
	assert.Equal(t, a, b)
	assert.JSONEq(t, `[{"scenario":"one"},{"weather_year":"2020"}]`, a)
}

func TestCanonicalFeaturesEmpty(t *testing.T) {
	assert.Equal(t, "[]", CanonicalFeatures(nil))
}

func TestNewBackendRejectsUnknownName(t *testing.T) {
	_, err := NewBackend("does-not-exist", t.TempDir())
	require.ErrorIs(t, err, ErrUnknownBackend)
}
