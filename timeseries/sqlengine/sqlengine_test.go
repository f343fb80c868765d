package sqlengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/timeseries"
)

func newMemoryBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestAddGetRoundTrip(t *testing.T) {
	b := newMemoryBackend(t)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, resolution, data)
	require.NoError(t, err)
	meta := timeseries.Metadata{
		TimeSeriesUUID:   ts.DataUUID(),
		Type:             timeseries.KindSingle,
		Name:             "active_power",
		InitialTimestamp: &initial,
		Resolution:       &resolution,
		Length:           len(data),
	}

	require.NoError(t, b.Add(ctx, meta, ts))

	got, err := b.Get(ctx, meta, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7, 8, 9}, got.Values())
}

func TestAddIsIdempotent(t *testing.T) {
	b := newMemoryBackend(t)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, resolution, []float64{1, 2})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Name: "active_power", InitialTimestamp: &initial, Resolution: &resolution, Length: 2}

	require.NoError(t, b.Add(ctx, meta, ts))
	require.NoError(t, b.Add(ctx, meta, ts))
}

func TestTwoSeriesShareATableWhenShapeMatches(t *testing.T) {
	b := newMemoryBackend(t)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	ts1, err := timeseries.NewSingleTimeSeries("active_power", initial, resolution, []float64{1, 2, 3})
	require.NoError(t, err)
	ts2, err := timeseries.NewSingleTimeSeries("reactive_power", initial, resolution, []float64{4, 5, 6})
	require.NoError(t, err)

	meta1 := timeseries.Metadata{TimeSeriesUUID: ts1.DataUUID(), Type: timeseries.KindSingle, Name: "active_power", InitialTimestamp: &initial, Resolution: &resolution, Length: 3}
	meta2 := timeseries.Metadata{TimeSeriesUUID: ts2.DataUUID(), Type: timeseries.KindSingle, Name: "reactive_power", InitialTimestamp: &initial, Resolution: &resolution, Length: 3}

	require.NoError(t, b.Add(ctx, meta1, ts1))
	require.NoError(t, b.Add(ctx, meta2, ts2))

	assert.Equal(t, tableNameFor(meta1), tableNameFor(meta2))

	got1, err := b.Get(ctx, meta1, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got1.Values())

	got2, err := b.Get(ctx, meta2, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5, 6}, got2.Values())
}

func TestRemoveFailsWhenAbsent(t *testing.T) {
	b := newMemoryBackend(t)
	ts, err := timeseries.NewSingleTimeSeries("x", time.Now(), time.Hour, []float64{0, 1})
	require.NoError(t, err)

	err = b.Remove(context.Background(), ts.DataUUID())
	require.ErrorIs(t, err, timeseries.ErrNotStored)
}
