package parquetfile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/timeseries"
)

func TestAddGetRoundTrip(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
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
	b, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, resolution, []float64{0, 1})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Name: "active_power", InitialTimestamp: &initial, Resolution: &resolution, Length: 2}

	require.NoError(t, b.Add(ctx, meta, ts))
	require.NoError(t, b.Add(ctx, meta, ts))
}

func TestRemoveFailsWhenAbsent(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	ts, err := timeseries.NewSingleTimeSeries("x", time.Now(), time.Hour, []float64{0, 1})
	require.NoError(t, err)

	err = b.Remove(context.Background(), ts.DataUUID())
	require.ErrorIs(t, err, timeseries.ErrNotStored)
}
