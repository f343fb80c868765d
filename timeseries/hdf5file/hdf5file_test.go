package hdf5file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/timeseries"
)

func TestAddGetRoundTripSingle(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	resolution := time.Hour
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, resolution, data)
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Length: len(data)}

	require.NoError(t, b.Add(ctx, meta, ts))

	got, err := b.Get(ctx, meta, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7, 8, 9}, got.Values())
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	b1, err := New(dir)
	require.NoError(t, err)

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, []float64{1, 2, 3})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Length: 3}
	require.NoError(t, b1.Add(ctx, meta, ts))

	b2, err := New(dir)
	require.NoError(t, err)
	got, err := b2.Get(ctx, meta, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, got.Values())
}

func TestRemoveFailsWhenAbsent(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	ts, terr := timeseries.NewSingleTimeSeries("x", time.Now(), time.Hour, []float64{0, 1})
	require.NoError(t, terr)

	err = b.Remove(context.Background(), ts.DataUUID())
	require.ErrorIs(t, err, timeseries.ErrNotStored)
}
