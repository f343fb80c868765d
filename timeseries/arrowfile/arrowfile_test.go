package arrowfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/timeseries"
)

func TestAddWritesOneFilePerDataUUID(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Name: "active_power", InitialTimestamp: &initial, Resolution: resPtr(time.Hour), Length: 4}

	require.NoError(t, b.Add(context.Background(), meta, ts))
	_, statErr := os.Stat(filepath.Join(dir, ts.DataUUID().String()+".arrow"))
	assert.NoError(t, statErr)
}

func TestGetReturnsWindowedValues(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	data := make([]float64, 8784)
	for i := range data {
		data[i] = float64(i)
	}
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, data)
	require.NoError(t, err)
	meta := timeseries.Metadata{
		TimeSeriesUUID:   ts.DataUUID(),
		Type:             timeseries.KindSingle,
		Name:             "active_power",
		InitialTimestamp: &initial,
		Resolution:       resPtr(time.Hour),
		Length:           len(data),
	}
	require.NoError(t, b.Add(ctx, meta, ts))

	got, err := b.Get(ctx, meta, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7, 8, 9}, got.Values())
}

func TestRemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Name: "active_power", InitialTimestamp: &initial, Resolution: resPtr(time.Hour), Length: 4}
	require.NoError(t, b.Add(ctx, meta, ts))

	require.NoError(t, b.Remove(ctx, ts.DataUUID()))
	err = b.Remove(ctx, ts.DataUUID())
	require.ErrorIs(t, err, timeseries.ErrNotStored)
}

func resPtr(d time.Duration) *time.Duration { return &d }
