package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/timeseries"
)

func TestAddIsIdempotentByDataUUID(t *testing.T) {
	b := New()
	ctx := context.Background()
	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, []float64{0, 1, 2, 3})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Length: 4}

	require.NoError(t, b.Add(ctx, meta, ts))
	require.NoError(t, b.Add(ctx, meta, ts))

	got, err := b.Get(ctx, meta, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2, 3}, got.Values())
}

func TestGetReturnsWindowedSlice(t *testing.T) {
	b := New()
	ctx := context.Background()
	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	data := make([]float64, 8784)
	for i := range data {
		data[i] = float64(i)
	}
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, data)
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Length: len(data)}
	require.NoError(t, b.Add(ctx, meta, ts))

	got, err := b.Get(ctx, meta, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6, 7, 8, 9}, got.Values())

	single, ok := got.(*timeseries.SingleTimeSeries)
	require.True(t, ok)
	assert.Equal(t, initial.Add(5*time.Hour), single.InitialTimestamp)
}

func TestGetRejectsOutOfRangeWindow(t *testing.T) {
	b := New()
	ctx := context.Background()
	initial := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := timeseries.NewSingleTimeSeries("active_power", initial, time.Hour, []float64{0, 1, 2})
	require.NoError(t, err)
	meta := timeseries.Metadata{TimeSeriesUUID: ts.DataUUID(), Type: timeseries.KindSingle, Length: 3}
	require.NoError(t, b.Add(ctx, meta, ts))

	_, err = b.Get(ctx, meta, 0, 10)
	require.ErrorIs(t, err, timeseries.ErrOutOfRange)
}

func TestRemoveFailsWhenAbsent(t *testing.T) {
	b := New()
	err := b.Remove(context.Background(), uuid.New())
	require.ErrorIs(t, err, timeseries.ErrNotStored)
}

func TestTimeSeriesDirectoryIsEmpty(t *testing.T) {
	assert.Equal(t, "", New().TimeSeriesDirectory())
}
