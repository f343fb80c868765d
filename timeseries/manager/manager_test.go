package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infrasys/timeseries"
	"infrasys/timeseries/arrowfile"
	"infrasys/timeseries/memory"
	"infrasys/timeseries/metadata"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	backend := memory.New()
	idx, err := metadata.Open(context.Background(), filepath.Join(t.TempDir(), "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return New(backend, idx)
}

func sampleSeries(t *testing.T) *timeseries.SingleTimeSeries {
	t.Helper()
	data := make([]float64, 24)
	for i := range data {
		data[i] = float64(i)
	}
	ts, err := timeseries.NewSingleTimeSeries("active_power", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Hour, data)
	require.NoError(t, err)
	return ts
}

func TestAddAndGetRoundTrip(t *testing.T) {
	m := newTestManager(t)
	owner := Owner{UUID: uuid.New(), Type: "Generator"}
	ts := sampleSeries(t)

	require.NoError(t, m.Add(context.Background(), ts, []Owner{owner}))

	got, err := m.Get(context.Background(), owner, "active_power", timeseries.KindSingle, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ts.Values(), got.Values())
}

func TestAddRejectsWhenReadOnly(t *testing.T) {
	m := newTestManager(t)
	m.SetReadOnly(true)
	owner := Owner{UUID: uuid.New(), Type: "Generator"}

	err := m.Add(context.Background(), sampleSeries(t), []Owner{owner})
	require.ErrorIs(t, err, timeseries.ErrReadOnly)
}

func TestAddRejectsNoOwners(t *testing.T) {
	m := newTestManager(t)
	err := m.Add(context.Background(), sampleSeries(t), nil)
	require.ErrorIs(t, err, timeseries.ErrInvalidParameter)
}

func TestRemoveDropsDataOnlyWhenLastOwnerReleasesIt(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	owner1 := Owner{UUID: uuid.New(), Type: "Generator"}
	owner2 := Owner{UUID: uuid.New(), Type: "Generator"}
	ts := sampleSeries(t)

	require.NoError(t, m.Add(ctx, ts, []Owner{owner1, owner2}))

	require.NoError(t, m.Remove(ctx, []Owner{owner1}, "active_power", timeseries.KindSingle, nil))
	has, err := m.HasTimeSeries(ctx, owner2, "active_power", timeseries.KindSingle, nil)
	require.NoError(t, err)
	assert.True(t, has, "owner2's attachment should survive owner1's removal")

	_, err = m.backend.Get(ctx, metadataFor(ts, addConfig{}), 0, 0)
	require.NoError(t, err, "data must still be physically present while owner2 references it")

	require.NoError(t, m.Remove(ctx, []Owner{owner2}, "active_power", timeseries.KindSingle, nil))
	_, err = m.backend.Get(ctx, metadataFor(ts, addConfig{}), 0, 0)
	require.Error(t, err, "data must be physically removed once no owner references it")
}

func TestCopySharesUnderlyingData(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := Owner{UUID: uuid.New(), Type: "Generator"}
	dst := Owner{UUID: uuid.New(), Type: "Generator"}
	ts := sampleSeries(t)
	require.NoError(t, m.Add(ctx, ts, []Owner{src}))

	require.NoError(t, m.Copy(ctx, dst, src, nil))

	got, err := m.Get(ctx, dst, "active_power", timeseries.KindSingle, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ts.Values(), got.Values())
}

func TestConvertStorageMovesArraysIntoNewBackend(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	owner := Owner{UUID: uuid.New(), Type: "Generator"}
	ts := sampleSeries(t)
	require.NoError(t, m.Add(ctx, ts, []Owner{owner}))

	dst, err := arrowfile.New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.ConvertStorage(ctx, dst))

	got, err := m.Get(ctx, owner, "active_power", timeseries.KindSingle, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, ts.Values(), got.Values())
	assert.Same(t, timeseries.Backend(dst), m.backend)
}

func TestWithNormalizationByMaxDividesValues(t *testing.T) {
	m := newTestManager(t)
	owner := Owner{UUID: uuid.New(), Type: "Generator"}
	ts := sampleSeries(t)

	require.NoError(t, m.Add(context.Background(), ts, []Owner{owner}, WithNormalization(timeseries.Normalization{Kind: timeseries.NormalizeMax})))

	got, err := m.Get(context.Background(), owner, "active_power", timeseries.KindSingle, 0, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Values()[len(got.Values())-1])
}
