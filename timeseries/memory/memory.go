// Package memory implements the in-memory time-series storage backend:
// one entry per data UUID, no on-disk object, slicing done in Go rather
// than delegated to a columnar engine.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"infrasys/timeseries"
)

func init() {
	timeseries.RegisterBackend("memory", func(string) (timeseries.Backend, error) {
		return New(), nil
	})
}

// Backend is the in-memory timeseries.Backend implementation.
type Backend struct {
	mu   sync.RWMutex
	data map[uuid.UUID]timeseries.Data
}

// New constructs an empty in-memory backend.
func New() *Backend {
	return &Backend{data: make(map[uuid.UUID]timeseries.Data)}
}

func (b *Backend) Add(_ context.Context, meta timeseries.Metadata, data timeseries.Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.data[meta.TimeSeriesUUID]; exists {
		return nil
	}
	b.data[meta.TimeSeriesUUID] = data
	return nil
}

func (b *Backend) Get(_ context.Context, meta timeseries.Metadata, startOffset, length int) (timeseries.Data, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stored, ok := b.data[meta.TimeSeriesUUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", timeseries.ErrNotStored, meta.TimeSeriesUUID)
	}
	values := stored.Values()
	if length <= 0 {
		length = len(values) - startOffset
	}
	end := startOffset + length
	if startOffset < 0 || end > len(values) {
		return nil, fmt.Errorf("%w: window [%d, %d) exceeds stored length %d", timeseries.ErrOutOfRange, startOffset, end, len(values))
	}
	sliced := append([]float64(nil), values[startOffset:end]...)

	switch s := stored.(type) {
	case *timeseries.SingleTimeSeries:
		newInitial := s.InitialTimestamp.Add(time.Duration(startOffset) * s.Resolution)
		return timeseries.RestoreSingleTimeSeries(s.DataUUID(), s.Name(), newInitial, s.Resolution, sliced), nil
	case *timeseries.NonSequentialTimeSeries:
		timestamps := append([]time.Time(nil), s.Timestamps[startOffset:end]...)
		return timeseries.RestoreNonSequentialTimeSeries(s.DataUUID(), s.Name(), timestamps, sliced), nil
	default:
		return nil, fmt.Errorf("%w: unsupported time series implementation", timeseries.ErrInvalidParameter)
	}
}

func (b *Backend) Remove(_ context.Context, dataUUID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[dataUUID]; !ok {
		return fmt.Errorf("%w: %s", timeseries.ErrNotStored, dataUUID)
	}
	delete(b.data, dataUUID)
	return nil
}

// Serialize is a no-op for the in-memory backend: there is no on-disk
// payload to copy. A system backed by this store exports its arrays into
// a file-based backend at save time instead.
func (b *Backend) Serialize(context.Context, string) error { return nil }

func (b *Backend) TimeSeriesDirectory() string { return "" }
