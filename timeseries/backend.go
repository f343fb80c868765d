package timeseries

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Backend is the storage contract every concrete time-series store
// implements. The five concrete backends below
// (memory, arrowfile, parquetfile, hdf5file, sqlengine) differ only in
// how they persist the physical array; all of them are driven by the
// same Metadata record the caller already resolved through the metadata
// index.
//
//	| Backend     | Granularity                  | On-disk object                        | Notes                          |
//	|-------------|-------------------------------|----------------------------------------|---------------------------------|
//	| memory      | one entry per data-UUID        | none                                    | must implement slicing itself   |
//	| arrowfile   | one file per data-UUID         | <uuid>.arrow (IPC, one record batch)    | default on-disk backend         |
//	| hdf5file    | one record per data-UUID       | single time_series_storage.h5 file      | stdlib container, not real HDF5 |
//	| parquetfile | one file per data-UUID         | <uuid>.parquet                          | slicing supported               |
//	| sqlengine   | one table per (type, initial_timestamp, resolution, length) | single database file | uses dense integer IDs           |
type Backend interface {
	// Add stores data under the identity carried in meta.TimeSeriesUUID.
	// Storing the same data UUID twice is a no-op (idempotent).
	Add(ctx context.Context, meta Metadata, data Data) error

	// Get returns the data stored under meta.TimeSeriesUUID, restricted to
	// the half-open window described by startOffset/length. length <= 0
	// means "to the end of the stored array". Callers resolve a requested
	// start_time to startOffset (ResolveWindow checks its alignment) before
	// calling Get; Get fails with ErrOutOfRange if the window runs past the
	// stored length.
	Get(ctx context.Context, meta Metadata, startOffset, length int) (Data, error)

	// Remove deletes the physical array identified by dataUUID. It fails
	// with ErrNotStored if absent.
	Remove(ctx context.Context, dataUUID uuid.UUID) error

	// Serialize copies the whole backend payload into dst.
	Serialize(ctx context.Context, dst string) error

	// TimeSeriesDirectory returns the directory backing the store, or ""
	// for purely in-memory backends.
	TimeSeriesDirectory() string
}

// Constructor builds a fresh Backend rooted at dir.
type Constructor func(dir string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Constructor{}
)

// RegisterBackend registers a backend constructor under name (e.g.
// "memory", "arrow", "parquet", "hdf5", "sql"). Concrete backend packages
// call this from an init function.
func RegisterBackend(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = ctor
}

// NewBackend constructs the backend registered under name, rooted at dir.
func NewBackend(name, dir string) (Backend, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return ctor(dir)
}
