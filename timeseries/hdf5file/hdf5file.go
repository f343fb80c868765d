// Package hdf5file implements the HDF5-shaped time-series storage
// backend: one group per data UUID, each carrying its values plus a
// small set of attributes. To stay cgo-free it does not link libhdf5;
// it writes a small self-contained binary container instead: a
// single file holding one record per data UUID, each carrying the same
// per-series attributes (name, kind, initial timestamp, resolution) that
// a real HDF5 group's attributes would hold. The file is rewritten in
// full on every mutation, which is acceptable at the scale this backend
// targets (reference/test use, not bulk production ingestion).
package hdf5file

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"infrasys/timeseries"
)

func init() {
	timeseries.RegisterBackend("hdf5", func(dir string) (timeseries.Backend, error) {
		return New(dir)
	})
}

const magic = "INFRH5\x00\x00"

const (
	kindSingle        byte = 0
	kindNonSequential byte = 1
)

type entry struct {
	name             string
	kind             byte
	initialTimestamp int64   // unix nanoseconds, kindSingle only
	resolution       int64   // nanoseconds, kindSingle only
	timestamps       []int64 // unix nanoseconds, kindNonSequential only
	values           []float64
}

// Backend stores every time series as one record in a single
// "time_series_storage.h5"-named file, mirroring the single-file-per-store
// shape of the SQL-engine backend rather than one-file-per-series.
type Backend struct {
	mu      sync.RWMutex
	dir     string
	records map[uuid.UUID]entry
}

// New constructs a Backend rooted at dir, loading any existing storage
// file found there.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hdf5file: creating directory %q: %w", dir, err)
	}
	b := &Backend{dir: dir, records: make(map[uuid.UUID]entry)}
	if err := b.load(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) path() string { return filepath.Join(b.dir, "time_series_storage.h5") }

func (b *Backend) load() error {
	f, err := os.Open(b.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hdf5file: opening %q: %w", b.path(), err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("hdf5file: reading header: %w", err)
	}
	if string(header[:]) != magic {
		return fmt.Errorf("%w: %q is not an infrasys hdf5-shaped store", timeseries.ErrInvalidParameter, b.path())
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("hdf5file: reading record count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		id, e, err := readEntry(r)
		if err != nil {
			return fmt.Errorf("hdf5file: reading record %d: %w", i, err)
		}
		b.records[id] = e
	}
	return nil
}

func readEntry(r io.Reader) (uuid.UUID, entry, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return id, entry{}, err
	}

	var nameLen uint32
	if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
		return id, entry{}, err
	}
	nameBytes := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBytes); err != nil {
		return id, entry{}, err
	}

	var kind byte
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return id, entry{}, err
	}

	e := entry{name: string(nameBytes), kind: kind}

	if kind == kindSingle {
		if err := binary.Read(r, binary.LittleEndian, &e.initialTimestamp); err != nil {
			return id, entry{}, err
		}
		if err := binary.Read(r, binary.LittleEndian, &e.resolution); err != nil {
			return id, entry{}, err
		}
	} else {
		var tsCount uint32
		if err := binary.Read(r, binary.LittleEndian, &tsCount); err != nil {
			return id, entry{}, err
		}
		e.timestamps = make([]int64, tsCount)
		if err := binary.Read(r, binary.LittleEndian, e.timestamps); err != nil {
			return id, entry{}, err
		}
	}

	var valueCount uint32
	if err := binary.Read(r, binary.LittleEndian, &valueCount); err != nil {
		return id, entry{}, err
	}
	e.values = make([]float64, valueCount)
	if err := binary.Read(r, binary.LittleEndian, e.values); err != nil {
		return id, entry{}, err
	}
	return id, e, nil
}

func writeEntry(w io.Writer, id uuid.UUID, e entry) error {
	if _, err := w.Write(id[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.kind); err != nil {
		return err
	}
	if e.kind == kindSingle {
		if err := binary.Write(w, binary.LittleEndian, e.initialTimestamp); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.resolution); err != nil {
			return err
		}
	} else {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.timestamps))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.timestamps); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.values))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, e.values)
}

func (b *Backend) persistLocked() error {
	tmp := b.path() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("hdf5file: creating %q: %w", tmp, err)
	}
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(magic); err != nil {
		f.Close()
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b.records))); err != nil {
		f.Close()
		return err
	}
	for id, e := range b.records {
		if err := writeEntry(w, id, e); err != nil {
			f.Close()
			return fmt.Errorf("hdf5file: writing record %s: %w", id, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, b.path())
}

func (b *Backend) Add(_ context.Context, meta timeseries.Metadata, data timeseries.Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.records[meta.TimeSeriesUUID]; exists {
		return nil
	}

	e := entry{name: data.Name(), values: append([]float64(nil), data.Values()...)}
	switch v := data.(type) {
	case *timeseries.SingleTimeSeries:
		e.kind = kindSingle
		e.initialTimestamp = v.InitialTimestamp.UnixNano()
		e.resolution = int64(v.Resolution)
	case *timeseries.NonSequentialTimeSeries:
		e.kind = kindNonSequential
		e.timestamps = make([]int64, len(v.Timestamps))
		for i, ts := range v.Timestamps {
			e.timestamps[i] = ts.UnixNano()
		}
	default:
		return fmt.Errorf("%w: unsupported time series implementation", timeseries.ErrInvalidParameter)
	}

	b.records[meta.TimeSeriesUUID] = e
	return b.persistLocked()
}

func (b *Backend) Get(_ context.Context, meta timeseries.Metadata, startOffset, length int) (timeseries.Data, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.records[meta.TimeSeriesUUID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", timeseries.ErrNotStored, meta.TimeSeriesUUID)
	}
	if length <= 0 {
		length = len(e.values) - startOffset
	}
	end := startOffset + length
	if startOffset < 0 || end > len(e.values) {
		return nil, fmt.Errorf("%w: window [%d, %d) exceeds stored length %d", timeseries.ErrOutOfRange, startOffset, end, len(e.values))
	}
	values := append([]float64(nil), e.values[startOffset:end]...)

	if e.kind == kindSingle {
		initial := time.Unix(0, e.initialTimestamp).UTC()
		resolution := time.Duration(e.resolution)
		newInitial := initial.Add(time.Duration(startOffset) * resolution)
		return timeseries.RestoreSingleTimeSeries(meta.TimeSeriesUUID, e.name, newInitial, resolution, values), nil
	}

	timestamps := make([]time.Time, end-startOffset)
	for i, nanos := range e.timestamps[startOffset:end] {
		timestamps[i] = time.Unix(0, nanos).UTC()
	}
	return timeseries.RestoreNonSequentialTimeSeries(meta.TimeSeriesUUID, e.name, timestamps, values), nil
}

func (b *Backend) Remove(_ context.Context, dataUUID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.records[dataUUID]; !ok {
		return fmt.Errorf("%w: %s", timeseries.ErrNotStored, dataUUID)
	}
	delete(b.records, dataUUID)
	return b.persistLocked()
}

// Serialize copies the single storage file into dst.
func (b *Backend) Serialize(_ context.Context, dst string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("hdf5file: creating destination %q: %w", dst, err)
	}
	in, err := os.Open(b.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hdf5file: opening %q: %w", b.path(), err)
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(dst, "time_series_storage.h5"))
	if err != nil {
		return fmt.Errorf("hdf5file: creating destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("hdf5file: copying storage file: %w", err)
	}
	return nil
}

func (b *Backend) TimeSeriesDirectory() string { return b.dir }
