// Package arrowfile implements the Arrow-IPC time-series storage
// backend: one file per data UUID, one record batch, one column named
// after the series' variable name. This is the default on-disk backend.
package arrowfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"

	"infrasys/timeseries"
)

func init() {
	timeseries.RegisterBackend("arrow", func(dir string) (timeseries.Backend, error) {
		return New(dir)
	})
}

// Backend stores each time series as its own "<uuid>.arrow" IPC file.
type Backend struct {
	mu        sync.RWMutex
	dir       string
	allocator memory.Allocator
}

// New constructs a Backend rooted at dir, creating dir if necessary.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("arrowfile: creating directory %q: %w", dir, err)
	}
	return &Backend{dir: dir, allocator: memory.NewGoAllocator()}, nil
}

func (b *Backend) path(id uuid.UUID) string {
	return filepath.Join(b.dir, id.String()+".arrow")
}

func (b *Backend) Add(_ context.Context, meta timeseries.Metadata, data timeseries.Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(meta.TimeSeriesUUID)
	if _, err := os.Stat(path); err == nil {
		return nil // idempotent by data UUID
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("arrowfile: creating %q: %w", path, err)
	}
	defer f.Close()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: data.Name(), Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(b.allocator))
	if err != nil {
		return fmt.Errorf("arrowfile: opening ipc writer: %w", err)
	}
	defer writer.Close()

	builder := array.NewFloat64Builder(b.allocator)
	defer builder.Release()
	builder.AppendValues(data.Values(), nil)
	col := builder.NewFloat64Array()
	defer col.Release()

	batch := array.NewRecord(schema, []arrow.Array{col}, int64(data.Len()))
	defer batch.Release()

	if err := writer.Write(batch); err != nil {
		return fmt.Errorf("arrowfile: writing record batch: %w", err)
	}
	return nil
}

func (b *Backend) Get(_ context.Context, meta timeseries.Metadata, startOffset, length int) (timeseries.Data, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path := b.path(meta.TimeSeriesUUID)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", timeseries.ErrNotStored, meta.TimeSeriesUUID)
		}
		return nil, fmt.Errorf("arrowfile: opening %q: %w", path, err)
	}
	defer f.Close()

	reader, err := ipc.NewFileReader(f, ipc.WithAllocator(b.allocator))
	if err != nil {
		return nil, fmt.Errorf("arrowfile: opening ipc reader: %w", err)
	}
	defer reader.Close()

	batch, err := reader.Record(0)
	if err != nil {
		return nil, fmt.Errorf("arrowfile: reading record batch: %w", err)
	}
	col, ok := batch.Column(0).(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported column type in %q", timeseries.ErrInvalidParameter, path)
	}

	if length <= 0 {
		length = col.Len() - startOffset
	}
	end := startOffset + length
	if startOffset < 0 || end > col.Len() {
		return nil, fmt.Errorf("%w: window [%d, %d) exceeds stored length %d", timeseries.ErrOutOfRange, startOffset, end, col.Len())
	}
	values := append([]float64(nil), col.Float64Values()[startOffset:end]...)

	if meta.Type == timeseries.KindSingle && meta.InitialTimestamp != nil && meta.Resolution != nil {
		newInitial := meta.InitialTimestamp.Add(time.Duration(startOffset) * *meta.Resolution)
		return timeseries.RestoreSingleTimeSeries(meta.TimeSeriesUUID, meta.Name, newInitial, *meta.Resolution, values), nil
	}
	return nil, fmt.Errorf("%w: non-sequential series are not supported by the arrow backend's column layout", timeseries.ErrInvalidParameter)
}

func (b *Backend) Remove(_ context.Context, dataUUID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(dataUUID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", timeseries.ErrNotStored, dataUUID)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("arrowfile: removing %q: %w", path, err)
	}
	return nil
}

// Serialize copies every "<uuid>.arrow" file into dst.
func (b *Backend) Serialize(_ context.Context, dst string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("arrowfile: creating destination %q: %w", dst, err)
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("arrowfile: reading %q: %w", b.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".arrow" {
			continue
		}
		if err := copyFile(filepath.Join(b.dir, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("arrowfile: opening %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("arrowfile: creating %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("arrowfile: copying %q to %q: %w", src, dst, err)
	}
	return nil
}

func (b *Backend) TimeSeriesDirectory() string { return b.dir }
