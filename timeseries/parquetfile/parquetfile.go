// Package parquetfile implements the Parquet time-series storage
// backend: one file per data UUID. Get reads the whole file and returns
// the requested row range.
package parquetfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"infrasys/timeseries"
)

func init() {
	timeseries.RegisterBackend("parquet", func(dir string) (timeseries.Backend, error) {
		return New(dir)
	})
}

type row struct {
	Value float64 `parquet:"value"`
}

// Backend stores each time series as its own "<uuid>.parquet" file.
type Backend struct {
	mu  sync.RWMutex
	dir string
}

// New constructs a Backend rooted at dir, creating dir if necessary.
func New(dir string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("parquetfile: creating directory %q: %w", dir, err)
	}
	return &Backend{dir: dir}, nil
}

func (b *Backend) path(id uuid.UUID) string {
	return filepath.Join(b.dir, id.String()+".parquet")
}

func (b *Backend) Add(_ context.Context, meta timeseries.Metadata, data timeseries.Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(meta.TimeSeriesUUID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("parquetfile: creating %q: %w", path, err)
	}
	defer f.Close()

	rows := make([]row, len(data.Values()))
	for i, v := range data.Values() {
		rows[i] = row{Value: v}
	}
	if err := parquet.Write[row](f, rows); err != nil {
		return fmt.Errorf("parquetfile: writing %q: %w", path, err)
	}
	return nil
}

func (b *Backend) Get(_ context.Context, meta timeseries.Metadata, startOffset, length int) (timeseries.Data, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	path := b.path(meta.TimeSeriesUUID)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", timeseries.ErrNotStored, meta.TimeSeriesUUID)
		}
		return nil, fmt.Errorf("parquetfile: stat %q: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parquetfile: opening %q: %w", path, err)
	}
	defer f.Close()

	rows, err := parquet.Read[row](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("parquetfile: reading %q: %w", path, err)
	}

	if length <= 0 {
		length = len(rows) - startOffset
	}
	end := startOffset + length
	if startOffset < 0 || end > len(rows) {
		return nil, fmt.Errorf("%w: window [%d, %d) exceeds stored length %d", timeseries.ErrOutOfRange, startOffset, end, len(rows))
	}
	values := make([]float64, end-startOffset)
	for i, r := range rows[startOffset:end] {
		values[i] = r.Value
	}

	if meta.Type == timeseries.KindSingle && meta.InitialTimestamp != nil && meta.Resolution != nil {
		newInitial := meta.InitialTimestamp.Add(time.Duration(startOffset) * *meta.Resolution)
		return timeseries.RestoreSingleTimeSeries(meta.TimeSeriesUUID, meta.Name, newInitial, *meta.Resolution, values), nil
	}
	return nil, fmt.Errorf("%w: non-sequential series require their timestamps to be carried alongside the parquet file, which this backend does not yet do", timeseries.ErrInvalidParameter)
}

func (b *Backend) Remove(_ context.Context, dataUUID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(dataUUID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", timeseries.ErrNotStored, dataUUID)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("parquetfile: removing %q: %w", path, err)
	}
	return nil
}

// Serialize copies every "<uuid>.parquet" file into dst.
func (b *Backend) Serialize(_ context.Context, dst string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("parquetfile: creating destination %q: %w", dst, err)
	}
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return fmt.Errorf("parquetfile: reading %q: %w", b.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".parquet" {
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
		return fmt.Errorf("parquetfile: opening %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("parquetfile: creating %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("parquetfile: copying %q to %q: %w", src, dst, err)
	}
	return nil
}

func (b *Backend) TimeSeriesDirectory() string { return b.dir }
