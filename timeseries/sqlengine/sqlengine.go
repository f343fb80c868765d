// Package sqlengine implements the embedded SQL-engine time-series
// storage backend: one table per (type, initial_timestamp, resolution,
// length) tuple, one column per stored series named by a dense integer ID
// persisted in the same database, dense integer row IDs shared by every
// series with that tuple's shape. Backed by DuckDB's embedded engine.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb/v2"

	"infrasys/ids"
	"infrasys/timeseries"
)

func init() {
	timeseries.RegisterBackend("sql", func(dir string) (timeseries.Backend, error) {
		return New(dir)
	})
}

const indexTable = "_infrasys_series_index"

// Backend is the DuckDB-backed timeseries.Backend implementation.
type Backend struct {
	mu  sync.Mutex
	dir string
	db  *sql.DB
	seq *ids.IntegerIDGenerator
}

// New opens (creating if necessary) a DuckDB database file
// "time_series_data.db" rooted at dir.
func New(dir string) (*Backend, error) {
	path := dir + "/time_series_data.db"
	if dir == "" {
		path = ":memory:"
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: opening %q: %w", path, err)
	}
	if _, err := db.Exec(fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (uuid TEXT PRIMARY KEY, table_name TEXT NOT NULL, column_name TEXT NOT NULL, length BIGINT NOT NULL)`,
		indexTable,
	)); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlengine: creating index table: %w", err)
	}
	// The dense series sequence lives in the same database file, so a
	// reopened backend keeps allocating fresh column IDs without reuse.
	seq, err := ids.NewIntegerIDGenerator(context.Background(), db, "time_series")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlengine: opening series id sequence: %w", err)
	}
	return &Backend{dir: dir, db: db, seq: seq}, nil
}

func sanitize(s string) string {
	return strings.NewReplacer("-", "_", ":", "_", " ", "_", ".", "_").Replace(s)
}

func tableNameFor(meta timeseries.Metadata) string {
	initial := int64(0)
	if meta.InitialTimestamp != nil {
		initial = meta.InitialTimestamp.UnixNano()
	}
	resolution := int64(0)
	if meta.Resolution != nil {
		resolution = int64(*meta.Resolution)
	}
	return fmt.Sprintf("ts_%s_%d_%d_%d", sanitize(string(meta.Type)), initial, resolution, meta.Length)
}


func (b *Backend) Add(ctx context.Context, meta timeseries.Metadata, data timeseries.Data) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var exists int
	err := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE uuid = ?`, indexTable), meta.TimeSeriesUUID.String()).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlengine: checking index: %w", err)
	}
	if exists > 0 {
		return nil
	}

	seriesID, err := b.seq.Next(ctx)
	if err != nil {
		return fmt.Errorf("sqlengine: allocating series id: %w", err)
	}
	table := tableNameFor(meta)
	column := fmt.Sprintf("s_%d", seriesID)
	values := data.Values()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (id BIGINT PRIMARY KEY)`, table)); err != nil {
		return fmt.Errorf("sqlengine: creating table %q: %w", table, err)
	}

	var rowCount int
	if err := tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %q`, table)).Scan(&rowCount); err != nil {
		return fmt.Errorf("sqlengine: counting rows in %q: %w", table, err)
	}
	if rowCount == 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %q (id) SELECT * FROM range(?)`, table), len(values)); err != nil {
			return fmt.Errorf("sqlengine: seeding rows in %q: %w", table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %q ADD COLUMN %q DOUBLE`, table, column)); err != nil {
		return fmt.Errorf("sqlengine: adding column %q to %q: %w", column, table, err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`UPDATE %q SET %q = ? WHERE id = ?`, table, column))
	if err != nil {
		return fmt.Errorf("sqlengine: preparing update for %q: %w", table, err)
	}
	defer stmt.Close()
	for i, v := range values {
		if _, err := stmt.ExecContext(ctx, v, i); err != nil {
			return fmt.Errorf("sqlengine: writing row %d of %q: %w", i, table, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (uuid, table_name, column_name, length) VALUES (?, ?, ?, ?)`, indexTable),
		meta.TimeSeriesUUID.String(), table, column, len(values)); err != nil {
		return fmt.Errorf("sqlengine: recording index row: %w", err)
	}

	return tx.Commit()
}

func (b *Backend) lookup(ctx context.Context, dataUUID uuid.UUID) (table, column string, length int, err error) {
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT table_name, column_name, length FROM %s WHERE uuid = ?`, indexTable), dataUUID.String())
	if scanErr := row.Scan(&table, &column, &length); scanErr != nil {
		return "", "", 0, fmt.Errorf("%w: %s", timeseries.ErrNotStored, dataUUID)
	}
	return table, column, length, nil
}

func (b *Backend) Get(ctx context.Context, meta timeseries.Metadata, startOffset, length int) (timeseries.Data, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, column, storedLength, err := b.lookup(ctx, meta.TimeSeriesUUID)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		length = storedLength - startOffset
	}
	end := startOffset + length
	if startOffset < 0 || end > storedLength {
		return nil, fmt.Errorf("%w: window [%d, %d) exceeds stored length %d", timeseries.ErrOutOfRange, startOffset, end, storedLength)
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT %q FROM %q WHERE id >= ? AND id < ? ORDER BY id`, column, table), startOffset, end)
	if err != nil {
		return nil, fmt.Errorf("sqlengine: querying %q: %w", table, err)
	}
	defer rows.Close()

	values := make([]float64, 0, length)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("sqlengine: scanning %q: %w", table, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlengine: iterating %q: %w", table, err)
	}

	if meta.Type == timeseries.KindSingle && meta.InitialTimestamp != nil && meta.Resolution != nil {
		newInitial := meta.InitialTimestamp.Add(time.Duration(startOffset) * *meta.Resolution)
		return timeseries.RestoreSingleTimeSeries(meta.TimeSeriesUUID, meta.Name, newInitial, *meta.Resolution, values), nil
	}
	return nil, fmt.Errorf("%w: non-sequential series require timestamps this backend does not store per-row", timeseries.ErrInvalidParameter)
}

func (b *Backend) Remove(ctx context.Context, dataUUID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, column, _, err := b.lookup(ctx, dataUUID)
	if err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlengine: starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %q DROP COLUMN %q`, table, column)); err != nil {
		return fmt.Errorf("sqlengine: dropping column %q from %q: %w", column, table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE uuid = ?`, indexTable), dataUUID.String()); err != nil {
		return fmt.Errorf("sqlengine: removing index row: %w", err)
	}
	return tx.Commit()
}

// Serialize checkpoints the database and copies its file into dst. It is a
// no-op for an in-memory backend (dir == ""), the same as the memory
// package's backend.
func (b *Backend) Serialize(ctx context.Context, dst string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.dir == "" {
		return nil
	}
	if _, err := b.db.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("sqlengine: checkpointing before serialize: %w", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("sqlengine: creating destination %q: %w", dst, err)
	}

	src := b.dir + "/time_series_data.db"
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("sqlengine: opening %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(dst, "time_series_data.db"))
	if err != nil {
		return fmt.Errorf("sqlengine: creating destination file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("sqlengine: copying %q: %w", src, err)
	}
	return nil
}

func (b *Backend) TimeSeriesDirectory() string { return b.dir }

// Close releases the underlying database connection.
func (b *Backend) Close() error { return b.db.Close() }
