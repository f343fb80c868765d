// Package metadata implements the embedded SQL relational index that maps
// (owner, variable name, type, features) to exactly one time-series
// metadata record, and that record to a physical data UUID.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"infrasys/timeseries"
)

// FormatVersion is the schema version recorded in key_value_store.
const FormatVersion = "1.0.0"

const associationsTable = "time_series_associations"

const createAssociationsTableSQL = `
CREATE TABLE IF NOT EXISTS time_series_associations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time_series_uuid TEXT NOT NULL,
	time_series_type TEXT NOT NULL,
	initial_timestamp TEXT,
	resolution TEXT,
	horizon TEXT,
	interval TEXT,
	window_count INTEGER,
	length INTEGER NOT NULL,
	name TEXT NOT NULL,
	owner_uuid TEXT NOT NULL,
	owner_type TEXT NOT NULL,
	owner_category TEXT,
	features TEXT NOT NULL,
	scaling_factor_multiplier TEXT,
	metadata_uuid TEXT NOT NULL,
	units TEXT
)`

const createIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_ts_assoc_owner ON time_series_associations (owner_uuid, time_series_type, name, resolution, features);
CREATE INDEX IF NOT EXISTS idx_ts_assoc_uuid ON time_series_associations (time_series_uuid);
`

const createKeyValueStoreSQL = `
CREATE TABLE IF NOT EXISTS key_value_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Index is the embedded SQLite-backed metadata index.
type Index struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path, running
// schema migration if needed.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening %q: %w", path, err)
	}
	// A single connection keeps an in-memory database coherent (each
	// SQLite :memory: connection is otherwise its own database) and
	// sidesteps file locking for the on-disk case.
	db.SetMaxOpenConns(1)
	idx := &Index{db: db}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying database connection.
func (idx *Index) Close() error { return idx.db.Close() }

// Serialize copies the whole metadata database (schema, associations,
// key_value_store) into a fresh file at dst, using SQLite's own `VACUUM
// INTO`, which works whether the source is a file or an in-memory database.
func (idx *Index) Serialize(ctx context.Context, dst string) error {
	if _, err := idx.db.ExecContext(ctx, `VACUUM INTO ?`, dst); err != nil {
		return fmt.Errorf("metadata: serializing to %q: %w", dst, err)
	}
	return nil
}

func (idx *Index) migrate(ctx context.Context) error {
	var name string
	err := idx.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, associationsTable).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if hasLegacy, legacyErr := idx.hasLegacyTable(ctx); legacyErr != nil {
			return legacyErr
		} else if hasLegacy {
			if err := idx.migrateLegacy(ctx); err != nil {
				return err
			}
		} else {
			if err := idx.createSchema(ctx); err != nil {
				return err
			}
		}
	case err != nil:
		return fmt.Errorf("metadata: checking schema: %w", err)
	}
	return idx.ensureVersionRow(ctx)
}

func (idx *Index) createSchema(ctx context.Context) error {
	for _, stmt := range []string{createAssociationsTableSQL, createIndexesSQL, createKeyValueStoreSQL} {
		if _, err := idx.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metadata: creating schema: %w", err)
		}
	}
	return nil
}

func (idx *Index) ensureVersionRow(ctx context.Context) error {
	_, err := idx.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO key_value_store (key, value) VALUES ('version', ?)`, FormatVersion)
	if err != nil {
		return fmt.Errorf("metadata: seeding version row: %w", err)
	}
	return nil
}

// Row is one time-series association row.
type Row struct {
	ID                      int64
	TimeSeriesUUID          uuid.UUID
	TimeSeriesType          timeseries.Kind
	InitialTimestamp        sql.NullString
	Resolution              sql.NullString
	Length                  int
	Name                    string
	OwnerUUID               uuid.UUID
	OwnerType               string
	OwnerCategory           string
	Features                string // canonical JSON
	ScalingFactorMultiplier sql.NullString
	MetadataUUID            uuid.UUID
	Units                   string
}

// Metadata converts a Row back into the in-memory metadata record,
// parsing the text initial_timestamp and resolution columns.
func (r Row) Metadata() (timeseries.Metadata, error) {
	m := timeseries.Metadata{
		UUID:           r.MetadataUUID,
		OwnerUUID:      r.OwnerUUID,
		OwnerType:      r.OwnerType,
		OwnerCategory:  r.OwnerCategory,
		Name:           r.Name,
		Type:           r.TimeSeriesType,
		Length:         r.Length,
		TimeSeriesUUID: r.TimeSeriesUUID,
	}
	if r.Units != "" {
		m.Quantity = &timeseries.QuantityMetadata{Units: r.Units}
	}
	if r.Features != "" && r.Features != "[]" {
		m.Features = decodeCanonicalFeatures(r.Features)
	}
	if r.InitialTimestamp.Valid {
		t, err := time.Parse(timeRFC3339Nano, r.InitialTimestamp.String)
		if err != nil {
			return m, fmt.Errorf("metadata: parsing initial_timestamp %q: %w", r.InitialTimestamp.String, err)
		}
		m.InitialTimestamp = &t
	}
	if r.Resolution.Valid {
		d, err := parseISO8601(r.Resolution.String)
		if err != nil {
			return m, fmt.Errorf("metadata: parsing resolution %q: %w", r.Resolution.String, err)
		}
		m.Resolution = &d
	}
	return m, nil
}

func rowFromMetadata(m timeseries.Metadata, ownerUUID uuid.UUID, ownerType string) Row {
	row := Row{
		TimeSeriesUUID: m.TimeSeriesUUID,
		TimeSeriesType: m.Type,
		Length:         m.Length,
		Name:           m.Name,
		OwnerUUID:      ownerUUID,
		OwnerType:      ownerType,
		OwnerCategory:  m.OwnerCategory,
		Features:       timeseries.CanonicalFeatures(m.Features),
		MetadataUUID:   m.UUID,
	}
	if m.InitialTimestamp != nil {
		row.InitialTimestamp = sql.NullString{String: m.InitialTimestamp.Format(timeRFC3339Nano), Valid: true}
	}
	if m.Resolution != nil {
		row.Resolution = sql.NullString{String: formatISO8601(*m.Resolution), Valid: true}
	}
	if m.Quantity != nil {
		row.Units = m.Quantity.Units
	}
	if m.ScalingFactor != nil {
		row.ScalingFactorMultiplier = sql.NullString{String: fmt.Sprintf("%v", *m.ScalingFactor), Valid: true}
	}
	return row
}

const timeRFC3339Nano = "2006-01-02T15:04:05.999999999Z07:00"

// Add inserts one row per owner for meta, all-or-nothing under one
// transaction. It fails with timeseries.ErrAlreadyAttached if any owner
// already has a matching (owner, name, type, features) row.
func (idx *Index) Add(ctx context.Context, meta timeseries.Metadata, owners []OwnerRef) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: starting transaction: %w", err)
	}
	defer tx.Rollback()

	features := timeseries.CanonicalFeatures(meta.Features)
	for _, owner := range owners {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM time_series_associations WHERE owner_uuid = ? AND name = ? AND time_series_type = ? AND features = ?`,
			owner.UUID.String(), meta.Name, string(meta.Type), features).Scan(&exists)
		if err != nil {
			return fmt.Errorf("metadata: checking duplicate: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: owner %s already has %s/%s with these features", timeseries.ErrAlreadyAttached, owner.UUID, meta.Name, meta.Type)
		}

		row := rowFromMetadata(meta, owner.UUID, owner.Type)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO time_series_associations
				(time_series_uuid, time_series_type, initial_timestamp, resolution, length, name,
				 owner_uuid, owner_type, owner_category, features, scaling_factor_multiplier, metadata_uuid, units)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.TimeSeriesUUID.String(), string(row.TimeSeriesType), row.InitialTimestamp, row.Resolution, row.Length, row.Name,
			row.OwnerUUID.String(), row.OwnerType, row.OwnerCategory, row.Features, row.ScalingFactorMultiplier, row.MetadataUUID.String(), row.Units,
		); err != nil {
			return fmt.Errorf("metadata: inserting row: %w", err)
		}
	}
	return tx.Commit()
}

// OwnerRef identifies one owner a time series is attached to.
type OwnerRef struct {
	UUID uuid.UUID
	Type string
}

// HasTimeSeries reports whether any row references dataUUID.
func (idx *Index) HasTimeSeries(ctx context.Context, dataUUID uuid.UUID) (bool, error) {
	var count int
	err := idx.db.QueryRowContext(ctx,
		`SELECT count(*) FROM time_series_associations WHERE time_series_uuid = ?`, dataUUID.String()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("metadata: checking time series: %w", err)
	}
	return count > 0, nil
}

// Filter selects rows for GetMetadata/ListMetadata/Remove.
type Filter struct {
	OwnerUUID uuid.UUID
	Name      string
	Type      timeseries.Kind
	Features  map[string]string
}

// GetMetadata returns the single row matching filter. It fails with
// ErrNotStored if none match and ErrAmbiguous if more than one does.
func (idx *Index) GetMetadata(ctx context.Context, filter Filter) (Row, error) {
	rows, err := idx.queryCandidates(ctx, filter.OwnerUUID, filter.Name, filter.Type)
	if err != nil {
		return Row{}, err
	}
	matches := matchFeatures(rows, filter.Features)
	switch len(matches) {
	case 0:
		return Row{}, fmt.Errorf("%w: %s/%s for owner %s", timeseries.ErrNotStored, filter.Name, filter.Type, filter.OwnerUUID)
	case 1:
		return matches[0], nil
	default:
		return Row{}, fmt.Errorf("%w: %s/%s for owner %s", timeseries.ErrAmbiguous, filter.Name, filter.Type, filter.OwnerUUID)
	}
}

// ListMetadata returns every row matching filter (Name/Type/Features may
// be left zero-valued to broaden the match).
func (idx *Index) ListMetadata(ctx context.Context, filter Filter) ([]Row, error) {
	rows, err := idx.queryCandidates(ctx, filter.OwnerUUID, filter.Name, filter.Type)
	if err != nil {
		return nil, err
	}
	if len(filter.Features) == 0 {
		return rows, nil
	}
	return matchFeatures(rows, filter.Features), nil
}

func (idx *Index) queryCandidates(ctx context.Context, ownerUUID uuid.UUID, name string, kind timeseries.Kind) ([]Row, error) {
	query := `SELECT id, time_series_uuid, time_series_type, initial_timestamp, resolution, length, name,
		owner_uuid, owner_type, owner_category, features, scaling_factor_multiplier, metadata_uuid, units
		FROM time_series_associations WHERE 1=1`
	var args []any
	if ownerUUID != uuid.Nil {
		query += ` AND owner_uuid = ?`
		args = append(args, ownerUUID.String())
	}
	if name != "" {
		query += ` AND name = ?`
		args = append(args, name)
	}
	if kind != "" {
		query += ` AND time_series_type = ?`
		args = append(args, string(kind))
	}

	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata: querying rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var tsUUID, ownerUUIDStr, metaUUIDStr, tsType string
		if err := rows.Scan(&r.ID, &tsUUID, &tsType, &r.InitialTimestamp, &r.Resolution, &r.Length, &r.Name,
			&ownerUUIDStr, &r.OwnerType, &r.OwnerCategory, &r.Features, &r.ScalingFactorMultiplier, &metaUUIDStr, &r.Units); err != nil {
			return nil, fmt.Errorf("metadata: scanning row: %w", err)
		}
		r.TimeSeriesUUID, err = uuid.Parse(tsUUID)
		if err != nil {
			return nil, fmt.Errorf("metadata: parsing time_series_uuid: %w", err)
		}
		r.TimeSeriesType = timeseries.Kind(tsType)
		r.OwnerUUID, err = uuid.Parse(ownerUUIDStr)
		if err != nil {
			return nil, fmt.Errorf("metadata: parsing owner_uuid: %w", err)
		}
		r.MetadataUUID, err = uuid.Parse(metaUUIDStr)
		if err != nil {
			return nil, fmt.Errorf("metadata: parsing metadata_uuid: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExistingTimeSeries returns the subset of uuids that have at least
// one referencing row.
func (idx *Index) ListExistingTimeSeries(ctx context.Context, uuids []uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, id := range uuids {
		ok, err := idx.HasTimeSeries(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// ListMissingTimeSeries returns the subset of uuids with no referencing row.
func (idx *Index) ListMissingTimeSeries(ctx context.Context, uuids []uuid.UUID) ([]uuid.UUID, error) {
	existing, err := idx.ListExistingTimeSeries(ctx, uuids)
	if err != nil {
		return nil, err
	}
	existingSet := make(map[uuid.UUID]bool, len(existing))
	for _, id := range existing {
		existingSet[id] = true
	}
	var missing []uuid.UUID
	for _, id := range uuids {
		if !existingSet[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// Remove deletes every row matching filter for the given owners and
// returns the removed rows.
func (idx *Index) Remove(ctx context.Context, owners []uuid.UUID, filter Filter) ([]Row, error) {
	var removed []Row
	for _, owner := range owners {
		f := filter
		f.OwnerUUID = owner
		rows, err := idx.queryCandidates(ctx, f.OwnerUUID, f.Name, f.Type)
		if err != nil {
			return nil, err
		}
		matches := rows
		if len(f.Features) > 0 {
			matches = matchFeatures(rows, f.Features)
		}
		removed = append(removed, matches...)
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, row := range removed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM time_series_associations WHERE id = ?`, row.ID); err != nil {
			return nil, fmt.Errorf("metadata: deleting row %d: %w", row.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("metadata: committing removal: %w", err)
	}
	return removed, nil
}

// UniqueUUIDsByType returns the distinct time-series UUIDs whose type is kind.
func (idx *Index) UniqueUUIDsByType(ctx context.Context, kind timeseries.Kind) ([]uuid.UUID, error) {
	rows, err := idx.db.QueryContext(ctx,
		`SELECT DISTINCT time_series_uuid FROM time_series_associations WHERE time_series_type = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("metadata: querying unique uuids: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("metadata: scanning uuid: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("metadata: parsing uuid: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountKey groups association rows by
// (owner_type, ts_type, initial_timestamp, resolution) in
// TimeSeriesCounts.Counts.
type CountKey struct {
	OwnerType        string
	TimeSeriesType   timeseries.Kind
	InitialTimestamp string
	Resolution       string
}

// TimeSeriesCounts is the result of GetTimeSeriesCounts.
type TimeSeriesCounts struct {
	TotalDistinctData int
	Counts            map[CountKey]int
}

// GetTimeSeriesCounts reports the total number of distinct data UUIDs and
// a breakdown by (owner_type, ts_type, initial_timestamp, resolution).
func (idx *Index) GetTimeSeriesCounts(ctx context.Context) (TimeSeriesCounts, error) {
	var result TimeSeriesCounts
	result.Counts = make(map[CountKey]int)

	err := idx.db.QueryRowContext(ctx, `SELECT count(DISTINCT time_series_uuid) FROM time_series_associations`).Scan(&result.TotalDistinctData)
	if err != nil {
		return result, fmt.Errorf("metadata: counting distinct series: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT owner_type, time_series_type, COALESCE(initial_timestamp, ''), COALESCE(resolution, ''), count(*)
		FROM time_series_associations
		GROUP BY owner_type, time_series_type, initial_timestamp, resolution`)
	if err != nil {
		return result, fmt.Errorf("metadata: grouping counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key CountKey
		var tsType string
		var count int
		if err := rows.Scan(&key.OwnerType, &tsType, &key.InitialTimestamp, &key.Resolution, &count); err != nil {
			return result, fmt.Errorf("metadata: scanning group: %w", err)
		}
		key.TimeSeriesType = timeseries.Kind(tsType)
		result.Counts[key] = count
	}
	return result, rows.Err()
}
