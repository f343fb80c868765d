package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"infrasys/timeseries"
)

// legacyTable is the single-table schema name a pre-migration metadata
// database carried everything under.
const legacyTable = "time_series_metadata"

const legacyBackupTable = legacyTable + "_backup"

func (idx *Index) hasLegacyTable(ctx context.Context) (bool, error) {
	var name string
	err := idx.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, legacyTable).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("metadata: checking legacy table: %w", err)
	}
	return true, nil
}

type legacyRow struct {
	dataUUID         string
	ownerUUID        string
	ownerType        string
	name             string
	seriesType       string
	initialTimestamp sql.NullString
	legacyResolution sql.NullString
	length           int
	metadataJSON     string
}

// legacyMetadataBlob is the shape the legacy single-table schema embedded
// in its metadata JSON column: a mix of quantity/normalization fields and
// a user_attributes map that the new schema splits out into the
// deterministic features column.
type legacyMetadataBlob struct {
	UserAttributes map[string]string `json:"user_attributes"`
	Units          string            `json:"units"`
}

// migrateLegacy renames the legacy single-table schema aside, builds the
// current schema, replays every legacy row into it (splitting
// user_attributes into the canonical features column, converting the
// timedelta-style resolution to ISO-8601, and synthesizing a
// metadata_uuid per row), then drops the backup. It does not touch any
// on-disk time-series array; only the relational index changes.
func (idx *Index) migrateLegacy(ctx context.Context) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("metadata: starting migration transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, legacyTable, legacyBackupTable)); err != nil {
		return fmt.Errorf("metadata: renaming legacy table: %w", err)
	}
	for _, stmt := range []string{createAssociationsTableSQL, createIndexesSQL, createKeyValueStoreSQL} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metadata: creating current schema during migration: %w", err)
		}
	}

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`
		SELECT data_uuid, owner_uuid, owner_type, name, series_type, initial_timestamp, resolution, length, metadata_json
		FROM %s`, legacyBackupTable))
	if err != nil {
		return fmt.Errorf("metadata: reading legacy rows: %w", err)
	}
	var legacyRows []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.dataUUID, &r.ownerUUID, &r.ownerType, &r.name, &r.seriesType,
			&r.initialTimestamp, &r.legacyResolution, &r.length, &r.metadataJSON); err != nil {
			rows.Close()
			return fmt.Errorf("metadata: scanning legacy row: %w", err)
		}
		legacyRows = append(legacyRows, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("metadata: iterating legacy rows: %w", err)
	}
	rows.Close()

	for _, r := range legacyRows {
		var blob legacyMetadataBlob
		if r.metadataJSON != "" {
			if err := json.Unmarshal([]byte(r.metadataJSON), &blob); err != nil {
				return fmt.Errorf("metadata: parsing legacy metadata json for %s: %w", r.dataUUID, err)
			}
		}
		features := "[]"
		if len(blob.UserAttributes) > 0 {
			features = timeseries.CanonicalFeatures(blob.UserAttributes)
		}

		var resolution sql.NullString
		if r.legacyResolution.Valid && r.legacyResolution.String != "" {
			d, err := legacyResolutionToDuration(r.legacyResolution.String)
			if err != nil {
				return fmt.Errorf("metadata: converting legacy resolution for %s: %w", r.dataUUID, err)
			}
			resolution = sql.NullString{String: formatISO8601(d), Valid: true}
		}

		metadataUUID := uuid.New()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO time_series_associations
				(time_series_uuid, time_series_type, initial_timestamp, resolution, length, name,
				 owner_uuid, owner_type, owner_category, features, metadata_uuid, units)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?, ?)`,
			r.dataUUID, r.seriesType, r.initialTimestamp, resolution, r.length, r.name,
			r.ownerUUID, r.ownerType, features, metadataUUID.String(), blob.Units,
		); err != nil {
			return fmt.Errorf("metadata: inserting migrated row for %s: %w", r.dataUUID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, legacyBackupTable)); err != nil {
		return fmt.Errorf("metadata: dropping legacy backup table: %w", err)
	}
	return tx.Commit()
}
