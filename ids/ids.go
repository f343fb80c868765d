// Package ids allocates stable identifiers for components and time series.
//
// Two identity schemes are used throughout infrasys: UUIDs for external,
// content-independent identity (components, supplemental attributes, time
// series metadata and data records), and dense monotonically increasing
// integers scoped to a single SQL-engine storage backend, used internally
// for compact time-series table keys.
package ids

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// New returns a fresh random (v4) UUID. Collision probability is ignored.
func New() uuid.UUID {
	return uuid.New()
}

// Parse parses s into a UUID, returning an error if it is not well-formed.
func Parse(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing uuid %q: %w", s, err)
	}
	return id, nil
}

// SequenceStore is the minimal persistence surface an IntegerIDGenerator
// needs. A *sql.DB satisfies it directly.
type SequenceStore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// IntegerIDGenerator produces dense, monotonically increasing integer IDs
// scoped to a single database backend. Its next value is persisted in the
// same database so that restoring a backend from disk continues the
// sequence without reuse.
type IntegerIDGenerator struct {
	store SequenceStore
	name  string
}

// NewIntegerIDGenerator returns a generator backed by store, creating its
// bookkeeping table (scoped by name) if it does not already exist.
func NewIntegerIDGenerator(ctx context.Context, store SequenceStore, name string) (*IntegerIDGenerator, error) {
	_, err := store.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS id_sequences (
		name TEXT PRIMARY KEY,
		next_value INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("creating id sequence table: %w", err)
	}
	_, err = store.ExecContext(ctx, `INSERT OR IGNORE INTO id_sequences (name, next_value) VALUES (?, 1)`, name)
	if err != nil {
		return nil, fmt.Errorf("seeding id sequence %q: %w", name, err)
	}
	return &IntegerIDGenerator{store: store, name: name}, nil
}

// Next allocates and persists the next integer ID for this sequence.
func (g *IntegerIDGenerator) Next(ctx context.Context) (int64, error) {
	row := g.store.QueryRowContext(ctx, `SELECT next_value FROM id_sequences WHERE name = ?`, g.name)
	var next int64
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("reading id sequence %q: %w", g.name, err)
	}
	if _, err := g.store.ExecContext(ctx, `UPDATE id_sequences SET next_value = ? WHERE name = ?`, next+1, g.name); err != nil {
		return 0, fmt.Errorf("advancing id sequence %q: %w", g.name, err)
	}
	return next, nil
}
