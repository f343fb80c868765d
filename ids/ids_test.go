package ids

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each sqlite :memory: connection is its own database; pin the pool
	// to one so every statement sees the same tables.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewProducesDistinctUUIDs(t *testing.T) {
	a := New()
	b := New()
	assert.NotEqual(t, a, b)
}

func TestParseRoundTrip(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("not-a-uuid")
	require.Error(t, err)
}

func TestIntegerIDGeneratorIsDenseAndMonotonic(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	gen, err := NewIntegerIDGenerator(ctx, db, "single_time_series")
	require.NoError(t, err)

	first, err := gen.Next(ctx)
	require.NoError(t, err)
	second, err := gen.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, first+1, second)
}

func TestIntegerIDGeneratorPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	gen, err := NewIntegerIDGenerator(ctx, db, "single_time_series")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := gen.Next(ctx)
		require.NoError(t, err)
	}

	reopened, err := NewIntegerIDGenerator(ctx, db, "single_time_series")
	require.NoError(t, err)
	next, err := reopened.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
}

func TestIntegerIDGeneratorSequencesAreIndependent(t *testing.T) {
	ctx := context.Background()
	db := openMemoryDB(t)

	a, err := NewIntegerIDGenerator(ctx, db, "a")
	require.NoError(t, err)
	b, err := NewIntegerIDGenerator(ctx, db, "b")
	require.NoError(t, err)

	aFirst, err := a.Next(ctx)
	require.NoError(t, err)
	bFirst, err := b.Next(ctx)
	require.NoError(t, err)

	assert.Equal(t, aFirst, bFirst)
}
