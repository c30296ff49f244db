package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lifti.db")
	db, err := Open(ctx, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
	})
	return db
}

func TestOpen_createsSchema(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	version, err := db.schemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)

	for _, table := range []string{
		"exercises", "plans", "plan_exercises", "plan_sets",
		"workout_sessions", "session_sets", "meta",
	} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestOpen_migrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "lifti.db")

	db, err := Open(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopening an already migrated database must be a no-op
	db, err = Open(ctx, dbPath)
	require.NoError(t, err)
	defer db.Close()

	version, err := db.schemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].version, version)
}

func TestMeta(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetMeta(ctx, "last_synced_at")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, db.SetMeta(ctx, "last_synced_at", "2026-08-29T10:00:00Z"))

	val, err := db.GetMeta(ctx, "last_synced_at")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29T10:00:00Z", val)

	// put is insert-or-replace
	require.NoError(t, db.SetMeta(ctx, "last_synced_at", "2026-08-29T11:00:00Z"))
	val, err = db.GetMeta(ctx, "last_synced_at")
	require.NoError(t, err)
	assert.Equal(t, "2026-08-29T11:00:00Z", val)

	require.NoError(t, db.DeleteMeta(ctx, "last_synced_at"))
	_, err = db.GetMeta(ctx, "last_synced_at")
	assert.ErrorIs(t, err, sql.ErrNoRows)

	// deleting an absent key is a no-op
	require.NoError(t, db.DeleteMeta(ctx, "last_synced_at"))
}

func TestStorageError(t *testing.T) {
	err := NewStorageError("plans.upsert", sql.ErrConnDone)
	assert.True(t, AsStorageError(err))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "plans.upsert")

	assert.False(t, AsStorageError(sql.ErrConnDone))
}
