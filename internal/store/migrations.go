package store

import (
	"context"
	"fmt"
)

// migration steps run in ascending version order, starting right after
// whatever user_version is currently on disk. A step with no data to
// transform must be a valid no-op.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts:   []string{schemaV1},
	},
	{
		version: 2,
		stmts: []string{
			// older databases stored NULL exercise name snapshots
			`UPDATE plan_exercises SET exercise_name = '' WHERE exercise_name IS NULL`,
			`UPDATE session_sets SET exercise_name = '' WHERE exercise_name IS NULL`,
		},
	},
}

const schemaV1 = `
	CREATE TABLE IF NOT EXISTS exercises (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		norm_key TEXT NOT NULL,
		muscles TEXT NOT NULL DEFAULT '[]',
		equipment TEXT NOT NULL DEFAULT '[]',
		instructions TEXT NOT NULL DEFAULT '',
		aliases TEXT NOT NULL DEFAULT '[]',
		default_reps INTEGER NOT NULL DEFAULT 0,
		default_rest_sec INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plan_exercises (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		exercise_id TEXT NOT NULL,
		exercise_name TEXT NOT NULL DEFAULT '',
		ord INTEGER NOT NULL,
		FOREIGN KEY (plan_id) REFERENCES plans(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS plan_sets (
		id TEXT PRIMARY KEY,
		plan_exercise_id TEXT NOT NULL,
		ord INTEGER NOT NULL,
		reps INTEGER NOT NULL DEFAULT 0,
		weight REAL NOT NULL DEFAULT 0,
		rest_sec INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (plan_exercise_id) REFERENCES plan_exercises(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS workout_sessions (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL DEFAULT '',
		plan_name TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at TEXT,
		total_paused_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS session_sets (
		id TEXT PRIMARY KEY,
		workout_session_id TEXT NOT NULL,
		exercise_id TEXT NOT NULL DEFAULT '',
		exercise_name TEXT NOT NULL DEFAULT '',
		ord INTEGER NOT NULL,
		reps INTEGER NOT NULL DEFAULT 0,
		weight REAL NOT NULL DEFAULT 0,
		rest_sec INTEGER NOT NULL DEFAULT 0,
		completed_at TEXT,
		FOREIGN KEY (workout_session_id) REFERENCES workout_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exercises_norm_key ON exercises(norm_key);
	CREATE INDEX IF NOT EXISTS idx_plans_updated ON plans(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_plan_exercises_plan ON plan_exercises(plan_id, ord);
	CREATE INDEX IF NOT EXISTS idx_plan_sets_plan_exercise ON plan_sets(plan_exercise_id, ord);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON workout_sessions(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_session_sets_session ON session_sets(workout_session_id, ord);
`

func (d *DB) schemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := d.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read user_version: %w", err)
	}
	return version, nil
}

func (d *DB) migrate(ctx context.Context) error {
	current, err := d.schemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := d.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}

		// PRAGMA does not support bind parameters
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d, set user_version: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		current = m.version
	}

	return nil
}
