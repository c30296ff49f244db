package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/lifti/internal/store"
	"github.com/2beens/lifti/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
)

const timeFormat = time.RFC3339Nano

// Repository is the sole authority for reading and writing the plan
// aggregate as one logical unit, regardless of the backing store.
type Repository interface {
	Get(ctx context.Context, planID string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Upsert(ctx context.Context, plan Plan) (*Plan, error)
	Delete(ctx context.Context, planID string) error
}

// Repo persists plan aggregates in the local entity store. All writes
// of one aggregate run inside one transaction, a reader never sees a
// partially swept plan.
type Repo struct {
	db  *store.DB
	now func() time.Time
}

var _ Repository = (*Repo)(nil)

func NewRepo(db *store.DB) *Repo {
	return &Repo{
		db:  db,
		now: time.Now,
	}
}

func (r *Repo) Get(ctx context.Context, planID string) (_ *Plan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plans.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("plan.id", planID))

	return r.hydrate(ctx, r.db, planID)
}

// querier lets hydrate run both on the pool and inside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repo) hydrate(ctx context.Context, q querier, planID string) (*Plan, error) {
	var (
		plan      Plan
		createdAt string
		updatedAt string
	)
	err := q.QueryRowContext(
		ctx,
		"SELECT id, name, created_at, updated_at FROM plans WHERE id = ?",
		planID,
	).Scan(&plan.ID, &plan.Name, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, store.NewStorageError("plans.get", err)
	}

	if plan.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if plan.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	plan.Exercises, err = r.hydrateExercises(ctx, q, planID)
	if err != nil {
		return nil, err
	}

	return &plan, nil
}

func (r *Repo) hydrateExercises(ctx context.Context, q querier, planID string) ([]PlanExercise, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT id, exercise_id, exercise_name, ord
			FROM plan_exercises WHERE plan_id = ? ORDER BY ord ASC`,
		planID,
	)
	if err != nil {
		return nil, store.NewStorageError("plans.hydrateExercises", err)
	}
	defer rows.Close()

	exercises := []PlanExercise{}
	for rows.Next() {
		var ex PlanExercise
		if err := rows.Scan(&ex.ID, &ex.ExerciseID, &ex.ExerciseName, &ex.Order); err != nil {
			return nil, store.NewStorageError("plans.hydrateExercises", err)
		}
		exercises = append(exercises, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("plans.hydrateExercises", err)
	}

	for i := range exercises {
		exercises[i].Sets, err = r.hydrateSets(ctx, q, exercises[i].ID)
		if err != nil {
			return nil, err
		}
	}

	return exercises, nil
}

func (r *Repo) hydrateSets(ctx context.Context, q querier, planExerciseID string) ([]PlanSet, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT id, ord, reps, weight, rest_sec
			FROM plan_sets WHERE plan_exercise_id = ? ORDER BY ord ASC`,
		planExerciseID,
	)
	if err != nil {
		return nil, store.NewStorageError("plans.hydrateSets", err)
	}
	defer rows.Close()

	sets := []PlanSet{}
	for rows.Next() {
		var set PlanSet
		if err := rows.Scan(&set.ID, &set.Order, &set.Reps, &set.Weight, &set.RestSec); err != nil {
			return nil, store.NewStorageError("plans.hydrateSets", err)
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("plans.hydrateSets", err)
	}

	return sets, nil
}

// List returns all plans, most recently modified first. Plans with
// equal timestamps keep a stable order by falling back to id.
func (r *Repo) List(ctx context.Context) (_ []Plan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plans.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.QueryContext(ctx, "SELECT id FROM plans ORDER BY updated_at DESC, id ASC")
	if err != nil {
		return nil, store.NewStorageError("plans.list", err)
	}
	defer rows.Close()

	var planIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewStorageError("plans.list", err)
		}
		planIDs = append(planIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("plans.list", err)
	}

	plans := []Plan{}
	for _, id := range planIDs {
		plan, err := r.hydrate(ctx, r.db, id)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *plan)
	}

	span.SetAttributes(attribute.Int("plans.count", len(plans)))
	return plans, nil
}

// Upsert writes the whole aggregate: the plan row first, then a
// diff-and-sweep of its exercises and their sets against what is
// currently stored. Stale children are deleted sets before exercises,
// live ones get their order re-derived from array position. Returns
// the freshly re-hydrated aggregate, not an echo of the input.
func (r *Repo) Upsert(ctx context.Context, plan Plan) (_ *Plan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plans.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("plans.upsert", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var storedCreatedAt time.Time
	var storedCreatedAtStr string
	scanErr := tx.QueryRowContext(
		ctx, "SELECT created_at FROM plans WHERE id = ?", plan.ID,
	).Scan(&storedCreatedAtStr)
	switch {
	case scanErr == nil:
		if storedCreatedAt, err = time.Parse(timeFormat, storedCreatedAtStr); err != nil {
			return nil, fmt.Errorf("parse stored created_at: %w", err)
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		// new plan
	default:
		return nil, store.NewStorageError("plans.upsert", scanErr)
	}

	now := r.now().UTC()
	stampForWrite(&plan, storedCreatedAt, now)
	span.SetAttributes(attribute.String("plan.id", plan.ID))

	if _, err = tx.ExecContext(
		ctx,
		`INSERT INTO plans (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		plan.ID, plan.Name, plan.CreatedAt.Format(timeFormat), plan.UpdatedAt.Format(timeFormat),
	); err != nil {
		return nil, store.NewStorageError("plans.upsert", err)
	}

	if err = r.sweepAndWriteExercises(ctx, tx, &plan); err != nil {
		return nil, err
	}

	hydrated, err := r.hydrate(ctx, tx, plan.ID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, store.NewStorageError("plans.upsert", err)
	}

	return hydrated, nil
}

func (r *Repo) sweepAndWriteExercises(ctx context.Context, tx *sql.Tx, plan *Plan) error {
	incoming := make(map[string]struct{}, len(plan.Exercises))
	for _, ex := range plan.Exercises {
		incoming[ex.ID] = struct{}{}
	}

	storedIDs, err := queryIDs(ctx, tx, "SELECT id FROM plan_exercises WHERE plan_id = ?", plan.ID)
	if err != nil {
		return store.NewStorageError("plans.sweepExercises", err)
	}

	// stale exercises go sets first, then the exercise row, so a crash
	// in between never leaves dangling children
	for _, storedID := range storedIDs {
		if _, live := incoming[storedID]; live {
			continue
		}
		if _, err := tx.ExecContext(
			ctx, "DELETE FROM plan_sets WHERE plan_exercise_id = ?", storedID,
		); err != nil {
			return store.NewStorageError("plans.sweepExercises", err)
		}
		if _, err := tx.ExecContext(
			ctx, "DELETE FROM plan_exercises WHERE id = ?", storedID,
		); err != nil {
			return store.NewStorageError("plans.sweepExercises", err)
		}
	}

	for i := range plan.Exercises {
		ex := &plan.Exercises[i]
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO plan_exercises (id, plan_id, exercise_id, exercise_name, ord)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					exercise_id = excluded.exercise_id,
					exercise_name = excluded.exercise_name,
					ord = excluded.ord`,
			ex.ID, plan.ID, ex.ExerciseID, ex.ExerciseName, ex.Order,
		); err != nil {
			return store.NewStorageError("plans.writeExercise", err)
		}

		if err := r.sweepAndWriteSets(ctx, tx, ex); err != nil {
			return err
		}
	}

	return nil
}

func (r *Repo) sweepAndWriteSets(ctx context.Context, tx *sql.Tx, ex *PlanExercise) error {
	incoming := make(map[string]struct{}, len(ex.Sets))
	for _, set := range ex.Sets {
		incoming[set.ID] = struct{}{}
	}

	storedIDs, err := queryIDs(ctx, tx, "SELECT id FROM plan_sets WHERE plan_exercise_id = ?", ex.ID)
	if err != nil {
		return store.NewStorageError("plans.sweepSets", err)
	}

	for _, storedID := range storedIDs {
		if _, live := incoming[storedID]; live {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM plan_sets WHERE id = ?", storedID); err != nil {
			return store.NewStorageError("plans.sweepSets", err)
		}
	}

	for _, set := range ex.Sets {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO plan_sets (id, plan_exercise_id, ord, reps, weight, rest_sec)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					ord = excluded.ord,
					reps = excluded.reps,
					weight = excluded.weight,
					rest_sec = excluded.rest_sec`,
			set.ID, ex.ID, set.Order, set.Reps, set.Weight, set.RestSec,
		); err != nil {
			return store.NewStorageError("plans.writeSet", err)
		}
	}

	return nil
}

// Delete removes the plan and all of its children, sets first, then
// exercises, then the plan row. Deleting an absent plan is a no-op.
func (r *Repo) Delete(ctx context.Context, planID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plans.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("plan.id", planID))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.NewStorageError("plans.delete", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx,
		`DELETE FROM plan_sets WHERE plan_exercise_id IN
			(SELECT id FROM plan_exercises WHERE plan_id = ?)`,
		planID,
	); err != nil {
		return store.NewStorageError("plans.delete", err)
	}
	if _, err = tx.ExecContext(
		ctx, "DELETE FROM plan_exercises WHERE plan_id = ?", planID,
	); err != nil {
		return store.NewStorageError("plans.delete", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", planID); err != nil {
		return store.NewStorageError("plans.delete", err)
	}

	if err = tx.Commit(); err != nil {
		return store.NewStorageError("plans.delete", err)
	}

	return nil
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
