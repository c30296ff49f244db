package exercises

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/2beens/lifti/internal/store"
	"github.com/2beens/lifti/internal/telemetry/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type Repo struct {
	db *store.DB
}

func NewRepo(db *store.DB) *Repo {
	return &Repo{
		db: db,
	}
}

// seedExercise is the on-disk catalog seed shape, timestamps get
// assigned at seeding time.
type seedExercise struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Muscles        []string `json:"muscles"`
	Equipment      []string `json:"equipment"`
	Instructions   string   `json:"instructions"`
	Aliases        []string `json:"aliases"`
	DefaultReps    int      `json:"defaultReps"`
	DefaultRestSec int      `json:"defaultRestSec"`
}

// SeedFromFile loads the catalog seed JSON and inserts every exercise
// that is not already present. Existing exercises are left untouched,
// reseeding an already seeded database is a no-op.
func (r *Repo) SeedFromFile(ctx context.Context, path string) (seeded int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.seedFromFile")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	seedJson, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var seeds []seedExercise
	if err := json.Unmarshal(seedJson, &seeds); err != nil {
		return 0, fmt.Errorf("unmarshal seed file: %w", err)
	}

	now := time.Now().UTC()
	for _, s := range seeds {
		ex := Exercise{
			ID:             s.ID,
			Name:           s.Name,
			Muscles:        s.Muscles,
			Equipment:      s.Equipment,
			Instructions:   s.Instructions,
			Aliases:        s.Aliases,
			DefaultReps:    s.DefaultReps,
			DefaultRestSec: s.DefaultRestSec,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if ex.ID == "" {
			ex.ID = NormalizeKey(ex.Name)
		}

		added, err := r.addIfAbsent(ctx, ex)
		if err != nil {
			return seeded, err
		}
		if added {
			seeded++
		}
	}

	log.Debugf("exercise catalog: %d new exercises seeded from %s", seeded, path)
	span.SetAttributes(attribute.Int("exercises.seeded", seeded))

	return seeded, nil
}

func (r *Repo) addIfAbsent(ctx context.Context, exercise Exercise) (added bool, err error) {
	musclesJson, err := json.Marshal(exercise.Muscles)
	if err != nil {
		return false, fmt.Errorf("marshal muscles: %w", err)
	}
	equipmentJson, err := json.Marshal(exercise.Equipment)
	if err != nil {
		return false, fmt.Errorf("marshal equipment: %w", err)
	}
	aliasesJson, err := json.Marshal(exercise.Aliases)
	if err != nil {
		return false, fmt.Errorf("marshal aliases: %w", err)
	}

	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO exercises
			(id, name, norm_key, muscles, equipment, instructions, aliases,
				default_reps, default_rest_sec, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
		exercise.ID, exercise.Name, NormalizeKey(exercise.Name),
		string(musclesJson), string(equipmentJson), exercise.Instructions, string(aliasesJson),
		exercise.DefaultReps, exercise.DefaultRestSec,
		exercise.CreatedAt.Format(time.RFC3339), exercise.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return false, store.NewStorageError("exercises.add", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, store.NewStorageError("exercises.add", err)
	}

	return affected > 0, nil
}

// Add inserts a single exercise, assigning an id when missing.
func (r *Repo) Add(ctx context.Context, exercise Exercise) (_ *Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if exercise.ID == "" {
		exercise.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if exercise.CreatedAt.IsZero() {
		exercise.CreatedAt = now
	}
	exercise.UpdatedAt = now

	if _, err := r.addIfAbsent(ctx, exercise); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("exercise.id", exercise.ID))
	return &exercise, nil
}

func (r *Repo) Get(ctx context.Context, id string) (_ *Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise.id", id))

	row := r.db.QueryRowContext(
		ctx,
		`SELECT id, name, muscles, equipment, instructions, aliases, default_reps, default_rest_sec, created_at, updated_at
			FROM exercises WHERE id = ?`,
		id,
	)

	exercise, err := scanExercise(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExerciseNotFound
		}
		return nil, store.NewStorageError("exercises.get", err)
	}

	return exercise, nil
}

// GetByNormKey finds an exercise by its normalized name key.
func (r *Repo) GetByNormKey(ctx context.Context, key string) (_ *Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.getByNormKey")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	row := r.db.QueryRowContext(
		ctx,
		`SELECT id, name, muscles, equipment, instructions, aliases, default_reps, default_rest_sec, created_at, updated_at
			FROM exercises WHERE norm_key = ? LIMIT 1`,
		NormalizeKey(key),
	)

	exercise, err := scanExercise(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExerciseNotFound
		}
		return nil, store.NewStorageError("exercises.getByNormKey", err)
	}

	return exercise, nil
}

// List returns the whole catalog ordered by name.
func (r *Repo) List(ctx context.Context) (_ []Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, name, muscles, equipment, instructions, aliases, default_reps, default_rest_sec, created_at, updated_at
			FROM exercises ORDER BY name ASC`,
	)
	if err != nil {
		return nil, store.NewStorageError("exercises.list", err)
	}
	defer rows.Close()

	var all []Exercise
	for rows.Next() {
		exercise, err := scanExercise(rows.Scan)
		if err != nil {
			return nil, store.NewStorageError("exercises.list", err)
		}
		all = append(all, *exercise)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("exercises.list", err)
	}

	span.SetAttributes(attribute.Int("exercises.count", len(all)))
	return all, nil
}

func (r *Repo) Count(ctx context.Context) (count int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.exercises.count")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if err := r.db.
		QueryRowContext(ctx, "SELECT COUNT(*) FROM exercises").
		Scan(&count); err != nil {
		return 0, store.NewStorageError("exercises.count", err)
	}
	return count, nil
}

func scanExercise(scan func(dest ...any) error) (*Exercise, error) {
	var (
		exercise      Exercise
		musclesJson   string
		equipmentJson string
		aliasesJson   string
		createdAt     string
		updatedAt     string
	)
	if err := scan(
		&exercise.ID, &exercise.Name, &musclesJson, &equipmentJson,
		&exercise.Instructions, &aliasesJson,
		&exercise.DefaultReps, &exercise.DefaultRestSec,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(musclesJson), &exercise.Muscles); err != nil {
		return nil, fmt.Errorf("unmarshal muscles: %w", err)
	}
	if err := json.Unmarshal([]byte(equipmentJson), &exercise.Equipment); err != nil {
		return nil, fmt.Errorf("unmarshal equipment: %w", err)
	}
	if err := json.Unmarshal([]byte(aliasesJson), &exercise.Aliases); err != nil {
		return nil, fmt.Errorf("unmarshal aliases: %w", err)
	}

	var err error
	if exercise.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if exercise.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &exercise, nil
}
