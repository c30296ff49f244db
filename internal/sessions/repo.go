package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/2beens/lifti/internal/store"
	"github.com/2beens/lifti/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const timeFormat = time.RFC3339Nano

// Repository reads and writes the session aggregate (session plus its
// ordered sets) as one logical unit.
type Repository interface {
	Get(ctx context.Context, sessionID string) (*Session, error)
	List(ctx context.Context) ([]Session, error)
	Upsert(ctx context.Context, session Session) (*Session, error)
	Delete(ctx context.Context, sessionID string) error
}

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

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repo) Get(ctx context.Context, sessionID string) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("session.id", sessionID))

	return r.hydrate(ctx, r.db, sessionID)
}

func (r *Repo) hydrate(ctx context.Context, q querier, sessionID string) (*Session, error) {
	var (
		session   Session
		startedAt string
		endedAt   sql.NullString
		createdAt string
		updatedAt string
	)
	err := q.QueryRowContext(
		ctx,
		`SELECT id, plan_id, plan_name, started_at, ended_at, total_paused_ms, created_at, updated_at
			FROM workout_sessions WHERE id = ?`,
		sessionID,
	).Scan(
		&session.ID, &session.PlanID, &session.PlanName,
		&startedAt, &endedAt, &session.TotalPausedMs, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, store.NewStorageError("sessions.get", err)
	}

	if session.StartedAt, err = time.Parse(timeFormat, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if endedAt.Valid {
		parsed, err := time.Parse(timeFormat, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse ended_at: %w", err)
		}
		session.EndedAt = &parsed
	}
	if session.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if session.UpdatedAt, err = time.Parse(timeFormat, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	session.Sets, err = r.hydrateSets(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}

	return &session, nil
}

func (r *Repo) hydrateSets(ctx context.Context, q querier, sessionID string) ([]SessionSet, error) {
	rows, err := q.QueryContext(
		ctx,
		`SELECT id, exercise_id, exercise_name, ord, reps, weight, rest_sec, completed_at
			FROM session_sets WHERE workout_session_id = ? ORDER BY ord ASC`,
		sessionID,
	)
	if err != nil {
		return nil, store.NewStorageError("sessions.hydrateSets", err)
	}
	defer rows.Close()

	sets := []SessionSet{}
	for rows.Next() {
		var (
			set         SessionSet
			completedAt sql.NullString
		)
		if err := rows.Scan(
			&set.ID, &set.ExerciseID, &set.ExerciseName,
			&set.Order, &set.Reps, &set.Weight, &set.RestSec, &completedAt,
		); err != nil {
			return nil, store.NewStorageError("sessions.hydrateSets", err)
		}
		if completedAt.Valid {
			parsed, err := time.Parse(timeFormat, completedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			set.CompletedAt = &parsed
		}
		sets = append(sets, set)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("sessions.hydrateSets", err)
	}

	return sets, nil
}

// List returns the history view: most recently ended sessions first,
// sessions with no end timestamp sort by last modification, then start
// time, then as oldest. A single unreadable session is skipped so one
// bad record cannot blank out the whole history.
func (r *Repo) List(ctx context.Context) (_ []Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := r.db.QueryContext(ctx, "SELECT id FROM workout_sessions")
	if err != nil {
		return nil, store.NewStorageError("sessions.list", err)
	}
	defer rows.Close()

	var sessionIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, store.NewStorageError("sessions.list", err)
		}
		sessionIDs = append(sessionIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStorageError("sessions.list", err)
	}

	sessions := []Session{}
	for _, id := range sessionIDs {
		session, hydrateErr := r.hydrate(ctx, r.db, id)
		if hydrateErr != nil {
			log.Errorf("list sessions: skipping unreadable session %s: %s", id, hydrateErr)
			continue
		}
		sessions = append(sessions, *session)
	}

	sortSessions(sessions)

	span.SetAttributes(attribute.Int("sessions.count", len(sessions)))
	return sessions, nil
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		ki, kj := sessions[i].sortKey(), sessions[j].sortKey()
		if !ki.Equal(kj) {
			return ki.After(kj)
		}
		return sessions[i].ID < sessions[j].ID
	})
}

// Upsert writes the whole session aggregate. For the typical
// write-once-at-finish flow the diff-sweep degenerates to "no prior
// children existed", but iterative in-session updates sweep stale sets
// the same way plan upserts do.
func (r *Repo) Upsert(ctx context.Context, session Session) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, store.NewStorageError("sessions.upsert", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var storedCreatedAt time.Time
	var storedCreatedAtStr string
	scanErr := tx.QueryRowContext(
		ctx, "SELECT created_at FROM workout_sessions WHERE id = ?", session.ID,
	).Scan(&storedCreatedAtStr)
	switch {
	case scanErr == nil:
		if storedCreatedAt, err = time.Parse(timeFormat, storedCreatedAtStr); err != nil {
			return nil, fmt.Errorf("parse stored created_at: %w", err)
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		// new session
	default:
		return nil, store.NewStorageError("sessions.upsert", scanErr)
	}

	now := r.now().UTC()
	stampForWrite(&session, storedCreatedAt, now)
	span.SetAttributes(attribute.String("session.id", session.ID))

	var endedAt any
	if session.Finished() {
		endedAt = session.EndedAt.Format(timeFormat)
	}

	if _, err = tx.ExecContext(
		ctx,
		`INSERT INTO workout_sessions
			(id, plan_id, plan_name, started_at, ended_at, total_paused_ms, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				plan_id = excluded.plan_id,
				plan_name = excluded.plan_name,
				started_at = excluded.started_at,
				ended_at = excluded.ended_at,
				total_paused_ms = excluded.total_paused_ms,
				updated_at = excluded.updated_at`,
		session.ID, session.PlanID, session.PlanName,
		session.StartedAt.Format(timeFormat), endedAt, session.TotalPausedMs,
		session.CreatedAt.Format(timeFormat), session.UpdatedAt.Format(timeFormat),
	); err != nil {
		return nil, store.NewStorageError("sessions.upsert", err)
	}

	if err = r.sweepAndWriteSets(ctx, tx, &session); err != nil {
		return nil, err
	}

	hydrated, err := r.hydrate(ctx, tx, session.ID)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, store.NewStorageError("sessions.upsert", err)
	}

	return hydrated, nil
}

func (r *Repo) sweepAndWriteSets(ctx context.Context, tx *sql.Tx, session *Session) error {
	incoming := make(map[string]struct{}, len(session.Sets))
	for _, set := range session.Sets {
		incoming[set.ID] = struct{}{}
	}

	rows, err := tx.QueryContext(
		ctx, "SELECT id FROM session_sets WHERE workout_session_id = ?", session.ID,
	)
	if err != nil {
		return store.NewStorageError("sessions.sweepSets", err)
	}
	var storedIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return store.NewStorageError("sessions.sweepSets", err)
		}
		storedIDs = append(storedIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return store.NewStorageError("sessions.sweepSets", err)
	}
	rows.Close()

	for _, storedID := range storedIDs {
		if _, live := incoming[storedID]; live {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM session_sets WHERE id = ?", storedID); err != nil {
			return store.NewStorageError("sessions.sweepSets", err)
		}
	}

	for _, set := range session.Sets {
		var completedAt any
		if set.CompletedAt != nil && !set.CompletedAt.IsZero() {
			completedAt = set.CompletedAt.Format(timeFormat)
		}
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO session_sets
				(id, workout_session_id, exercise_id, exercise_name, ord, reps, weight, rest_sec, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					exercise_id = excluded.exercise_id,
					exercise_name = excluded.exercise_name,
					ord = excluded.ord,
					reps = excluded.reps,
					weight = excluded.weight,
					rest_sec = excluded.rest_sec,
					completed_at = excluded.completed_at`,
			set.ID, session.ID, set.ExerciseID, set.ExerciseName,
			set.Order, set.Reps, set.Weight, set.RestSec, completedAt,
		); err != nil {
			return store.NewStorageError("sessions.writeSet", err)
		}
	}

	return nil
}

// Delete removes the session and its sets, children first. Deleting an
// absent session is a no-op.
func (r *Repo) Delete(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessions.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("session.id", sessionID))

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return store.NewStorageError("sessions.delete", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(
		ctx, "DELETE FROM session_sets WHERE workout_session_id = ?", sessionID,
	); err != nil {
		return store.NewStorageError("sessions.delete", err)
	}
	if _, err = tx.ExecContext(
		ctx, "DELETE FROM workout_sessions WHERE id = ?", sessionID,
	); err != nil {
		return store.NewStorageError("sessions.delete", err)
	}

	if err = tx.Commit(); err != nil {
		return store.NewStorageError("sessions.delete", err)
	}

	return nil
}
