package sessions

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is a workout history record. Once ended it is an immutable
// snapshot: plan renames or deletions never touch it, which is why the
// plan name is copied in rather than referenced.
type Session struct {
	ID            string       `json:"id"`
	PlanID        string       `json:"planId,omitempty"`
	PlanName      string       `json:"planName"`
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
	TotalPausedMs int64        `json:"totalPausedMs"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Sets          []SessionSet `json:"sets"`
}

type SessionSet struct {
	ID           string     `json:"id"`
	ExerciseID   string     `json:"exerciseId"`
	ExerciseName string     `json:"exerciseName"`
	Order        int        `json:"order"`
	Reps         int        `json:"reps"`
	Weight       float64    `json:"weight"`
	RestSec      int        `json:"restSec"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Finished reports whether the session has been finalized.
func (s *Session) Finished() bool {
	return s.EndedAt != nil && !s.EndedAt.IsZero()
}

// sortKey picks the timestamp the history view sorts by: end time
// first, then last modification, then start time. A session with none
// of them sorts as oldest.
func (s *Session) sortKey() time.Time {
	switch {
	case s.Finished():
		return *s.EndedAt
	case !s.UpdatedAt.IsZero():
		return s.UpdatedAt
	default:
		return s.StartedAt
	}
}

// stampForWrite mirrors the plan aggregate write rules: assign missing
// ids, re-derive set order from array position, clamp numerics and
// refresh updatedAt.
func stampForWrite(session *Session, storedCreatedAt, now time.Time) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	switch {
	case !storedCreatedAt.IsZero():
		session.CreatedAt = storedCreatedAt
	case session.CreatedAt.IsZero():
		session.CreatedAt = now
	}
	session.UpdatedAt = now

	if session.StartedAt.IsZero() {
		session.StartedAt = now
	}
	if session.TotalPausedMs < 0 {
		session.TotalPausedMs = 0
	}

	for i := range session.Sets {
		set := &session.Sets[i]
		if set.ID == "" {
			set.ID = uuid.NewString()
		}
		set.Order = i
		set.Reps = clampInt(set.Reps)
		set.Weight = clampWeight(set.Weight)
		set.RestSec = clampInt(set.RestSec)
	}
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func clampWeight(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return math.Round(v*100) / 100
}
