package plans

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

var ErrPlanNotFound = errors.New("plan not found")

// Plan is the stored aggregate: the plan row plus its ordered
// exercises, each with its ordered sets.
type Plan struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Exercises []PlanExercise `json:"exercises"`
}

// PlanExercise references a catalog exercise by a weak reference, the
// catalog entry may disappear while the plan item lives on. The name
// snapshot keeps such items renderable.
type PlanExercise struct {
	ID           string    `json:"id"`
	ExerciseID   string    `json:"exerciseId"`
	ExerciseName string    `json:"exerciseName,omitempty"`
	Order        int       `json:"order"`
	Sets         []PlanSet `json:"sets"`
}

type PlanSet struct {
	ID      string  `json:"id"`
	Order   int     `json:"order"`
	Reps    int     `json:"reps"`
	Weight  float64 `json:"weight"`
	RestSec int     `json:"restSec"`
}

// stampForWrite prepares an incoming aggregate for persistence:
// missing ids are assigned, order values are re-derived from array
// position regardless of what the client sent, numeric fields are
// clamped to >= 0 and updatedAt is bumped to now. The stored createdAt
// wins over the incoming one; storedCreatedAt is zero for new plans.
func stampForWrite(plan *Plan, storedCreatedAt, now time.Time) {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	switch {
	case !storedCreatedAt.IsZero():
		plan.CreatedAt = storedCreatedAt
	case plan.CreatedAt.IsZero():
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	for i := range plan.Exercises {
		ex := &plan.Exercises[i]
		if ex.ID == "" {
			ex.ID = uuid.NewString()
		}
		ex.Order = i
		for j := range ex.Sets {
			set := &ex.Sets[j]
			if set.ID == "" {
				set.ID = uuid.NewString()
			}
			set.Order = j
			set.Reps = clampInt(set.Reps)
			set.Weight = clampWeight(set.Weight)
			set.RestSec = clampInt(set.RestSec)
		}
	}
}

func clampInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// clampWeight clamps to >= 0 and rounds to two decimal places.
func clampWeight(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return math.Round(v*100) / 100
}
