package plans

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/lifti/internal/exercises"

	log "github.com/sirupsen/logrus"
)

// Default set shape used when an exercise is added to a plan with no
// explicit set data.
const (
	DefaultSetCount = 3
	DefaultReps     = 10
	DefaultRestSec  = 90
)

// FlexFloat tolerates the loose numeric JSON coming from UI clients:
// numbers, numeric strings, null and garbage all parse, anything that
// is not a finite number lands on 0.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	*f = FlexFloat(parseFlexNumber(data))
	return nil
}

type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	*f = FlexInt(parseFlexNumber(data))
	return nil
}

func parseFlexNumber(data []byte) float64 {
	raw := strings.TrimSpace(string(data))
	raw = strings.Trim(raw, `"`)
	if raw == "" || raw == "null" {
		return 0
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}

// PlanDocument is the denormalized shape the UI works with: exercises
// carry display fields (name, muscles, equipment) inline so clients
// can render without extra lookups.
type PlanDocument struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	CreatedAt time.Time          `json:"createdAt,omitempty"`
	UpdatedAt time.Time          `json:"updatedAt,omitempty"`
	Exercises []ExerciseDocument `json:"exercises"`
}

type ExerciseDocument struct {
	ID         string        `json:"id"`
	ExerciseID string        `json:"exerciseId"`
	Name       string        `json:"name"`
	Muscles    []string      `json:"muscles,omitempty"`
	Equipment  []string      `json:"equipment,omitempty"`
	Sets       []SetDocument `json:"sets"`
}

type SetDocument struct {
	ID      string    `json:"id"`
	Reps    FlexInt   `json:"reps"`
	Weight  FlexFloat `json:"weight"`
	RestSec FlexInt   `json:"restSec"`
}

type exerciseCatalog interface {
	Get(ctx context.Context, id string) (*exercises.Exercise, error)
}

// Projector maps between the stored aggregate shape and the UI
// document shape, in both directions.
type Projector struct {
	catalog exerciseCatalog
}

func NewProjector(catalog exerciseCatalog) *Projector {
	return &Projector{
		catalog: catalog,
	}
}

// ToView joins each plan exercise with its catalog entry to copy the
// display fields across. A dangling exercise reference renders with
// the last known name instead of disappearing from the plan.
func (p *Projector) ToView(ctx context.Context, plan *Plan) (*PlanDocument, error) {
	doc := &PlanDocument{
		ID:        plan.ID,
		Name:      plan.Name,
		CreatedAt: plan.CreatedAt,
		UpdatedAt: plan.UpdatedAt,
		Exercises: make([]ExerciseDocument, 0, len(plan.Exercises)),
	}

	for _, ex := range plan.Exercises {
		exDoc := ExerciseDocument{
			ID:         ex.ID,
			ExerciseID: ex.ExerciseID,
			Sets:       make([]SetDocument, 0, len(ex.Sets)),
		}

		catalogEx, err := p.catalog.Get(ctx, ex.ExerciseID)
		switch {
		case err == nil:
			exDoc.Name = catalogEx.Name
			exDoc.Muscles = catalogEx.Muscles
			exDoc.Equipment = catalogEx.Equipment
		case errors.Is(err, exercises.ErrExerciseNotFound):
			exDoc.Name = lastKnownName(ex)
			log.Debugf("plan %s references missing exercise %s, rendering as %q", plan.ID, ex.ExerciseID, exDoc.Name)
		default:
			return nil, err
		}

		for _, set := range ex.Sets {
			exDoc.Sets = append(exDoc.Sets, SetDocument{
				ID:      set.ID,
				Reps:    FlexInt(set.Reps),
				Weight:  FlexFloat(set.Weight),
				RestSec: FlexInt(set.RestSec),
			})
		}

		doc.Exercises = append(doc.Exercises, exDoc)
	}

	return doc, nil
}

func lastKnownName(ex PlanExercise) string {
	if ex.ExerciseName != "" {
		return ex.ExerciseName
	}
	return exercises.TitleCaseLabel(ex.ExerciseID)
}

// ToStorage strips the denormalized display fields back out, keeping
// only ids, order and sets, and backfills a default set list for
// exercises added with no explicit set data.
func (p *Projector) ToStorage(ctx context.Context, doc *PlanDocument) (*Plan, error) {
	plan := &Plan{
		ID:        doc.ID,
		Name:      doc.Name,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
		Exercises: make([]PlanExercise, 0, len(doc.Exercises)),
	}

	for _, exDoc := range doc.Exercises {
		ex := PlanExercise{
			ID:           exDoc.ID,
			ExerciseID:   exDoc.ExerciseID,
			ExerciseName: exDoc.Name,
			Sets:         make([]PlanSet, 0, len(exDoc.Sets)),
		}

		if len(exDoc.Sets) == 0 {
			defaultSets, err := p.defaultSets(ctx, exDoc.ExerciseID)
			if err != nil {
				return nil, err
			}
			ex.Sets = defaultSets
		} else {
			for _, setDoc := range exDoc.Sets {
				ex.Sets = append(ex.Sets, PlanSet{
					ID:      setDoc.ID,
					Reps:    int(setDoc.Reps),
					Weight:  float64(setDoc.Weight),
					RestSec: int(setDoc.RestSec),
				})
			}
		}

		// snapshot the catalog name so history survives catalog changes
		if ex.ExerciseName == "" {
			if catalogEx, err := p.catalog.Get(ctx, ex.ExerciseID); err == nil {
				ex.ExerciseName = catalogEx.Name
			}
		}

		plan.Exercises = append(plan.Exercises, ex)
	}

	return plan, nil
}

// defaultSets synthesizes the starting set list for a newly added
// exercise: the catalog entry's declared defaults when present, the
// universal fallback otherwise, replicated DefaultSetCount times.
func (p *Projector) defaultSets(ctx context.Context, exerciseID string) ([]PlanSet, error) {
	reps := DefaultReps
	restSec := DefaultRestSec

	catalogEx, err := p.catalog.Get(ctx, exerciseID)
	switch {
	case err == nil:
		if catalogEx.DefaultReps > 0 {
			reps = catalogEx.DefaultReps
		}
		if catalogEx.DefaultRestSec > 0 {
			restSec = catalogEx.DefaultRestSec
		}
	case errors.Is(err, exercises.ErrExerciseNotFound):
		// fall through to the universal defaults
	default:
		return nil, err
	}

	sets := make([]PlanSet, 0, DefaultSetCount)
	for i := 0; i < DefaultSetCount; i++ {
		sets = append(sets, PlanSet{
			Reps:    reps,
			Weight:  0,
			RestSec: restSec,
		})
	}
	return sets, nil
}

// ParsePlanDocument decodes a UI plan document, tolerating loose
// numeric fields.
func ParsePlanDocument(data []byte) (*PlanDocument, error) {
	var doc PlanDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Exercises == nil {
		doc.Exercises = []ExerciseDocument{}
	}
	return &doc, nil
}
