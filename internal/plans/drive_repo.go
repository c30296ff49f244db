package plans

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DriveFilePrefix prefixes every remote plan file name.
const DriveFilePrefix = "plan_"

type driveClient interface {
	FindFileIDByName(ctx context.Context, name string) (string, error)
	ReadJSON(ctx context.Context, fileID string, dest any) error
	UpsertJSONByName(ctx context.Context, name string, content any) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListFiles(ctx context.Context, nameContains string) ([]drive.FileInfo, error)
}

// DriveRepo keeps one remote JSON file per plan, named plan_<id>.json.
// The remote store has no transactions, so aggregate consistency comes
// from writing the whole aggregate as one file: re-running an upsert
// with the same input converges to the same remote state no matter how
// far a prior attempt got.
type DriveRepo struct {
	client driveClient
	now    func() time.Time
}

var _ Repository = (*DriveRepo)(nil)

func NewDriveRepo(client driveClient) *DriveRepo {
	return &DriveRepo{
		client: client,
		now:    time.Now,
	}
}

// DriveFileName returns the remote file name holding the given plan.
func DriveFileName(planID string) string {
	return fmt.Sprintf("%s%s.json", DriveFilePrefix, planID)
}

func (r *DriveRepo) Get(ctx context.Context, planID string) (_ *Plan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plansDrive.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("plan.id", planID))

	fileID, err := r.client.FindFileIDByName(ctx, DriveFileName(planID))
	if err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	var plan Plan
	if err := r.client.ReadJSON(ctx, fileID, &plan); err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			// stale file id, the file vanished between find and read
			return nil, ErrPlanNotFound
		}
		return nil, err
	}

	if plan.Exercises == nil {
		plan.Exercises = []PlanExercise{}
	}

	return &plan, nil
}

// List reads all plan files and sorts them most recently modified
// first. A single unreadable file is skipped with a log line, an
// expired credential aborts the whole listing.
func (r *DriveRepo) List(ctx context.Context) (_ []Plan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plansDrive.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	files, err := r.client.ListFiles(ctx, DriveFilePrefix)
	if err != nil {
		return nil, err
	}

	plans := []Plan{}
	for _, file := range files {
		var plan Plan
		if readErr := r.client.ReadJSON(ctx, file.ID, &plan); readErr != nil {
			if errors.Is(readErr, drive.ErrAuthExpired) {
				return nil, readErr
			}
			log.Errorf("list plans: skipping unreadable file %s (%s): %s", file.Name, file.ID, readErr)
			continue
		}
		if plan.ID == "" {
			log.Errorf("list plans: skipping file %s with empty plan id", file.Name)
			continue
		}
		if plan.Exercises == nil {
			plan.Exercises = []PlanExercise{}
		}
		plans = append(plans, plan)
	}

	sort.Slice(plans, func(i, j int) bool {
		if !plans[i].UpdatedAt.Equal(plans[j].UpdatedAt) {
			return plans[i].UpdatedAt.After(plans[j].UpdatedAt)
		}
		return plans[i].ID < plans[j].ID
	})

	span.SetAttributes(attribute.Int("plans.count", len(plans)))
	return plans, nil
}

// Upsert writes the whole aggregate into the plan's file, replacing
// the previous content. The stored createdAt is preserved when the
// plan already exists remotely.
func (r *DriveRepo) Upsert(ctx context.Context, plan Plan) (_ *Plan, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plansDrive.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var storedCreatedAt time.Time
	if plan.ID != "" {
		stored, getErr := r.Get(ctx, plan.ID)
		switch {
		case getErr == nil:
			storedCreatedAt = stored.CreatedAt
		case errors.Is(getErr, ErrPlanNotFound):
			// new plan
		default:
			return nil, getErr
		}
	}

	stampForWrite(&plan, storedCreatedAt, r.now().UTC())
	span.SetAttributes(attribute.String("plan.id", plan.ID))

	if plan.Exercises == nil {
		plan.Exercises = []PlanExercise{}
	}

	if _, err := r.client.UpsertJSONByName(ctx, DriveFileName(plan.ID), plan); err != nil {
		return nil, err
	}

	// read-after-write, callers observe the authoritative remote shape
	return r.Get(ctx, plan.ID)
}

// Delete removes the plan's file. Deleting an absent plan is a no-op.
func (r *DriveRepo) Delete(ctx context.Context, planID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.plansDrive.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("plan.id", planID))

	fileID, err := r.client.FindFileIDByName(ctx, DriveFileName(planID))
	if err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			return nil
		}
		return err
	}

	return r.client.DeleteFile(ctx, fileID)
}
