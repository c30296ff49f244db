package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/plans"
	"github.com/2beens/lifti/internal/sessions"
	"github.com/2beens/lifti/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// LastSyncedAtMetaKey holds the timestamp of the last successful sync
// in the local meta table.
const LastSyncedAtMetaKey = "last_synced_at"

type planStore interface {
	List(ctx context.Context) ([]plans.Plan, error)
	Get(ctx context.Context, planID string) (*plans.Plan, error)
	Upsert(ctx context.Context, plan plans.Plan) (*plans.Plan, error)
}

type sessionStore interface {
	List(ctx context.Context) ([]sessions.Session, error)
	Get(ctx context.Context, sessionID string) (*sessions.Session, error)
	Upsert(ctx context.Context, session sessions.Session) (*sessions.Session, error)
}

type planLister interface {
	List(ctx context.Context) ([]plans.Plan, error)
}

type sessionLister interface {
	List(ctx context.Context) ([]sessions.Session, error)
}

type driveClient interface {
	UpsertJSONByName(ctx context.Context, name string, content any) (string, error)
	ListFiles(ctx context.Context, nameContains string) ([]drive.FileInfo, error)
	DeleteFile(ctx context.Context, fileID string) error
}

type metaStore interface {
	SetMeta(ctx context.Context, key, value string) error
}

// Service syncs the local plan and session aggregates with the Google
// Drive appData folder, one JSON file per aggregate. Local aggregates
// are pushed as-is, so local timestamps survive the push; remote
// aggregates missing locally are pulled back into the store.
type Service struct {
	client         driveClient
	localPlans     planStore
	localSessions  sessionStore
	remotePlans    planLister
	remoteSessions sessionLister
	meta           metaStore
	metrics        *metrics.Manager
	now            func() time.Time
}

type NewServiceParams struct {
	Client         driveClient
	LocalPlans     planStore
	LocalSessions  sessionStore
	RemotePlans    planLister
	RemoteSessions sessionLister
	Meta           metaStore
	Metrics        *metrics.Manager
}

func NewService(params NewServiceParams) *Service {
	return &Service{
		client:         params.Client,
		localPlans:     params.LocalPlans,
		localSessions:  params.LocalSessions,
		remotePlans:    params.RemotePlans,
		remoteSessions: params.RemoteSessions,
		meta:           params.Meta,
		metrics:        params.Metrics,
		now:            time.Now,
	}
}

// DoSync pushes every local plan and session to the remote store,
// pulls back aggregates that exist only remotely, and records the sync
// time in the meta table.
func (s *Service) DoSync(ctx context.Context) (synced int, err error) {
	ctx, span := tracing.GlobalDriveSyncTracer.Start(ctx, "backup.doSync")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	startedAt := s.now()

	pushed, err := s.push(ctx)
	synced += pushed
	if err != nil {
		return synced, err
	}

	pulled, err := s.pull(ctx)
	synced += pulled
	if err != nil {
		return synced, err
	}

	s.metrics.CounterDriveFilesSynced.Add(float64(synced))
	s.metrics.HistDriveSyncDuration.Observe(time.Since(startedAt).Seconds())

	if err := s.meta.SetMeta(ctx, LastSyncedAtMetaKey, s.now().UTC().Format(time.RFC3339)); err != nil {
		// the sync itself succeeded, only the bookkeeping failed
		log.Errorf("set %s meta: %s", LastSyncedAtMetaKey, err)
	}

	span.SetAttributes(
		attribute.Int("pushed", pushed),
		attribute.Int("pulled", pulled),
	)
	log.Printf("drive sync done, %d files pushed, %d pulled", pushed, pulled)
	return synced, nil
}

func (s *Service) push(ctx context.Context) (pushed int, err error) {
	allPlans, err := s.localPlans.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list local plans: %w", err)
	}
	for _, plan := range allPlans {
		if _, err := s.client.UpsertJSONByName(ctx, plans.DriveFileName(plan.ID), plan); err != nil {
			return pushed, fmt.Errorf("push plan %s: %w", plan.ID, err)
		}
		pushed++
	}

	allSessions, err := s.localSessions.List(ctx)
	if err != nil {
		return pushed, fmt.Errorf("list local sessions: %w", err)
	}
	for _, session := range allSessions {
		if _, err := s.client.UpsertJSONByName(ctx, sessions.DriveFileName(session.ID), session); err != nil {
			return pushed, fmt.Errorf("push session %s: %w", session.ID, err)
		}
		pushed++
	}

	return pushed, nil
}

// pull writes remote-only aggregates into the local store. Aggregates
// present on both sides are left alone, the push direction already
// made the remote side match.
func (s *Service) pull(ctx context.Context) (pulled int, err error) {
	remotePlans, err := s.remotePlans.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list remote plans: %w", err)
	}
	for _, plan := range remotePlans {
		_, getErr := s.localPlans.Get(ctx, plan.ID)
		switch {
		case getErr == nil:
			continue
		case errors.Is(getErr, plans.ErrPlanNotFound):
			if _, err := s.localPlans.Upsert(ctx, plan); err != nil {
				return pulled, fmt.Errorf("pull plan %s: %w", plan.ID, err)
			}
			pulled++
		default:
			return pulled, fmt.Errorf("get local plan %s: %w", plan.ID, getErr)
		}
	}

	remoteSessions, err := s.remoteSessions.List(ctx)
	if err != nil {
		return pulled, fmt.Errorf("list remote sessions: %w", err)
	}
	for _, session := range remoteSessions {
		_, getErr := s.localSessions.Get(ctx, session.ID)
		switch {
		case getErr == nil:
			continue
		case errors.Is(getErr, sessions.ErrSessionNotFound):
			if _, err := s.localSessions.Upsert(ctx, session); err != nil {
				return pulled, fmt.Errorf("pull session %s: %w", session.ID, err)
			}
			pulled++
		default:
			return pulled, fmt.Errorf("get local session %s: %w", session.ID, getErr)
		}
	}

	return pulled, nil
}

// DestroyAllFiles removes every plan and session file from the remote
// store (warning!!).
func (s *Service) DestroyAllFiles(ctx context.Context) (deleted int, err error) {
	ctx, span := tracing.GlobalDriveSyncTracer.Start(ctx, "backup.destroyAllFiles")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	for _, prefix := range []string{plans.DriveFilePrefix, sessions.DriveFilePrefix} {
		files, err := s.client.ListFiles(ctx, prefix)
		if err != nil {
			return deleted, fmt.Errorf("list remote %s files: %w", prefix, err)
		}
		for _, file := range files {
			if err := s.client.DeleteFile(ctx, file.ID); err != nil {
				return deleted, fmt.Errorf("delete remote file %s: %w", file.Name, err)
			}
			deleted++
		}
	}

	span.SetAttributes(attribute.Int("deleted", deleted))
	return deleted, nil
}
