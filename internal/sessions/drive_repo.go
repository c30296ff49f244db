package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// DriveFilePrefix prefixes every remote session file name.
const DriveFilePrefix = "session_"

type driveClient interface {
	FindFileIDByName(ctx context.Context, name string) (string, error)
	ReadJSON(ctx context.Context, fileID string, dest any) error
	UpsertJSONByName(ctx context.Context, name string, content any) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
	ListFiles(ctx context.Context, nameContains string) ([]drive.FileInfo, error)
}

// DriveRepo keeps one remote JSON file per session, session_<id>.json.
// Sessions are mostly written once at finish time, so the remote flow
// is usually a single file create.
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

// DriveFileName returns the remote file name holding the given session.
func DriveFileName(sessionID string) string {
	return fmt.Sprintf("%s%s.json", DriveFilePrefix, sessionID)
}

func (r *DriveRepo) Get(ctx context.Context, sessionID string) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessionsDrive.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("session.id", sessionID))

	fileID, err := r.client.FindFileIDByName(ctx, DriveFileName(sessionID))
	if err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var session Session
	if err := r.client.ReadJSON(ctx, fileID, &session); err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if session.Sets == nil {
		session.Sets = []SessionSet{}
	}

	return &session, nil
}

// List reads all session files for the history view. Unreadable files
// are skipped with a log line, an expired credential aborts the whole
// listing so the caller can re-authenticate.
func (r *DriveRepo) List(ctx context.Context) (_ []Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessionsDrive.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	files, err := r.client.ListFiles(ctx, DriveFilePrefix)
	if err != nil {
		return nil, err
	}

	sessions := []Session{}
	for _, file := range files {
		var session Session
		if readErr := r.client.ReadJSON(ctx, file.ID, &session); readErr != nil {
			if errors.Is(readErr, drive.ErrAuthExpired) {
				return nil, readErr
			}
			log.Errorf("list sessions: skipping unreadable file %s (%s): %s", file.Name, file.ID, readErr)
			continue
		}
		if session.ID == "" {
			log.Errorf("list sessions: skipping file %s with empty session id", file.Name)
			continue
		}
		if session.UpdatedAt.IsZero() && file.ModifiedTime != "" {
			// older files carry no updatedAt, fall back to the remote
			// file's modification time for sorting
			if modifiedAt, parseErr := time.Parse(time.RFC3339, file.ModifiedTime); parseErr == nil {
				session.UpdatedAt = modifiedAt
			}
		}
		if session.Sets == nil {
			session.Sets = []SessionSet{}
		}
		sessions = append(sessions, session)
	}

	sortSessions(sessions)

	span.SetAttributes(attribute.Int("sessions.count", len(sessions)))
	return sessions, nil
}

func (r *DriveRepo) Upsert(ctx context.Context, session Session) (_ *Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessionsDrive.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var storedCreatedAt time.Time
	if session.ID != "" {
		stored, getErr := r.Get(ctx, session.ID)
		switch {
		case getErr == nil:
			storedCreatedAt = stored.CreatedAt
		case errors.Is(getErr, ErrSessionNotFound):
			// new session
		default:
			return nil, getErr
		}
	}

	stampForWrite(&session, storedCreatedAt, r.now().UTC())
	span.SetAttributes(attribute.String("session.id", session.ID))

	if session.Sets == nil {
		session.Sets = []SessionSet{}
	}

	if _, err := r.client.UpsertJSONByName(ctx, DriveFileName(session.ID), session); err != nil {
		return nil, err
	}

	return r.Get(ctx, session.ID)
}

func (r *DriveRepo) Delete(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.sessionsDrive.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("session.id", sessionID))

	fileID, err := r.client.FindFileIDByName(ctx, DriveFileName(sessionID))
	if err != nil {
		if errors.Is(err, drive.ErrFileNotFound) {
			return nil
		}
		return err
	}

	return r.client.DeleteFile(ctx, fileID)
}
