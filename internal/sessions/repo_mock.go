package sessions

import (
	"context"
	"sync"
	"time"
)

var _ Repository = (*repoMock)(nil)

// repoMock is an in-memory Repository for handler tests, applying the
// same stamping rules as the real repos.
type repoMock struct {
	Sessions map[string]Session
	Err      error // when set, every operation fails with it
	mutex    sync.Mutex
	now      func() time.Time
}

func NewRepoMock() *repoMock {
	return &repoMock{
		Sessions: map[string]Session{},
		now:      time.Now,
	}
}

func (r *repoMock) Get(_ context.Context, sessionID string) (*Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	session, ok := r.Sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

func (r *repoMock) List(_ context.Context) ([]Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	sessions := make([]Session, 0, len(r.Sessions))
	for _, session := range r.Sessions {
		sessions = append(sessions, session)
	}
	sortSessions(sessions)
	return sessions, nil
}

func (r *repoMock) Upsert(_ context.Context, session Session) (*Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	var storedCreatedAt time.Time
	if stored, ok := r.Sessions[session.ID]; ok {
		storedCreatedAt = stored.CreatedAt
	}
	stampForWrite(&session, storedCreatedAt, r.now().UTC())

	r.Sessions[session.ID] = session
	return &session, nil
}

func (r *repoMock) Delete(_ context.Context, sessionID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.Err != nil {
		return r.Err
	}

	delete(r.Sessions, sessionID)
	return nil
}
