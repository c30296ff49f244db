package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/2beens/lifti/internal/drive"
	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/plans"
	"github.com/2beens/lifti/internal/sessions"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ driveClient = (*driveClientMock)(nil)

type driveClientMock struct {
	files       map[string][]byte
	names       map[string]string
	nextID      int
	authExpired bool
	mutex       sync.Mutex
}

func newDriveClientMock() *driveClientMock {
	return &driveClientMock{
		files: map[string][]byte{},
		names: map[string]string{},
	}
}

func (m *driveClientMock) UpsertJSONByName(_ context.Context, name string, content any) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.authExpired {
		return "", drive.ErrAuthExpired
	}

	contentJson, err := json.Marshal(content)
	if err != nil {
		return "", err
	}

	for id, n := range m.names {
		if n == name {
			m.files[id] = contentJson
			return id, nil
		}
	}

	m.nextID++
	fileID := fmt.Sprintf("file-%d", m.nextID)
	m.files[fileID] = contentJson
	m.names[fileID] = name
	return fileID, nil
}

func (m *driveClientMock) ListFiles(_ context.Context, nameContains string) ([]drive.FileInfo, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.authExpired {
		return nil, drive.ErrAuthExpired
	}
	var files []drive.FileInfo
	for id, name := range m.names {
		if strings.Contains(name, nameContains) {
			files = append(files, drive.FileInfo{ID: id, Name: name})
		}
	}
	return files, nil
}

func (m *driveClientMock) DeleteFile(_ context.Context, fileID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.authExpired {
		return drive.ErrAuthExpired
	}
	delete(m.files, fileID)
	delete(m.names, fileID)
	return nil
}

func (m *driveClientMock) fileNames() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var names []string
	for _, name := range m.names {
		names = append(names, name)
	}
	return names
}

type planStoreMock struct {
	plans   map[string]plans.Plan
	listErr error
}

func newPlanStoreMock(stored ...plans.Plan) *planStoreMock {
	m := &planStoreMock{plans: map[string]plans.Plan{}}
	for _, plan := range stored {
		m.plans[plan.ID] = plan
	}
	return m
}

func (m *planStoreMock) List(_ context.Context) ([]plans.Plan, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := make([]plans.Plan, 0, len(m.plans))
	for _, plan := range m.plans {
		all = append(all, plan)
	}
	return all, nil
}

func (m *planStoreMock) Get(_ context.Context, planID string) (*plans.Plan, error) {
	plan, ok := m.plans[planID]
	if !ok {
		return nil, plans.ErrPlanNotFound
	}
	return &plan, nil
}

func (m *planStoreMock) Upsert(_ context.Context, plan plans.Plan) (*plans.Plan, error) {
	m.plans[plan.ID] = plan
	return &plan, nil
}

type sessionStoreMock struct {
	sessions map[string]sessions.Session
}

func newSessionStoreMock(stored ...sessions.Session) *sessionStoreMock {
	m := &sessionStoreMock{sessions: map[string]sessions.Session{}}
	for _, session := range stored {
		m.sessions[session.ID] = session
	}
	return m
}

func (m *sessionStoreMock) List(_ context.Context) ([]sessions.Session, error) {
	all := make([]sessions.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		all = append(all, session)
	}
	return all, nil
}

func (m *sessionStoreMock) Get(_ context.Context, sessionID string) (*sessions.Session, error) {
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, sessions.ErrSessionNotFound
	}
	return &session, nil
}

func (m *sessionStoreMock) Upsert(_ context.Context, session sessions.Session) (*sessions.Session, error) {
	m.sessions[session.ID] = session
	return &session, nil
}

type planListerMock struct {
	plans []plans.Plan
	err   error
}

func (m *planListerMock) List(_ context.Context) ([]plans.Plan, error) {
	return m.plans, m.err
}

type sessionListerMock struct {
	sessions []sessions.Session
	err      error
}

func (m *sessionListerMock) List(_ context.Context) ([]sessions.Session, error) {
	return m.sessions, m.err
}

type metaStoreMock struct {
	values map[string]string
	err    error
}

func (m *metaStoreMock) SetMeta(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func TestService_DoSync_push(t *testing.T) {
	client := newDriveClientMock()
	meta := &metaStoreMock{}
	m := metrics.NewTestManager()

	updatedAt := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	service := NewService(NewServiceParams{
		Client: client,
		LocalPlans: newPlanStoreMock(
			plans.Plan{ID: "p1", Name: "Push Day", UpdatedAt: updatedAt},
			plans.Plan{ID: "p2", Name: "Pull Day", UpdatedAt: updatedAt},
		),
		LocalSessions: newSessionStoreMock(
			sessions.Session{ID: "s1", PlanName: "Push Day", UpdatedAt: updatedAt},
		),
		RemotePlans:    &planListerMock{},
		RemoteSessions: &sessionListerMock{},
		Meta:           meta,
		Metrics:        m,
	})

	synced, err := service.DoSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, synced)

	assert.ElementsMatch(t, []string{
		"plan_p1.json",
		"plan_p2.json",
		"session_s1.json",
	}, client.fileNames())

	assert.Equal(t, float64(3), testutil.ToFloat64(m.CounterDriveFilesSynced))
	assert.NotEmpty(t, meta.values[LastSyncedAtMetaKey])

	// aggregates go out untouched, local timestamps included
	var remotePlan plans.Plan
	for id, name := range client.names {
		if name == "plan_p1.json" {
			require.NoError(t, json.Unmarshal(client.files[id], &remotePlan))
		}
	}
	assert.Equal(t, updatedAt, remotePlan.UpdatedAt)
}

func TestService_DoSync_pullsRemoteOnlyAggregates(t *testing.T) {
	localPlans := newPlanStoreMock(plans.Plan{ID: "p1", Name: "Push Day"})
	localSessions := newSessionStoreMock()

	service := NewService(NewServiceParams{
		Client:     newDriveClientMock(),
		LocalPlans: localPlans,
		RemotePlans: &planListerMock{plans: []plans.Plan{
			{ID: "p1", Name: "Push Day"},         // both sides, left alone
			{ID: "p-remote", Name: "Remote Day"}, // remote only, pulled
		}},
		LocalSessions: localSessions,
		RemoteSessions: &sessionListerMock{sessions: []sessions.Session{
			{ID: "s-remote", PlanName: "Remote Day"},
		}},
		Meta:    &metaStoreMock{},
		Metrics: metrics.NewTestManager(),
	})

	synced, err := service.DoSync(context.Background())
	require.NoError(t, err)
	// one pushed plan plus two pulled aggregates
	assert.Equal(t, 3, synced)

	pulled, err := localPlans.Get(context.Background(), "p-remote")
	require.NoError(t, err)
	assert.Equal(t, "Remote Day", pulled.Name)

	_, err = localSessions.Get(context.Background(), "s-remote")
	assert.NoError(t, err)
}

func TestService_DoSync_authExpired(t *testing.T) {
	client := newDriveClientMock()
	client.authExpired = true

	service := NewService(NewServiceParams{
		Client:         client,
		LocalPlans:     newPlanStoreMock(plans.Plan{ID: "p1", Name: "Push Day"}),
		LocalSessions:  newSessionStoreMock(),
		RemotePlans:    &planListerMock{},
		RemoteSessions: &sessionListerMock{},
		Meta:           &metaStoreMock{},
		Metrics:        metrics.NewTestManager(),
	})

	_, err := service.DoSync(context.Background())
	assert.ErrorIs(t, err, drive.ErrAuthExpired)
}

func TestService_DoSync_remoteListAuthExpired(t *testing.T) {
	service := NewService(NewServiceParams{
		Client:         newDriveClientMock(),
		LocalPlans:     newPlanStoreMock(),
		LocalSessions:  newSessionStoreMock(),
		RemotePlans:    &planListerMock{err: drive.ErrAuthExpired},
		RemoteSessions: &sessionListerMock{},
		Meta:           &metaStoreMock{},
		Metrics:        metrics.NewTestManager(),
	})

	_, err := service.DoSync(context.Background())
	assert.ErrorIs(t, err, drive.ErrAuthExpired)
}

func TestService_DoSync_localListFails(t *testing.T) {
	listErr := errors.New("db gone")
	localPlans := newPlanStoreMock()
	localPlans.listErr = listErr

	service := NewService(NewServiceParams{
		Client:         newDriveClientMock(),
		LocalPlans:     localPlans,
		LocalSessions:  newSessionStoreMock(),
		RemotePlans:    &planListerMock{},
		RemoteSessions: &sessionListerMock{},
		Meta:           &metaStoreMock{},
		Metrics:        metrics.NewTestManager(),
	})

	_, err := service.DoSync(context.Background())
	assert.ErrorIs(t, err, listErr)
}

func TestService_DestroyAllFiles(t *testing.T) {
	client := newDriveClientMock()
	ctx := context.Background()

	_, err := client.UpsertJSONByName(ctx, "plan_p1.json", map[string]string{"id": "p1"})
	require.NoError(t, err)
	_, err = client.UpsertJSONByName(ctx, "session_s1.json", map[string]string{"id": "s1"})
	require.NoError(t, err)

	service := NewService(NewServiceParams{
		Client:         client,
		LocalPlans:     newPlanStoreMock(),
		LocalSessions:  newSessionStoreMock(),
		RemotePlans:    &planListerMock{},
		RemoteSessions: &sessionListerMock{},
		Meta:           &metaStoreMock{},
		Metrics:        metrics.NewTestManager(),
	})

	deleted, err := service.DestroyAllFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, client.files)
}
