package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/2beens/lifti/internal/metrics"
	"github.com/2beens/lifti/internal/plans"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type planGetterMock struct {
	plans map[string]plans.Plan
}

func (m *planGetterMock) Get(_ context.Context, planID string) (*plans.Plan, error) {
	plan, ok := m.plans[planID]
	if !ok {
		return nil, plans.ErrPlanNotFound
	}
	return &plan, nil
}

func newTestHandler() (*Handler, *repoMock, *metrics.Manager) {
	repo := NewRepoMock()
	plansRepo := &planGetterMock{
		plans: map[string]plans.Plan{
			"p1": {ID: "p1", Name: "Push Day"},
		},
	}
	m := metrics.NewTestManager()
	return NewHandler(repo, plansRepo, m), repo, m
}

func TestSessionsHandler_HandleStart(t *testing.T) {
	handler, repo, _ := newTestHandler()

	req := httptest.NewRequest("POST", "/sessions/start", strings.NewReader(`{"planId": "p1"}`))
	rr := httptest.NewRecorder()
	handler.HandleStart(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var session Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))
	assert.NotEmpty(t, session.ID)
	// plan name snapshotted at start time
	assert.Equal(t, "Push Day", session.PlanName)
	assert.False(t, session.StartedAt.IsZero())
	assert.False(t, session.Finished())

	assert.Len(t, repo.Sessions, 1)
}

func TestSessionsHandler_HandleStart_planAlreadyDeleted(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest(
		"POST", "/sessions/start",
		strings.NewReader(`{"planId": "gone", "planName": "Old Leg Day"}`),
	)
	rr := httptest.NewRecorder()
	handler.HandleStart(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var session Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &session))
	// the client-sent name survives as the snapshot
	assert.Equal(t, "Old Leg Day", session.PlanName)
}

func TestSessionsHandler_HandleFinish(t *testing.T) {
	handler, repo, m := newTestHandler()
	ctx := context.Background()

	started, err := repo.Upsert(ctx, Session{
		ID:        "s1",
		PlanID:    "p1",
		PlanName:  "Push Day",
		StartedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	finishBody := `{
		"planName": "Renamed In Flight",
		"sets": [
			{"id": "ss1", "exerciseId": "bench_press", "exerciseName": "Bench Press", "reps": 10, "weight": 60, "restSec": 90}
		]
	}`
	req := httptest.NewRequest("POST", "/sessions/s1/finish", strings.NewReader(finishBody))
	req = mux.SetURLVars(req, map[string]string{"id": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleFinish(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var finished Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &finished))
	assert.True(t, finished.Finished())
	require.Len(t, finished.Sets, 1)
	// stored snapshot fields win over whatever the client sent
	assert.Equal(t, "Push Day", finished.PlanName)
	assert.Equal(t, started.StartedAt, finished.StartedAt)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CounterSessionsFinished))
}

func TestSessionsHandler_HandleFinish_alreadyFinished(t *testing.T) {
	handler, repo, _ := newTestHandler()

	endedAt := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(context.Background(), Session{
		ID:       "s1",
		PlanName: "Push Day",
		EndedAt:  &endedAt,
	})
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/sessions/s1/finish", strings.NewReader(`{"sets": []}`))
	req = mux.SetURLVars(req, map[string]string{"id": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleFinish(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSessionsHandler_HandleFinish_notFound(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest("POST", "/sessions/nope/finish", strings.NewReader(`{"sets": []}`))
	req = mux.SetURLVars(req, map[string]string{"id": "nope"})
	rr := httptest.NewRecorder()
	handler.HandleFinish(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionsHandler_HandleUpdate(t *testing.T) {
	handler, repo, _ := newTestHandler()

	_, err := repo.Upsert(context.Background(), Session{
		ID:       "s1",
		PlanName: "Push Day",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(
		"PUT", "/sessions/s1",
		strings.NewReader(`{"planName": "Push Day", "totalPausedMs": 45000, "sets": []}`),
	)
	req = mux.SetURLVars(req, map[string]string{"id": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleUpdate(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, int64(45000), updated.TotalPausedMs)
}

func TestSessionsHandler_HandleUpdate_alreadyFinished(t *testing.T) {
	handler, repo, _ := newTestHandler()

	endedAt := time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC)
	_, err := repo.Upsert(context.Background(), Session{
		ID:       "s1",
		PlanName: "Push Day",
		EndedAt:  &endedAt,
		Sets: []SessionSet{
			{ID: "ss1", ExerciseID: "bench_press", ExerciseName: "Bench Press", Reps: 10, Weight: 60},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(
		"PUT", "/sessions/s1",
		strings.NewReader(`{"planName": "Rewritten", "sets": []}`),
	)
	req = mux.SetURLVars(req, map[string]string{"id": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleUpdate(rr, req)

	assert.Equal(t, http.StatusConflict, rr.Code)

	// the finished snapshot stays untouched
	stored, err := repo.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Push Day", stored.PlanName)
	require.Len(t, stored.Sets, 1)
	assert.Equal(t, "Bench Press", stored.Sets[0].ExerciseName)
}

func TestSessionsHandler_HandleUpdate_cannotEndSession(t *testing.T) {
	handler, repo, m := newTestHandler()

	_, err := repo.Upsert(context.Background(), Session{
		ID:       "s1",
		PlanName: "Push Day",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(
		"PUT", "/sessions/s1",
		strings.NewReader(`{"planName": "Push Day", "endedAt": "2026-08-01T11:00:00Z", "sets": []}`),
	)
	req = mux.SetURLVars(req, map[string]string{"id": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleUpdate(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated Session
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	// only the finish endpoint can finalize a session
	assert.False(t, updated.Finished())
	assert.Equal(t, float64(0), testutil.ToFloat64(m.CounterSessionsFinished))
}

func TestSessionsHandler_HandleList(t *testing.T) {
	handler, repo, _ := newTestHandler()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, Session{ID: "s1", PlanName: "A"})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, Session{ID: "s2", PlanName: "B"})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/sessions", nil)
	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp ListSessionsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestSessionsHandler_HandleDelete(t *testing.T) {
	handler, repo, _ := newTestHandler()

	_, err := repo.Upsert(context.Background(), Session{ID: "s1", PlanName: "A"})
	require.NoError(t, err)

	req := httptest.NewRequest("DELETE", "/sessions/s1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "s1"})
	rr := httptest.NewRecorder()
	handler.HandleDelete(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp DeleteSessionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.DeletedID)
	assert.Empty(t, repo.Sessions)
}
