package exercises

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type catalogRepoMock struct {
	exercises map[string]Exercise
	listErr   error
}

func newCatalogRepoMock(all ...Exercise) *catalogRepoMock {
	m := &catalogRepoMock{
		exercises: make(map[string]Exercise),
	}
	for _, ex := range all {
		m.exercises[ex.ID] = ex
	}
	return m
}

func (m *catalogRepoMock) Get(_ context.Context, id string) (*Exercise, error) {
	ex, ok := m.exercises[id]
	if !ok {
		return nil, ErrExerciseNotFound
	}
	return &ex, nil
}

func (m *catalogRepoMock) List(_ context.Context) ([]Exercise, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	all := make([]Exercise, 0, len(m.exercises))
	for _, ex := range m.exercises {
		all = append(all, ex)
	}
	return all, nil
}

func TestHandler_HandleList(t *testing.T) {
	handler := NewHandler(newCatalogRepoMock(
		Exercise{ID: "bench_press", Name: "Bench Press", Muscles: []string{"chest"}},
		Exercise{ID: "squat", Name: "Squat", Muscles: []string{"quads"}},
	))

	req := httptest.NewRequest("GET", "/exercises", nil)
	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Exercises, 2)
}

func TestHandler_HandleList_repoError(t *testing.T) {
	repoMock := newCatalogRepoMock()
	repoMock.listErr = errors.New("disk on fire")
	handler := NewHandler(repoMock)

	req := httptest.NewRequest("GET", "/exercises", nil)
	rr := httptest.NewRecorder()
	handler.HandleList(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandler_HandleGetOptions(t *testing.T) {
	handler := NewHandler(newCatalogRepoMock(
		Exercise{ID: "bench_press", Name: "Bench Press", Muscles: []string{"Chest"}, Equipment: []string{"Barbell"}},
		Exercise{ID: "squat", Name: "Squat", Muscles: []string{"Quads"}, Equipment: []string{"Barbell"}},
	))

	req := httptest.NewRequest("GET", "/exercises/options", nil)
	rr := httptest.NewRecorder()
	handler.HandleGetOptions(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var options CatalogOptions
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &options))
	assert.Equal(t, []string{"chest", "quads"}, options.Muscles)
	assert.Equal(t, []string{"barbell"}, options.Equipment)
}

func TestHandler_HandleGet(t *testing.T) {
	handler := NewHandler(newCatalogRepoMock(
		Exercise{ID: "bench_press", Name: "Bench Press"},
	))

	req := httptest.NewRequest("GET", "/exercises/bench_press", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "bench_press"})
	rr := httptest.NewRecorder()
	handler.HandleGet(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var exercise Exercise
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &exercise))
	assert.Equal(t, "Bench Press", exercise.Name)
}

func TestHandler_HandleGet_notFound(t *testing.T) {
	handler := NewHandler(newCatalogRepoMock())

	req := httptest.NewRequest("GET", "/exercises/deadlift", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "deadlift"})
	rr := httptest.NewRecorder()
	handler.HandleGet(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
