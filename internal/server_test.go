package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/2beens/lifti/internal/config"
	"github.com/2beens/lifti/internal/exercises"
	"github.com/2beens/lifti/internal/plans"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPISecret = "test-secret"

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()

	cfg := &config.Config{
		Environment:     "development",
		DBPath:          filepath.Join(t.TempDir(), "lifti.db"),
		CatalogSeedPath: "../data/exercises.seed.json",
	}

	server, err := NewServer(context.Background(), NewServerParams{
		Config:      cfg,
		APISecret:   testAPISecret,
		VersionInfo: "test-version",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, server.db.Close())
	})

	return server.routerSetup()
}

// newTestRequest sets the user agent accepted by the CORS middleware
func newTestRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	req.Header.Set("User-Agent", "test-agent")
	return req
}

func TestServer_healthAndVersion(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newTestRequest("GET", "/health", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newTestRequest("GET", "/version", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "test-version", rr.Body.String())
}

func TestServer_corsRejectsUnknownOrigin(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest("GET", "/plans", nil)
	req.Header.Set("User-Agent", "some-random-bot/2.0")
	req.Header.Set("Origin", "https://evil.example.com")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestServer_authRequiredForPlans(t *testing.T) {
	router := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newTestRequest("GET", "/plans", ""))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := newTestRequest("GET", "/plans", "")
	req.Header.Set("X-LIFTI-TOKEN", "wrong-secret")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServer_exercisesArePublic(t *testing.T) {
	router := newTestRouter(t)

	// no token, the catalog is read-only public data
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, newTestRequest("GET", "/exercises", ""))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp exercises.ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotZero(t, resp.Total)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, newTestRequest("GET", "/exercises/bench_press", ""))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_planLifecycle(t *testing.T) {
	router := newTestRouter(t)

	planName := gofakeit.Adjective() + " day"
	planDoc := fmt.Sprintf(`{
		"name": %q,
		"exercises": [
			{"exerciseId": "bench_press", "sets": []},
			{"exerciseId": "squat", "sets": [{"reps": "5", "weight": 102.5, "restSec": 180}]}
		]
	}`, planName)

	req := newTestRequest("POST", "/plans", planDoc)
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var created plans.PlanDocument
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, planName, created.Name)
	require.Len(t, created.Exercises, 2)
	// first exercise got the default sets backfilled
	assert.Len(t, created.Exercises[0].Sets, 3)
	// display fields come joined from the catalog
	assert.Equal(t, "Bench Press", created.Exercises[0].Name)
	assert.NotEmpty(t, created.Exercises[0].Muscles)

	req = newTestRequest("GET", "/plans/"+created.ID, "")
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var fetched plans.PlanDocument
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	req = newTestRequest("DELETE", "/plans/"+created.ID, "")
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = newTestRequest("GET", "/plans/"+created.ID, "")
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_sessionLifecycle(t *testing.T) {
	router := newTestRouter(t)

	req := newTestRequest("POST", "/sessions/start", `{"planName": "Ad Hoc Workout"}`)
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var started struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &started))
	require.NotEmpty(t, started.ID)

	finishBody := `{
		"sets": [
			{"exerciseId": "squat", "exerciseName": "Squat", "reps": 5, "weight": 100, "restSec": 180}
		]
	}`
	req = newTestRequest("POST", "/sessions/"+started.ID+"/finish", finishBody)
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	req = newTestRequest("GET", "/sessions", "")
	req.Header.Set("X-LIFTI-TOKEN", testAPISecret)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), started.ID)
}
