package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/2beens/lifti/internal/middleware"

	"github.com/stretchr/testify/assert"
)

func TestAuthMiddlewareHandler_AuthCheck(t *testing.T) {
	authMiddleware := middleware.NewAuthMiddlewareHandler("lifti-api-secret")

	testCases := []struct {
		name               string
		path               string
		method             string
		token              string
		expectedStatusCode int
	}{
		{
			name:               "AllowedPathWithoutToken",
			path:               "/health",
			method:             "GET",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "ExercisesCatalogWithoutToken",
			path:               "/exercises",
			method:             "GET",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "ExercisesSubPathWithoutToken",
			path:               "/exercises/bench_press",
			method:             "GET",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "NotAllowedPathWithoutToken",
			path:               "/plans",
			method:             "GET",
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "ValidToken",
			path:               "/plans",
			method:             "GET",
			token:              "lifti-api-secret",
			expectedStatusCode: http.StatusOK,
		},
		{
			name:               "InvalidToken",
			path:               "/plans",
			method:             "POST",
			token:              "invalid-token",
			expectedStatusCode: http.StatusUnauthorized,
		},
		{
			name:               "OptionsRequest",
			path:               "/plans",
			method:             "OPTIONS",
			expectedStatusCode: http.StatusOK,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("X-LIFTI-TOKEN", tc.token)
			}

			rr := httptest.NewRecorder()
			handler := authMiddleware.AuthCheck()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatusCode, rr.Code)
		})
	}
}
