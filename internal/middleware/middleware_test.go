package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/grantbrooksgoodman/yosemite-sub000/internal/metrics"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/repository"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/services"
	"github.com/grantbrooksgoodman/yosemite-sub000/internal/treestore"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessions() *services.SessionService {
	users := repository.NewUserRepository(treestore.NewMemoryStore())
	return services.NewSessionService(users, "middleware-secret", time.Hour)
}

func TestAuthMiddleware(t *testing.T) {
	sessions := newSessions()
	token, _, err := sessions.IssueToken("u1")
	require.NoError(t, err)

	var seen string
	handler := AuthMiddleware(sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetSession(r.Context()).AccountID
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
	assert.Equal(t, "u1", seen)
}

func TestValidateWebSocketToken(t *testing.T) {
	sessions := newSessions()
	_, err := ValidateWebSocketToken("", sessions)
	assert.Error(t, err)

	token, _, err := sessions.IssueToken("u2")
	require.NoError(t, err)
	session, err := ValidateWebSocketToken(token, sessions)
	require.NoError(t, err)
	assert.Equal(t, "u2", session.AccountID)
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.RequestsTotal.WithLabelValues(http.MethodGet, "/things/{id}", "418")
	before := testutil.ToFloat64(counter)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}
