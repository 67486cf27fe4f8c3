package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDevIdentityMiddleware_RejectsMissingSubjectHeader(t *testing.T) {
	var reached bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true })
	middleware := devIdentityMiddleware(discardLogger())(next)

	request := httptest.NewRequest(http.MethodGet, "/api/exercises", nil)
	recorder := httptest.NewRecorder()

	middleware.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusUnauthorized, recorder.Code)
	require.False(t, reached)
}

func TestDevIdentityMiddleware_AttachesSubjectFromHeaders(t *testing.T) {
	var captured Subject
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromRequest(r)
		require.True(t, ok)
		captured = subject
	})
	middleware := devIdentityMiddleware(discardLogger())(next)

	request := httptest.NewRequest(http.MethodGet, "/api/exercises", nil)
	request.Header.Set("X-Subject-Id", "u1")
	request.Header.Set("X-Subject-Role", "admin")
	recorder := httptest.NewRecorder()

	middleware.ServeHTTP(recorder, request)

	require.Equal(t, "u1", captured.ID)
	require.True(t, captured.Admin)
}

func TestRequireAdmin_RejectsNonAdminSubject(t *testing.T) {
	var reached bool
	next := func(w http.ResponseWriter, r *http.Request) { reached = true }
	wrapped := requireAdmin(discardLogger(), next)

	request := httptest.NewRequest(http.MethodPost, "/api/exercises/upload", nil)
	request = request.WithContext(WithSubject(request.Context(), Subject{ID: "u1", Admin: false}))
	recorder := httptest.NewRecorder()

	wrapped(recorder, request)

	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.False(t, reached)
}

func TestRequireAdmin_AllowsAdminSubject(t *testing.T) {
	var reached bool
	next := func(w http.ResponseWriter, r *http.Request) { reached = true }
	wrapped := requireAdmin(discardLogger(), next)

	request := httptest.NewRequest(http.MethodPost, "/api/exercises/upload", nil)
	request = request.WithContext(WithSubject(request.Context(), Subject{ID: "u1", Admin: true}))
	recorder := httptest.NewRecorder()

	wrapped(recorder, request)

	require.True(t, reached)
}
