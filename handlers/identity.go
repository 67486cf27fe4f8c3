package handlers

import (
	"context"
	"log/slog"
	"net/http"
)

// Identity (user id, role) is consumed as an opaque authenticated
// subject: the session/credential layer that populates it lives outside
// this module's scope. subjectContextKey stands in for whatever external
// middleware attaches the authenticated caller to the request context,
// mirroring the context-key convention used for auth elsewhere in the
// pack rather than inventing a token format here.
type contextKey string

const subjectContextKey contextKey = "subject"

// Subject is the opaque authenticated caller attached to every request
// except the unauthenticated completion callback.
type Subject struct {
	ID    string
	Admin bool
}

// WithSubject attaches a Subject to a request's context. Exported so the
// external session middleware this module assumes (spec §1 Non-goals)
// has a concrete extension point to populate.
func WithSubject(ctx context.Context, subject Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey, subject)
}

// SubjectFromRequest extracts the Subject a prior middleware attached to
// the request. ok is false for requests that never passed through
// identity middleware (the unauthenticated completion callback).
func SubjectFromRequest(r *http.Request) (Subject, bool) {
	subject, ok := r.Context().Value(subjectContextKey).(Subject)
	return subject, ok
}

// devIdentityMiddleware is a minimal stand-in for the external session
// middleware spec §1 places out of scope: it trusts the X-Subject-Id and
// X-Subject-Role headers verbatim. A real deployment replaces this with
// whatever validates sessions/JWTs and calls WithSubject itself.
func devIdentityMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subjectID := r.Header.Get("X-Subject-Id")
			if subjectID == "" {
				writeErrorJsonAndLogIt(w, http.StatusUnauthorized, "missing authenticated subject", logger)
				return
			}
			subject := Subject{ID: subjectID, Admin: r.Header.Get("X-Subject-Role") == "admin"}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func requireAdmin(logger *slog.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, ok := SubjectFromRequest(r)
		if !ok || !subject.Admin {
			writeErrorJsonAndLogIt(w, http.StatusForbidden, "admin role required", logger)
			return
		}
		next(w, r)
	}
}
