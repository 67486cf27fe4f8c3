package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sasta-kro/training-orchestrator/errs"
)

// writeDomainError maps one of the errs sentinel kinds (spec §7) to its
// HTTP status and a caller-safe message, logging the underlying error
// server-side. Anything that doesn't match a known kind is treated as
// ErrInternal.
func writeDomainError(w http.ResponseWriter, err error, logger *slog.Logger) {
	status, message := statusForError(err)
	logger.Error("request failed", "status", status, "error", err)
	writeJsonAndRespond(w, status, map[string]string{"error": message})
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrAlreadyRunning):
		return http.StatusBadRequest, "AlreadyRunning"
	case errors.Is(err, errs.ErrQuotaExceeded):
		return http.StatusBadRequest, "QuotaExceeded"
	case errors.Is(err, errs.ErrUnknownExercise):
		return http.StatusNotFound, "UnknownExercise"
	case errors.Is(err, errs.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable, "RuntimeUnavailable"
	case errors.Is(err, errs.ErrRuntimeRefused):
		return http.StatusBadGateway, "RuntimeRefused"
	case errors.Is(err, errs.ErrInvalidBundle):
		return http.StatusBadRequest, "InvalidBundle"
	case errors.Is(err, errs.ErrBuildFailed):
		return http.StatusUnprocessableEntity, "BuildFailed"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "NotFound"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, errs.ErrProxyUpstream):
		return http.StatusBadGateway, "ProxyUpstream"
	default:
		return http.StatusInternalServerError, "Internal"
	}
}
