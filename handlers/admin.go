package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ExerciseDeleter is the subset of *imagebuilder.Builder the admin
// handler drives to retire a catalog entry (spec §3: "destroyed by admin
// delete which also removes the underlying image").
type ExerciseDeleter interface {
	DeleteExercise(ctx context.Context, exerciseID string) error
}

// AdminHandler serves the admin-only surface (spec §6.1): force stopping
// any subject's container, bypassing the ownership check the user-facing
// endpoint enforces, and deleting catalog exercises.
type AdminHandler struct {
	manager StopCompleter
	builder ExerciseDeleter
	logger  *slog.Logger
}

// NewAdminHandler constructs an AdminHandler with its collaborators.
func NewAdminHandler(manager StopCompleter, builder ExerciseDeleter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{manager: manager, builder: builder, logger: logger}
}

// StopAny handles POST /api/admin/containers/{containerId}/stop (admin):
// stops any container regardless of who owns it. The caller's own
// identity is irrelevant to ownership here, so requireOwner is false.
func (handler *AdminHandler) StopAny(w http.ResponseWriter, r *http.Request) {
	containerID := chi.URLParam(r, "containerId")

	if err := handler.manager.Stop(r.Context(), containerID, "", false); err != nil {
		writeDomainError(w, err, handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteExercise handles DELETE /api/admin/exercises/{exerciseId} (admin):
// removes the catalog entry and its underlying Docker image together.
func (handler *AdminHandler) DeleteExercise(w http.ResponseWriter, r *http.Request) {
	exerciseID := chi.URLParam(r, "exerciseId")

	if err := handler.builder.DeleteExercise(r.Context(), exerciseID); err != nil {
		writeDomainError(w, err, handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, map[string]bool{"success": true})
}
