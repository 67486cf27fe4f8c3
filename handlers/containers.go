package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sasta-kro/training-orchestrator/models"
)

// ContainerRegistry is the subset of *db.Database the container handlers
// read as the Container Registry.
type ContainerRegistry interface {
	ListRunningBySubject(subjectID string) ([]*models.ContainerRecord, error)
}

// StopCompleter is the subset of *lifecycle.Manager the container
// handlers drive for user-facing stop and the unauthenticated completion
// callback.
type StopCompleter interface {
	Stop(ctx context.Context, containerID, subjectID string, requireOwner bool) error
	Complete(ctx context.Context, subdomain string) error
}

// ContainersHandler serves the running-container surface (spec §6.1/6.3):
// listing a subject's own containers, stopping one, and the sandbox
// completion callback.
type ContainersHandler struct {
	registry ContainerRegistry
	manager  StopCompleter
	logger   *slog.Logger
}

// NewContainersHandler constructs a ContainersHandler with its collaborators.
func NewContainersHandler(registry ContainerRegistry, manager StopCompleter, logger *slog.Logger) *ContainersHandler {
	return &ContainersHandler{registry: registry, manager: manager, logger: logger}
}

// List handles GET /api/containers (user): the caller's own running
// containers.
func (handler *ContainersHandler) List(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromRequest(r)
	if !ok {
		writeErrorJsonAndLogIt(w, http.StatusUnauthorized, "missing authenticated subject", handler.logger)
		return
	}

	records, err := handler.registry.ListRunningBySubject(subject.ID)
	if err != nil {
		writeErrorJsonAndLogIt(w, http.StatusInternalServerError, "failed to list containers", handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, map[string][]*models.ContainerRecord{"containers": records})
}

// Stop handles POST /api/containers/{containerId}/stop (user): the owner
// of the container may stop it; anyone else gets ErrForbidden.
func (handler *ContainersHandler) Stop(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromRequest(r)
	if !ok {
		writeErrorJsonAndLogIt(w, http.StatusUnauthorized, "missing authenticated subject", handler.logger)
		return
	}

	containerID := chi.URLParam(r, "containerId")

	if err := handler.manager.Stop(r.Context(), containerID, subject.ID, true); err != nil {
		writeDomainError(w, err, handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, map[string]bool{"success": true})
}

// Complete handles POST /api/containers/{subdomain}/complete: the
// unauthenticated sandbox-to-orchestrator callback (spec §6.2) a running
// exercise calls on its own completion.
func (handler *ContainersHandler) Complete(w http.ResponseWriter, r *http.Request) {
	subdomain := chi.URLParam(r, "subdomain")

	if err := handler.manager.Complete(r.Context(), subdomain); err != nil {
		writeDomainError(w, err, handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, map[string]bool{"success": true})
}
