package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sasta-kro/training-orchestrator/errs"
	"github.com/sasta-kro/training-orchestrator/models"
)

// Catalog is the subset of *db.Database the exercise handlers read.
type Catalog interface {
	ListExercises() ([]*models.Exercise, error)
	ListProgressBySubject(subjectID string) (map[string]*models.Progress, error)
}

// Builder is the subset of *imagebuilder.Builder the upload handler drives.
type Builder interface {
	BuildFromArchive(ctx context.Context, archivePath string) (*models.Exercise, error)
}

// Launcher is the subset of *lifecycle.Manager the launch handler drives.
type Launcher interface {
	Launch(ctx context.Context, subjectID, exerciseID string) (*models.ContainerRecord, error)
}

// ExercisesHandler serves the exercise catalog surface (spec §6.1 upload,
// list, launch).
type ExercisesHandler struct {
	catalog       Catalog
	builder       Builder
	launcher      Launcher
	logger        *slog.Logger
	uploadDir     string
	uploadMaxSize int64
	baseDomain    string
}

// NewExercisesHandler constructs an ExercisesHandler with its collaborators.
func NewExercisesHandler(catalog Catalog, builder Builder, launcher Launcher, uploadDir string, uploadMaxSize int64, baseDomain string, logger *slog.Logger) *ExercisesHandler {
	return &ExercisesHandler{
		catalog:       catalog,
		builder:       builder,
		launcher:      launcher,
		uploadDir:     uploadDir,
		uploadMaxSize: uploadMaxSize,
		baseDomain:    baseDomain,
		logger:        logger,
	}
}

type uploadImageResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Tag     string `json:"tag"`
}

// Upload handles POST /api/exercises/upload (admin): a multipart upload
// with field "exercise" carrying the bundle archive (spec §6.2).
func (handler *ExercisesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, handler.uploadMaxSize)

	file, _, err := r.FormFile("exercise")
	if err != nil {
		if err.Error() == "http: request body too large" {
			writeErrorJsonAndLogIt(w, http.StatusRequestEntityTooLarge, "exercise bundle exceeds the upload size limit", handler.logger)
			return
		}
		writeErrorJsonAndLogIt(w, http.StatusBadRequest, "missing \"exercise\" multipart field", handler.logger)
		return
	}
	defer file.Close()

	if err := os.MkdirAll(handler.uploadDir, 0o755); err != nil {
		writeErrorJsonAndLogIt(w, http.StatusInternalServerError, "failed to prepare upload directory", handler.logger)
		return
	}

	archivePath := filepath.Join(handler.uploadDir, uuid.New().String()+".upload")
	destination, err := os.Create(archivePath)
	if err != nil {
		writeErrorJsonAndLogIt(w, http.StatusInternalServerError, "failed to stage uploaded archive", handler.logger)
		return
	}

	if _, err := io.Copy(destination, file); err != nil {
		destination.Close()
		_ = os.Remove(archivePath)
		if err.Error() == "http: request body too large" {
			writeErrorJsonAndLogIt(w, http.StatusRequestEntityTooLarge, "exercise bundle exceeds the upload size limit", handler.logger)
			return
		}
		writeErrorJsonAndLogIt(w, http.StatusInternalServerError, "failed to stage uploaded archive", handler.logger)
		return
	}
	destination.Close()

	exercise, err := handler.builder.BuildFromArchive(r.Context(), archivePath)
	if err != nil {
		writeDomainError(w, err, handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, map[string]uploadImageResponse{
		"image": {Name: exercise.Name, Version: exercise.Version, Tag: exercise.ImageTag},
	})
}

// List handles GET /api/exercises (user): the catalog enriched with the
// caller's own progress on each exercise.
func (handler *ExercisesHandler) List(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromRequest(r)
	if !ok {
		writeErrorJsonAndLogIt(w, http.StatusUnauthorized, "missing authenticated subject", handler.logger)
		return
	}

	exercises, err := handler.catalog.ListExercises()
	if err != nil {
		writeErrorJsonAndLogIt(w, http.StatusInternalServerError, "failed to list exercises", handler.logger)
		return
	}

	progressByExercise, err := handler.catalog.ListProgressBySubject(subject.ID)
	if err != nil {
		writeErrorJsonAndLogIt(w, http.StatusInternalServerError, "failed to load progress", handler.logger)
		return
	}

	summaries := make([]models.ExerciseSummary, 0, len(exercises))
	for _, exercise := range exercises {
		summary := models.ExerciseSummary{Exercise: *exercise}
		if progress, found := progressByExercise[exercise.ID]; found {
			summary.Status = progress.Status
			summary.Attempts = progress.Attempts
		}
		summaries = append(summaries, summary)
	}

	writeJsonAndRespond(w, http.StatusOK, map[string][]models.ExerciseSummary{"exercises": summaries})
}

type launchResponse struct {
	ContainerID string `json:"containerId"`
	Subdomain   string `json:"subdomain"`
}

// Launch handles POST /api/exercises/launch/{exerciseId} (user).
func (handler *ExercisesHandler) Launch(w http.ResponseWriter, r *http.Request) {
	subject, ok := SubjectFromRequest(r)
	if !ok {
		writeErrorJsonAndLogIt(w, http.StatusUnauthorized, "missing authenticated subject", handler.logger)
		return
	}

	exerciseID := chi.URLParam(r, "exerciseId")

	record, err := handler.launcher.Launch(r.Context(), subject.ID, exerciseID)
	if err != nil {
		var alreadyRunning *errs.AlreadyRunningError
		if errors.As(err, &alreadyRunning) {
			handler.logger.Info("launch denied: already running", "subject_id", subject.ID, "exercise_id", exerciseID, "subdomain", alreadyRunning.Subdomain)
			writeJsonAndRespond(w, http.StatusBadRequest, map[string]string{
				"error":     "AlreadyRunning",
				"subdomain": alreadyRunning.Subdomain,
			})
			return
		}
		writeDomainError(w, err, handler.logger)
		return
	}

	writeJsonAndRespond(w, http.StatusOK, launchResponse{
		ContainerID: record.ID,
		Subdomain:   fmt.Sprintf("%s.%s", record.Subdomain, handler.baseDomain),
	})
}
