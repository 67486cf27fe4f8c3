// Package imagebuilder implements the Image Builder component (spec
// §4.C): accepts an uploaded archive, extracts it, validates the
// required members and metadata, derives an image tag, streams a build
// context to the Runtime Client, and records the result in the Catalog
// Store.
package imagebuilder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sasta-kro/training-orchestrator/db"
	"github.com/sasta-kro/training-orchestrator/errs"
	"github.com/sasta-kro/training-orchestrator/models"
)

// Runtime is the subset of runtime.Client the Image Builder depends on.
// Expressed as an interface here (rather than importing the concrete
// *runtime.Client) so tests can supply a fake that never touches a real
// Docker daemon.
type Runtime interface {
	BuildImage(ctx context.Context, tarStream io.Reader, tag string) error
	RemoveImage(ctx context.Context, tag string) error
}

// Catalog is the subset of *db.Database the Image Builder depends on.
type Catalog interface {
	InsertExercise(exercise *models.Exercise) error
	GetExercise(id string) (*models.Exercise, error)
	DeleteExercise(id string) error
}

// Journal is the subset of *db.Database the Image Builder appends to as
// the Event Journal.
type Journal interface {
	AppendEvent(event *models.Event) error
}

// Builder wires the Runtime Client, Catalog Store, and Event Journal
// collaborators together behind the six-step algorithm of spec §4.C.
type Builder struct {
	runtime Runtime
	catalog Catalog
	journal Journal
	logger  *slog.Logger
	workDir string
}

// NewBuilder constructs a Builder. workDir is the parent directory under
// which each upload gets its own fresh extraction directory (spec §4.C
// step 1); it is created if missing.
func NewBuilder(runtime Runtime, catalog Catalog, journal Journal, workDir string, logger *slog.Logger) *Builder {
	return &Builder{runtime: runtime, catalog: catalog, journal: journal, logger: logger, workDir: workDir}
}

// BuildFromArchive runs the full Image Builder algorithm against an
// uploaded archive already saved at archivePath. On any failure, the
// working directory and the archive itself are removed before the typed
// error (InvalidBundle / BuildFailed / Internal) is returned. On success the working
// directory is also removed, since its only purpose was to produce the
// build context.
func (builder *Builder) BuildFromArchive(ctx context.Context, archivePath string) (*models.Exercise, error) {
	workDir := filepath.Join(builder.workDir, uuid.New().String())
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			builder.logger.Warn("failed to clean up build working directory", "dir", workDir, "error", err)
		}
		if err := os.Remove(archivePath); err != nil {
			builder.logger.Warn("failed to clean up uploaded archive", "path", archivePath, "error", err)
		}
	}()

	if err := Extract(archivePath, workDir); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidBundle, err)
	}

	if err := validateRequiredMembers(workDir); err != nil {
		return nil, err
	}

	parsed, err := parseMetadata(workDir)
	if err != nil {
		return nil, err
	}

	tag := imageTag(parsed.Title, parsed.Version)

	tarStream, err := buildContextTar(workDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}
	defer tarStream.Close()

	if err := builder.runtime.BuildImage(ctx, tarStream, tag); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBuildFailed, err)
	}

	exercise := &models.Exercise{
		ID:          uuid.New().String(),
		Name:        parsed.Title,
		Version:     parsed.Version,
		Description: parsed.Description,
		Level:       parsed.Level,
		ImageTag:    tag,
		Metadata:    parsed.Raw,
	}

	if err := builder.catalog.InsertExercise(exercise); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	builder.appendEvent("image.built", exercise.ID, map[string]any{
		"name":      exercise.Name,
		"version":   exercise.Version,
		"image_tag": tag,
	})

	builder.logger.Info("exercise image built", "exercise_id", exercise.ID, "image_tag", tag)
	return exercise, nil
}

// DeleteExercise implements the admin delete of spec §3: the Catalog
// entry and its underlying Docker image are removed together, and the
// deletion is journaled. The image is removed first; if that fails the
// catalog row is left in place so a retry has something to act on.
func (builder *Builder) DeleteExercise(ctx context.Context, exerciseID string) error {
	exercise, err := builder.catalog.GetExercise(exerciseID)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return errs.ErrUnknownExercise
		}
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	if err := builder.runtime.RemoveImage(ctx, exercise.ImageTag); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	if err := builder.catalog.DeleteExercise(exerciseID); err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return errs.ErrUnknownExercise
		}
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	builder.appendEvent("image.deleted", exercise.ID, map[string]any{
		"name":      exercise.Name,
		"image_tag": exercise.ImageTag,
	})

	builder.logger.Info("exercise image deleted", "exercise_id", exercise.ID, "image_tag", exercise.ImageTag)
	return nil
}

func (builder *Builder) appendEvent(kind, targetID string, attributes map[string]any) {
	encoded, err := json.Marshal(attributes)
	if err != nil {
		builder.logger.Warn("failed to marshal event attributes", "kind", kind, "error", err)
		encoded = nil
	}
	event := &models.Event{Kind: kind, TargetID: targetID, Attributes: encoded}
	if err := builder.journal.AppendEvent(event); err != nil {
		builder.logger.Warn("failed to append journal event", "kind", kind, "error", err)
	}
}
