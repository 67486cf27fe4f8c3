// Package lifecycle implements the Lifecycle Manager (spec §4.E): launch
// policy, the container state machine, per-container idle/lifetime
// watchers, and periodic reconciliation between the Container Registry
// and the Runtime Client.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sasta-kro/training-orchestrator/activity"
	"github.com/sasta-kro/training-orchestrator/db"
	"github.com/sasta-kro/training-orchestrator/errs"
	"github.com/sasta-kro/training-orchestrator/models"
	"github.com/sasta-kro/training-orchestrator/runtime"
	"github.com/sasta-kro/training-orchestrator/util"
)

// Runtime is the subset of runtime.Client the Lifecycle Manager depends
// on. Expressed as an interface so tests can supply a fake that never
// touches a real Docker daemon.
type Runtime interface {
	EnsureNetwork(ctx context.Context, name string) error
	CreateAndStart(ctx context.Context, spec runtime.LaunchSpec) (*runtime.LaunchResult, error)
	StopAndRemove(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (*runtime.ContainerState, error)
	ListByLabel(ctx context.Context, label, value string, includeStopped bool) ([]runtime.LabeledContainer, error)
	Prune(ctx context.Context) (containersRemoved, spaceReclaimed uint64, err error)
}

// Registry is the subset of *db.Database the Lifecycle Manager mutates
// and reads as the Container Registry.
type Registry interface {
	InsertContainer(record *models.ContainerRecord) error
	SetStatus(id string, status models.ContainerStatus, hostPort string) error
	GetByID(id string) (*models.ContainerRecord, error)
	GetBySubdomain(subdomain string) (*models.ContainerRecord, error)
	GetBySubdomainRunning(subdomain string) (*models.ContainerRecord, error)
	GetBySubjectExerciseRunning(subjectID, exerciseID string) (*models.ContainerRecord, error)
	CountRunningBySubject(subjectID string) (int, error)
	ListRunningBySubject(subjectID string) ([]*models.ContainerRecord, error)
	ListAllRunning() ([]*models.ContainerRecord, error)
	PurgeStoppedOlderThan(cutoff time.Time) (int64, error)
}

// Catalog is the subset of *db.Database the Lifecycle Manager reads as
// the Catalog Store.
type Catalog interface {
	GetExercise(id string) (*models.Exercise, error)
}

// Journal is the subset of *db.Database the Lifecycle Manager appends
// to as the Event Journal.
type Journal interface {
	AppendEvent(event *models.Event) error
}

// Progress is the subset of *db.Database the Lifecycle Manager drives as
// the progress collaborator contract (spec §6.3).
type Progress interface {
	RecordAttempt(subjectID, exerciseID string) error
	RecordCompletion(subjectID, exerciseID string) error
}

// Config carries the tunables of spec §6.4 the Lifecycle Manager needs.
type Config struct {
	MaxPerUser        int
	IdleLimit         time.Duration
	LifetimeLimit     time.Duration
	CheckInterval     time.Duration
	ReconcileInterval time.Duration
	StoppedRetention  time.Duration
	NetworkName       string
	BaseDomain        string
	CallbackBaseURL   string
}

// Manager owns the launch policy, the container state machine, and the
// set of running watchers. A Manager must not be copied after use (it
// embeds a mutex).
type Manager struct {
	config   Config
	runtime  Runtime
	registry Registry
	catalog  Catalog
	journal  Journal
	progress Progress
	activity *activity.Tracker
	logger   *slog.Logger

	watchersMutex sync.Mutex
	watchers      map[string]context.CancelFunc

	reconciling atomic.Bool
}

// NewManager wires the Lifecycle Manager's collaborators together.
func NewManager(
	config Config,
	rt Runtime,
	registry Registry,
	catalog Catalog,
	journal Journal,
	progress Progress,
	tracker *activity.Tracker,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		config:   config,
		runtime:  rt,
		registry: registry,
		catalog:  catalog,
		journal:  journal,
		progress: progress,
		activity: tracker,
		logger:   logger,
		watchers: make(map[string]context.CancelFunc),
	}
}

// Launch runs the launch policy of spec §4.E steps 1-10 and, on success,
// starts the container's watcher.
func (manager *Manager) Launch(ctx context.Context, subjectID, exerciseID string) (*models.ContainerRecord, error) {
	if existing, err := manager.registry.GetBySubjectExerciseRunning(subjectID, exerciseID); err == nil {
		return nil, &errs.AlreadyRunningError{Subdomain: existing.Subdomain}
	} else if !errors.Is(err, db.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	runningCount, err := manager.registry.CountRunningBySubject(subjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}
	if runningCount >= manager.config.MaxPerUser {
		return nil, errs.ErrQuotaExceeded
	}

	if err := manager.runtime.EnsureNetwork(ctx, manager.config.NetworkName); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRuntimeUnavailable, err)
	}

	exercise, err := manager.catalog.GetExercise(exerciseID)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return nil, errs.ErrUnknownExercise
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	subdomain := uuid.New().String()
	// The container name carries a short id plus a human-readable
	// adjective-noun pair purely for operator legibility in `docker ps`
	// output; the subdomain itself, used for all routing and lookups,
	// stays the full UUIDv4.
	containerName := fmt.Sprintf("training-%s-%s", util.ShortID(subdomain, 8), util.RandomSlugWord())

	launchResult, err := manager.runtime.CreateAndStart(ctx, runtime.LaunchSpec{
		ImageTag:    exercise.ImageTag,
		Name:        containerName,
		Env:         manager.sandboxEnv(subdomain),
		Subdomain:   subdomain,
		SubjectID:   subjectID,
		ExerciseID:  exerciseID,
		NetworkName: manager.config.NetworkName,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRuntimeRefused, err)
	}

	if launchResult.HostPort == "" {
		_ = manager.runtime.StopAndRemove(ctx, launchResult.ContainerID)
		return nil, fmt.Errorf("%w: no host port assigned", errs.ErrRuntimeRefused)
	}

	record := &models.ContainerRecord{
		ID:         launchResult.ContainerID,
		ExerciseID: exerciseID,
		SubjectID:  subjectID,
		Subdomain:  subdomain,
		Status:     models.StatusRunning,
		HostPort:   launchResult.HostPort,
	}

	if err := manager.registry.InsertContainer(record); err != nil {
		// Launch rolls back: the runtime container is stopped and
		// removed before the error returns, since a running container
		// with no Registry row is an orphan the reconciler would
		// otherwise have to clean up later.
		_ = manager.runtime.StopAndRemove(ctx, launchResult.ContainerID)
		return nil, fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	manager.activity.Seed(subdomain, record.CreatedAt)
	manager.startWatcher(record.ID, subdomain, record.CreatedAt)

	manager.appendEvent("container.created", subjectID, record.ID, map[string]any{
		"exercise_id": exerciseID,
		"subdomain":   subdomain,
	})

	if err := manager.progress.RecordAttempt(subjectID, exerciseID); err != nil {
		manager.logger.Warn("failed to record progress attempt", "subject_id", subjectID, "exercise_id", exerciseID, "error", err)
	}

	return record, nil
}

// sandboxEnv builds the environment variables injected into every
// sandbox container (spec §6.2): TRAINING_SUBDOMAIN and CALLBACK_URL.
func (manager *Manager) sandboxEnv(subdomain string) []string {
	callbackURL := fmt.Sprintf("%s/api/containers/%s/complete", manager.config.CallbackBaseURL, subdomain)
	return []string{
		"TRAINING_SUBDOMAIN=" + subdomain,
		"CALLBACK_URL=" + callbackURL,
	}
}

// Stop implements the stop procedure of spec §4.E. subjectID is the
// caller's identity; when requireOwner is true (the user-facing stop
// endpoint) a non-owner caller gets ErrForbidden, while the admin
// endpoint passes requireOwner=false to stop any container.
func (manager *Manager) Stop(ctx context.Context, containerID, subjectID string, requireOwner bool) error {
	record, err := manager.registry.GetByID(containerID)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	if requireOwner && record.SubjectID != subjectID {
		return errs.ErrForbidden
	}

	reason := models.ReasonUser
	if !requireOwner {
		reason = models.ReasonAdmin
	}

	return manager.transitionToTerminal(ctx, record, models.StatusStopped, reason)
}

// transitionToTerminal runs the common stop tail shared by the watcher
// and the user/admin stop endpoints: best-effort runtime
// removal, a monotone status update (I5: a record already in a terminal
// state never moves, so an admin force-stop of a completed container
// removes the runtime container but leaves status=completed), activity
// eviction, and a journal entry.
func (manager *Manager) transitionToTerminal(ctx context.Context, record *models.ContainerRecord, reapStatus models.ContainerStatus, reason models.StopReason) error {
	manager.cancelWatcher(record.ID)

	if err := manager.runtime.StopAndRemove(ctx, record.ID); err != nil {
		manager.logger.Warn("runtime stop/remove failed, proceeding with registry update", "container_id", record.ID, "error", err)
	}

	finalStatus := reapStatus
	if record.Status == models.StatusCompleted {
		finalStatus = models.StatusCompleted
	}

	if err := manager.registry.SetStatus(record.ID, finalStatus, ""); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	manager.activity.Evict(record.Subdomain)

	manager.appendEvent("container.stopped", record.SubjectID, record.ID, map[string]any{
		"subdomain": record.Subdomain,
		"reason":    string(reason),
	})

	return nil
}

// Complete implements the completion handler of spec §4.E: looks up the
// record by subdomain regardless of status, marks progress completed,
// and moves the container to completed only if it is still running. The
// container is deliberately NOT stopped here (the DESIGN.md note on
// completion preserves the source's behavior of leaving that to the watcher or an
// explicit stop).
func (manager *Manager) Complete(ctx context.Context, subdomain string) error {
	record, err := manager.registry.GetBySubdomain(subdomain)
	if err != nil {
		if errors.Is(err, db.ErrRecordNotFound) {
			return errs.ErrNotFound
		}
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	if err := manager.progress.RecordCompletion(record.SubjectID, record.ExerciseID); err != nil {
		manager.logger.Warn("failed to record progress completion", "subject_id", record.SubjectID, "exercise_id", record.ExerciseID, "error", err)
	}

	// P6: completion is idempotent. A record already moved past running
	// (completed by an earlier callback, or stopped by the user/watcher
	// in the meantime) keeps its status; only a still-running record is
	// marked completed here.
	if record.Status != models.StatusRunning {
		return nil
	}

	if err := manager.registry.SetStatus(record.ID, models.StatusCompleted, ""); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInternal, err)
	}

	manager.appendEvent("exercise.completed", record.SubjectID, record.ID, map[string]any{
		"subdomain":   subdomain,
		"exercise_id": record.ExerciseID,
	})

	return nil
}

func (manager *Manager) appendEvent(kind, subjectID, targetID string, attributes map[string]any) {
	payload, marshalErr := marshalAttributes(attributes)
	if marshalErr != nil {
		manager.logger.Warn("failed to marshal event attributes", "kind", kind, "error", marshalErr)
	}
	event := &models.Event{Kind: kind, SubjectID: subjectID, TargetID: targetID, Attributes: payload}
	if err := manager.journal.AppendEvent(event); err != nil {
		manager.logger.Warn("failed to append journal event", "kind", kind, "error", err)
	}
}
