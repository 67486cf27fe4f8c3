package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/training-orchestrator/activity"
	"github.com/sasta-kro/training-orchestrator/db"
	"github.com/sasta-kro/training-orchestrator/errs"
	"github.com/sasta-kro/training-orchestrator/models"
	"github.com/sasta-kro/training-orchestrator/runtime"
)

// fakeRuntime is an in-memory stand-in for runtime.Client, tracking just
// enough state for the Lifecycle Manager's tests to assert on.
type fakeRuntime struct {
	mutex sync.Mutex

	nextID       int
	running      map[string]bool
	createErr    error
	hostPortBlank bool
	stopErr      error
	listErr      error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{running: make(map[string]bool)}
}

func (f *fakeRuntime) EnsureNetwork(ctx context.Context, name string) error { return nil }

func (f *fakeRuntime) CreateAndStart(ctx context.Context, spec runtime.LaunchSpec) (*runtime.LaunchResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := spec.Name
	f.running[id] = true
	hostPort := "32000"
	if f.hostPortBlank {
		hostPort = ""
	}
	return &runtime.LaunchResult{ContainerID: id, HostPort: hostPort}, nil
}

func (f *fakeRuntime) StopAndRemove(ctx context.Context, containerID string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	delete(f.running, containerID)
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, containerID string) (*runtime.ContainerState, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	running, ok := f.running[containerID]
	if !ok {
		return nil, runtime.ErrNotFound
	}
	return &runtime.ContainerState{Running: running}, nil
}

func (f *fakeRuntime) ListByLabel(ctx context.Context, label, value string, includeStopped bool) ([]runtime.LabeledContainer, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]runtime.LabeledContainer, 0, len(f.running))
	for id, running := range f.running {
		if !running && !includeStopped {
			continue
		}
		result = append(result, runtime.LabeledContainer{ID: id, Running: running})
	}
	return result, nil
}

func (f *fakeRuntime) Prune(ctx context.Context) (uint64, uint64, error) { return 0, 0, nil }

// fakeRegistry is an in-memory stand-in for the Container Registry, just
// enough to exercise I1-I6 and P1-P8 without SQLite.
type fakeRegistry struct {
	mutex     sync.Mutex
	records   map[string]*models.ContainerRecord
	insertErr error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{records: make(map[string]*models.ContainerRecord)}
}

func (r *fakeRegistry) InsertContainer(record *models.ContainerRecord) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.insertErr != nil {
		return r.insertErr
	}
	for _, existing := range r.records {
		if existing.Status == models.StatusRunning && existing.SubjectID == record.SubjectID && existing.ExerciseID == record.ExerciseID {
			return errors.New("already running")
		}
	}
	clone := *record
	clone.CreatedAt = time.Now().UTC()
	clone.LastActivity = clone.CreatedAt
	r.records[clone.ID] = &clone
	*record = clone
	return nil
}

func (r *fakeRegistry) SetStatus(id string, status models.ContainerStatus, hostPort string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	record, ok := r.records[id]
	if !ok {
		return db.ErrRecordNotFound
	}
	record.Status = status
	if hostPort != "" {
		record.HostPort = hostPort
	}
	record.LastActivity = time.Now().UTC()
	return nil
}

func (r *fakeRegistry) GetByID(id string) (*models.ContainerRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	clone := *record
	return &clone, nil
}

func (r *fakeRegistry) GetBySubdomain(subdomain string) (*models.ContainerRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, record := range r.records {
		if record.Subdomain == subdomain {
			clone := *record
			return &clone, nil
		}
	}
	return nil, db.ErrRecordNotFound
}

func (r *fakeRegistry) GetBySubdomainRunning(subdomain string) (*models.ContainerRecord, error) {
	record, err := r.GetBySubdomain(subdomain)
	if err != nil {
		return nil, err
	}
	if record.Status != models.StatusRunning {
		return nil, db.ErrRecordNotFound
	}
	return record, nil
}

func (r *fakeRegistry) GetBySubjectExerciseRunning(subjectID, exerciseID string) (*models.ContainerRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, record := range r.records {
		if record.SubjectID == subjectID && record.ExerciseID == exerciseID && record.Status == models.StatusRunning {
			clone := *record
			return &clone, nil
		}
	}
	return nil, db.ErrRecordNotFound
}

func (r *fakeRegistry) CountRunningBySubject(subjectID string) (int, error) {
	records, err := r.ListRunningBySubject(subjectID)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *fakeRegistry) ListRunningBySubject(subjectID string) ([]*models.ContainerRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var result []*models.ContainerRecord
	for _, record := range r.records {
		if record.SubjectID == subjectID && record.Status == models.StatusRunning {
			clone := *record
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeRegistry) ListAllRunning() ([]*models.ContainerRecord, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var result []*models.ContainerRecord
	for _, record := range r.records {
		if record.Status == models.StatusRunning {
			clone := *record
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeRegistry) PurgeStoppedOlderThan(cutoff time.Time) (int64, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var purged int64
	for id, record := range r.records {
		if record.Status != models.StatusRunning && record.LastActivity.Before(cutoff) {
			delete(r.records, id)
			purged++
		}
	}
	return purged, nil
}

// fakeCatalog and fakeJournal/fakeProgress round out the Lifecycle
// Manager's collaborators.
type fakeCatalog struct {
	exercises map[string]*models.Exercise
}

func (c *fakeCatalog) GetExercise(id string) (*models.Exercise, error) {
	exercise, ok := c.exercises[id]
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	return exercise, nil
}

type fakeJournal struct {
	mutex  sync.Mutex
	events []*models.Event
}

func (j *fakeJournal) AppendEvent(event *models.Event) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.events = append(j.events, event)
	return nil
}

type fakeProgress struct {
	attempts   int
	completion int
}

func (p *fakeProgress) RecordAttempt(subjectID, exerciseID string) error {
	p.attempts++
	return nil
}

func (p *fakeProgress) RecordCompletion(subjectID, exerciseID string) error {
	p.completion++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, rt *fakeRuntime, registry *fakeRegistry, catalog *fakeCatalog) *Manager {
	t.Helper()
	manager, _ := newTestManagerWithJournal(t, rt, registry, catalog)
	return manager
}

func newTestManagerWithJournal(t *testing.T, rt *fakeRuntime, registry *fakeRegistry, catalog *fakeCatalog) (*Manager, *fakeJournal) {
	t.Helper()
	config := Config{
		MaxPerUser:        1,
		IdleLimit:         time.Hour,
		LifetimeLimit:     time.Hour,
		CheckInterval:     10 * time.Millisecond,
		ReconcileInterval: time.Hour,
		StoppedRetention:  24 * time.Hour,
		NetworkName:       "training-net",
		CallbackBaseURL:   "http://api.internal",
	}
	journal := &fakeJournal{}
	return NewManager(config, rt, registry, catalog, journal, &fakeProgress{}, activity.NewTracker(), discardLogger()), journal
}

func newTestCatalog(exerciseID string) *fakeCatalog {
	return &fakeCatalog{exercises: map[string]*models.Exercise{
		exerciseID: {ID: exerciseID, Name: "demo", ImageTag: "training/demo:latest"},
	}}
}

func TestLaunch_Success(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusRunning, record.Status)
	require.NotEmpty(t, record.Subdomain)
	require.Equal(t, "32000", record.HostPort)

	manager.cancelWatcher(record.ID)
}

func TestLaunch_AlreadyRunningReturnsErrAlreadyRunning(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	first, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)
	defer manager.cancelWatcher(first.ID)

	_, err = manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.ErrorIs(t, err, errs.ErrAlreadyRunning)
}

func TestLaunch_QuotaExceeded(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, &fakeCatalog{exercises: map[string]*models.Exercise{
		"exercise-1": {ID: "exercise-1", ImageTag: "training/demo:latest"},
		"exercise-2": {ID: "exercise-2", ImageTag: "training/other:latest"},
	}})

	first, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)
	defer manager.cancelWatcher(first.ID)

	_, err = manager.Launch(context.Background(), "subject-1", "exercise-2")
	require.ErrorIs(t, err, errs.ErrQuotaExceeded)
}

func TestLaunch_UnknownExercise(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, &fakeCatalog{exercises: map[string]*models.Exercise{}})

	_, err := manager.Launch(context.Background(), "subject-1", "does-not-exist")
	require.ErrorIs(t, err, errs.ErrUnknownExercise)
}

func TestLaunch_RollsBackRuntimeOnRegistryFailure(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	registry.insertErr = errors.New("database is locked")
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	_, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.ErrorIs(t, err, errs.ErrInternal)

	rt.mutex.Lock()
	running := len(rt.running)
	rt.mutex.Unlock()
	require.Equal(t, 0, running, "a failed registry insert must not leave an orphaned running container")
}

func TestLaunch_RuntimeRefusedWhenNoHostPort(t *testing.T) {
	rt := newFakeRuntime()
	rt.hostPortBlank = true
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	_, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.ErrorIs(t, err, errs.ErrRuntimeRefused)

	rt.mutex.Lock()
	running := len(rt.running)
	rt.mutex.Unlock()
	require.Equal(t, 0, running, "a container with no assigned host port must be stopped and removed, not left running")
}

func TestStop_RequireOwnerRejectsNonOwner(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	err = manager.Stop(context.Background(), record.ID, "subject-2", true)
	require.ErrorIs(t, err, errs.ErrForbidden)

	manager.cancelWatcher(record.ID)
}

func TestStop_OwnerSucceeds(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	require.NoError(t, manager.Stop(context.Background(), record.ID, "subject-1", true))

	stopped, err := registry.GetByID(record.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusStopped, stopped.Status)
}

func TestStop_AdminBypassesOwnership(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	require.NoError(t, manager.Stop(context.Background(), record.ID, "", false))
}

func TestStop_JournalsDistinctReasonsForUserAndAdminStop(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager, journal := newTestManagerWithJournal(t, rt, registry, newTestCatalog("exercise-1"))

	userRecord, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)
	require.NoError(t, manager.Stop(context.Background(), userRecord.ID, "subject-1", true))

	adminRecord, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)
	require.NoError(t, manager.Stop(context.Background(), adminRecord.ID, "", false))

	var reasons []string
	for _, event := range journal.events {
		if event.Kind != "container.stopped" {
			continue
		}
		var attrs map[string]string
		require.NoError(t, json.Unmarshal(event.Attributes, &attrs))
		reasons = append(reasons, attrs["reason"])
	}
	require.Equal(t, []string{string(models.ReasonUser), string(models.ReasonAdmin)}, reasons)
}

func TestTransitionToTerminal_PreservesCompletedStatus(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	require.NoError(t, manager.Complete(context.Background(), record.Subdomain))

	// Admin force-stop of an already-completed container must not
	// downgrade its status (I5 monotonicity), even though the runtime
	// container is still removed.
	require.NoError(t, manager.Stop(context.Background(), record.ID, "", false))

	final, err := registry.GetByID(record.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status)
}

func TestComplete_IsIdempotent(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	require.NoError(t, manager.Complete(context.Background(), record.Subdomain))
	require.NoError(t, manager.Complete(context.Background(), record.Subdomain))

	final, err := registry.GetByID(record.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, final.Status)
}

func TestComplete_UnknownSubdomain(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	err := manager.Complete(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestComplete_AfterStopLeavesStatusStopped(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	require.NoError(t, manager.Stop(context.Background(), record.ID, "subject-1", true))
	require.NoError(t, manager.Complete(context.Background(), record.Subdomain))

	final, err := registry.GetByID(record.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusStopped, final.Status, "completion after a stop must not resurrect the container as completed")
}
