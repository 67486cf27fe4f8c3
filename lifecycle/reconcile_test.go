package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sasta-kro/training-orchestrator/models"
	"github.com/sasta-kro/training-orchestrator/runtime"
)

func TestReconcile_RemovesOrphanRuntimeContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.running["orphan-container"] = true
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	require.NoError(t, manager.Reconcile(context.Background()))

	rt.mutex.Lock()
	_, stillThere := rt.running["orphan-container"]
	rt.mutex.Unlock()
	require.False(t, stillThere, "a runtime container with no matching Registry row must be force-removed")
}

func TestReconcile_MarksMissingRuntimeContainerStopped(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)

	// Simulate the runtime container disappearing out from under the
	// Registry (host crash, manual docker rm) without going through Stop.
	rt.mutex.Lock()
	delete(rt.running, record.ID)
	rt.mutex.Unlock()

	require.NoError(t, manager.Reconcile(context.Background()))

	current, err := registry.GetByID(record.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusStopped, current.Status)
}

func TestReconcile_PurgesOldTerminalRecords(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))
	manager.config.StoppedRetention = time.Millisecond

	record, err := manager.Launch(context.Background(), "subject-1", "exercise-1")
	require.NoError(t, err)
	require.NoError(t, manager.Stop(context.Background(), record.ID, "subject-1", true))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, manager.Reconcile(context.Background()))

	_, err = registry.GetByID(record.ID)
	require.Error(t, err, "a terminal record past its retention window must be purged")
}

func TestReconcile_SingleFlightSkipsConcurrentRun(t *testing.T) {
	rt := newFakeRuntime()
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	manager.reconciling.Store(true)
	defer manager.reconciling.Store(false)

	require.NoError(t, manager.Reconcile(context.Background()), "a reconcile call made while one is already running must return immediately without error")
}

func TestReconcile_ListErrorIsAggregatedNotFatal(t *testing.T) {
	rt := newFakeRuntime()
	rt.listErr = runtime.ErrNotFound
	registry := newFakeRegistry()
	manager := newTestManager(t, rt, registry, newTestCatalog("exercise-1"))

	err := manager.Reconcile(context.Background())
	require.Error(t, err, "a failed runtime listing must surface as an error from the reconcile pass")
}
