package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/sasta-kro/training-orchestrator/models"
	"github.com/sasta-kro/training-orchestrator/runtime"
)

// Resume restarts watchers for every Container Record the Registry still
// shows as running (spec §5 persistence across a process restart): the
// Activity Tracker is reseeded from each record's last known activity, a
// watcher is started for it, and the total resumed count is returned.
// Called once at startup, before the HTTP server begins accepting
// requests.
func (manager *Manager) Resume(ctx context.Context) (int, error) {
	records, err := manager.registry.ListAllRunning()
	if err != nil {
		return 0, fmt.Errorf("list running registry records: %w", err)
	}

	for _, record := range records {
		manager.activity.Seed(record.Subdomain, record.LastActivity)
		manager.startWatcher(record.ID, record.Subdomain, record.CreatedAt)
	}

	return len(records), nil
}

// Shutdown cancels every running watcher goroutine without touching the
// containers they watch or their Registry rows (spec §5 "existing
// containers are NOT stopped at shutdown"): they are left running,
// picked up again by Resume or the reconciler on the next boot.
func (manager *Manager) Shutdown() {
	manager.watchersMutex.Lock()
	watchers := manager.watchers
	manager.watchers = make(map[string]context.CancelFunc)
	manager.watchersMutex.Unlock()

	for _, cancel := range watchers {
		cancel()
	}
}

// Reconcile cross-checks the Container Registry against the Runtime
// Client (spec §4.E "Reconciliation") and repairs I4 violations in both
// directions: a runtime container with no matching running Registry row
// is an orphan and is force-removed; a Registry row marked running whose
// runtime container has disappeared is marked stopped. Terminal rows
// past StoppedRetention are purged, and runtime resources are pruned
// last.
//
// Single-flight: a reconcile pass already in progress causes a concurrent
// call to return immediately without doing any work (P7: running the
// reconciler twice in succession performs no mutations on the second
// run).
func (manager *Manager) Reconcile(ctx context.Context) error {
	if !manager.reconciling.CompareAndSwap(false, true) {
		manager.logger.Info("reconciliation already in progress, skipping this tick")
		return nil
	}
	defer manager.reconciling.Store(false)

	var errs *multierror.Error

	runtimeContainers, runtimeErr := manager.runtime.ListByLabel(ctx, runtime.LabelManaged, "true", false)
	if runtimeErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("list runtime containers: %w", runtimeErr))
	}

	registryRecords, registryErr := manager.registry.ListAllRunning()
	if registryErr != nil {
		errs = multierror.Append(errs, fmt.Errorf("list running registry records: %w", registryErr))
	}

	// A failed listing on either side leaves nothing to compare against,
	// so the cross-check is skipped rather than treating every entry on
	// the other side as missing.
	if runtimeErr != nil || registryErr != nil {
		runtimeContainers, registryRecords = nil, nil
	}

	byContainerID := make(map[string]*models.ContainerRecord, len(registryRecords))
	for _, record := range registryRecords {
		byContainerID[record.ID] = record
	}

	seenInRuntime := make(map[string]bool, len(runtimeContainers))
	for _, runtimeContainer := range runtimeContainers {
		seenInRuntime[runtimeContainer.ID] = true
		if _, known := byContainerID[runtimeContainer.ID]; known {
			continue
		}
		// Orphan: the runtime has a container our label set claims, but
		// no running Registry row agrees. Likely a crash between
		// create_and_start and the Registry insert, or a launch whose
		// rollback itself failed. Force-remove it.
		if err := manager.runtime.StopAndRemove(ctx, runtimeContainer.ID); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("remove orphan container %s: %w", runtimeContainer.ID, err))
		}
	}

	for _, record := range registryRecords {
		if seenInRuntime[record.ID] {
			continue
		}
		// The Registry believes this container is running but the
		// runtime has no record of it (crashed, manually removed
		// outside the orchestrator). Mark it stopped rather than
		// force-removing anything, since there is nothing left to
		// remove.
		manager.cancelWatcher(record.ID)
		manager.activity.Evict(record.Subdomain)
		if err := manager.registry.SetStatus(record.ID, models.StatusStopped, ""); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("mark orphaned registry row %s stopped: %w", record.ID, err))
			continue
		}
		manager.appendEvent("container.stopped", record.SubjectID, record.ID, map[string]any{
			"subdomain": record.Subdomain,
			"reason":    string(models.ReasonOrphan),
		})
	}

	cutoff := time.Now().UTC().Add(-manager.config.StoppedRetention)
	if _, err := manager.registry.PurgeStoppedOlderThan(cutoff); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("purge stopped registry rows: %w", err))
	}

	if _, _, err := manager.runtime.Prune(ctx); err != nil {
		manager.logger.Warn("runtime prune failed (best-effort)", "error", err)
	}

	return errs.ErrorOrNil()
}
