package lifecycle

import (
	"context"
	"time"

	"github.com/sasta-kro/training-orchestrator/models"
)

// startWatcher launches the per-container watcher goroutine (spec §4.E
// "Watcher loop"), grounded on the teacher's ticker/context-cancellation
// idiom in its expiration cleanup loop, generalized from one shared loop
// to one watcher per container with its own cancel func so reaping one
// sandbox never blocks or delays the check of another.
func (manager *Manager) startWatcher(containerID, subdomain string, createdAt time.Time) {
	ctx, cancel := context.WithCancel(context.Background())

	manager.watchersMutex.Lock()
	manager.watchers[containerID] = cancel
	manager.watchersMutex.Unlock()

	go manager.watch(ctx, containerID, subdomain, createdAt)
}

// cancelWatcher stops a container's watcher goroutine, if one is
// running. Called from every path that moves a container out of running
// so the watcher is guaranteed to terminate within one tick of Terminal
// (spec §5).
func (manager *Manager) cancelWatcher(containerID string) {
	manager.watchersMutex.Lock()
	cancel, ok := manager.watchers[containerID]
	if ok {
		delete(manager.watchers, containerID)
	}
	manager.watchersMutex.Unlock()

	if ok {
		cancel()
	}
}

// watch ticks every CheckInterval and reaps the container once it has
// been idle for IdleLimit or alive for LifetimeLimit, whichever comes
// first. last_activity is read from the Activity Tracker with a fallback
// to the Container Record's own column, matching spec §4.E's fallback
// rule. Launch and Resume both seed the tracker, so the fallback applies
// only when the tracker holds no entry for the subdomain.
func (manager *Manager) watch(ctx context.Context, containerID, subdomain string, createdAt time.Time) {
	ticker := time.NewTicker(manager.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if manager.reapIfExpired(ctx, containerID, subdomain, createdAt) {
				return
			}
		}
	}
}

// reapIfExpired checks one container's idle and lifetime budgets and, if
// either is exceeded, transitions it to terminal with the matching
// reason. Returns true once the watcher's work for this container is
// done (reaped, or the record has already left running by another
// path), signalling the caller to stop ticking.
func (manager *Manager) reapIfExpired(ctx context.Context, containerID, subdomain string, createdAt time.Time) bool {
	record, err := manager.registry.GetByID(containerID)
	if err != nil {
		manager.logger.Warn("watcher could not load container record, stopping", "container_id", containerID, "error", err)
		return true
	}
	if record.Status != models.StatusRunning {
		// Already moved to terminal by a stop/complete path; nothing
		// left for this watcher to do.
		return true
	}

	now := time.Now().UTC()
	lastActivity := record.LastActivity
	if trackerActivity, ok := manager.activity.LastActivity(subdomain); ok {
		lastActivity = trackerActivity
	}

	var reason models.StopReason
	switch {
	case now.Sub(lastActivity) >= manager.config.IdleLimit:
		reason = models.ReasonIdle
	case now.Sub(createdAt) >= manager.config.LifetimeLimit:
		reason = models.ReasonLifetime
	default:
		return false
	}

	if err := manager.transitionToTerminal(ctx, record, models.StatusStopped, reason); err != nil {
		manager.logger.Warn("watcher failed to reap container", "container_id", containerID, "reason", reason, "error", err)
		return false
	}
	return true
}
