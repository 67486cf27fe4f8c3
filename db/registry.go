package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sasta-kro/training-orchestrator/models"
)

// ErrSubdomainTaken is returned when inserting a Container Record whose
// subdomain collides with an existing non-purged record (I1).
var ErrSubdomainTaken = errors.New("subdomain already in use")

// ErrAlreadyRunning is returned when inserting a running Container Record
// for a (subject, exercise) pair that already has one running (I2).
var ErrAlreadyRunning = errors.New("container already running for this exercise")

const containerColumns = `id, exercise_id, subject_id, subdomain, status, host_port, created_at, last_activity`

func scanContainer(row scanner) (*models.ContainerRecord, error) {
	var record models.ContainerRecord
	var hostPort sql.NullString

	err := row.Scan(
		&record.ID, &record.ExerciseID, &record.SubjectID, &record.Subdomain,
		&record.Status, &hostPort, &record.CreatedAt, &record.LastActivity,
	)
	if err != nil {
		return nil, err
	}
	record.HostPort = hostPort.String
	return &record, nil
}

// InsertContainer creates a new Container Record. The caller is
// responsible for generating a UUIDv4 subdomain before calling this
// (component D does not allocate identities, it only persists them).
// The partial unique indexes on (subdomain) and on (subject_id,
// exercise_id) WHERE status = 'running' enforce I1/I2 at the storage
// layer; this method translates the resulting constraint violation into
// the matching sentinel error rather than letting the raw SQLite error
// leak to callers.
func (database *Database) InsertContainer(record *models.ContainerRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.LastActivity = now

	_, err := database.connection.Exec(
		`INSERT INTO containers (id, exercise_id, subject_id, subdomain, status, host_port, created_at, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.ExerciseID, record.SubjectID, record.Subdomain,
		record.Status, nullableString(record.HostPort), record.CreatedAt, record.LastActivity,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			if strings.Contains(err.Error(), "containers.subdomain") {
				return ErrSubdomainTaken
			}
			if record.Status == models.StatusRunning {
				return ErrAlreadyRunning
			}
			return ErrSubdomainTaken
		}
		return fmt.Errorf("insert container %q: %w", record.ID, err)
	}
	return nil
}

// SetStatus transitions a running Container Record's status. The update
// only applies to a row whose status is still running, so a record that
// has already moved to stopped or completed is left unchanged and I5
// (monotone status) holds even when the watcher, Stop, Complete and the
// reconciler write the same container concurrently.
// hostPort, when non-empty, is recorded alongside the transition (I6:
// host port is set exactly once, on the transition into running).
func (database *Database) SetStatus(id string, status models.ContainerStatus, hostPort string) error {
	var err error
	if hostPort != "" {
		_, err = database.connection.Exec(
			`UPDATE containers SET status = ?, host_port = ?, last_activity = ? WHERE id = ? AND status = 'running'`,
			status, hostPort, time.Now().UTC(), id,
		)
	} else {
		_, err = database.connection.Exec(
			`UPDATE containers SET status = ?, last_activity = ? WHERE id = ? AND status = 'running'`,
			status, time.Now().UTC(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("set status of container %q: %w", id, err)
	}
	return nil
}

// TouchLastActivity bumps a running container's last_activity timestamp.
// The Subdomain Router / Proxy does not call it; per-request activity is
// recorded in the in-memory activity.Tracker instead.
func (database *Database) TouchLastActivity(id string) error {
	_, err := database.connection.Exec(
		`UPDATE containers SET last_activity = ? WHERE id = ?`, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("touch container %q: %w", id, err)
	}
	return nil
}

// GetBySubdomainRunning looks up the running Container Record behind a
// subdomain. Used by the proxy on every incoming request; returns
// ErrRecordNotFound for an unknown or non-running subdomain so the proxy
// can answer with 404 rather than routing to a stale backend.
func (database *Database) GetBySubdomainRunning(subdomain string) (*models.ContainerRecord, error) {
	row := database.connection.QueryRow(
		`SELECT `+containerColumns+` FROM containers WHERE subdomain = ? AND status = 'running'`, subdomain,
	)
	record, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get container by subdomain %q: %w", subdomain, err)
	}
	return record, nil
}

// GetBySubdomain looks up a Container Record by subdomain regardless of
// status, used by the completion handler which must behave idempotently
// (P6) even after the container has already left running.
func (database *Database) GetBySubdomain(subdomain string) (*models.ContainerRecord, error) {
	row := database.connection.QueryRow(
		`SELECT `+containerColumns+` FROM containers WHERE subdomain = ?`, subdomain,
	)
	record, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get container by subdomain %q: %w", subdomain, err)
	}
	return record, nil
}

// GetByID fetches a Container Record by its runtime container id,
// regardless of status.
func (database *Database) GetByID(id string) (*models.ContainerRecord, error) {
	row := database.connection.QueryRow(`SELECT `+containerColumns+` FROM containers WHERE id = ?`, id)
	record, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get container %q: %w", id, err)
	}
	return record, nil
}

// ListRunningBySubject returns every running Container Record owned by a
// subject, used both to answer GET /api/containers and to feed I3's
// per-subject cap check on launch.
func (database *Database) ListRunningBySubject(subjectID string) ([]*models.ContainerRecord, error) {
	rows, err := database.connection.Query(
		`SELECT `+containerColumns+` FROM containers WHERE subject_id = ? AND status = 'running' ORDER BY created_at`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list running containers for subject %q: %w", subjectID, err)
	}
	defer rows.Close()

	var records []*models.ContainerRecord
	for rows.Next() {
		record, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan container row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list running containers for subject %q: %w", subjectID, err)
	}
	return records, nil
}

// CountRunningBySubject is the same query as ListRunningBySubject but
// returns only the count, used as the cheap side of I3's gate on the
// launch hot path.
func (database *Database) CountRunningBySubject(subjectID string) (int, error) {
	var count int
	err := database.connection.QueryRow(
		`SELECT COUNT(*) FROM containers WHERE subject_id = ? AND status = 'running'`, subjectID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count running containers for subject %q: %w", subjectID, err)
	}
	return count, nil
}

// GetBySubjectExerciseRunning looks up the single running Container
// Record, if any, for a (subject, exercise) pair (I2's natural query
// shape, used by the launch policy to redirect to an already-running
// sandbox instead of launching a duplicate).
func (database *Database) GetBySubjectExerciseRunning(subjectID, exerciseID string) (*models.ContainerRecord, error) {
	row := database.connection.QueryRow(
		`SELECT `+containerColumns+` FROM containers
		 WHERE subject_id = ? AND exercise_id = ? AND status = 'running'`,
		subjectID, exerciseID,
	)
	record, err := scanContainer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get running container for subject %q exercise %q: %w", subjectID, exerciseID, err)
	}
	return record, nil
}

// ListAllRunning returns every running Container Record across all
// subjects, used by the reconciler to cross-check against the runtime's
// live container list (I4).
func (database *Database) ListAllRunning() ([]*models.ContainerRecord, error) {
	rows, err := database.connection.Query(
		`SELECT ` + containerColumns + ` FROM containers WHERE status = 'running' ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list all running containers: %w", err)
	}
	defer rows.Close()

	var records []*models.ContainerRecord
	for rows.Next() {
		record, err := scanContainer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan container row: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list all running containers: %w", err)
	}
	return records, nil
}

// PurgeStoppedOlderThan deletes terminal (stopped or completed) Container
// Records whose last_activity predates the cutoff, run periodically by
// the reconciler. Returns the number of rows removed.
func (database *Database) PurgeStoppedOlderThan(cutoff time.Time) (int64, error) {
	result, err := database.connection.Exec(
		`DELETE FROM containers WHERE status != 'running' AND last_activity < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge stopped containers: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge stopped containers: %w", err)
	}
	return affected, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
