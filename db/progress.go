package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sasta-kro/training-orchestrator/models"
)

// GetProgress fetches a subject's progress on a single exercise.
// ErrRecordNotFound means the subject has never launched that exercise.
func (database *Database) GetProgress(subjectID, exerciseID string) (*models.Progress, error) {
	var progress models.Progress
	var completedAt sql.NullTime

	err := database.connection.QueryRow(
		`SELECT subject_id, exercise_id, status, attempts, completed_at
		 FROM progress WHERE subject_id = ? AND exercise_id = ?`,
		subjectID, exerciseID,
	).Scan(&progress.SubjectID, &progress.ExerciseID, &progress.Status, &progress.Attempts, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get progress for subject %q exercise %q: %w", subjectID, exerciseID, err)
	}
	if completedAt.Valid {
		progress.CompletedAt = &completedAt.Time
	}
	return &progress, nil
}

// ListProgressBySubject returns every progress row for a subject, used to
// enrich the exercise catalog with per-subject status/attempts on
// GET /api/exercises (spec §6.1).
func (database *Database) ListProgressBySubject(subjectID string) (map[string]*models.Progress, error) {
	rows, err := database.connection.Query(
		`SELECT subject_id, exercise_id, status, attempts, completed_at FROM progress WHERE subject_id = ?`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list progress for subject %q: %w", subjectID, err)
	}
	defer rows.Close()

	byExercise := make(map[string]*models.Progress)
	for rows.Next() {
		var progress models.Progress
		var completedAt sql.NullTime
		if err := rows.Scan(&progress.SubjectID, &progress.ExerciseID, &progress.Status, &progress.Attempts, &completedAt); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		if completedAt.Valid {
			progress.CompletedAt = &completedAt.Time
		}
		byExercise[progress.ExerciseID] = &progress
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list progress for subject %q: %w", subjectID, err)
	}
	return byExercise, nil
}

// RecordAttempt upserts the progress row on launch (spec §6.3): a first
// launch inserts attempts=1, status=in_progress; a relaunch, including one
// after a prior completion, increments attempts and resets status back to
// in_progress.
func (database *Database) RecordAttempt(subjectID, exerciseID string) error {
	_, err := database.connection.Exec(
		`INSERT INTO progress (subject_id, exercise_id, status, attempts)
		 VALUES (?, ?, ?, 1)
		 ON CONFLICT (subject_id, exercise_id) DO UPDATE SET status = excluded.status, attempts = attempts + 1`,
		subjectID, exerciseID, models.ProgressInProgress,
	)
	if err != nil {
		return fmt.Errorf("record attempt for subject %q exercise %q: %w", subjectID, exerciseID, err)
	}
	return nil
}

// RecordCompletion upserts the progress row to completed, called by the
// progress collaborator contract's completion callback (spec §6.3). A
// completion for an exercise never before launched still creates the row,
// with attempts set to 1.
func (database *Database) RecordCompletion(subjectID, exerciseID string) error {
	now := time.Now().UTC()
	_, err := database.connection.Exec(
		`INSERT INTO progress (subject_id, exercise_id, status, attempts, completed_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT (subject_id, exercise_id) DO UPDATE SET status = excluded.status, completed_at = excluded.completed_at`,
		subjectID, exerciseID, models.ProgressCompleted, now,
	)
	if err != nil {
		return fmt.Errorf("record completion for subject %q exercise %q: %w", subjectID, exerciseID, err)
	}
	return nil
}
