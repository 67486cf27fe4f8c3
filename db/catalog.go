package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sasta-kro/training-orchestrator/models"
)

// ErrRecordNotFound is returned by any lookup that finds no matching row.
// Callers use errors.Is(err, db.ErrRecordNotFound) rather than comparing
// against sql.ErrNoRows directly, so the storage detail stays inside this
// package.
var ErrRecordNotFound = errors.New("record not found")

// ErrImageTagTaken is returned when inserting an exercise whose image_tag
// already belongs to another exercise.
var ErrImageTagTaken = errors.New("image tag already in use")

// scanner is satisfied by both *sql.Row and *sql.Rows, letting a single
// scan function serve both a single-row Get and a multi-row List.
type scanner interface {
	Scan(dest ...any) error
}

func scanExercise(row scanner) (*models.Exercise, error) {
	var exercise models.Exercise
	var metadata sql.NullString

	err := row.Scan(
		&exercise.ID,
		&exercise.Name,
		&exercise.Version,
		&exercise.Description,
		&exercise.Level,
		&exercise.ImageTag,
		&metadata,
		&exercise.CreatedAt,
		&exercise.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata.Valid {
		exercise.Metadata = []byte(metadata.String)
	}
	return &exercise, nil
}

const exerciseColumns = `id, name, version, description, level, image_tag, metadata, created_at, updated_at`

// InsertExercise stores a newly built exercise in the catalog. id and
// image_tag are assigned by the Image Builder before this call.
func (database *Database) InsertExercise(exercise *models.Exercise) error {
	now := time.Now().UTC()
	exercise.CreatedAt = now
	exercise.UpdatedAt = now

	_, err := database.connection.Exec(
		`INSERT INTO exercises (id, name, version, description, level, image_tag, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exercise.ID, exercise.Name, exercise.Version, exercise.Description,
		exercise.Level, exercise.ImageTag, nullableJSON(exercise.Metadata),
		exercise.CreatedAt, exercise.UpdatedAt,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return ErrImageTagTaken
		}
		return fmt.Errorf("insert exercise %q: %w", exercise.ID, err)
	}
	return nil
}

// GetExercise fetches an exercise by its catalog id.
func (database *Database) GetExercise(id string) (*models.Exercise, error) {
	row := database.connection.QueryRow(
		`SELECT `+exerciseColumns+` FROM exercises WHERE id = ?`, id,
	)
	exercise, err := scanExercise(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get exercise %q: %w", id, err)
	}
	return exercise, nil
}

// GetExerciseByTag fetches an exercise by its Docker image tag.
func (database *Database) GetExerciseByTag(imageTag string) (*models.Exercise, error) {
	row := database.connection.QueryRow(
		`SELECT `+exerciseColumns+` FROM exercises WHERE image_tag = ?`, imageTag,
	)
	exercise, err := scanExercise(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get exercise by tag %q: %w", imageTag, err)
	}
	return exercise, nil
}

// ListExercises returns every catalog entry, ordered by name.
func (database *Database) ListExercises() ([]*models.Exercise, error) {
	rows, err := database.connection.Query(`SELECT ` + exerciseColumns + ` FROM exercises ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}
	defer rows.Close()

	var exercises []*models.Exercise
	for rows.Next() {
		exercise, err := scanExercise(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exercise row: %w", err)
		}
		exercises = append(exercises, exercise)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list exercises: %w", err)
	}
	return exercises, nil
}

// UpdateExerciseMetadata replaces the description, level, and opaque
// metadata blob of an existing exercise, bumping updated_at. Name, version
// and image_tag are immutable after creation.
func (database *Database) UpdateExerciseMetadata(id string, description string, level models.ExerciseLevel, metadata []byte) error {
	result, err := database.connection.Exec(
		`UPDATE exercises SET description = ?, level = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		description, level, nullableJSON(metadata), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update exercise %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update exercise %q: %w", id, err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteExercise removes the catalog entry. The caller is responsible for
// instructing the Image Builder / Runtime Client to remove the underlying
// Docker image first; this method only removes the database row.
func (database *Database) DeleteExercise(id string) error {
	result, err := database.connection.Exec(`DELETE FROM exercises WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete exercise %q: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete exercise %q: %w", id, err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// isUniqueConstraintErr reports whether err was raised by a UNIQUE or
// partial-unique-index violation. go-sqlite3 surfaces these as
// sqlite3.Error with Code == sqlite3.ErrConstraint; matching on the
// message avoids importing the driver package here for a single string
// check the mattn/go-sqlite3 error type does not expose more cheaply
// without a type assertion in every caller.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
