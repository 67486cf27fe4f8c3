package db

import (
	"database/sql"
	"fmt"

	"github.com/sasta-kro/training-orchestrator/models"
)

// maxEventPageSize caps a single read of the Event Journal (spec §4.H);
// callers wanting more history must page with before-id rather than
// raising this constant.
const maxEventPageSize = 1000

// AppendEvent inserts a single append-only journal entry. The journal
// never updates or deletes rows outside of this package; callers only
// ever append and read.
func (database *Database) AppendEvent(event *models.Event) error {
	result, err := database.connection.Exec(
		`INSERT INTO events (kind, subject_id, target_id, attributes) VALUES (?, ?, ?, ?)`,
		event.Kind, nullableString(event.SubjectID), nullableString(event.TargetID), nullableJSON(event.Attributes),
	)
	if err != nil {
		return fmt.Errorf("append event %q: %w", event.Kind, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("append event %q: %w", event.Kind, err)
	}
	event.ID = id
	return nil
}

// ListEvents returns up to limit events, newest first, optionally
// restricted to entries older than beforeID (beforeID == 0 means start
// from the newest entry). limit is clamped to maxEventPageSize.
func (database *Database) ListEvents(beforeID int64, limit int) ([]*models.Event, error) {
	if limit <= 0 || limit > maxEventPageSize {
		limit = maxEventPageSize
	}

	var rows *sql.Rows
	var err error
	if beforeID > 0 {
		rows, err = database.connection.Query(
			`SELECT id, kind, subject_id, target_id, attributes, created_at
			 FROM events WHERE id < ? ORDER BY id DESC LIMIT ?`,
			beforeID, limit,
		)
	} else {
		rows, err = database.connection.Query(
			`SELECT id, kind, subject_id, target_id, attributes, created_at
			 FROM events ORDER BY id DESC LIMIT ?`,
			limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var event models.Event
		var subjectID, targetID, attributes sql.NullString
		if err := rows.Scan(&event.ID, &event.Kind, &subjectID, &targetID, &attributes, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		event.SubjectID = subjectID.String
		event.TargetID = targetID.String
		if attributes.Valid {
			event.Attributes = []byte(attributes.String)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
