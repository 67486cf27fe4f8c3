// Package models defines the data structures shared across the orchestrator.
// It has no imports from other internal packages, making it the foundation
// of the dependency graph: db, imagebuilder, lifecycle, proxy, and
// handlers all import from here, never the reverse.
package models

import (
	"encoding/json"
	"time"
)

// ExerciseLevel constrains the difficulty field of an Exercise to one of
// three legal values. A named string type rather than a plain string means
// the compiler (and the validation layer) can reject anything else.
type ExerciseLevel string

const (
	LevelBeginner     ExerciseLevel = "beginner"
	LevelIntermediate ExerciseLevel = "intermediate"
	LevelAdvanced     ExerciseLevel = "advanced"
)

// ContainerStatus is the lifecycle state of a Container Record.
// Status is monotone (I5): running -> (stopped | completed), never back.
type ContainerStatus string

const (
	StatusRunning   ContainerStatus = "running"
	StatusStopped   ContainerStatus = "stopped"
	StatusCompleted ContainerStatus = "completed"
)

// ProgressStatus tracks a subject's progress on a single exercise,
// upserted by the progress collaborator contract (spec §6.3).
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
)

// StopReason records why a running container left the running state.
// Carried on the container.stopped event (spec §6.5).
type StopReason string

const (
	ReasonUser     StopReason = "user"
	ReasonAdmin    StopReason = "admin"
	ReasonIdle     StopReason = "idle"
	ReasonLifetime StopReason = "lifetime"
	ReasonOrphan   StopReason = "orphan"
	ReasonShutdown StopReason = "shutdown"
)

// Exercise is the catalog entry for a buildable training image.
// Maps 1:1 to the exercises table (Catalog Store, component B).
type Exercise struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Version     string `json:"version" db:"version"`
	Description string `json:"description" db:"description"`

	// Level is one of beginner/intermediate/advanced. Validated case-
	// insensitively at bundle-upload time, stored lowercased.
	Level ExerciseLevel `json:"level" db:"level"`

	// ImageTag is the Docker image tag produced by the Image Builder,
	// e.g. "training/linux-basics:latest". Immutable after creation.
	ImageTag string `json:"image_tag" db:"image_tag"`

	// Metadata is the bundle's whole metadata.json, including the four
	// interpreted fields (title, version, description, level). Unknown
	// keys round-trip verbatim through json.RawMessage rather than being
	// typed out.
	Metadata json.RawMessage `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ExerciseSummary is an Exercise enriched with a subject's progress,
// returned by GET /api/exercises (spec §6.1).
type ExerciseSummary struct {
	Exercise
	Status   ProgressStatus `json:"status"`
	Attempts int            `json:"attempts"`
}

// ContainerRecord is the authoritative row for a live or recently-live
// sandbox container. Maps 1:1 to the containers table (Container
// Registry, component D).
type ContainerRecord struct {
	// ID is the opaque container id assigned by the runtime, primary key.
	ID string `json:"container_id" db:"id"`

	ExerciseID string `json:"exercise_id" db:"exercise_id"`
	SubjectID  string `json:"subject_id" db:"subject_id"`

	// Subdomain is a UUIDv4, allocated at insert, the stable external
	// identity of the sandbox for its entire life (I1: unique across all
	// non-purged records).
	Subdomain string `json:"subdomain" db:"subdomain"`

	Status ContainerStatus `json:"status" db:"status"`

	// HostPort is present iff status has ever been running (I6).
	HostPort string `json:"host_port,omitempty" db:"host_port"`

	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	LastActivity time.Time `json:"last_activity" db:"last_activity"`
}

// Progress is the upserted (subject, exercise) -> outcome row driven by
// the progress collaborator contract (spec §6.3).
type Progress struct {
	SubjectID   string         `json:"subject_id" db:"subject_id"`
	ExerciseID  string         `json:"exercise_id" db:"exercise_id"`
	Status      ProgressStatus `json:"status" db:"status"`
	Attempts    int            `json:"attempts" db:"attempts"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// Event is a single append-only Event Journal entry (component H).
// Attributes is stored as a JSON-encoded blob; kinds are listed in spec §6.5.
type Event struct {
	ID         int64           `json:"id" db:"id"`
	Kind       string          `json:"kind" db:"kind"`
	SubjectID  string          `json:"subject_id,omitempty" db:"subject_id"`
	TargetID   string          `json:"target_id,omitempty" db:"target_id"`
	Attributes json.RawMessage `json:"attributes,omitempty" db:"attributes"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}
