package model

import (
	"fmt"
	"time"
)

// TaskStatus represents the state of a migration task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusError      TaskStatus = "error"
)

// IsTerminal returns true when the task finished.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusError
}

// Valid returns true if the status is a known one.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusError:
		return true
	}
	return false
}

// MigrationTask is one unit of work migrating a single source project to a single target project.
type MigrationTask struct {
	SourceID string
	// TargetID is empty until the target project is provisioned, once set it never changes.
	TargetID string
	// WaveID is empty for ad-hoc tasks.
	WaveID      string
	Status      TaskStatus
	Error       string
	Result      map[string]any
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// Validate validates the task model.
func (t MigrationTask) Validate() error {
	if t.SourceID == "" {
		return fmt.Errorf("source id is required: %w", ErrNotValid)
	}

	if !t.Status.Valid() {
		return fmt.Errorf("unknown task status %q: %w", t.Status, ErrNotValid)
	}

	return nil
}

// TaskUpdate is a status transition of a single task.
type TaskUpdate struct {
	SourceID string
	WaveID   string
	// TargetID is only set when provisioned, empty keeps the stored one.
	TargetID string
	Status   TaskStatus
	Error    string
	// Result replaces the stored result payload when not nil.
	Result map[string]any
	// FromStatus, when set, only applies the update if the stored status is still this one.
	FromStatus TaskStatus
}

// TaskResult is the last known worker response for a task.
type TaskResult struct {
	SourceID string
	TargetID string
	WaveID   string
	Status   TaskStatus
	Error    string
	Payload  map[string]any
}
