package model

import (
	"fmt"
	"time"
)

// WaveStatus represents the status of a wave.
type WaveStatus string

const (
	// WaveStatusPending indicates no task of the wave has started yet.
	WaveStatusPending WaveStatus = "pending"
	// WaveStatusInProgress indicates the wave has started and not all tasks are finished.
	WaveStatusInProgress WaveStatus = "in_progress"
	// WaveStatusCompleted indicates every task finished successfully.
	WaveStatusCompleted WaveStatus = "completed"
	// WaveStatusError indicates every task finished and at least one failed.
	WaveStatusError WaveStatus = "error"
)

// IsTerminal returns true when the status can't progress anymore.
func (s WaveStatus) IsTerminal() bool {
	return s == WaveStatusCompleted || s == WaveStatusError
}

// Wave is a named batch of migration tasks dispatched and tracked together.
type Wave struct {
	ID               string
	Name             string
	WorkspaceID      string
	Members          []string // Ordered source project IDs.
	ConcurrencyLimit int
	ManualMode       bool
	Status           WaveStatus
	Progress         WaveProgress
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Validate validates the wave model.
func (w Wave) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("wave id is required: %w", ErrNotValid)
	}

	if w.Name == "" {
		return fmt.Errorf("wave name is required: %w", ErrNotValid)
	}

	if len(w.Members) == 0 {
		return fmt.Errorf("wave requires at least one member: %w", ErrNotValid)
	}

	seen := make(map[string]struct{}, len(w.Members))
	for _, m := range w.Members {
		if m == "" {
			return fmt.Errorf("wave member source id can't be empty: %w", ErrNotValid)
		}
		if _, ok := seen[m]; ok {
			return fmt.Errorf("duplicated wave member %q: %w", m, ErrNotValid)
		}
		seen[m] = struct{}{}
	}

	if w.ConcurrencyLimit < 0 {
		return fmt.Errorf("concurrency limit can't be negative: %w", ErrNotValid)
	}

	return w.Progress.Validate()
}

// WaveProgress is the aggregated task counters of a wave.
type WaveProgress struct {
	Total     int
	Completed int
	Failed    int
}

// Validate checks the counters are coherent.
func (p WaveProgress) Validate() error {
	if p.Total < 0 || p.Completed < 0 || p.Failed < 0 {
		return fmt.Errorf("progress counters can't be negative: %w", ErrNotValid)
	}

	if p.Completed+p.Failed > p.Total {
		return fmt.Errorf("completed (%d) + failed (%d) exceeds total (%d): %w", p.Completed, p.Failed, p.Total, ErrNotValid)
	}

	return nil
}

// Finished returns true when every task reached a terminal state.
func (p WaveProgress) Finished() bool {
	return p.Total > 0 && p.Completed+p.Failed == p.Total
}

// DeriveStatus returns the wave status implied by the counters. started tells
// if any task of the wave has already been started.
func (p WaveProgress) DeriveStatus(started bool) WaveStatus {
	switch {
	case p.Finished() && p.Failed == 0:
		return WaveStatusCompleted
	case p.Finished():
		return WaveStatusError
	case started || p.Completed+p.Failed > 0:
		return WaveStatusInProgress
	default:
		return WaveStatusPending
	}
}

// ProgressFromTasks computes the wave counters from the wave tasks.
func ProgressFromTasks(total int, tasks []MigrationTask) WaveProgress {
	p := WaveProgress{Total: total}
	for _, t := range tasks {
		switch t.Status {
		case TaskStatusCompleted:
			p.Completed++
		case TaskStatusError:
			p.Failed++
		}
	}

	// Never report more finished tasks than members.
	if p.Completed+p.Failed > p.Total {
		p.Total = p.Completed + p.Failed
	}

	return p
}

// PromoteStatus returns the status a stored wave should be shown with. Stored
// non terminal statuses are promoted to the terminal status the counters imply,
// terminal statuses are never regressed.
func PromoteStatus(stored WaveStatus, p WaveProgress) WaveStatus {
	if stored.IsTerminal() || !p.Finished() {
		return stored
	}

	return p.DeriveStatus(true)
}

// WaveProgressUpdate is a single progress mutation of a wave.
type WaveProgressUpdate struct {
	WaveID   string
	Progress WaveProgress
	// Members are the task states that changed with this update.
	Members []TaskUpdate
	// Status is the new wave status, nil keeps the stored one.
	Status *WaveStatus
}

// WaveDefinition is the user provided description of a wave to create.
type WaveDefinition struct {
	Name string
	// WorkspaceID is the target workspace, when empty WorkspaceName is resolved or created.
	WorkspaceID      string
	WorkspaceName    string
	Members          []string
	ConcurrencyLimit int
	ManualMode       bool
}
