package storage

import (
	"context"

	"github.com/slok/wavemig/internal/model"
)

// WaveRepository is the interface for wave persistence.
type WaveRepository interface {
	// CreateWave creates the wave and one pending task per member. Creating an already
	// existing wave returns model.ErrAlreadyExists but never duplicates its tasks.
	CreateWave(ctx context.Context, w model.Wave) error
	GetWave(ctx context.Context, id string) (*model.Wave, error)
	// ListWaves returns the waves newest first.
	ListWaves(ctx context.Context) ([]model.Wave, error)
	// UpdateWaveProgress is the single entry point to mutate wave progress, it stores the
	// wave counters and the changed member states in one transaction.
	UpdateWaveProgress(ctx context.Context, u model.WaveProgressUpdate) error
}

// TaskRepository is the interface for migration task persistence.
type TaskRepository interface {
	// CreateTask creates an ad-hoc task.
	CreateTask(ctx context.Context, t model.MigrationTask) error
	GetTask(ctx context.Context, waveID, sourceID string) (*model.MigrationTask, error)
	// FindTaskByProjects returns the most recently updated task migrating source into target.
	FindTaskByProjects(ctx context.Context, sourceID, targetID string) (*model.MigrationTask, error)
	// GetTasksForWave returns exactly one task per wave member.
	GetTasksForWave(ctx context.Context, waveID string) ([]model.MigrationTask, error)
	// SetTaskStatus transitions a single task atomically.
	SetTaskStatus(ctx context.Context, u model.TaskUpdate) error
	// UpsertTaskResult merges a worker result into the task result record.
	UpsertTaskResult(ctx context.Context, r model.TaskResult) error
}

//go:generate mockery --case underscore --output storagemock --outpkg storagemock --name Repository

// Repository is the task store.
type Repository interface {
	WaveRepository
	TaskRepository
}
