package model

import (
	"time"
)

// ProcessLock is the claim a worker writes on disk while it owns a task. The content
// schema is informal, every field is optional.
type ProcessLock struct {
	Path       string
	PID        int
	StartedAt  *time.Time
	Stage      string
	PagesDone  *int
	PagesTotal *int
	// Fields has the raw decoded content, including unknown keys.
	Fields map[string]any
	// ModTime is the heartbeat of the worker.
	ModTime time.Time
}

// Age returns how much time passed since the last lock heartbeat.
func (l ProcessLock) Age(now time.Time) time.Duration {
	age := now.Sub(l.ModTime)
	if age < 0 {
		return 0
	}
	return age
}

// StageInfo returns the progress fields of the lock.
func (l ProcessLock) StageInfo() map[string]any {
	info := map[string]any{}
	if l.Stage != "" {
		info["stage"] = l.Stage
	}
	if l.PagesDone != nil {
		info["pages_done"] = *l.PagesDone
	}
	if l.PagesTotal != nil {
		info["pages_total"] = *l.PagesTotal
	}
	if l.StartedAt != nil {
		info["started_at"] = l.StartedAt.UTC()
	}
	return info
}
