package model

// ProbeResult is the liveness verdict of a task worker process.
type ProbeResult struct {
	Running bool
	PID     int
	// LockAgeSeconds is nil when there is no lock.
	LockAgeSeconds *int
	Stage          map[string]any
	// ShouldReconcile is set when the worker is gone without cleaning up.
	ShouldReconcile bool
	Reason          string
}

// KillResult is the outcome of a task kill.
type KillResult struct {
	Killed bool
	PID    int
}

// ResetSummary reports each step of a hard reset, partial success is a valid outcome.
type ResetSummary struct {
	ProcessKilled bool
	KilledPIDs    []int
	LockRemoved   bool
	CacheRemoved  bool
	StatusReset   bool
	Errors        []string
}
