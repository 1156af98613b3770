package model

// DispatchRequest is a job start request for the worker service.
type DispatchRequest struct {
	SourceID string
	TargetID string
	WaveID   string
	// Params are extra query parameters sent to the worker.
	Params map[string]string
}

// DispatchResult is the launch outcome of a single dispatch request.
type DispatchResult struct {
	SourceID string
	TargetID string
	WaveID   string
	Success  bool
	Status   TaskStatus
	// HTTPCode is 0 when no response status was observed.
	HTTPCode int
	// Body is the worker response body, kept for diagnostics.
	Body    string
	Error   string
	Payload map[string]any
}
