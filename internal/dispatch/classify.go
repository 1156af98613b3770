package dispatch

import (
	"fmt"
	"net/http"

	"github.com/slok/wavemig/internal/model"
)

// Outcome is what was observed while sending a single start request.
type Outcome struct {
	// HTTPCode is 0 when no response status was received.
	HTTPCode int
	Err      error
	// Timeout is set when Err is a client timeout.
	Timeout bool
	// ConnEstablished is set when a connection to the worker was obtained.
	ConnEstablished bool
	// Refused is set when the worker explicitly refused the connection.
	Refused bool
}

// Classification is the launch verdict of an Outcome.
type Classification struct {
	Success bool
	Status  model.TaskStatus
	Reason  string
}

// Classify decides if a start request launched the worker. The worker acknowledges and detaches,
// so timeouts are launches unless the connection was explicitly refused.
func Classify(o Outcome) Classification {
	if o.Err == nil {
		if o.HTTPCode == http.StatusOK || o.HTTPCode == http.StatusAccepted {
			return Classification{Success: true, Status: model.TaskStatusInProgress, Reason: "worker acknowledged the launch"}
		}
		return Classification{Status: model.TaskStatusError, Reason: fmt.Sprintf("worker returned HTTP %d", o.HTTPCode)}
	}

	if o.Timeout {
		if o.ConnEstablished || o.HTTPCode != 0 {
			return Classification{Success: true, Status: model.TaskStatusInProgress, Reason: "timeout is expected for fire-and-forget launches"}
		}
		if !o.Refused {
			return Classification{Success: true, Status: model.TaskStatusInProgress, Reason: "request timed out, the connection may have been accepted"}
		}
	}

	return Classification{Status: model.TaskStatusError, Reason: fmt.Sprintf("could not reach worker: %s", o.Err)}
}
