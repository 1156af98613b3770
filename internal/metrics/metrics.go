package metrics

import (
	"context"
	"time"

	"github.com/slok/wavemig/internal/model"
)

// Recorder knows how to record the engine metrics.
type Recorder interface {
	// AddDispatchInFlight adds delta to the number of outstanding worker start requests.
	AddDispatchInFlight(ctx context.Context, delta int)
	ObserveDispatch(ctx context.Context, success bool, status model.TaskStatus, duration time.Duration)
	// ObserveProbe records a liveness verdict, rule is the ladder step that decided it.
	ObserveProbe(ctx context.Context, running bool, rule string)
	ObserveTaskTransition(ctx context.Context, from, to model.TaskStatus)
	// ObserveHTTPRequest records a served API request, handler is the route pattern.
	ObserveHTTPRequest(ctx context.Context, handler, method string, code int, duration time.Duration)
}

// Noop is a Recorder that doesn't record anything.
const Noop = noop(0)

type noop int

var _ Recorder = Noop

func (noop) AddDispatchInFlight(context.Context, int)                                  {}
func (noop) ObserveDispatch(context.Context, bool, model.TaskStatus, time.Duration)    {}
func (noop) ObserveProbe(context.Context, bool, string)                                {}
func (noop) ObserveTaskTransition(context.Context, model.TaskStatus, model.TaskStatus) {}
func (noop) ObserveHTTPRequest(context.Context, string, string, int, time.Duration)    {}
