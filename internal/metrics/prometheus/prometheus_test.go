package prometheus_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metricsprometheus "github.com/slok/wavemig/internal/metrics/prometheus"
	"github.com/slok/wavemig/internal/model"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()

	rec, err := metricsprometheus.NewRecorder(reg)
	require.NoError(t, err)

	rec.AddDispatchInFlight(ctx, 1)
	rec.AddDispatchInFlight(ctx, 1)
	rec.AddDispatchInFlight(ctx, -1)
	rec.ObserveDispatch(ctx, true, model.TaskStatusInProgress, 200*time.Millisecond)
	rec.ObserveProbe(ctx, false, "no-lock")
	rec.ObserveProbe(ctx, false, "no-lock")
	rec.ObserveTaskTransition(ctx, model.TaskStatusInProgress, model.TaskStatusError)
	rec.ObserveHTTPRequest(ctx, "GET /api/v1/waves", "GET", 200, 10*time.Millisecond)
	rec.ObserveHTTPRequest(ctx, "GET /api/v1/waves/{id}", "GET", 404, 10*time.Millisecond)

	expected := `
# HELP wavemig_dispatch_requests_in_flight The number of worker start requests being sent.
# TYPE wavemig_dispatch_requests_in_flight gauge
wavemig_dispatch_requests_in_flight 1
# HELP wavemig_supervisor_probes_total The number of worker liveness probes by verdict.
# TYPE wavemig_supervisor_probes_total counter
wavemig_supervisor_probes_total{rule="no-lock",running="false"} 2
# HELP wavemig_supervisor_task_transitions_total The number of task status transitions decided by the supervisor.
# TYPE wavemig_supervisor_task_transitions_total counter
wavemig_supervisor_task_transitions_total{from="in_progress",to="error"} 1
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"wavemig_dispatch_requests_in_flight",
		"wavemig_supervisor_probes_total",
		"wavemig_supervisor_task_transitions_total",
	)
	assert.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(reg, "wavemig_dispatch_request_duration_seconds"))
	assert.Equal(t, 2, testutil.CollectAndCount(reg, "wavemig_http_request_duration_seconds"))

	// Registering twice on the same registry fails.
	_, err = metricsprometheus.NewRecorder(reg)
	assert.Error(t, err)
}
