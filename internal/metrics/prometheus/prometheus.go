package prometheus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/slok/wavemig/internal/metrics"
	"github.com/slok/wavemig/internal/model"
)

const prefix = "wavemig"

// Recorder is a Prometheus metrics recorder.
type Recorder struct {
	dispatchInFlight prometheus.Gauge
	dispatchDuration *prometheus.HistogramVec
	probes           *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

var _ metrics.Recorder = &Recorder{}

// NewRecorder creates the recorder and registers its metrics on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		dispatchInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Subsystem: "dispatch",
			Name:      "requests_in_flight",
			Help:      "The number of worker start requests being sent.",
		}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "The duration of worker start requests by outcome.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"success", "status"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "supervisor",
			Name:      "probes_total",
			Help:      "The number of worker liveness probes by verdict.",
		}, []string{"running", "rule"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: prefix,
			Subsystem: "supervisor",
			Name:      "task_transitions_total",
			Help:      "The number of task status transitions decided by the supervisor.",
		}, []string{"from", "to"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: prefix,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "The duration of the served API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "method", "code"}),
	}

	collectors := []prometheus.Collector{r.dispatchInFlight, r.dispatchDuration, r.probes, r.transitions, r.httpDuration}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("could not register metrics: %w", err)
		}
	}

	return r, nil
}

func (r *Recorder) AddDispatchInFlight(_ context.Context, delta int) {
	r.dispatchInFlight.Add(float64(delta))
}

func (r *Recorder) ObserveDispatch(_ context.Context, success bool, status model.TaskStatus, duration time.Duration) {
	r.dispatchDuration.WithLabelValues(strconv.FormatBool(success), string(status)).Observe(duration.Seconds())
}

func (r *Recorder) ObserveProbe(_ context.Context, running bool, rule string) {
	r.probes.WithLabelValues(strconv.FormatBool(running), rule).Inc()
}

func (r *Recorder) ObserveTaskTransition(_ context.Context, from, to model.TaskStatus) {
	r.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) ObserveHTTPRequest(_ context.Context, handler, method string, code int, duration time.Duration) {
	r.httpDuration.WithLabelValues(handler, method, strconv.Itoa(code)).Observe(duration.Seconds())
}
