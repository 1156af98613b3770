package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wavemig/internal/dispatch"
	"github.com/slok/wavemig/internal/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := map[string]struct {
		outcome    dispatch.Outcome
		expSuccess bool
		expStatus  model.TaskStatus
	}{
		"HTTP 200 is a launch.": {
			outcome:    dispatch.Outcome{HTTPCode: 200},
			expSuccess: true,
			expStatus:  model.TaskStatusInProgress,
		},

		"HTTP 202 is a launch.": {
			outcome:    dispatch.Outcome{HTTPCode: 202},
			expSuccess: true,
			expStatus:  model.TaskStatusInProgress,
		},

		"Other HTTP codes are failures.": {
			outcome:   dispatch.Outcome{HTTPCode: 500},
			expStatus: model.TaskStatusError,
		},

		"HTTP 204 is a failure.": {
			outcome:   dispatch.Outcome{HTTPCode: 204},
			expStatus: model.TaskStatusError,
		},

		"A timeout after an HTTP code was observed is a launch.": {
			outcome:    dispatch.Outcome{HTTPCode: 500, Err: timeoutErr{}, Timeout: true},
			expSuccess: true,
			expStatus:  model.TaskStatusInProgress,
		},

		"A timeout with an established connection is a launch.": {
			outcome:    dispatch.Outcome{Err: timeoutErr{}, Timeout: true, ConnEstablished: true},
			expSuccess: true,
			expStatus:  model.TaskStatusInProgress,
		},

		"A timeout without any response nor refusal is an optimistic launch.": {
			outcome:    dispatch.Outcome{Err: timeoutErr{}, Timeout: true},
			expSuccess: true,
			expStatus:  model.TaskStatusInProgress,
		},

		"A timeout with an explicit refusal is a failure.": {
			outcome:   dispatch.Outcome{Err: syscall.ECONNREFUSED, Timeout: true, Refused: true},
			expStatus: model.TaskStatusError,
		},

		"A connection refused is a failure.": {
			outcome:   dispatch.Outcome{Err: syscall.ECONNREFUSED, Refused: true},
			expStatus: model.TaskStatusError,
		},

		"Other network errors are failures.": {
			outcome:   dispatch.Outcome{Err: errors.New("no such host")},
			expStatus: model.TaskStatusError,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := dispatch.Classify(test.outcome)
			assert.Equal(t, test.expSuccess, got.Success)
			assert.Equal(t, test.expStatus, got.Status)
			assert.NotEmpty(t, got.Reason)
		})
	}
}

func newDispatcher(t *testing.T, url string, requestTimeout time.Duration) *dispatch.Dispatcher {
	d, err := dispatch.NewDispatcher(dispatch.Config{
		WorkerURL:      url,
		SiteID:         "site-1",
		Secret:         "s3cr3t",
		WebhookURL:     "http://me/api/v1/webhook/result",
		ExtraParams:    map[string]string{"mode": "full"},
		ConnectTimeout: time.Second,
		RequestTimeout: requestTimeout,
	})
	require.NoError(t, err)
	return d
}

func requests(n int) []model.DispatchRequest {
	reqs := make([]model.DispatchRequest, 0, n)
	for i := 0; i < n; i++ {
		reqs = append(reqs, model.DispatchRequest{SourceID: fmt.Sprintf("src-%d", i), TargetID: fmt.Sprintf("tgt-%d", i), WaveID: "w1"})
	}
	return reqs
}

func TestDispatchBatchConcurrencyBound(t *testing.T) {
	tests := map[string]struct {
		n        int
		limit    int
		expLimit int64
	}{
		"The limit should bound the outstanding requests.": {n: 12, limit: 3, expLimit: 3},
		"A zero limit should be one.":                      {n: 4, limit: 0, expLimit: 1},
		"A limit bigger than the batch should be fine.":    {n: 3, limit: 10, expLimit: 3},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var inFlight, maxInFlight int64
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				cur := atomic.AddInt64(&inFlight, 1)
				defer atomic.AddInt64(&inFlight, -1)
				for {
					old := atomic.LoadInt64(&maxInFlight)
					if cur <= old || atomic.CompareAndSwapInt64(&maxInFlight, old, cur) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				w.WriteHeader(http.StatusAccepted)
			}))
			defer srv.Close()

			d := newDispatcher(t, srv.URL, 5*time.Second)
			results := dispatch.Collect(d.DispatchBatch(context.Background(), requests(test.n), test.limit))

			require.Len(t, results, test.n)
			assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), test.expLimit)

			var got []string
			for _, r := range results {
				assert.True(t, r.Success)
				assert.Equal(t, model.TaskStatusInProgress, r.Status)
				got = append(got, r.SourceID)
			}
			var exp []string
			for _, r := range requests(test.n) {
				exp = append(exp, r.SourceID)
			}
			sort.Strings(got)
			sort.Strings(exp)
			assert.Equal(t, exp, got)
		})
	}
}

func TestDispatchBatchOutcomes(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch q.Get("sourceProjectId") {
		case "ack":
			assert.Equal(t, "tgt", q.Get("targetProjectId"))
			assert.Equal(t, "site-1", q.Get("siteId"))
			assert.Equal(t, "s3cr3t", q.Get("secret"))
			assert.Equal(t, "w1", q.Get("waveId"))
			assert.Equal(t, "http://me/api/v1/webhook/result", q.Get("webhookUrl"))
			assert.Equal(t, "full", q.Get("mode"))
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"target_project_id": "tgt-from-ack", "queued": true}`))
		case "fail":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("boom"))
		case "slow":
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}
	}))
	defer srv.Close()

	d := newDispatcher(t, srv.URL, 200*time.Millisecond)
	reqs := []model.DispatchRequest{
		{SourceID: "ack", TargetID: "tgt", WaveID: "w1"},
		{SourceID: "fail", TargetID: "tgt", WaveID: "w1"},
		{SourceID: "slow", TargetID: "tgt", WaveID: "w1"},
	}
	results := map[string]model.DispatchResult{}
	for r := range d.DispatchBatch(context.Background(), reqs, 3) {
		results[r.SourceID] = r
	}
	require.Len(t, results, 3)

	ack := results["ack"]
	assert.True(t, ack.Success)
	assert.Equal(t, model.TaskStatusInProgress, ack.Status)
	assert.Equal(t, "tgt-from-ack", ack.TargetID)
	assert.Equal(t, 202, ack.HTTPCode)
	assert.Equal(t, true, ack.Payload["queued"])

	fail := results["fail"]
	assert.False(t, fail.Success)
	assert.Equal(t, model.TaskStatusError, fail.Status)
	assert.Equal(t, "boom", fail.Body)
	assert.Equal(t, "tgt", fail.TargetID)
	assert.Contains(t, fail.Error, "HTTP 500")

	slow := results["slow"]
	assert.True(t, slow.Success)
	assert.Equal(t, model.TaskStatusInProgress, slow.Status)
	assert.Empty(t, slow.Error)
}

func TestDispatchBatchConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := newDispatcher(t, url, time.Second)
	results := dispatch.Collect(d.DispatchBatch(context.Background(), requests(2), 2))

	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.Equal(t, model.TaskStatusError, r.Status)
		assert.NotEmpty(t, r.Error)
	}
}

func TestDispatchBatchCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := newDispatcher(t, srv.URL, time.Second)
	results := dispatch.Collect(d.DispatchBatch(ctx, requests(5), 2))

	require.Len(t, results, 5)
	for _, r := range results {
		assert.Equal(t, model.TaskStatusError, r.Status)
	}
}
