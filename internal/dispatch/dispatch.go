package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/metrics"
	"github.com/slok/wavemig/internal/model"
)

const maxBodyBytes = 64 * 1024

// Config is the configuration of the dispatcher.
type Config struct {
	// WorkerURL is the base URL of the migration worker service.
	WorkerURL   string
	SiteID      string
	Secret      string
	WebhookURL  string
	ExtraParams map[string]string
	// ConnectTimeout bounds the connection establishment.
	ConnectTimeout time.Duration
	// RequestTimeout bounds the whole request, the worker is not awaited beyond it.
	RequestTimeout time.Duration
	// HTTPClient is built from the timeouts when missing.
	HTTPClient *http.Client
	Metrics    metrics.Recorder
	Logger     log.Logger
}

func (c *Config) defaults() error {
	if c.WorkerURL == "" {
		return fmt.Errorf("worker url is required")
	}
	if _, err := url.Parse(c.WorkerURL); err != nil {
		return fmt.Errorf("invalid worker url: %w", err)
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}

	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(c.ConnectTimeout, c.RequestTimeout)
	}

	if c.Metrics == nil {
		c.Metrics = metrics.Noop
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "dispatch.Dispatcher"})

	return nil
}

// NewHTTPClient returns a client with a connect timeout and an overall request timeout.
func NewHTTPClient(connectTimeout, requestTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext
	transport.MaxIdleConnsPerHost = 32

	return &http.Client{
		Transport: transport,
		Timeout:   requestTimeout,
	}
}

// Dispatcher sends job start requests to the worker service with bounded concurrency.
type Dispatcher struct {
	workerURL   *url.URL
	siteID      string
	secret      string
	webhookURL  string
	extraParams map[string]string
	httpClient  *http.Client
	metrics     metrics.Recorder
	logger      log.Logger
}

// NewDispatcher returns a new dispatcher.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	u, _ := url.Parse(cfg.WorkerURL)
	return &Dispatcher{
		workerURL:   u,
		siteID:      cfg.SiteID,
		secret:      cfg.Secret,
		webhookURL:  cfg.WebhookURL,
		extraParams: cfg.ExtraParams,
		httpClient:  cfg.HTTPClient,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

// DispatchBatch sends every request keeping at most limit of them outstanding (limit <= 0 is 1).
// The results are streamed in completion order and the channel is closed once every request
// has its result. Every request produces exactly one result.
func (d *Dispatcher) DispatchBatch(ctx context.Context, reqs []model.DispatchRequest, limit int) <-chan model.DispatchResult {
	if limit <= 0 {
		limit = 1
	}

	results := make(chan model.DispatchResult, len(reqs))
	sem := semaphore.NewWeighted(int64(limit))

	go func() {
		defer close(results)

		var wg sync.WaitGroup
		for i, req := range reqs {
			if err := sem.Acquire(ctx, 1); err != nil {
				for _, pending := range reqs[i:] {
					results <- failedResult(pending, fmt.Sprintf("dispatch cancelled: %s", err))
				}
				break
			}

			wg.Add(1)
			go func(req model.DispatchRequest) {
				defer wg.Done()
				defer sem.Release(1)
				defer func() {
					if r := recover(); r != nil {
						d.logger.Errorf("Dispatch of %s panicked: %v", req.SourceID, r)
						results <- failedResult(req, fmt.Sprintf("dispatch panicked: %v", r))
					}
				}()

				results <- d.dispatch(ctx, req)
			}(req)
		}

		wg.Wait()
	}()

	return results
}

// Collect drains a results channel.
func Collect(results <-chan model.DispatchResult) []model.DispatchResult {
	var all []model.DispatchResult
	for r := range results {
		all = append(all, r)
	}
	return all
}

func (d *Dispatcher) dispatch(ctx context.Context, req model.DispatchRequest) model.DispatchResult {
	logger := d.logger.WithValues(log.Kv{"source": req.SourceID, "target": req.TargetID, "wave": req.WaveID})

	d.metrics.AddDispatchInFlight(ctx, 1)
	defer d.metrics.AddDispatchInFlight(ctx, -1)
	start := time.Now()

	outcome, body := d.send(ctx, req)
	verdict := Classify(outcome)
	d.metrics.ObserveDispatch(ctx, verdict.Success, verdict.Status, time.Since(start))

	res := model.DispatchResult{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		WaveID:   req.WaveID,
		Success:  verdict.Success,
		Status:   verdict.Status,
		HTTPCode: outcome.HTTPCode,
		Body:     body,
	}

	if ack := decodeAck(body); ack != nil {
		res.Payload = ack
		if target := ackTargetID(ack); target != "" {
			res.TargetID = target
		}
	}

	if !verdict.Success {
		res.Error = fmt.Errorf("%s: %w", verdict.Reason, model.ErrDispatch).Error()
		logger.Warningf("Launch failed: %s", verdict.Reason)
		return res
	}

	logger.Debugf("Launched: %s", verdict.Reason)
	return res
}

// send does the request and returns what was observed.
func (d *Dispatcher) send(ctx context.Context, req model.DispatchRequest) (Outcome, string) {
	var established atomic.Bool
	trace := &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { established.Store(true) },
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, d.requestURL(req), nil)
	if err != nil {
		return Outcome{Err: fmt.Errorf("could not create request: %w", err)}, ""
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{
			Err:             err,
			Timeout:         isTimeout(err),
			Refused:         errors.Is(err, syscall.ECONNREFUSED),
			ConnEstablished: established.Load(),
		}, ""
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	outcome := Outcome{HTTPCode: resp.StatusCode, ConnEstablished: true}
	if err != nil {
		outcome.Err = err
		outcome.Timeout = isTimeout(err)
	}

	return outcome, string(data)
}

func (d *Dispatcher) requestURL(req model.DispatchRequest) string {
	u := *d.workerURL
	if u.Path == "" {
		u.Path = "/"
	}

	q := u.Query()
	for k, v := range d.extraParams {
		q.Set(k, v)
	}
	for k, v := range req.Params {
		q.Set(k, v)
	}
	q.Set("sourceProjectId", req.SourceID)
	q.Set("targetProjectId", req.TargetID)
	q.Set("siteId", d.siteID)
	q.Set("secret", d.secret)
	if req.WaveID != "" {
		q.Set("waveId", req.WaveID)
	}
	if d.webhookURL != "" {
		q.Set("webhookUrl", d.webhookURL)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func failedResult(req model.DispatchRequest, msg string) model.DispatchResult {
	return model.DispatchResult{
		SourceID: req.SourceID,
		TargetID: req.TargetID,
		WaveID:   req.WaveID,
		Status:   model.TaskStatusError,
		Error:    fmt.Errorf("%s: %w", msg, model.ErrDispatch).Error(),
	}
}

func decodeAck(body string) map[string]any {
	if body == "" {
		return nil
	}
	ack := map[string]any{}
	if err := json.Unmarshal([]byte(body), &ack); err != nil {
		return nil
	}
	return ack
}

func ackTargetID(ack map[string]any) string {
	for _, k := range []string{"targetProjectId", "target_project_id"} {
		switch v := ack[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
