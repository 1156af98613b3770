package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slok/wavemig/internal/model"
)

const maxBodyBytes = 1 << 20

type progressJSON struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type waveJSON struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	WorkspaceID      string       `json:"workspace_id"`
	Members          []string     `json:"members"`
	ConcurrencyLimit int          `json:"concurrency_limit"`
	ManualMode       bool         `json:"manual_mode"`
	Status           string       `json:"status"`
	Progress         progressJSON `json:"progress"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty"`
}

type probeJSON struct {
	Running         bool           `json:"running"`
	PID             int            `json:"pid,omitempty"`
	LockAgeSeconds  *int           `json:"lock_age_seconds"`
	Stage           map[string]any `json:"stage,omitempty"`
	ShouldReconcile bool           `json:"should_reconcile"`
	Reason          string         `json:"reason"`
}

type taskJSON struct {
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	WaveID      string         `json:"wave_id,omitempty"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Probe       *probeJSON     `json:"probe,omitempty"`
}

type waveDetailsJSON struct {
	Wave  waveJSON   `json:"wave"`
	Tasks []taskJSON `json:"tasks"`
}

type restartJSON struct {
	Wave waveJSON `json:"wave"`
	Task taskJSON `json:"task"`
}

type killJSON struct {
	Killed bool `json:"killed"`
	PID    int  `json:"pid,omitempty"`
}

type resetJSON struct {
	ProcessKilled bool     `json:"process_killed"`
	KilledPIDs    []int    `json:"killed_pids"`
	LockRemoved   bool     `json:"lock_removed"`
	CacheRemoved  bool     `json:"cache_removed"`
	StatusReset   bool     `json:"status_reset"`
	Errors        []string `json:"errors"`
}

type resultJSON struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id,omitempty"`
	WaveID   string `json:"wave_id,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type errorJSON struct {
	Error string `json:"error"`
}

type createWaveRequestJSON struct {
	Name             string   `json:"name"`
	WorkspaceID      string   `json:"workspace_id"`
	WorkspaceName    string   `json:"workspace_name"`
	Members          []string `json:"members"`
	ConcurrencyLimit int      `json:"concurrency_limit"`
	ManualMode       bool     `json:"manual_mode"`
}

type launchTaskRequestJSON struct {
	SourceID    string            `json:"source_id"`
	TargetID    string            `json:"target_id"`
	WorkspaceID string            `json:"workspace_id"`
	Params      map[string]string `json:"params"`
}

func mapWaveToJSON(w model.Wave) waveJSON {
	return waveJSON{
		ID:               w.ID,
		Name:             w.Name,
		WorkspaceID:      w.WorkspaceID,
		Members:          w.Members,
		ConcurrencyLimit: w.ConcurrencyLimit,
		ManualMode:       w.ManualMode,
		Status:           string(w.Status),
		Progress:         progressJSON(w.Progress),
		CreatedAt:        w.CreatedAt,
		UpdatedAt:        w.UpdatedAt,
		CompletedAt:      w.CompletedAt,
	}
}

func mapTaskToJSON(t model.MigrationTask) taskJSON {
	return taskJSON{
		SourceID:    t.SourceID,
		TargetID:    t.TargetID,
		WaveID:      t.WaveID,
		Status:      string(t.Status),
		Error:       t.Error,
		Result:      t.Result,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func mapProbeToJSON(p model.ProbeResult) probeJSON {
	return probeJSON{
		Running:         p.Running,
		PID:             p.PID,
		LockAgeSeconds:  p.LockAgeSeconds,
		Stage:           p.Stage,
		ShouldReconcile: p.ShouldReconcile,
		Reason:          p.Reason,
	}
}

func mapResetToJSON(r model.ResetSummary) resetJSON {
	j := resetJSON{
		ProcessKilled: r.ProcessKilled,
		KilledPIDs:    r.KilledPIDs,
		LockRemoved:   r.LockRemoved,
		CacheRemoved:  r.CacheRemoved,
		StatusReset:   r.StatusReset,
		Errors:        r.Errors,
	}
	if j.KilledPIDs == nil {
		j.KilledPIDs = []int{}
	}
	if j.Errors == nil {
		j.Errors = []string{}
	}
	return j
}

// decodeBody decodes the JSON request body into v, an empty body is valid when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %s: %w", err, model.ErrNotValid)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warningf("Could not write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		s.logger.Errorf("%s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.writeJSON(w, code, errorJSON{Error: err.Error()})
}
