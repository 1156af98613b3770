package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/wavemig/internal/model"
)

// JSONPrinter prints wave information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

var _ Printer = &JSONPrinter{}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type progressOutput struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type waveOutput struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	WorkspaceID      string         `json:"workspace_id"`
	Members          []string       `json:"members,omitempty"`
	ConcurrencyLimit int            `json:"concurrency_limit"`
	ManualMode       bool           `json:"manual_mode"`
	Status           string         `json:"status"`
	Progress         progressOutput `json:"progress"`
	CreatedAt        time.Time      `json:"created_at"`
	CompletedAt      *time.Time     `json:"completed_at"`
}

type probeOutput struct {
	Running         bool           `json:"running"`
	PID             int            `json:"pid"`
	LockAgeSeconds  *int           `json:"lock_age_seconds"`
	Stage           map[string]any `json:"stage,omitempty"`
	ShouldReconcile bool           `json:"should_reconcile"`
	Reason          string         `json:"reason"`
}

type taskOutput struct {
	SourceID    string         `json:"source_id"`
	TargetID    string         `json:"target_id"`
	WaveID      string         `json:"wave_id,omitempty"`
	Status      string         `json:"status"`
	Error       string         `json:"error,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	StartedAt   *time.Time     `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Probe       *probeOutput   `json:"probe,omitempty"`
}

type waveDetailsOutput struct {
	waveOutput
	Tasks []taskOutput `json:"tasks"`
}

type killOutput struct {
	Killed bool `json:"killed"`
	PID    int  `json:"pid"`
}

type resetOutput struct {
	ProcessKilled bool     `json:"process_killed"`
	KilledPIDs    []int    `json:"killed_pids"`
	LockRemoved   bool     `json:"lock_removed"`
	CacheRemoved  bool     `json:"cache_removed"`
	StatusReset   bool     `json:"status_reset"`
	Errors        []string `json:"errors"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintWaveList prints waves in JSON format without their members.
func (j *JSONPrinter) PrintWaveList(waves []model.Wave) error {
	items := make([]waveOutput, len(waves))
	for i, w := range waves {
		items[i] = mapWave(w)
		items[i].Members = nil
	}

	return j.encode(items)
}

// PrintWaveDetails prints the wave with its tasks in JSON format.
func (j *JSONPrinter) PrintWaveDetails(wave model.Wave, tasks []model.MigrationTask, probes map[string]model.ProbeResult) error {
	output := waveDetailsOutput{
		waveOutput: mapWave(wave),
		Tasks:      make([]taskOutput, 0, len(tasks)),
	}
	for _, t := range tasks {
		to := mapTask(t)
		if p, ok := probes[t.SourceID]; ok {
			po := mapProbe(p)
			to.Probe = &po
		}
		output.Tasks = append(output.Tasks, to)
	}

	return j.encode(output)
}

// PrintTask prints the task in JSON format.
func (j *JSONPrinter) PrintTask(task model.MigrationTask) error {
	return j.encode(mapTask(task))
}

// PrintProbe prints the probe verdict in JSON format.
func (j *JSONPrinter) PrintProbe(probe model.ProbeResult) error {
	return j.encode(mapProbe(probe))
}

// PrintKill prints the kill outcome in JSON format.
func (j *JSONPrinter) PrintKill(res model.KillResult) error {
	return j.encode(killOutput{Killed: res.Killed, PID: res.PID})
}

// PrintReset prints the hard reset summary in JSON format.
func (j *JSONPrinter) PrintReset(summary model.ResetSummary) error {
	output := resetOutput{
		ProcessKilled: summary.ProcessKilled,
		KilledPIDs:    summary.KilledPIDs,
		LockRemoved:   summary.LockRemoved,
		CacheRemoved:  summary.CacheRemoved,
		StatusReset:   summary.StatusReset,
		Errors:        summary.Errors,
	}
	if output.KilledPIDs == nil {
		output.KilledPIDs = []int{}
	}
	if output.Errors == nil {
		output.Errors = []string{}
	}

	return j.encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func mapWave(w model.Wave) waveOutput {
	return waveOutput{
		ID:               w.ID,
		Name:             w.Name,
		WorkspaceID:      w.WorkspaceID,
		Members:          w.Members,
		ConcurrencyLimit: w.ConcurrencyLimit,
		ManualMode:       w.ManualMode,
		Status:           string(w.Status),
		Progress:         progressOutput(w.Progress),
		CreatedAt:        w.CreatedAt.UTC(),
		CompletedAt:      utcPtr(w.CompletedAt),
	}
}

func mapTask(t model.MigrationTask) taskOutput {
	return taskOutput{
		SourceID:    t.SourceID,
		TargetID:    t.TargetID,
		WaveID:      t.WaveID,
		Status:      string(t.Status),
		Error:       t.Error,
		Result:      t.Result,
		StartedAt:   utcPtr(t.StartedAt),
		CompletedAt: utcPtr(t.CompletedAt),
	}
}

func mapProbe(p model.ProbeResult) probeOutput {
	return probeOutput{
		Running:         p.Running,
		PID:             p.PID,
		LockAgeSeconds:  p.LockAgeSeconds,
		Stage:           p.Stage,
		ShouldReconcile: p.ShouldReconcile,
		Reason:          p.Reason,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
