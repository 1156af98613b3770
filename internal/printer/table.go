package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/wavemig/internal/model"
)

// TablePrinter prints wave information in a table format.
type TablePrinter struct {
	writer io.Writer
}

var _ Printer = &TablePrinter{}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintWaveList prints waves in a table format.
func (t *TablePrinter) PrintWaveList(waves []model.Wave) error {
	if len(waves) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPROGRESS\tCREATED")
	for _, w := range waves {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", w.ID, w.Name, w.Status, FormatProgress(w.Progress), TimeAgo(w.CreatedAt))
	}

	return nil
}

// PrintWaveDetails prints the wave summary followed by its tasks.
func (t *TablePrinter) PrintWaveDetails(wave model.Wave, tasks []model.MigrationTask, probes map[string]model.ProbeResult) error {
	fmt.Fprintf(t.writer, "Name:         %s\n", wave.Name)
	fmt.Fprintf(t.writer, "ID:           %s\n", wave.ID)
	fmt.Fprintf(t.writer, "Workspace:    %s\n", wave.WorkspaceID)
	fmt.Fprintf(t.writer, "Status:       %s\n", wave.Status)
	fmt.Fprintf(t.writer, "Progress:     %s\n", FormatProgress(wave.Progress))
	fmt.Fprintf(t.writer, "Concurrency:  %d\n", wave.ConcurrencyLimit)
	if wave.ManualMode {
		fmt.Fprintf(t.writer, "Manual mode:  yes\n")
	}
	fmt.Fprintf(t.writer, "Created:      %s\n", FormatTimestamp(wave.CreatedAt))
	if wave.CompletedAt != nil {
		fmt.Fprintf(t.writer, "Completed:    %s\n", FormatTimestamp(*wave.CompletedAt))
	}

	if len(tasks) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "SOURCE\tTARGET\tSTATUS\tWORKER\tLOCK AGE\tERROR")
	for _, task := range tasks {
		worker, lockAge := "-", "-"
		if p, ok := probes[task.SourceID]; ok {
			worker = formatWorker(p)
			lockAge = FormatAge(p.LockAgeSeconds)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", task.SourceID, orDash(task.TargetID), task.Status, worker, lockAge, orDash(task.Error))
	}

	return nil
}

// PrintTask prints the task state.
func (t *TablePrinter) PrintTask(task model.MigrationTask) error {
	fmt.Fprintf(t.writer, "Source:     %s\n", task.SourceID)
	fmt.Fprintf(t.writer, "Target:     %s\n", orDash(task.TargetID))
	if task.WaveID != "" {
		fmt.Fprintf(t.writer, "Wave:       %s\n", task.WaveID)
	}
	fmt.Fprintf(t.writer, "Status:     %s\n", task.Status)
	if task.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", task.Error)
	}
	if task.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(*task.StartedAt))
	}
	if task.CompletedAt != nil {
		fmt.Fprintf(t.writer, "Completed:  %s\n", FormatTimestamp(*task.CompletedAt))
	}

	return nil
}

// PrintProbe prints the worker liveness verdict.
func (t *TablePrinter) PrintProbe(probe model.ProbeResult) error {
	fmt.Fprintf(t.writer, "Worker:     %s\n", formatWorker(probe))
	fmt.Fprintf(t.writer, "Lock age:   %s\n", FormatAge(probe.LockAgeSeconds))
	fmt.Fprintf(t.writer, "Reason:     %s\n", probe.Reason)
	if probe.ShouldReconcile {
		fmt.Fprintf(t.writer, "Reconcile:  yes\n")
	}
	if stage, ok := probe.Stage["stage"]; ok {
		fmt.Fprintf(t.writer, "Stage:      %v\n", stage)
	}

	return nil
}

// PrintKill prints the kill outcome.
func (t *TablePrinter) PrintKill(res model.KillResult) error {
	if !res.Killed {
		if res.PID > 0 {
			fmt.Fprintf(t.writer, "Worker %d could not be killed\n", res.PID)
			return nil
		}
		fmt.Fprintln(t.writer, "No worker process found")
		return nil
	}

	fmt.Fprintf(t.writer, "Worker %d killed\n", res.PID)
	return nil
}

// PrintReset prints every hard reset step.
func (t *TablePrinter) PrintReset(summary model.ResetSummary) error {
	pids := make([]string, 0, len(summary.KilledPIDs))
	for _, pid := range summary.KilledPIDs {
		pids = append(pids, fmt.Sprint(pid))
	}
	killed := yesNo(summary.ProcessKilled)
	if len(pids) > 0 {
		killed += " (" + strings.Join(pids, ", ") + ")"
	}

	fmt.Fprintf(t.writer, "Process killed:  %s\n", killed)
	fmt.Fprintf(t.writer, "Lock removed:    %s\n", yesNo(summary.LockRemoved))
	fmt.Fprintf(t.writer, "Cache removed:   %s\n", yesNo(summary.CacheRemoved))
	fmt.Fprintf(t.writer, "Status reset:    %s\n", yesNo(summary.StatusReset))
	for _, e := range summary.Errors {
		fmt.Fprintf(t.writer, "Error:           %s\n", e)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func formatWorker(p model.ProbeResult) string {
	switch {
	case p.Running && p.PID > 0:
		return fmt.Sprintf("running (%d)", p.PID)
	case p.Running:
		return "running"
	case p.ShouldReconcile:
		return "gone"
	default:
		return "stopped"
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
