package printer

import "github.com/slok/wavemig/internal/model"

// Printer knows how to print waves and tasks in different formats.
type Printer interface {
	PrintWaveList(waves []model.Wave) error
	// PrintWaveDetails prints the wave with its tasks, probes are indexed by task source ID.
	PrintWaveDetails(wave model.Wave, tasks []model.MigrationTask, probes map[string]model.ProbeResult) error
	PrintTask(task model.MigrationTask) error
	PrintProbe(probe model.ProbeResult) error
	PrintKill(res model.KillResult) error
	PrintReset(summary model.ResetSummary) error
	PrintMessage(msg string) error
}
