package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/wavemig/internal/app/wavecreate"
	"github.com/slok/wavemig/internal/app/wavelist"
	"github.com/slok/wavemig/internal/app/wavestatus"
	"github.com/slok/wavemig/internal/model"
	storageio "github.com/slok/wavemig/internal/storage/io"
	"github.com/slok/wavemig/internal/wave"
)

// WaveCreateCommand creates a wave and runs it until all its members have been launched.
type WaveCreateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	name             string
	members          []string
	file             string
	workspaceID      string
	workspaceName    string
	concurrencyLimit int
	manual           bool
	format           string
}

// NewWaveCreateCommand returns the wave create command.
func NewWaveCreateCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *WaveCreateCommand {
	c := &WaveCreateCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("create", "Create a wave and launch its members.")
	c.Cmd.Arg("name", "Wave name.").StringVar(&c.name)
	c.Cmd.Arg("members", "Source project IDs of the wave.").StringsVar(&c.members)
	c.Cmd.Flag("file", "YAML wave definition file, flags and args override its values.").Short('f').StringVar(&c.file)
	c.Cmd.Flag("workspace-id", "Target workspace ID.").StringVar(&c.workspaceID)
	c.Cmd.Flag("workspace-name", "Target workspace name to resolve or create (defaults to the wave name).").StringVar(&c.workspaceName)
	c.Cmd.Flag("concurrency", "Maximum number of members launched at the same time.").Default("0").IntVar(&c.concurrencyLimit)
	c.Cmd.Flag("manual", "Mark the wave as manually driven.").BoolVar(&c.manual)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c WaveCreateCommand) Name() string { return c.Cmd.FullCommand() }

func (c WaveCreateCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	req, err := c.request(ctx)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	executor, err := wave.NewExecutor(wave.ExecutorConfig{Runner: eng.runner, Context: ctx, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create wave executor: %w", err)
	}

	svc, err := wavecreate.NewService(wavecreate.ServiceConfig{
		Repository:  eng.repo,
		Settings:    eng.settings,
		Provisioner: eng.provisioner,
		Executor:    executor,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	w, err := svc.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("could not create wave: %w", err)
	}

	// Wait until every member has been launched before showing the result.
	executor.Wait()

	current, err := eng.repo.GetWave(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("could not get wave: %w", err)
	}
	tasks, err := eng.repo.GetTasksForWave(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("could not get wave tasks: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintWaveDetails(*current, tasks, nil); err != nil {
		return fmt.Errorf("could not print wave: %w", err)
	}

	return nil
}

// request merges the optional wave definition file with the command line.
func (c WaveCreateCommand) request(ctx context.Context) (wavecreate.Request, error) {
	var def model.WaveDefinition
	if c.file != "" {
		abs, err := filepath.Abs(c.file)
		if err != nil {
			return wavecreate.Request{}, fmt.Errorf("could not resolve wave file path: %w", err)
		}
		repo := storageio.NewWaveYAMLRepository(os.DirFS(filepath.Dir(abs)))
		def, err = repo.GetWaveDefinition(ctx, filepath.Base(abs))
		if err != nil {
			return wavecreate.Request{}, fmt.Errorf("could not load wave file: %w", err)
		}
	}

	if c.name != "" {
		def.Name = c.name
	}
	if len(c.members) > 0 {
		def.Members = c.members
	}
	if c.workspaceID != "" {
		def.WorkspaceID = c.workspaceID
	}
	if c.workspaceName != "" {
		def.WorkspaceName = c.workspaceName
	}
	if c.concurrencyLimit > 0 {
		def.ConcurrencyLimit = c.concurrencyLimit
	}
	if c.manual {
		def.ManualMode = true
	}

	if def.Name == "" {
		return wavecreate.Request{}, fmt.Errorf("wave name is required: %w", model.ErrNotValid)
	}

	return wavecreate.Request{
		Name:             def.Name,
		WorkspaceID:      def.WorkspaceID,
		WorkspaceName:    def.WorkspaceName,
		Members:          def.Members,
		ConcurrencyLimit: def.ConcurrencyLimit,
		ManualMode:       def.ManualMode,
	}, nil
}

// WaveListCommand lists the stored waves.
type WaveListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	status string
	format string
}

// NewWaveListCommand returns the wave list command.
func NewWaveListCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *WaveListCommand {
	c := &WaveListCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("list", "List waves.").Alias("ls")
	c.Cmd.Flag("status", "Only list waves in this status.").EnumVar(&c.status,
		string(model.WaveStatusPending), string(model.WaveStatusInProgress), string(model.WaveStatusCompleted), string(model.WaveStatusError))
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c WaveListCommand) Name() string { return c.Cmd.FullCommand() }

func (c WaveListCommand) Run(ctx context.Context) error {
	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := wavelist.NewService(wavelist.ServiceConfig{
		Repository: eng.repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	waves, err := svc.Run(ctx, wavelist.Request{Status: model.WaveStatus(c.status)})
	if err != nil {
		return fmt.Errorf("could not list waves: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintWaveList(waves); err != nil {
		return fmt.Errorf("could not print waves: %w", err)
	}

	return nil
}

// WaveStatusCommand shows a wave with the live state of its members, reconciling lost tasks.
type WaveStatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	id     string
	format string
}

// NewWaveStatusCommand returns the wave status command.
func NewWaveStatusCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *WaveStatusCommand {
	c := &WaveStatusCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("status", "Get the detailed status of a wave.")
	c.Cmd.Arg("id", "Wave ID.").Required().StringVar(&c.id)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c WaveStatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c WaveStatusCommand) Run(ctx context.Context) error {
	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := wavestatus.NewService(wavestatus.ServiceConfig{
		Repository: eng.repo,
		Supervisor: eng.supervisor,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, wavestatus.Request{WaveID: c.id})
	if err != nil {
		return fmt.Errorf("could not get wave status: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintWaveDetails(resp.Wave, resp.Tasks, resp.Probes); err != nil {
		return fmt.Errorf("could not print wave: %w", err)
	}

	return nil
}
