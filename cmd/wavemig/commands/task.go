package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/wavemig/internal/app/taskkill"
	"github.com/slok/wavemig/internal/app/tasklaunch"
	"github.com/slok/wavemig/internal/app/taskprobe"
	"github.com/slok/wavemig/internal/app/taskreset"
	"github.com/slok/wavemig/internal/app/taskrestart"
	"github.com/slok/wavemig/internal/model"
)

// TaskRestartCommand relaunches a single wave member.
type TaskRestartCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	waveID   string
	sourceID string
	format   string
}

// NewTaskRestartCommand returns the task restart command.
func NewTaskRestartCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskRestartCommand {
	c := &TaskRestartCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("restart", "Relaunch a wave member reusing its target project.")
	c.Cmd.Arg("wave-id", "Wave ID.").Required().StringVar(&c.waveID)
	c.Cmd.Arg("source-id", "Source project ID.").Required().StringVar(&c.sourceID)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskRestartCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskRestartCommand) Run(ctx context.Context) error {
	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := taskrestart.NewService(taskrestart.ServiceConfig{
		Repository: eng.repo,
		Supervisor: eng.supervisor,
		Runner:     eng.runner,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, taskrestart.Request{WaveID: c.waveID, SourceID: c.sourceID})
	if err != nil {
		return fmt.Errorf("could not restart task: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintTask(resp.Task); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	return nil
}

// TaskLaunchCommand launches a single migration outside any wave.
type TaskLaunchCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	sourceID    string
	targetID    string
	workspaceID string
	params      []string
	format      string
}

// NewTaskLaunchCommand returns the task launch command.
func NewTaskLaunchCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskLaunchCommand {
	c := &TaskLaunchCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("launch", "Launch a single migration.")
	c.Cmd.Arg("source-id", "Source project ID.").Required().StringVar(&c.sourceID)
	c.Cmd.Flag("target", "Target project ID, provisioned when missing.").StringVar(&c.targetID)
	c.Cmd.Flag("workspace-id", "Workspace where the target project is provisioned.").StringVar(&c.workspaceID)
	c.Cmd.Flag("param", "Extra launch parameter in KEY=VALUE format (repeatable).").Short('p').StringsVar(&c.params)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c TaskLaunchCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskLaunchCommand) Run(ctx context.Context) error {
	params, err := parseParamSpecs(c.params)
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := tasklaunch.NewService(tasklaunch.ServiceConfig{
		Repository:    eng.repo,
		Settings:      eng.settings,
		Provisioner:   eng.provisioner,
		NewDispatcher: eng.dispatchers,
		Logger:        c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	task, err := svc.Run(ctx, tasklaunch.Request{
		SourceID:    c.sourceID,
		TargetID:    c.targetID,
		WorkspaceID: c.workspaceID,
		Params:      params,
	})
	if err != nil {
		return fmt.Errorf("could not launch task: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintTask(*task); err != nil {
		return fmt.Errorf("could not print task: %w", err)
	}

	return nil
}

// parseParamSpecs parses KEY=VALUE launch parameters, later keys override earlier ones.
func parseParamSpecs(specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	params := make(map[string]string, len(specs))
	for _, spec := range specs {
		key, value, ok := strings.Cut(spec, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q, expected KEY=VALUE: %w", spec, model.ErrNotValid)
		}
		params[key] = value
	}

	return params, nil
}

// taskRef are the args that identify a migration worker.
type taskRef struct {
	sourceID string
	targetID string
	format   string
}

func (r *taskRef) register(cmd *kingpin.CmdClause) {
	cmd.Arg("source-id", "Source project ID.").Required().StringVar(&r.sourceID)
	cmd.Arg("target-id", "Target project ID.").Required().StringVar(&r.targetID)
	cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&r.format, "table", "json")
}

// TaskProbeCommand inspects the worker of a migration.
type TaskProbeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	ref     taskRef
}

// NewTaskProbeCommand returns the task probe command.
func NewTaskProbeCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskProbeCommand {
	c := &TaskProbeCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("probe", "Check if the migration worker is alive.")
	c.ref.register(c.Cmd)

	return c
}

func (c TaskProbeCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskProbeCommand) Run(ctx context.Context) error {
	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := taskprobe.NewService(taskprobe.ServiceConfig{Supervisor: eng.supervisor, Logger: c.rootCmd.Logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, taskprobe.Request{SourceID: c.ref.sourceID, TargetID: c.ref.targetID})
	if err != nil {
		return fmt.Errorf("could not probe task: %w", err)
	}

	if err := c.rootCmd.printer(c.ref.format).PrintProbe(*res); err != nil {
		return fmt.Errorf("could not print probe: %w", err)
	}

	return nil
}

// TaskKillCommand terminates the worker of a migration.
type TaskKillCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	ref     taskRef

	force bool
}

// NewTaskKillCommand returns the task kill command.
func NewTaskKillCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskKillCommand {
	c := &TaskKillCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("kill", "Terminate the migration worker.")
	c.ref.register(c.Cmd)
	c.Cmd.Flag("force", "Kill the worker right away instead of asking it to terminate first.").BoolVar(&c.force)

	return c
}

func (c TaskKillCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskKillCommand) Run(ctx context.Context) error {
	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := taskkill.NewService(taskkill.ServiceConfig{Supervisor: eng.supervisor, Logger: c.rootCmd.Logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, taskkill.Request{SourceID: c.ref.sourceID, TargetID: c.ref.targetID, Force: c.force})
	if err != nil {
		return fmt.Errorf("could not kill task worker: %w", err)
	}

	if err := c.rootCmd.printer(c.ref.format).PrintKill(*res); err != nil {
		return fmt.Errorf("could not print kill result: %w", err)
	}

	return nil
}

// TaskResetCommand kills the worker and removes every local trace of a migration.
type TaskResetCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
	ref     taskRef
}

// NewTaskResetCommand returns the task reset command.
func NewTaskResetCommand(rootCmd *RootCommand, parent *kingpin.CmdClause) *TaskResetCommand {
	c := &TaskResetCommand{rootCmd: rootCmd}

	c.Cmd = parent.Command("reset", "Hard reset a migration: kill the worker, remove its lock and cache, reset its status.")
	c.ref.register(c.Cmd)

	return c
}

func (c TaskResetCommand) Name() string { return c.Cmd.FullCommand() }

func (c TaskResetCommand) Run(ctx context.Context) error {
	eng, err := newEngine(ctx, *c.rootCmd, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	svc, err := taskreset.NewService(taskreset.ServiceConfig{Supervisor: eng.supervisor, Logger: c.rootCmd.Logger})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, taskreset.Request{SourceID: c.ref.sourceID, TargetID: c.ref.targetID})
	if err != nil {
		return fmt.Errorf("could not reset task: %w", err)
	}

	if err := c.rootCmd.printer(c.ref.format).PrintReset(*res); err != nil {
		return fmt.Errorf("could not print reset summary: %w", err)
	}

	return nil
}
