package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"

	"github.com/slok/wavemig/cmd/wavemig/commands"
	"github.com/slok/wavemig/internal/log"
	loglogrus "github.com/slok/wavemig/internal/log/logrus"
)

const (
	// Version is the application version (set via ldflags).
	Version = "dev"
)

// Run runs the main application.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	app := kingpin.New("wavemig", "Migration wave orchestration and worker supervision.")
	app.DefaultEnvars()
	rootCmd := commands.NewRootCommand(app)

	// Setup commands (registers flags).
	serveCmd := commands.NewServeCommand(rootCmd, app)

	// Wave subcommands share a parent command.
	waveCmd := app.Command("wave", "Manage migration waves.")
	waveCreateCmd := commands.NewWaveCreateCommand(rootCmd, waveCmd)
	waveListCmd := commands.NewWaveListCommand(rootCmd, waveCmd)
	waveStatusCmd := commands.NewWaveStatusCommand(rootCmd, waveCmd)

	// Task subcommands share a parent command.
	taskCmd := app.Command("task", "Manage single migrations and their workers.")
	taskRestartCmd := commands.NewTaskRestartCommand(rootCmd, taskCmd)
	taskLaunchCmd := commands.NewTaskLaunchCommand(rootCmd, taskCmd)
	taskProbeCmd := commands.NewTaskProbeCommand(rootCmd, taskCmd)
	taskKillCmd := commands.NewTaskKillCommand(rootCmd, taskCmd)
	taskResetCmd := commands.NewTaskResetCommand(rootCmd, taskCmd)

	cmds := map[string]commands.Command{
		serveCmd.Name():       serveCmd,
		waveCreateCmd.Name():  waveCreateCmd,
		waveListCmd.Name():    waveListCmd,
		waveStatusCmd.Name():  waveStatusCmd,
		taskRestartCmd.Name(): taskRestartCmd,
		taskLaunchCmd.Name():  taskLaunchCmd,
		taskProbeCmd.Name():   taskProbeCmd,
		taskKillCmd.Name():    taskKillCmd,
		taskResetCmd.Name():   taskResetCmd,
	}

	// Parse command.
	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	// Set standard input/output.
	rootCmd.Stdin = stdin
	rootCmd.Stdout = stdout
	rootCmd.Stderr = stderr

	// Read only commands print tables or JSON, logs would mix with them unless --debug is set.
	printerCommands := map[string]bool{
		"wave list":   true,
		"wave status": true,
		"task probe":  true,
	}
	if printerCommands[cmdName] && !rootCmd.Debug {
		rootCmd.NoLog = true
	}

	// Set logger.
	rootCmd.Logger = getLogger(ctx, *rootCmd)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				rootCmd.Logger.Debugf("Termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Execute command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				err := cmds[cmdName].Run(ctx)
				if err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

// getLogger returns the application logger.
func getLogger(_ context.Context, config commands.RootCommand) log.Logger {
	if config.NoLog {
		return log.Noop
	}

	logrusLog := logrus.New()
	logrusLog.Out = config.Stderr // Stdout is kept for printers.
	logrusLogEntry := logrus.NewEntry(logrusLog)

	if config.Debug {
		logrusLogEntry.Logger.SetLevel(logrus.DebugLevel)
	}

	switch config.LoggerType {
	case commands.LoggerTypeDefault:
		logrusLogEntry.Logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   !config.NoColor,
			DisableColors: config.NoColor,
		})
	case commands.LoggerTypeJSON:
		logrusLogEntry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	logger := loglogrus.NewLogrus(logrusLogEntry).WithValues(log.Kv{
		"version": Version,
	})

	logger.Debugf("Debug level is enabled")

	return logger
}

func main() {
	ctx := context.Background()
	err := Run(ctx, os.Args, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
