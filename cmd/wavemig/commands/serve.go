package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slok/wavemig/internal/api"
	"github.com/slok/wavemig/internal/app/taskkill"
	"github.com/slok/wavemig/internal/app/tasklaunch"
	"github.com/slok/wavemig/internal/app/taskprobe"
	"github.com/slok/wavemig/internal/app/taskreset"
	"github.com/slok/wavemig/internal/app/taskrestart"
	"github.com/slok/wavemig/internal/app/taskresult"
	"github.com/slok/wavemig/internal/app/wavecreate"
	"github.com/slok/wavemig/internal/app/wavelist"
	"github.com/slok/wavemig/internal/app/wavestatus"
	metricsprometheus "github.com/slok/wavemig/internal/metrics/prometheus"
	"github.com/slok/wavemig/internal/wave"
)

// ServeCommand runs the HTTP API, including the worker result webhook.
type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	listenAddr string
	noMetrics  bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the HTTP API and the worker webhook.")
	c.Cmd.Flag("listen", "API listen address.").Envar("WAVEMIG_LISTEN").Default(":8080").StringVar(&c.listenAddr)
	c.Cmd.Flag("no-metrics", "Disable the Prometheus /metrics endpoint.").BoolVar(&c.noMetrics)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec, err := metricsprometheus.NewRecorder(reg)
	if err != nil {
		return fmt.Errorf("could not create metrics recorder: %w", err)
	}

	eng, err := newEngine(ctx, *c.rootCmd, rec)
	if err != nil {
		return err
	}
	defer eng.Close()

	// Waves keep running in the background after the API request that created them, they are
	// only cancelled on shutdown.
	execCtx, execCancel := context.WithCancel(context.Background())
	defer execCancel()
	executor, err := wave.NewExecutor(wave.ExecutorConfig{Runner: eng.runner, Context: execCtx, Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create wave executor: %w", err)
	}

	cfg := api.ServerConfig{
		ListenAddr: c.listenAddr,
		Metrics:    rec,
		Logger:     logger,
	}
	if !c.noMetrics {
		cfg.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	if cfg.WaveCreate, err = wavecreate.NewService(wavecreate.ServiceConfig{Repository: eng.repo, Settings: eng.settings, Provisioner: eng.provisioner, Executor: executor, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.WaveList, err = wavelist.NewService(wavelist.ServiceConfig{Repository: eng.repo, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.WaveStatus, err = wavestatus.NewService(wavestatus.ServiceConfig{Repository: eng.repo, Supervisor: eng.supervisor, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.TaskRestart, err = taskrestart.NewService(taskrestart.ServiceConfig{Repository: eng.repo, Supervisor: eng.supervisor, Runner: eng.runner, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.TaskLaunch, err = tasklaunch.NewService(tasklaunch.ServiceConfig{Repository: eng.repo, Settings: eng.settings, Provisioner: eng.provisioner, NewDispatcher: eng.dispatchers, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.TaskProbe, err = taskprobe.NewService(taskprobe.ServiceConfig{Supervisor: eng.supervisor, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.TaskKill, err = taskkill.NewService(taskkill.ServiceConfig{Supervisor: eng.supervisor, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.TaskReset, err = taskreset.NewService(taskreset.ServiceConfig{Supervisor: eng.supervisor, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}
	if cfg.TaskResult, err = taskresult.NewService(taskresult.ServiceConfig{Repository: eng.repo, Logger: logger}); err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	server, err := api.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("could not create API server: %w", err)
	}

	var g run.Group

	// API server.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				return server.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}

	// Background waves.
	{
		g.Add(
			func() error {
				<-execCtx.Done()
				return nil
			},
			func(_ error) {
				execCancel()
				executor.Wait()
			},
		)
	}

	return g.Run()
}
