package wave

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/wavemig/internal/log"
	"github.com/slok/wavemig/internal/model"
)

// WaveRunner runs a whole wave.
type WaveRunner interface {
	RunWave(ctx context.Context, waveID string) (*model.Wave, error)
}

// ExecutorConfig is the configuration of the executor.
type ExecutorConfig struct {
	Runner WaveRunner
	// Context is the context of every background run, it's independent of the callers.
	Context context.Context
	Logger  log.Logger
}

func (c *ExecutorConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Context == nil {
		c.Context = context.Background()
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "wave.Executor"})

	return nil
}

// Executor runs waves in the background.
type Executor struct {
	runner WaveRunner
	ctx    context.Context
	logger log.Logger
	wg     sync.WaitGroup
}

// NewExecutor returns a new executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Executor{
		runner: cfg.Runner,
		ctx:    cfg.Context,
		logger: cfg.Logger,
	}, nil
}

// Go runs the wave in the background and returns right away.
func (e *Executor) Go(waveID string) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Errorf("Wave %s run panicked: %v", waveID, r)
			}
		}()

		wave, err := e.runner.RunWave(e.ctx, waveID)
		if err != nil {
			if IsFatal(err) {
				e.logger.Errorf("Wave %s can't run: %v", waveID, err)
				return
			}
			e.logger.Errorf("Wave %s run failed: %v", waveID, err)
			return
		}

		e.logger.Infof("Wave %s launched (status: %s)", waveID, wave.Status)
	}()
}

// Wait blocks until every background run has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}
