package stagehand

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/stagehand/internal/supervisor"
)

// RunnerOption configures a LocalRunner.
type RunnerOption func(*supervisor.Options)

// WithReadyTimeout bounds how long the runner waits for every stage to
// finish Setup.
func WithReadyTimeout(d time.Duration) RunnerOption {
	return func(o *supervisor.Options) { o.ReadyTimeout = d }
}

// WithPollIntervals sets how often the runner checks readiness before the
// start and worker health afterwards.
func WithPollIntervals(ready, monitor time.Duration) RunnerOption {
	return func(o *supervisor.Options) {
		o.ReadyPollInterval = ready
		o.MonitorInterval = monitor
	}
}

// WithJoinTimeout bounds how long each worker gets to exit before it is
// killed.
func WithJoinTimeout(d time.Duration) RunnerOption {
	return func(o *supervisor.Options) { o.JoinTimeout = d }
}

// WithIdleInterval sets how long workers sleep when they have no input.
func WithIdleInterval(d time.Duration) RunnerOption {
	return func(o *supervisor.Options) { o.IdleInterval = d }
}

// WithLogger sets the logger for the supervisor and every worker.
func WithLogger(l *slog.Logger) RunnerOption {
	return func(o *supervisor.Options) { o.Logger = l }
}

// WithObserver installs an Observer for lifecycle events.
func WithObserver(obs Observer) RunnerOption {
	return func(o *supervisor.Options) { o.Observer = obs }
}

// LocalRunner runs pipelines inside the current process, one at a time.
//
// Typical usage:
//
//	runner := stagehand.NewLocalRunner(stagehand.WithReadyTimeout(30 * time.Second))
//	cfg, _ := stagehand.LoadConfig("pipeline.yaml")
//
//	go func() { <-sigCh; runner.Stop() }()
//	if err := runner.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
type LocalRunner struct {
	opts supervisor.Options

	mu      sync.Mutex
	current *supervisor.Supervisor
}

// NewLocalRunner constructs a LocalRunner.
func NewLocalRunner(opts ...RunnerOption) *LocalRunner {
	r := &LocalRunner{}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Run builds the pipeline described by cfg, waits for every stage to be
// ready, releases them and blocks until a stage dies, ctx is cancelled or
// Stop is called. The pipeline is always torn down before Run returns.
// Cancellation and Stop are not errors.
//
// If Run is called while another run is active, it returns an error.
func (r *LocalRunner) Run(ctx context.Context, cfg *Config) error {
	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return errors.New("stagehand: LocalRunner already running")
	}
	sup := supervisor.New(r.opts)
	r.current = sup
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
	}()

	return sup.Run(ctx, cfg)
}

// Stop asks the active run, if any, to shut down. It does not wait.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Stop()
	}
}

// Workers returns a snapshot of the active run's workers.
func (r *LocalRunner) Workers() []WorkerInfo {
	r.mu.Lock()
	sup := r.current
	r.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Workers()
}

// RunFile loads path and runs it with a fresh LocalRunner.
func RunFile(ctx context.Context, path string, opts ...RunnerOption) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return NewLocalRunner(opts...).Run(ctx, cfg)
}
