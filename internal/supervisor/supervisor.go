// Package supervisor starts a pipeline, holds it at the readiness barrier,
// watches it while it runs and tears it down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/stagehand/internal/config"
	"github.com/petrijr/stagehand/internal/pipeline"
	"github.com/petrijr/stagehand/internal/registry"
	"github.com/petrijr/stagehand/pkg/api"
	"github.com/petrijr/stagehand/pkg/worker"
)

// Defaults for Options.
const (
	DefaultReadyTimeout      = 120 * time.Second
	DefaultReadyPollInterval = time.Second
	DefaultMonitorInterval   = 100 * time.Millisecond
	DefaultJoinTimeout       = 3 * time.Second
)

// Options configures a Supervisor. Zero durations take the defaults.
type Options struct {
	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	MonitorInterval   time.Duration
	JoinTimeout       time.Duration

	// IdleInterval is passed to every worker.
	IdleInterval time.Duration

	Logger   *slog.Logger
	Observer api.Observer
	Registry *registry.Registry
}

// Supervisor runs one pipeline.
type Supervisor struct {
	opts     Options
	logger   *slog.Logger
	observer api.Observer
	stop     *api.Signal

	mu       sync.RWMutex
	started  bool
	runID    string
	pipeline *pipeline.Pipeline

	teardownOnce sync.Once
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.ReadyPollInterval <= 0 {
		opts.ReadyPollInterval = DefaultReadyPollInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = DefaultMonitorInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Observer == nil {
		opts.Observer = api.NoopObserver{}
	}
	if opts.Registry == nil {
		opts.Registry = registry.Default
	}

	return &Supervisor{
		opts:     opts,
		logger:   opts.Logger.With(slog.String("component", "supervisor")),
		observer: opts.Observer,
		stop:     api.NewSignal("stop"),
	}
}

// Run builds cfg, runs it until a worker dies, ctx is cancelled or Stop is
// called, and tears it down. Operator cancellation returns nil.
//
// Teardown runs exactly once on every path, including panics.
func (s *Supervisor) Run(ctx context.Context, cfg *config.Pipeline) (err error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already ran")
	}
	s.started = true
	s.runID = uuid.NewString()
	s.mu.Unlock()

	logger := s.logger.With(slog.String("run_id", s.runID))

	var p *pipeline.Pipeline
	defer func() {
		if p != nil {
			s.teardown(ctx, p, logger)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "supervisor_panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("supervisor panic: %v", r)
		}
	}()

	p, err = pipeline.Build(cfg, s.opts.Registry, pipeline.Options{
		IdleInterval: s.opts.IdleInterval,
		Logger:       s.opts.Logger,
		Observer:     s.observer,
	})
	if err != nil {
		logger.ErrorContext(ctx, "pipeline_invalid", slog.Any("error", err))
		return err
	}

	s.mu.Lock()
	s.pipeline = p
	s.mu.Unlock()

	return s.supervise(ctx, p, logger)
}

func (s *Supervisor) supervise(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger) error {
	for _, e := range p.Edges {
		logger.DebugContext(ctx, "edge", slog.String("edge", e.Name()))
	}

	// Workers stop through the exit signal, not through the caller's ctx.
	wctx := context.WithoutCancel(ctx)
	for _, w := range p.Workers {
		if err := w.Start(wctx); err != nil {
			return err
		}
		logger.InfoContext(ctx, "worker_started", slog.String("worker", w.Name()))
	}

	released, err := s.awaitReady(ctx, p, logger)
	if err != nil || !released {
		return err
	}

	p.Start.Set()
	logger.InfoContext(ctx, "pipeline_started", slog.Int("workers", len(p.Workers)))
	s.observer.OnPipelineStarted(ctx, len(p.Workers))

	return s.monitor(ctx, p, logger)
}

// awaitReady polls the ready flags until all are set. It reports false
// when the wait was cancelled.
func (s *Supervisor) awaitReady(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger) (bool, error) {
	deadline := time.NewTimer(s.opts.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.ReadyPollInterval)
	defer ticker.Stop()

	for {
		pending := notReady(p)
		if len(pending) == 0 {
			return true, nil
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "cancelled_before_start", slog.Any("pending", pending))
			return false, nil
		case <-s.stop.Done():
			logger.InfoContext(ctx, "stopped_before_start", slog.Any("pending", pending))
			return false, nil
		case <-deadline.C:
			if pending = notReady(p); len(pending) == 0 {
				return true, nil
			}
			logger.ErrorContext(ctx, "workers_not_ready",
				slog.Any("stages", pending),
				slog.Duration("timeout", s.opts.ReadyTimeout),
			)
			return false, &NotReadyError{Stages: pending, Timeout: s.opts.ReadyTimeout}
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) monitor(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger) error {
	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()

	reported := make(map[string]bool, len(p.Workers))
	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "pipeline_cancelled")
			return nil
		case <-s.stop.Done():
			logger.InfoContext(ctx, "pipeline_stop_requested")
			return nil
		case <-ticker.C:
		}

		var dead []string
		for _, w := range p.Workers {
			if !w.Alive() {
				dead = append(dead, w.Name())
				continue
			}
			if w.DoneSignal().IsSet() && !reported[w.Name()] {
				reported[w.Name()] = true
				logger.InfoContext(ctx, "worker_done", slog.String("worker", w.Name()))
			}
		}
		if len(dead) > 0 {
			slices.Sort(dead)
			logger.ErrorContext(ctx, "workers_died", slog.Any("stages", dead))
			return &WorkersDiedError{Stages: dead}
		}
	}
}

// teardown raises exit and joins every worker, killing those that do not
// return within the join timeout.
func (s *Supervisor) teardown(ctx context.Context, p *pipeline.Pipeline, logger *slog.Logger) {
	s.teardownOnce.Do(func() {
		p.Exit.Set()

		for _, w := range p.Workers {
			if w.Join(s.opts.JoinTimeout) {
				continue
			}
			w.Kill()
			abandoned := !w.Join(s.opts.JoinTimeout)
			logger.ErrorContext(ctx, "worker_killed",
				slog.String("worker", w.Name()),
				slog.String("state", string(w.State())),
				slog.Duration("join_timeout", s.opts.JoinTimeout),
				slog.Bool("abandoned", abandoned),
			)
			s.observer.OnWorkerKilled(ctx, w.Name())
		}
		logger.InfoContext(ctx, "pipeline_stopped")
	})
}

// Stop asks a running pipeline to shut down. It is safe to call more than
// once and before Run.
func (s *Supervisor) Stop() {
	s.stop.Set()
}

// RunID identifies the current run in logs. Empty before Run.
func (s *Supervisor) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// Workers returns a snapshot of every worker, in build order.
func (s *Supervisor) Workers() []worker.Info {
	s.mu.RLock()
	p := s.pipeline
	s.mu.RUnlock()

	if p == nil {
		return nil
	}
	out := make([]worker.Info, len(p.Workers))
	for i, w := range p.Workers {
		out[i] = w.Info()
	}
	return out
}

// Pipeline returns the built pipeline, or nil before Run has built it.
func (s *Supervisor) Pipeline() *pipeline.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pipeline
}

func notReady(p *pipeline.Pipeline) []string {
	var out []string
	for _, w := range p.Workers {
		if !w.Ready().IsSet() {
			out = append(out, w.Name())
		}
	}
	return out
}
