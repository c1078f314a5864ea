package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from workers and the supervisor for logging
// and metrics.
//
// Implementations must be fast and safe for concurrent use; every worker
// calls into the same observer from its own goroutine.
type Observer interface {
	// OnWorkerState is called on every lifecycle transition.
	OnWorkerState(ctx context.Context, worker string, state WorkerState)

	// OnWorkerFailed is called when a lifecycle hook returns an error or
	// panics. For PhaseCleanup the worker has already left its run loop.
	OnWorkerFailed(ctx context.Context, worker string, phase Phase, err error)

	// OnEmit is called after a message has been broadcast to fanout edges.
	OnEmit(ctx context.Context, worker string, fanout int)

	// OnPipelineStarted is called once the start signal has been released.
	OnPipelineStarted(ctx context.Context, workers int)

	// OnWorkerKilled is called when a worker had to be forcibly terminated.
	OnWorkerKilled(ctx context.Context, worker string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkerState(ctx context.Context, worker string, state WorkerState)       {}
func (NoopObserver) OnWorkerFailed(ctx context.Context, worker string, phase Phase, err error) {}
func (NoopObserver) OnEmit(ctx context.Context, worker string, fanout int)                     {}
func (NoopObserver) OnPipelineStarted(ctx context.Context, workers int)                        {}
func (NoopObserver) OnWorkerKilled(ctx context.Context, worker string)                         {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkerState(ctx context.Context, worker string, state WorkerState) {
	for _, o := range c.observers {
		o.OnWorkerState(ctx, worker, state)
	}
}

func (c *CompositeObserver) OnWorkerFailed(ctx context.Context, worker string, phase Phase, err error) {
	for _, o := range c.observers {
		o.OnWorkerFailed(ctx, worker, phase, err)
	}
}

func (c *CompositeObserver) OnEmit(ctx context.Context, worker string, fanout int) {
	for _, o := range c.observers {
		o.OnEmit(ctx, worker, fanout)
	}
}

func (c *CompositeObserver) OnPipelineStarted(ctx context.Context, workers int) {
	for _, o := range c.observers {
		o.OnPipelineStarted(ctx, workers)
	}
}

func (c *CompositeObserver) OnWorkerKilled(ctx context.Context, worker string) {
	for _, o := range c.observers {
		o.OnWorkerKilled(ctx, worker)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs lifecycle events using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkerState(ctx context.Context, worker string, state WorkerState) {
	o.Logger.DebugContext(ctx, "worker_state",
		slog.String("worker", worker),
		slog.String("state", string(state)),
	)
}

func (o *LoggingObserver) OnWorkerFailed(ctx context.Context, worker string, phase Phase, err error) {
	o.Logger.ErrorContext(ctx, "worker_failed",
		slog.String("worker", worker),
		slog.String("phase", string(phase)),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnEmit(ctx context.Context, worker string, fanout int) {}

func (o *LoggingObserver) OnPipelineStarted(ctx context.Context, workers int) {
	o.Logger.InfoContext(ctx, "pipeline_started", slog.Int("workers", workers))
}

func (o *LoggingObserver) OnWorkerKilled(ctx context.Context, worker string) {
	o.Logger.ErrorContext(ctx, "worker_killed", slog.String("worker", worker))
}

// BasicMetrics collects simple counters. It implements Observer, and can be
// combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workersFailed  atomic.Int64
	workersKilled  atomic.Int64
	messagesEmit   atomic.Int64
	edgeDeliveries atomic.Int64
	starts         atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkersFailed   int64
	WorkersKilled   int64
	MessagesEmitted int64
	EdgeDeliveries  int64
	PipelineStarts  int64
}

func (m *BasicMetrics) OnWorkerFailed(ctx context.Context, worker string, phase Phase, err error) {
	m.workersFailed.Add(1)
}

func (m *BasicMetrics) OnEmit(ctx context.Context, worker string, fanout int) {
	m.messagesEmit.Add(1)
	m.edgeDeliveries.Add(int64(fanout))
}

func (m *BasicMetrics) OnPipelineStarted(ctx context.Context, workers int) {
	m.starts.Add(1)
}

func (m *BasicMetrics) OnWorkerKilled(ctx context.Context, worker string) {
	m.workersKilled.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		WorkersFailed:   m.workersFailed.Load(),
		WorkersKilled:   m.workersKilled.Load(),
		MessagesEmitted: m.messagesEmit.Load(),
		EdgeDeliveries:  m.edgeDeliveries.Load(),
		PipelineStarts:  m.starts.Load(),
	}
}
