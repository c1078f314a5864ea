package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petrijr/stagehand/internal/edge"
	"github.com/petrijr/stagehand/pkg/api"
)

const (
	// DefaultIdleInterval is how long a worker sleeps after an iteration
	// that had nothing to do.
	DefaultIdleInterval = 100 * time.Millisecond
)

// Config controls how a Worker runs its stage.
type Config struct {
	// Start and Exit are shared by every worker of a pipeline. A worker
	// without them gets private signals (useful in tests).
	Start *api.Signal
	Exit  *api.Signal

	// IdleInterval is the sleep after an empty iteration.
	// Zero means DefaultIdleInterval.
	IdleInterval time.Duration

	Logger   *slog.Logger
	Observer api.Observer
}

// Worker runs one stage through its lifecycle on its own goroutine.
type Worker struct {
	name  string
	stage api.Stage

	idle     time.Duration
	logger   *slog.Logger
	observer api.Observer

	input   edge.Edge
	outputs []edge.Edge

	start, exit *api.Signal
	ready, done *api.Signal

	mu    sync.RWMutex
	state api.WorkerState
	err   error

	launched   atomic.Bool
	killed     atomic.Bool
	cancel     context.CancelFunc
	terminated chan struct{}
}

// New creates a Worker in StateCreated.
func New(name string, stage api.Stage, cfg Config) *Worker {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = api.NoopObserver{}
	}
	if cfg.Start == nil {
		cfg.Start = api.NewSignal("start")
	}
	if cfg.Exit == nil {
		cfg.Exit = api.NewSignal("exit")
	}

	return &Worker{
		name:       name,
		stage:      stage,
		idle:       cfg.IdleInterval,
		logger:     cfg.Logger.With(slog.String("worker", name)),
		observer:   cfg.Observer,
		start:      cfg.Start,
		exit:       cfg.Exit,
		ready:      api.NewSignal(name + ".ready"),
		done:       api.NewSignal(name + ".done"),
		state:      api.StateCreated,
		terminated: make(chan struct{}),
	}
}

// Name returns the stage key this worker runs.
func (w *Worker) Name() string { return w.name }

// Stage returns the wrapped stage.
func (w *Worker) Stage() api.Stage { return w.stage }

// SetInput assigns the single input edge. A second assignment fails with
// api.ErrDuplicateInput.
func (w *Worker) SetInput(e edge.Edge) error {
	if w.input != nil {
		return fmt.Errorf("%w (%s already fed by %s)", api.ErrDuplicateInput, w.name, w.input.Name())
	}
	w.input = e
	return nil
}

// AddOutput appends an output edge. Messages are broadcast to outputs in
// the order they were added.
func (w *Worker) AddOutput(e edge.Edge) {
	w.outputs = append(w.outputs, e)
}

// Input returns the input edge, or nil.
func (w *Worker) Input() edge.Edge { return w.input }

// Outputs returns the output edges.
func (w *Worker) Outputs() []edge.Edge { return w.outputs }

// Ready is set once Setup has succeeded.
func (w *Worker) Ready() *api.Signal { return w.ready }

// DoneSignal is set once the stage reports it has no more work.
func (w *Worker) DoneSignal() *api.Signal { return w.done }

// State returns the current lifecycle state.
func (w *Worker) State() api.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err returns the error that ended the run loop, if any.
func (w *Worker) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}

// Terminated is closed when Run has returned.
func (w *Worker) Terminated() <-chan struct{} { return w.terminated }

// Alive reports whether the worker goroutine has been started and has not
// returned yet.
func (w *Worker) Alive() bool {
	if !w.launched.Load() {
		return false
	}
	select {
	case <-w.terminated:
		return false
	default:
		return true
	}
}

// Killed reports whether Kill has been called.
func (w *Worker) Killed() bool { return w.killed.Load() }

// Start launches Run on a new goroutine. The worker's context is derived
// from ctx; Kill cancels it.
func (w *Worker) Start(ctx context.Context) error {
	if !w.launched.CompareAndSwap(false, true) {
		return fmt.Errorf("worker %s already started", w.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go func() {
		defer cancel()
		_ = w.run(ctx)
	}()
	return nil
}

// Run executes the lifecycle on the calling goroutine and returns when the
// worker terminates.
func (w *Worker) Run(ctx context.Context) error {
	if !w.launched.CompareAndSwap(false, true) {
		return fmt.Errorf("worker %s already started", w.name)
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	defer cancel()
	return w.run(ctx)
}

// Join waits up to timeout for the worker to terminate and reports whether
// it did.
func (w *Worker) Join(timeout time.Duration) bool {
	if !w.launched.Load() {
		return true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.terminated:
		return true
	case <-t.C:
		return false
	}
}

// Kill forcibly terminates the worker by cancelling its context. A stage
// that ignores its context keeps its goroutine; the worker is abandoned.
func (w *Worker) Kill() {
	w.killed.Store(true)
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Worker) run(ctx context.Context) (err error) {
	rt := &stageRuntime{w: w, ctx: ctx}

	defer close(w.terminated)
	defer w.setState(ctx, api.StateTerminated)
	defer func() {
		if cerr := w.call(ctx, api.PhaseCleanup, w.stage.Cleanup, rt); cerr != nil {
			w.report(ctx, api.PhaseCleanup, cerr)
			if err == nil {
				err = cerr
				w.setErr(cerr)
			}
		}
	}()

	w.setState(ctx, api.StateSetup)
	if err := w.call(ctx, api.PhaseSetup, w.stage.Setup, rt); err != nil {
		return w.fail(ctx, api.PhaseSetup, err)
	}
	w.ready.Set()

	w.setState(ctx, api.StateAwaitingStart)
	select {
	case <-w.start.Done():
	case <-w.exit.Done():
	case <-ctx.Done():
	}
	if w.stopping(ctx) {
		w.setState(ctx, api.StateExiting)
		return nil
	}

	if err := w.call(ctx, api.PhaseStartup, w.stage.Startup, rt); err != nil {
		return w.fail(ctx, api.PhaseStartup, err)
	}

	w.setState(ctx, api.StateRunning)
	for !w.stopping(ctx) {
		if w.done.IsSet() {
			if w.State() != api.StateDone {
				w.setState(ctx, api.StateDone)
			}
			w.sleep(ctx)
			continue
		}

		err := w.call(ctx, api.PhaseRoutine, w.stage.Routine, rt)
		switch {
		case err == nil:
		case errors.Is(err, api.ErrNoInput):
			w.sleep(ctx)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			// Killed while blocked inside the routine.
		default:
			return w.fail(ctx, api.PhaseRoutine, err)
		}
	}

	w.setState(ctx, api.StateExiting)
	return nil
}

// call invokes a lifecycle hook, turning panics into errors.
func (w *Worker) call(ctx context.Context, phase api.Phase, fn func(context.Context, api.Runtime) error, rt api.Runtime) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v\n%s", phase, r, debug.Stack())
		}
	}()
	return fn(ctx, rt)
}

func (w *Worker) fail(ctx context.Context, phase api.Phase, err error) error {
	err = fmt.Errorf("%s %s: %w", w.name, phase, err)
	w.setErr(err)
	w.report(ctx, phase, err)
	return err
}

func (w *Worker) report(ctx context.Context, phase api.Phase, err error) {
	w.logger.ErrorContext(ctx, "worker_error",
		slog.String("phase", string(phase)),
		slog.Any("error", err),
	)
	w.observer.OnWorkerFailed(ctx, w.name, phase, err)
}

func (w *Worker) stopping(ctx context.Context) bool {
	return w.exit.IsSet() || ctx.Err() != nil
}

// sleep idles for one interval, waking early on exit or cancellation.
func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.idle)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.exit.Done():
	case <-ctx.Done():
	}
}

func (w *Worker) setState(ctx context.Context, s api.WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.observer.OnWorkerState(ctx, w.name, s)
}

func (w *Worker) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

// Info is a point-in-time view of a worker, used for diagnostics.
type Info struct {
	Name       string          `json:"name"`
	State      api.WorkerState `json:"state"`
	Ready      bool            `json:"ready"`
	Done       bool            `json:"done"`
	Alive      bool            `json:"alive"`
	Killed     bool            `json:"killed,omitempty"`
	InputDepth int             `json:"input_depth"`
	Outputs    []string        `json:"outputs,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Info returns a snapshot of the worker.
func (w *Worker) Info() Info {
	info := Info{
		Name:   w.name,
		State:  w.State(),
		Ready:  w.ready.IsSet(),
		Done:   w.done.IsSet(),
		Alive:  w.Alive(),
		Killed: w.Killed(),
	}
	if w.input != nil {
		info.InputDepth = w.input.Len()
	}
	for _, o := range w.outputs {
		info.Outputs = append(info.Outputs, o.Name())
	}
	if err := w.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}
