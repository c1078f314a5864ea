package worker

import (
	"context"
	"log/slog"

	"github.com/petrijr/stagehand/pkg/api"
)

// stageRuntime is the api.Runtime a worker hands to its stage.
type stageRuntime struct {
	w   *Worker
	ctx context.Context
}

var _ api.Runtime = (*stageRuntime)(nil)

func (r *stageRuntime) Name() string { return r.w.name }

func (r *stageRuntime) Logger() *slog.Logger { return r.w.logger }

func (r *stageRuntime) Next() (api.Envelope, bool) {
	if r.w.input == nil {
		return nil, false
	}
	return r.w.input.TryGet()
}

func (r *stageRuntime) Emit(msg api.Envelope) {
	for _, out := range r.w.outputs {
		out.Put(msg.Clone())
	}
	r.w.observer.OnEmit(r.ctx, r.w.name, len(r.w.outputs))
}

func (r *stageRuntime) MarkDone() { r.w.done.Set() }

func (r *stageRuntime) Exiting() bool { return r.w.exit.IsSet() }

func (r *stageRuntime) ExitSignal() <-chan struct{} { return r.w.exit.Done() }

func (r *stageRuntime) DrainInput() int {
	if r.w.input == nil {
		return 0
	}
	return r.w.input.Drain()
}

func (r *stageRuntime) DrainOutputs() int {
	n := 0
	for _, out := range r.w.outputs {
		n += out.Drain()
	}
	return n
}
