package stages

import (
	"io"
	"log/slog"

	"github.com/petrijr/stagehand/pkg/api"
)

// fakeRuntime drives a stage directly, without a worker.
type fakeRuntime struct {
	name    string
	input   []api.Envelope
	emitted []api.Envelope
	done    bool
	exit    chan struct{}
}

var _ api.Runtime = (*fakeRuntime)(nil)

func newFakeRuntime(name string, input ...api.Envelope) *fakeRuntime {
	return &fakeRuntime{name: name, input: input, exit: make(chan struct{})}
}

func (r *fakeRuntime) Name() string { return r.name }

func (r *fakeRuntime) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (r *fakeRuntime) Next() (api.Envelope, bool) {
	if len(r.input) == 0 {
		return nil, false
	}
	msg := r.input[0]
	r.input = r.input[1:]
	return msg, true
}

func (r *fakeRuntime) Emit(msg api.Envelope) { r.emitted = append(r.emitted, msg.Clone()) }
func (r *fakeRuntime) MarkDone()             { r.done = true }
func (r *fakeRuntime) Exiting() bool         { return false }
func (r *fakeRuntime) ExitSignal() <-chan struct{} {
	return r.exit
}

func (r *fakeRuntime) DrainInput() int {
	n := len(r.input)
	r.input = nil
	return n
}

func (r *fakeRuntime) DrainOutputs() int { return 0 }
