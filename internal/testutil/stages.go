package testutil

import (
	"context"
	"sync"

	"github.com/petrijr/stagehand/pkg/api"
)

// Source emits Messages one per iteration, then marks itself done.
type Source struct {
	api.BaseStage
	Messages []api.Envelope

	mu   sync.Mutex
	next int
}

func (s *Source) Routine(ctx context.Context, rt api.Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.next >= len(s.Messages) {
		rt.MarkDone()
		return api.ErrNoInput
	}
	rt.Emit(s.Messages[s.next])
	s.next++
	return nil
}

// Sink collects every message it receives.
type Sink struct {
	api.BaseStage

	mu       sync.Mutex
	received []api.Envelope
}

func (s *Sink) Routine(ctx context.Context, rt api.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return api.ErrNoInput
	}
	s.mu.Lock()
	s.received = append(s.received, msg)
	s.mu.Unlock()
	return nil
}

// Received returns a copy of the collected messages.
func (s *Sink) Received() []api.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Envelope(nil), s.received...)
}

// Len returns the number of collected messages.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

// FuncStage delegates each hook to an optional function. A nil Routine
// reports no input.
type FuncStage struct {
	SetupFn   func(ctx context.Context, rt api.Runtime) error
	StartupFn func(ctx context.Context, rt api.Runtime) error
	RoutineFn func(ctx context.Context, rt api.Runtime) error
	CleanupFn func(ctx context.Context, rt api.Runtime) error
}

func (f *FuncStage) Setup(ctx context.Context, rt api.Runtime) error {
	if f.SetupFn == nil {
		return nil
	}
	return f.SetupFn(ctx, rt)
}

func (f *FuncStage) Startup(ctx context.Context, rt api.Runtime) error {
	if f.StartupFn == nil {
		return nil
	}
	return f.StartupFn(ctx, rt)
}

func (f *FuncStage) Routine(ctx context.Context, rt api.Runtime) error {
	if f.RoutineFn == nil {
		return api.ErrNoInput
	}
	return f.RoutineFn(ctx, rt)
}

func (f *FuncStage) Cleanup(ctx context.Context, rt api.Runtime) error {
	if f.CleanupFn == nil {
		return nil
	}
	return f.CleanupFn(ctx, rt)
}

// Factory returns an api.Factory that always yields stage.
func Factory(stage api.Stage) api.Factory {
	return func(api.StageConfig) (api.Stage, error) { return stage, nil }
}
