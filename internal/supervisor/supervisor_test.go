package supervisor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/stagehand/internal/config"
	"github.com/petrijr/stagehand/internal/registry"
	"github.com/petrijr/stagehand/internal/testutil"
	"github.com/petrijr/stagehand/pkg/api"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger() (*slog.Logger, *syncBuffer) {
	buf := &syncBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func fastOptions(reg *registry.Registry, logger *slog.Logger) Options {
	return Options{
		ReadyTimeout:      300 * time.Millisecond,
		ReadyPollInterval: 10 * time.Millisecond,
		MonitorInterval:   10 * time.Millisecond,
		JoinTimeout:       100 * time.Millisecond,
		IdleInterval:      5 * time.Millisecond,
		Logger:            logger,
		Registry:          reg,
	}
}

func twoStageConfig(t *testing.T) *config.Pipeline {
	t.Helper()
	cfg, err := config.FromMap(map[string]any{
		"global": map[string]any{},
		"a":      map[string]any{"type": "src", "to": "b"},
		"b":      map[string]any{"type": "sink"},
	})
	require.NoError(t, err)
	return cfg
}

func TestSupervisor_NotReadyStageAbortsStart(t *testing.T) {
	var startupCalled atomic.Bool
	src := &testutil.FuncStage{
		StartupFn: func(ctx context.Context, rt api.Runtime) error {
			startupCalled.Store(true)
			return nil
		},
	}
	neverReady := &testutil.FuncStage{
		SetupFn: func(ctx context.Context, rt api.Runtime) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(src))
	reg.MustRegister("sink", testutil.Factory(neverReady))

	logger, logs := testLogger()
	sup := New(fastOptions(reg, logger))

	err := sup.Run(context.Background(), twoStageConfig(t))

	var nre *NotReadyError
	require.True(t, errors.As(err, &nre), "expected NotReadyError, got %v", err)
	assert.Equal(t, []string{"b"}, nre.Stages)
	assert.False(t, startupCalled.Load(), "start must never be released")
	assert.False(t, sup.Pipeline().Start.IsSet())
	assert.Contains(t, logs.String(), "workers_not_ready")
	assert.Contains(t, logs.String(), "stages=[b]")

	for _, info := range sup.Workers() {
		assert.Equal(t, api.StateTerminated, info.State, info.Name)
	}
}

func TestSupervisor_StartWaitsForEveryReady(t *testing.T) {
	var bReady atomic.Bool
	var sawEarlyStart atomic.Bool

	src := &testutil.FuncStage{
		StartupFn: func(ctx context.Context, rt api.Runtime) error {
			if !bReady.Load() {
				sawEarlyStart.Store(true)
			}
			return nil
		},
	}
	slow := &testutil.FuncStage{
		SetupFn: func(ctx context.Context, rt api.Runtime) error {
			time.Sleep(80 * time.Millisecond)
			bReady.Store(true)
			return nil
		},
	}

	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(src))
	reg.MustRegister("sink", testutil.Factory(slow))

	logger, _ := testLogger()
	sup := New(fastOptions(reg, logger))

	go func() {
		assert.Eventually(t, func() bool {
			p := sup.Pipeline()
			return p != nil && p.Start.IsSet()
		}, 2*time.Second, 5*time.Millisecond)
		sup.Stop()
	}()

	require.NoError(t, sup.Run(context.Background(), twoStageConfig(t)))
	assert.True(t, bReady.Load())
	assert.False(t, sawEarlyStart.Load(), "startup ran before every stage was ready")
}

func TestSupervisor_DeliversAndStopsCleanly(t *testing.T) {
	src := &testutil.Source{Messages: []api.Envelope{
		{api.KeyCommand: "transcribe", api.KeyText: "one"},
		{api.KeyCommand: "transcribe", api.KeyText: "two"},
	}}
	sink := &testutil.Sink{}

	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(src))
	reg.MustRegister("sink", testutil.Factory(sink))

	logger, logs := testLogger()
	metrics := &api.BasicMetrics{}
	opts := fastOptions(reg, logger)
	opts.Observer = metrics
	sup := New(opts)

	go func() {
		assert.Eventually(t, func() bool {
			return sink.Len() == 2 && strings.Contains(logs.String(), "worker_done")
		}, 2*time.Second, 5*time.Millisecond)
		sup.Stop()
		sup.Stop()
	}()

	require.NoError(t, sup.Run(context.Background(), twoStageConfig(t)))

	got := sink.Received()
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].String(api.KeyText))
	assert.Equal(t, "two", got[1].String(api.KeyText))

	for _, info := range sup.Workers() {
		assert.Equal(t, api.StateTerminated, info.State, info.Name)
		assert.False(t, info.Alive, info.Name)
	}
	assert.NotEmpty(t, sup.RunID())
	assert.Contains(t, logs.String(), "worker_done")
	assert.NotContains(t, logs.String(), "worker_killed")

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.PipelineStarts)
	assert.EqualValues(t, 2, snap.EdgeDeliveries)
}

func TestSupervisor_DeadWorkerShutsDownPipeline(t *testing.T) {
	boom := &testutil.FuncStage{
		RoutineFn: func(ctx context.Context, rt api.Runtime) error {
			return errors.New("device unplugged")
		},
	}

	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(boom))
	reg.MustRegister("sink", testutil.Factory(&testutil.Sink{}))

	logger, logs := testLogger()
	sup := New(fastOptions(reg, logger))

	err := sup.Run(context.Background(), twoStageConfig(t))

	var wde *WorkersDiedError
	require.True(t, errors.As(err, &wde), "expected WorkersDiedError, got %v", err)
	assert.Equal(t, []string{"a"}, wde.Stages)
	assert.Contains(t, logs.String(), "device unplugged")
	assert.Contains(t, logs.String(), "workers_died")
	assert.True(t, sup.Pipeline().Exit.IsSet())
}

func TestSupervisor_ContextCancelIsClean(t *testing.T) {
	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(&testutil.FuncStage{}))
	reg.MustRegister("sink", testutil.Factory(&testutil.Sink{}))

	logger, _ := testLogger()
	sup := New(fastOptions(reg, logger))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool {
			p := sup.Pipeline()
			return p != nil && p.Start.IsSet()
		}, 2*time.Second, 5*time.Millisecond)
		cancel()
	}()

	require.NoError(t, sup.Run(ctx, twoStageConfig(t)))
	for _, info := range sup.Workers() {
		assert.Equal(t, api.StateTerminated, info.State, info.Name)
	}
}

func TestSupervisor_UnresponsiveWorkerIsKilled(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	stuck := &testutil.FuncStage{
		RoutineFn: func(ctx context.Context, rt api.Runtime) error {
			<-release
			return nil
		},
	}

	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(stuck))
	reg.MustRegister("sink", testutil.Factory(&testutil.Sink{}))

	logger, logs := testLogger()
	metrics := &api.BasicMetrics{}
	opts := fastOptions(reg, logger)
	opts.Observer = metrics
	sup := New(opts)

	go func() {
		assert.Eventually(t, func() bool {
			p := sup.Pipeline()
			return p != nil && p.Start.IsSet()
		}, 2*time.Second, 5*time.Millisecond)
		sup.Stop()
	}()

	done := make(chan error, 1)
	go func() { done <- sup.Run(context.Background(), twoStageConfig(t)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("supervisor hung on an unresponsive worker")
	}

	out := logs.String()
	assert.Contains(t, out, "worker_killed")
	assert.True(t, strings.Contains(out, "worker=a"), "kill log must name the worker")
	assert.EqualValues(t, 1, metrics.Snapshot().WorkersKilled)
}

func TestSupervisor_ConfigErrorStartsNothing(t *testing.T) {
	reg := registry.New()
	reg.MustRegister("src", func(api.StageConfig) (api.Stage, error) {
		return &testutil.Source{}, nil
	})

	cfg, err := config.FromMap(map[string]any{
		"a": map[string]any{"type": "src", "to": "c"},
		"b": map[string]any{"type": "src", "to": "c"},
		"c": map[string]any{"type": "src"},
	})
	require.NoError(t, err)

	logger, logs := testLogger()
	sup := New(fastOptions(reg, logger))

	err = sup.Run(context.Background(), cfg)
	require.ErrorIs(t, err, api.ErrDuplicateInput)
	assert.Nil(t, sup.Workers())
	assert.NotContains(t, logs.String(), "worker_started")
}

type panickyObserver struct{ api.NoopObserver }

func (panickyObserver) OnPipelineStarted(ctx context.Context, workers int) {
	panic("observer exploded")
}

func TestSupervisor_PanicStillTearsDown(t *testing.T) {
	reg := registry.New()
	reg.MustRegister("src", testutil.Factory(&testutil.FuncStage{}))
	reg.MustRegister("sink", testutil.Factory(&testutil.Sink{}))

	logger, logs := testLogger()
	opts := fastOptions(reg, logger)
	opts.Observer = panickyObserver{}
	sup := New(opts)

	err := sup.Run(context.Background(), twoStageConfig(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "observer exploded")
	assert.Contains(t, logs.String(), "supervisor_panic")

	for _, info := range sup.Workers() {
		assert.Equal(t, api.StateTerminated, info.State, info.Name)
	}
	assert.Equal(t, 1, strings.Count(logs.String(), "pipeline_stopped"), "teardown must run exactly once")
}

func TestSupervisor_RunTwiceFails(t *testing.T) {
	reg := registry.New()
	logger, _ := testLogger()
	sup := New(fastOptions(reg, logger))

	cfg, err := config.FromMap(map[string]any{})
	require.NoError(t, err)

	sup.Stop()
	require.NoError(t, sup.Run(context.Background(), cfg))
	require.Error(t, sup.Run(context.Background(), cfg))
}
