package stagehand_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"time"

	"github.com/petrijr/stagehand"
)

// greeter emits one greeting per Routine call, then reports it is done.
type greeter struct {
	stagehand.BaseStage
	names []string
}

func (g *greeter) Routine(ctx context.Context, rt stagehand.Runtime) error {
	if len(g.names) == 0 {
		rt.MarkDone()
		return stagehand.ErrNoInput
	}
	msg := stagehand.NewEnvelope("conv")
	msg["text"] = "hello, " + g.names[0]
	g.names = g.names[1:]
	rt.Emit(msg)
	return nil
}

// shout prints each message and stops the runner after the last one.
type shout struct {
	stagehand.BaseStage
	want   int
	runner *stagehand.LocalRunner
}

func (s *shout) Routine(ctx context.Context, rt stagehand.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return stagehand.ErrNoInput
	}
	fmt.Println(msg.String("text"))
	if s.want--; s.want == 0 {
		s.runner.Stop()
	}
	return nil
}

// Example_localRunner wires two custom stages with the builder and runs
// them in-process until the sink has seen every message.
func Example_localRunner() {
	runner := stagehand.NewLocalRunner(
		stagehand.WithReadyTimeout(5*time.Second),
		stagehand.WithPollIntervals(10*time.Millisecond, 10*time.Millisecond),
		stagehand.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	stagehand.MustRegisterStage("example_greeter", func(stagehand.StageConfig) (stagehand.Stage, error) {
		return &greeter{names: []string{"Ada", "Grace", "Linus"}}, nil
	})
	stagehand.MustRegisterStage("example_shout", func(stagehand.StageConfig) (stagehand.Stage, error) {
		return &shout{want: 3, runner: runner}, nil
	})

	cfg, err := stagehand.New().
		Stage("greeter", "example_greeter", nil).
		Stage("shout", "example_shout", nil).
		To("greeter", "shout").
		Config()
	if err != nil {
		log.Fatal(err)
	}

	if err := runner.Run(context.Background(), cfg); err != nil {
		log.Fatal(err)
	}

	// Output:
	// hello, Ada
	// hello, Grace
	// hello, Linus
}
