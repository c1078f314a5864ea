package api

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Reserved stage config keys. They describe the topology and are stripped
// before a factory sees the config.
const (
	ConfigKeyType   = "type"
	ConfigKeyTo     = "to"
	ConfigKeyGlobal = "global"
)

// Stage is one pipeline stage. Workers drive it through Setup, Startup,
// then repeated Routine calls, and always Cleanup.
//
// Routine must not block indefinitely: it fetches at most one input with
// Runtime.Next and returns ErrNoInput when there was nothing to do.
type Stage interface {
	// Setup acquires slow resources. The worker reports ready only after it
	// returns nil.
	Setup(ctx context.Context, rt Runtime) error

	// Startup runs once the pipeline has been released, for resources that
	// must not hold up the readiness barrier (live devices, timers).
	Startup(ctx context.Context, rt Runtime) error

	// Routine performs one unit of work.
	Routine(ctx context.Context, rt Runtime) error

	// Cleanup releases resources. It runs on every exit path.
	Cleanup(ctx context.Context, rt Runtime) error
}

// BaseStage provides no-op Setup, Startup and Cleanup. Embed it and
// implement Routine.
type BaseStage struct{}

func (BaseStage) Setup(ctx context.Context, rt Runtime) error   { return nil }
func (BaseStage) Startup(ctx context.Context, rt Runtime) error { return nil }
func (BaseStage) Cleanup(ctx context.Context, rt Runtime) error { return nil }

// Runtime is the handle a worker gives to its stage.
type Runtime interface {
	// Name is the stage key from the pipeline config.
	Name() string

	// Logger is scoped to the worker.
	Logger() *slog.Logger

	// Next fetches at most one message from the input edge without
	// blocking. It returns false when the stage has no input edge or the
	// edge is empty.
	Next() (Envelope, bool)

	// Emit broadcasts msg to every output edge. Each edge receives its own
	// shallow copy.
	Emit(msg Envelope)

	// MarkDone records that the stage has no more work to produce.
	MarkDone()

	// Exiting reports whether the pipeline has requested shutdown.
	Exiting() bool

	// ExitSignal is closed when shutdown is requested.
	ExitSignal() <-chan struct{}

	// DrainInput discards everything queued on the input edge.
	DrainInput() int

	// DrainOutputs discards everything queued on the output edges.
	DrainOutputs() int
}

// StageConfig is the merged option mapping handed to a factory.
type StageConfig map[string]any

// Factory builds a stage from its merged config.
type Factory func(cfg StageConfig) (Stage, error)

// MergeStageConfig overlays local on top of global and strips the routing
// and type keys.
func MergeStageConfig(local, global map[string]any) StageConfig {
	out := make(StageConfig, len(global)+len(local))
	maps.Copy(out, global)
	maps.Copy(out, local)
	delete(out, ConfigKeyTo)
	delete(out, ConfigKeyType)
	return out
}

// Decode maps the config onto dst, a pointer to an options struct tagged
// with `config:"..."`. Values are weakly typed ("8080" decodes into an
// int) and unknown keys are ignored. Durations accept Go duration strings
// ("250ms") or numbers of seconds (0.5).
func (c StageConfig) Decode(dst any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		TagName:          "config",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(c)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads numeric durations as seconds.
func secondsToDurationHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	var secs float64
	switch v := data.(type) {
	case float64:
		secs = v
	case float32:
		secs = float64(v)
	case int:
		secs = float64(v)
	case int64:
		secs = float64(v)
	case int32:
		secs = float64(v)
	case uint64:
		secs = float64(v)
	case uint:
		secs = float64(v)
	default:
		return data, nil
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > math.MaxInt64/float64(time.Second) {
		return nil, fmt.Errorf("duration %v out of range", data)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
