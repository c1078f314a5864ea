package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/petrijr/stagehand/pkg/api"
)

// CommandFilterOptions configures command_filter. Exactly one of the two
// lists may be set.
type CommandFilterOptions struct {
	Commands []string `config:"commands"`
	Drop     []string `config:"drop"`
}

// CommandFilter forwards envelopes whose command is allowed.
type CommandFilter struct {
	api.BaseStage
	allow map[string]bool
	drop  map[string]bool
}

func NewCommandFilter(opts CommandFilterOptions) (*CommandFilter, error) {
	if len(opts.Commands) > 0 && len(opts.Drop) > 0 {
		return nil, fmt.Errorf("%w: set either commands or drop, not both", api.ErrInvalidConfig)
	}
	return &CommandFilter{allow: set(opts.Commands), drop: set(opts.Drop)}, nil
}

func newCommandFilterStage(cfg api.StageConfig) (api.Stage, error) {
	var opts CommandFilterOptions
	if err := cfg.Decode(&opts); err != nil {
		return nil, err
	}
	return NewCommandFilter(opts)
}

func (f *CommandFilter) Routine(ctx context.Context, rt api.Runtime) error {
	msg, ok := rt.Next()
	if !ok {
		return api.ErrNoInput
	}
	if f.Allows(msg.Command()) {
		rt.Emit(msg)
		return nil
	}
	rt.Logger().Debug("command_filtered", slog.String("command", msg.Command()))
	return nil
}

// Allows reports whether command passes the filter.
func (f *CommandFilter) Allows(command string) bool {
	if f.allow != nil {
		return f.allow[command]
	}
	return !f.drop[command]
}

func set(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
