package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/stagehand/internal/config"
	"github.com/petrijr/stagehand/internal/edge"
	"github.com/petrijr/stagehand/internal/registry"
	"github.com/petrijr/stagehand/pkg/api"
	"github.com/petrijr/stagehand/pkg/worker"
)

// Options are handed to every worker of the pipeline.
type Options struct {
	// Start and Exit are created when nil.
	Start *api.Signal
	Exit  *api.Signal

	IdleInterval time.Duration
	Logger       *slog.Logger
	Observer     api.Observer
}

// Pipeline is the set of workers and edges for one run. Its topology does
// not change after Build returns.
type Pipeline struct {
	Workers []*worker.Worker
	Edges   []edge.Edge

	Start *api.Signal
	Exit  *api.Signal

	byName map[string]*worker.Worker
}

// Build constructs every stage of cfg through reg and wires the edges.
//
// Stages are built in sorted key order. A destination may be fed by a
// single edge only; a second one fails with api.ErrDuplicateInput. Nothing
// is started.
func Build(cfg *config.Pipeline, reg *registry.Registry, opts Options) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil pipeline config", api.ErrInvalidConfig)
	}
	if reg == nil {
		reg = registry.Default
	}
	if opts.Start == nil {
		opts.Start = api.NewSignal("start")
	}
	if opts.Exit == nil {
		opts.Exit = api.NewSignal("exit")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	p := &Pipeline{
		Start:  opts.Start,
		Exit:   opts.Exit,
		byName: make(map[string]*worker.Worker, len(cfg.Stages)),
	}

	keys := cfg.Keys()
	for _, key := range keys {
		tag := cfg.Type(key)
		if tag == "" {
			return nil, api.NewConfigError(key, fmt.Errorf("%w: missing %q", api.ErrInvalidConfig, api.ConfigKeyType))
		}

		stage, _, err := reg.Construct(tag, cfg.Stages[key], cfg.Global)
		if err != nil {
			return nil, api.NewConfigError(key, err)
		}

		w := worker.New(key, stage, worker.Config{
			Start:        opts.Start,
			Exit:         opts.Exit,
			IdleInterval: opts.IdleInterval,
			Logger:       opts.Logger,
			Observer:     opts.Observer,
		})
		p.Workers = append(p.Workers, w)
		p.byName[key] = w
	}

	for _, key := range keys {
		targets, err := cfg.Targets(key)
		if err != nil {
			return nil, err
		}
		src := p.byName[key]
		for _, target := range targets {
			dst, ok := p.byName[target]
			if !ok {
				return nil, api.NewConfigError(key, fmt.Errorf("%w %q", api.ErrUnknownTarget, target))
			}

			e := edge.NewInMemoryEdge(edge.Name(key, target))
			if err := dst.SetInput(e); err != nil {
				return nil, api.NewConfigError(target, err)
			}
			src.AddOutput(e)
			p.Edges = append(p.Edges, e)
		}
	}

	return p, nil
}

// Worker returns the worker for a stage key, or nil.
func (p *Pipeline) Worker(name string) *worker.Worker {
	return p.byName[name]
}

// Names returns the stage keys in build order.
func (p *Pipeline) Names() []string {
	out := make([]string, len(p.Workers))
	for i, w := range p.Workers {
		out[i] = w.Name()
	}
	return out
}
