package registry

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/petrijr/stagehand/pkg/api"
)

// Registry maps stage type tags to factories.
type Registry struct {
	mu    sync.RWMutex
	byTag map[string]api.Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{byTag: make(map[string]api.Factory)}
}

// Default is the process-wide registry that built-in stages add themselves
// to from init functions.
var Default = New()

// Register adds factory under tag. Empty or duplicate tags are rejected.
func (r *Registry) Register(tag string, factory api.Factory) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return fmt.Errorf("%w: empty stage type", api.ErrInvalidConfig)
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for stage type %q", api.ErrInvalidConfig, tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTag[tag]; exists {
		return fmt.Errorf("%w: %q", api.ErrDuplicateStage, tag)
	}
	r.byTag[tag] = factory
	return nil
}

// MustRegister is Register for init functions: it panics on error.
func (r *Registry) MustRegister(tag string, factory api.Factory) {
	if err := r.Register(tag, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory registered under tag.
func (r *Registry) Lookup(tag string) (api.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byTag[tag]
	return f, ok
}

// Construct merges global and local config (local wins), strips the
// routing keys and builds the stage registered under tag.
func (r *Registry) Construct(tag string, local, global map[string]any) (api.Stage, api.StageConfig, error) {
	factory, ok := r.Lookup(tag)
	if !ok {
		return nil, nil, fmt.Errorf("%w %q (known: %s)", api.ErrUnknownStage, tag, strings.Join(r.Tags(), ", "))
	}

	cfg := api.MergeStageConfig(local, global)
	stage, err := factory(cfg)
	if err != nil {
		return nil, cfg, err
	}
	if stage == nil {
		return nil, cfg, fmt.Errorf("factory for %q returned a nil stage", tag)
	}
	return stage, cfg, nil
}

// Tags returns the registered tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		out = append(out, tag)
	}
	slices.Sort(out)
	return out
}

// Register adds factory to the Default registry.
func Register(tag string, factory api.Factory) error {
	return Default.Register(tag, factory)
}

// MustRegister adds factory to the Default registry and panics on error.
func MustRegister(tag string, factory api.Factory) {
	Default.MustRegister(tag, factory)
}
