package stagehand

import (
	"fmt"
	"maps"

	"github.com/petrijr/stagehand/pkg/api"
)

// PipelineBuilder provides a fluent API for describing pipelines in code
// instead of a config file:
//
//	cfg, err := stagehand.New().
//	    Global("sample_rate", 16000).
//	    Stage("mic", "file_stream", map[string]any{"path": "samples/"}).
//	    Stage("out", "print", nil).
//	    To("mic", "out").
//	    Config()
//
// Topology errors (unknown targets, a stage with two inputs) are reported
// when the pipeline is built, exactly as for config files.
type PipelineBuilder struct {
	global map[string]any
	stages map[string]map[string]any
	order  []string
}

// New creates an empty pipeline builder.
func New() *PipelineBuilder {
	return &PipelineBuilder{
		global: map[string]any{},
		stages: map[string]map[string]any{},
	}
}

// Global sets a default option inherited by every stage.
func (b *PipelineBuilder) Global(key string, value any) *PipelineBuilder {
	b.global[key] = value
	return b
}

// Stage adds a stage of type tag under key. opts may be nil.
func (b *PipelineBuilder) Stage(key, tag string, opts map[string]any) *PipelineBuilder {
	if key == "" {
		panic("stagehand: stage key must not be empty")
	}
	if key == api.ConfigKeyGlobal {
		panic(fmt.Sprintf("stagehand: %q is reserved", key))
	}
	if _, ok := b.stages[key]; ok {
		panic(fmt.Sprintf("stagehand: stage %q added twice", key))
	}

	section := make(map[string]any, len(opts)+1)
	maps.Copy(section, opts)
	section[api.ConfigKeyType] = tag

	b.stages[key] = section
	b.order = append(b.order, key)
	return b
}

// To routes the output of src to each target.
func (b *PipelineBuilder) To(src string, targets ...string) *PipelineBuilder {
	section, ok := b.stages[src]
	if !ok {
		panic(fmt.Sprintf("stagehand: To(%q): unknown stage", src))
	}

	var existing []any
	switch to := section[api.ConfigKeyTo].(type) {
	case []any:
		existing = to
	case string:
		existing = []any{to}
	}
	for _, t := range targets {
		existing = append(existing, t)
	}
	section[api.ConfigKeyTo] = existing
	return b
}

// Keys returns the stage keys in the order they were added.
func (b *PipelineBuilder) Keys() []string {
	return append([]string(nil), b.order...)
}

// Config returns the pipeline description.
func (b *PipelineBuilder) Config() (*Config, error) {
	raw := make(map[string]any, len(b.stages)+1)
	if len(b.global) > 0 {
		raw[api.ConfigKeyGlobal] = maps.Clone(b.global)
	}
	for key, section := range b.stages {
		raw[key] = maps.Clone(section)
	}
	return ConfigFromMap(raw)
}

// MustConfig is Config that panics on error.
func (b *PipelineBuilder) MustConfig() *Config {
	cfg, err := b.Config()
	if err != nil {
		panic(err)
	}
	return cfg
}
