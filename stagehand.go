package stagehand

import (
	"github.com/petrijr/stagehand/internal/config"
	"github.com/petrijr/stagehand/internal/registry"
	"github.com/petrijr/stagehand/pkg/api"
	"github.com/petrijr/stagehand/pkg/worker"

	// Built-in stages register themselves on the default registry.
	_ "github.com/petrijr/stagehand/internal/bridge"
	_ "github.com/petrijr/stagehand/internal/stages"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Envelope          = api.Envelope
	Stage             = api.Stage
	BaseStage         = api.BaseStage
	Runtime           = api.Runtime
	StageConfig       = api.StageConfig
	Factory           = api.Factory
	Signal            = api.Signal
	WorkerState       = api.WorkerState
	Observer          = api.Observer
	NoopObserver      = api.NoopObserver
	LoggingObserver   = api.LoggingObserver
	CompositeObserver = api.CompositeObserver
	BasicMetrics      = api.BasicMetrics
	ConfigError       = api.ConfigError
	WorkerInfo        = worker.Info

	// Config is a parsed pipeline description.
	Config = config.Pipeline
)

var (
	NewEnvelope          = api.NewEnvelope
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export sentinel errors.

var (
	ErrNoInput        = api.ErrNoInput
	ErrUnknownStage   = api.ErrUnknownStage
	ErrUnknownTarget  = api.ErrUnknownTarget
	ErrDuplicateInput = api.ErrDuplicateInput
	ErrDuplicateStage = api.ErrDuplicateStage
	ErrInvalidConfig  = api.ErrInvalidConfig
)

// RegisterStage makes a stage type available to pipeline configs under
// tag. Registering a tag twice is an error.
func RegisterStage(tag string, factory Factory) error {
	return registry.Register(tag, factory)
}

// MustRegisterStage is RegisterStage for init functions.
func MustRegisterStage(tag string, factory Factory) {
	registry.MustRegister(tag, factory)
}

// StageTypes lists the registered stage tags.
func StageTypes() []string {
	return registry.Default.Tags()
}

// LoadConfig reads a YAML or JSON pipeline file. STAGEHAND_<STAGE>__<KEY>
// environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ConfigFromMap builds a pipeline description from a decoded mapping.
func ConfigFromMap(raw map[string]any) (*Config, error) {
	return config.FromMap(raw)
}
