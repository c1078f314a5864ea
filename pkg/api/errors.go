package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoInput is returned by Stage.Routine when there was nothing to do
	// this iteration. It is not a failure; the worker idles briefly.
	ErrNoInput = errors.New("no input")

	// ErrInvalidConfig marks malformed pipeline or stage configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownStage is returned when a stage type tag is not registered.
	ErrUnknownStage = errors.New("unknown stage type")

	// ErrUnknownTarget is returned when a routing directive names a stage
	// that does not exist.
	ErrUnknownTarget = errors.New("unknown routing target")

	// ErrDuplicateInput is returned when a stage would get a second input edge.
	ErrDuplicateInput = errors.New("only one input edge per stage is allowed")

	// ErrDuplicateStage is returned when a type tag is registered twice.
	ErrDuplicateStage = errors.New("stage type already registered")
)

// ConfigError is a fatal configuration problem detected before any worker
// starts.
type ConfigError struct {
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config: stage %q: %v", e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err for stage.
func NewConfigError(stage string, err error) *ConfigError {
	return &ConfigError{Stage: stage, Err: err}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
