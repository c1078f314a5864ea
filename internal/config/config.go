// Package config loads pipeline descriptions.
//
// A pipeline file is a mapping of stage keys to stage settings plus an
// optional "global" section merged as defaults into every stage:
//
//	global:
//	  sample_rate: 16000
//	mic:
//	  type: file_stream
//	  to: [printer, recorder]
//	printer:
//	  type: print
//
// Files may be YAML or JSON. Environment variables prefixed with
// STAGEHAND_ override file values, using "__" as the nesting separator
// (STAGEHAND_MIC__SAMPLE_RATE=8000).
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/petrijr/stagehand/pkg/api"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "STAGEHAND_"

// keyDelim separates nested koanf paths. Stage keys and setting names may
// contain dots ("asr.v2"), so the delimiter must not be one.
const keyDelim = "::"

// Pipeline is a parsed pipeline description.
type Pipeline struct {
	Global map[string]any
	Stages map[string]map[string]any
}

// Load reads a pipeline from path and applies environment overrides.
func Load(path string) (*Pipeline, error) {
	k := koanf.New(keyDelim)

	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", api.ErrInvalidConfig, filepath.Ext(path))
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, keyDelim, envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	return FromMap(k.Raw())
}

// envKey maps STAGEHAND_MIC__SAMPLE_RATE to "mic::sample_rate". Variables
// without a nested key are not stage overrides and are skipped.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if !strings.Contains(s, "__") {
		return ""
	}
	return strings.ReplaceAll(s, "__", keyDelim)
}

// FromMap builds a Pipeline from an already decoded mapping.
func FromMap(raw map[string]any) (*Pipeline, error) {
	k := koanf.New(keyDelim)
	if err := k.Load(confmap.Provider(raw, ""), nil); err != nil {
		return nil, err
	}

	p := &Pipeline{
		Global: map[string]any{},
		Stages: map[string]map[string]any{},
	}

	for key, value := range k.Raw() {
		section, ok := value.(map[string]any)
		if !ok {
			if value == nil {
				section = map[string]any{}
			} else {
				return nil, api.NewConfigError(key, fmt.Errorf("%w: stage settings must be a mapping, got %T", api.ErrInvalidConfig, value))
			}
		}
		expandEnv(section)

		if key == api.ConfigKeyGlobal {
			p.Global = section
			continue
		}
		p.Stages[key] = section
	}
	return p, nil
}

// Keys returns the stage keys in sorted order.
func (p *Pipeline) Keys() []string {
	return slices.Sorted(maps.Keys(p.Stages))
}

// Type returns the stage's type tag, or "" when missing.
func (p *Pipeline) Type(key string) string {
	t, _ := p.Stages[key][api.ConfigKeyType].(string)
	return t
}

// Targets returns the routing targets of a stage. The "to" directive may be
// a single name or a list of names.
func (p *Pipeline) Targets(key string) ([]string, error) {
	raw, ok := p.Stages[key][api.ConfigKeyTo]
	if !ok || raw == nil {
		return nil, nil
	}

	switch v := raw.(type) {
	case string:
		return splitTargets(v), nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, api.NewConfigError(key, fmt.Errorf("%w: target %v is not a name", api.ErrInvalidConfig, item))
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, api.NewConfigError(key, fmt.Errorf("%w: \"to\" must be a name or list of names, got %T", api.ErrInvalidConfig, raw))
	}
}

// splitTargets accepts "a" and the comma separated "a,b" produced by
// environment overrides.
func splitTargets(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv substitutes ${VAR} references in string values so secrets such
// as bridge keys can stay out of the file.
func expandEnv(section map[string]any) {
	for k, v := range section {
		s, ok := v.(string)
		if !ok || !strings.Contains(s, "${") {
			continue
		}
		section[k] = envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
			return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
		})
	}
}
