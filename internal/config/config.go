// Package config loads the YAML configuration file that drives the
// compendium builder, the sandbox driver, and the graph executor: working
// directories, data-source rules, scrubbed environment variables, the
// executor's parallelism bound, and a per-job timeout.
//
// Grounded on scriptweaver/internal/core's `yaml:"..."` task-definition
// tags and bdcrrm_api/config.py's EnvironmentConfig/ExecutionEngineConfig
// dataclasses, which group the same builder/execution tunables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"compendium/internal/compendium"
	"compendium/internal/hash"
)

// DataSourceRule is the YAML-facing mirror of compendium.DataSourceRule.
type DataSourceRule struct {
	Pattern string `yaml:"pattern"`
	Action  string `yaml:"action"` // "include" or "exclude"
}

// Builder is the compendium-builder section of the config file.
type Builder struct {
	WorkingDirectories []string         `yaml:"working_directories"`
	DataSources        []DataSourceRule `yaml:"data_sources"`
	IgnoredDataObjects []string         `yaml:"ignored_data_objects,omitempty"`
	SecretEnvVars      []string         `yaml:"secret_env_vars,omitempty"`
	Algorithm          string           `yaml:"algorithm,omitempty"`
}

// Execution is the sandbox/executor section of the config file.
type Execution struct {
	// Parallelism is the executor's bound P; 1 means sequential.
	Parallelism int `yaml:"parallelism,omitempty"`

	// JobTimeout is parsed from the config file and kept on the Runtime,
	// but no component reads it: sandbox reproductions run without a
	// wall-clock limit whatever its value.
	JobTimeout time.Duration `yaml:"job_timeout,omitempty"`
}

// Config is the root document loaded from the YAML config file.
type Config struct {
	Builder   Builder   `yaml:"builder"`
	Execution Execution `yaml:"execution"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Execution.Parallelism <= 0 {
		c.Execution.Parallelism = 1
	}
	return c, nil
}

// BuilderConfig translates the YAML Builder section into a
// compendium.Config ready to hand to the compendium builder.
func (c Config) BuilderConfig() (compendium.Config, error) {
	algo := hash.SHA256
	if c.Builder.Algorithm != "" {
		algo = hash.Algorithm(c.Builder.Algorithm)
	}

	rules := make([]compendium.DataSourceRule, 0, len(c.Builder.DataSources))
	for _, r := range c.Builder.DataSources {
		var action compendium.Action
		switch r.Action {
		case "include":
			action = compendium.Include
		case "exclude":
			action = compendium.Exclude
		default:
			return compendium.Config{}, fmt.Errorf("config: data source %q: unknown action %q", r.Pattern, r.Action)
		}
		rules = append(rules, compendium.DataSourceRule{Pattern: r.Pattern, Action: action})
	}

	return compendium.Config{
		WorkingDirectories: c.Builder.WorkingDirectories,
		DataSources:        rules,
		IgnoredDataObjects: c.Builder.IgnoredDataObjects,
		SecretEnvVars:      c.Builder.SecretEnvVars,
		Algorithm:          algo,
	}, nil
}
