// Package config holds the settings of an interpreter and the CLI, loadable
// from a YAML file.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config configures graph execution.
type Config struct {
	// ArenaBytes is the scratch arena capacity. Zero sizes the arena from
	// the graph so that every transient tensor fits at once.
	ArenaBytes int `yaml:"arena_bytes"`
	// MaxLoopIterations bounds every While loop. Zero leaves loops
	// unbounded.
	MaxLoopIterations int `yaml:"max_loop_iterations"`
	// Training runs the backward operators after the forward pass.
	Training bool `yaml:"training"`
	// Strict rejects a graph at load time when any of its operators,
	// nested graphs included, has no kernel. Otherwise the run fails when
	// it reaches the operator.
	Strict bool `yaml:"strict"`
	// LogVerbosity is the klog verbosity the CLI runs with.
	LogVerbosity int `yaml:"log_verbosity"`
}

// Default returns the default configuration: graph-sized arena, unbounded
// loops, inference only, strict loading.
func Default() Config {
	return Config{Strict: true}
}

// Validate checks that every field is in range.
func (c Config) Validate() error {
	if c.ArenaBytes < 0 {
		return fmt.Errorf("arena_bytes must not be negative, got %d", c.ArenaBytes)
	}
	if c.MaxLoopIterations < 0 {
		return fmt.Errorf("max_loop_iterations must not be negative, got %d", c.MaxLoopIterations)
	}
	if c.LogVerbosity < 0 {
		return fmt.Errorf("log_verbosity must not be negative, got %d", c.LogVerbosity)
	}
	return nil
}

// Parse decodes a YAML document over Default. Unknown keys are errors.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path. An empty path yields Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
