package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/stopfilter/internal/filter"
)

// Config is the full configuration file contents.
type Config struct {
	Adapter AdapterConfig `toml:"adapter" yaml:"adapter"`
	Session SessionConfig `toml:"session" yaml:"session"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`

	// Scripts are Lua files run at startup, in order.
	Scripts []string `toml:"scripts" yaml:"scripts"`

	// Filters are the declarative filter rules, installed in order.
	Filters []FilterRule `toml:"filter" yaml:"filters"`
}

// AdapterConfig selects and parameterizes the debug adapter.
type AdapterConfig struct {
	// Type is the adapter launcher name: delve, debugpy or node.
	Type string `toml:"type" yaml:"type"`

	// Program is the debuggee to launch.
	Program string `toml:"program" yaml:"program"`

	// Args are passed to the debuggee.
	Args []string `toml:"args" yaml:"args"`

	// Attach is a host:port of an already running adapter; when set,
	// the session attaches instead of launching.
	Attach string `toml:"attach" yaml:"attach"`

	// Cwd is the debuggee working directory.
	Cwd string `toml:"cwd" yaml:"cwd"`
}

// SessionConfig parameterizes the debug session.
type SessionConfig struct {
	// Async is the initial execution mode flag.
	Async bool `toml:"async" yaml:"async"`
}

// LoggingConfig parameterizes the logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`
}

// FilterRule is one declarative stop filter.
type FilterRule struct {
	SourceFile string `toml:"source_file" yaml:"source_file"`
	ModuleFile string `toml:"module_file" yaml:"module_file"`
	Function   string `toml:"function" yaml:"function"`
}

// Spec converts the rule to a filter spec.
func (r FilterRule) Spec() filter.Spec {
	return filter.Spec{
		SourceFile: r.SourceFile,
		ModuleFile: r.ModuleFile,
		Function:   r.Function,
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Adapter: AdapterConfig{Type: "delve"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// knownAdapters are the adapter types a launcher exists for.
var knownAdapters = map[string]bool{
	"delve":   true,
	"debugpy": true,
	"node":    true,
}

// Load reads and validates a configuration file. The format follows the
// extension: .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration. Every filter pattern is compiled
// here, so a malformed rule never reaches registration.
func (c *Config) Validate() error {
	if c.Adapter.Type != "" && !knownAdapters[c.Adapter.Type] {
		return fmt.Errorf("%w: %s", ErrUnknownAdapter, c.Adapter.Type)
	}
	for i, rule := range c.Filters {
		if _, err := filter.New(rule.Spec()); err != nil {
			return fmt.Errorf("filter %d: %w", i, err)
		}
	}
	return nil
}

// Specs returns the filter specs of every rule, in file order.
func (c *Config) Specs() []filter.Spec {
	specs := make([]filter.Spec, 0, len(c.Filters))
	for _, rule := range c.Filters {
		specs = append(specs, rule.Spec())
	}
	return specs
}
