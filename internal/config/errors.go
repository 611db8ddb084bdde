package config

import "errors"

// Configuration errors.
var (
	// ErrUnsupportedFormat indicates a rules file extension that is
	// neither TOML nor YAML.
	ErrUnsupportedFormat = errors.New("config: unsupported file format")

	// ErrUnknownAdapter indicates an adapter type no launcher exists
	// for.
	ErrUnknownAdapter = errors.New("config: unknown adapter type")
)
