// Package config loads declarative filter sets and session settings from
// TOML or YAML files, chosen by extension, and supports live reload of
// the rules file.
package config
