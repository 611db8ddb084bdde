// Package command provides the serialized command surface: a registry of
// named command handlers and the filter commands that install, remove and
// list stop filters from a single argument string.
package command
