// Package script runs startup Lua scripts against the filter registry.
//
// Scripts execute in a sandboxed Lua state with only the base, table,
// string and math libraries open. A `stopfilter` module is exposed for
// installing, removing and listing stop filters.
package script
