// Package filter implements the stop decision for debug sessions.
//
// A Criteria holds up to three regular expressions, matched against the
// function name, module file path and source file path of the frame where
// the debuggee stopped. A single match on any configured criterion allows
// the stop to surface; when nothing matches the stop is suppressed and the
// target is resumed by the caller.
//
// Note that a Criteria with no patterns configured suppresses every stop.
// Callers that want unconditional stopping should not install a filter at
// all.
package filter
