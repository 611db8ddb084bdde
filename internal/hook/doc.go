// Package hook implements stop-hook filters: handlers that run on every
// stop of the debuggee, inspect the stopped thread's top frame, and
// either let the stop surface or silently resume the target.
//
// Each registered filter is independent. When several filters are
// installed they run in registration order; composition across filters is
// a property of that dispatch order, not of the filters themselves.
package hook
