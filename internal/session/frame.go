package session

import (
	"github.com/dshills/stopfilter/internal/dap"
)

// Frame is a borrowed view of one stack frame, valid for the duration of
// a single stop. Fields the adapter could not provide read as absent;
// absence is reported by the accessors, never papered over with empty
// strings.
type Frame struct {
	// ID is the adapter's frame identifier.
	ID int

	name     string
	source   *dap.Source
	line     int
	moduleID any
}

// NewFrame wraps a protocol stack frame.
func NewFrame(f dap.StackFrame) *Frame {
	return &Frame{
		ID:       f.ID,
		name:     f.Name,
		source:   f.Source,
		line:     f.Line,
		moduleID: f.ModuleID,
	}
}

// FunctionName returns the frame's function display name. ok is false
// when the adapter resolved no name.
func (f *Frame) FunctionName() (string, bool) {
	return f.name, f.name != ""
}

// SourcePath returns the source file path of the frame's line entry. ok
// is false when the frame has no source or the source has no path.
func (f *Frame) SourcePath() (string, bool) {
	if f.source == nil || f.source.Path == "" {
		return "", false
	}
	return f.source.Path, true
}

// Line returns the frame's current line. ok is false when the frame has
// no line entry.
func (f *Frame) Line() (int, bool) {
	return f.line, f.line > 0
}

// ModuleID returns the opaque module identifier of the frame's owning
// module. ok is false when the frame has no associated module.
func (f *Frame) ModuleID() (any, bool) {
	return f.moduleID, f.moduleID != nil
}
