package filter

import (
	"fmt"
)

// PatternError reports a malformed regular expression supplied for a
// criterion. It is raised at compile time, before any observation is
// evaluated, so a bad pattern can never be silently demoted to
// "never matches".
type PatternError struct {
	Criterion Criterion
	Pattern   string
	Err       error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("invalid %s pattern %q: %v", e.Criterion, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error {
	return e.Err
}
