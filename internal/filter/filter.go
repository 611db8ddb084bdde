package filter

import (
	"regexp"
)

// Criterion identifies one of the three filter criteria.
type Criterion int

const (
	// CriterionFunction matches against the function display name.
	CriterionFunction Criterion = iota
	// CriterionModule matches against the module file path.
	CriterionModule
	// CriterionSource matches against the source file path.
	CriterionSource
)

// String returns the criterion name as used in flags and error messages.
func (c Criterion) String() string {
	switch c {
	case CriterionFunction:
		return "function"
	case CriterionModule:
		return "module-file"
	case CriterionSource:
		return "source-file"
	default:
		return "unknown"
	}
}

// Spec holds the raw, uncompiled patterns for a filter. An empty string
// means the criterion is not configured.
type Spec struct {
	SourceFile string
	ModuleFile string
	Function   string
}

// Empty reports whether no pattern is configured.
func (s Spec) Empty() bool {
	return s.SourceFile == "" && s.ModuleFile == "" && s.Function == ""
}

// Criteria is an immutable set of compiled filter patterns.
type Criteria struct {
	spec     Spec
	source   *regexp.Regexp
	module   *regexp.Regexp
	function *regexp.Regexp
}

// New compiles the patterns in spec. A malformed pattern returns a
// *PatternError naming the offending criterion; no partially compiled
// Criteria is ever returned.
func New(spec Spec) (*Criteria, error) {
	c := &Criteria{spec: spec}

	var err error
	if spec.Function != "" {
		if c.function, err = regexp.Compile(spec.Function); err != nil {
			return nil, &PatternError{Criterion: CriterionFunction, Pattern: spec.Function, Err: err}
		}
	}
	if spec.ModuleFile != "" {
		if c.module, err = regexp.Compile(spec.ModuleFile); err != nil {
			return nil, &PatternError{Criterion: CriterionModule, Pattern: spec.ModuleFile, Err: err}
		}
	}
	if spec.SourceFile != "" {
		if c.source, err = regexp.Compile(spec.SourceFile); err != nil {
			return nil, &PatternError{Criterion: CriterionSource, Pattern: spec.SourceFile, Err: err}
		}
	}

	return c, nil
}

// MustNew is like New but panics on a malformed pattern. For tests and
// compile-time constant patterns only.
func MustNew(spec Spec) *Criteria {
	c, err := New(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// Spec returns the raw patterns the criteria were compiled from.
func (c *Criteria) Spec() Spec {
	return c.spec
}

// Empty reports whether no pattern is configured. An empty Criteria
// suppresses every stop.
func (c *Criteria) Empty() bool {
	return c.function == nil && c.module == nil && c.source == nil
}

// Field is an optionally observed string. The zero value is absent. An
// absent field never satisfies a pattern, even one that would match the
// empty string.
type Field struct {
	value   string
	present bool
}

// Observed returns a present Field holding v.
func Observed(v string) Field {
	return Field{value: v, present: true}
}

// Present reports whether the field was observed.
func (f Field) Present() bool {
	return f.present
}

// Value returns the observed string and whether it was observed.
func (f Field) Value() (string, bool) {
	return f.value, f.present
}

// Observation captures where the debuggee stopped. It is built fresh from
// the stopped thread's top frame on every stop event and discarded after
// the decision. Line is captured for diagnostics but takes no part in the
// decision.
type Observation struct {
	FunctionName Field
	ModuleFile   Field
	SourceFile   Field
	Line         int
}

// Result is the outcome of evaluating criteria against an observation.
// Matched lists the criteria that triggered the allow, in evaluation
// order, for diagnostic reporting.
type Result struct {
	Allow   bool
	Matched []Criterion
}

// Evaluate matches each configured pattern against its observed field and
// ORs the outcomes. Matching is an unanchored regexp search. Every pair is
// evaluated even after a match so that Result.Matched carries the full
// diagnostic picture. Evaluate is a pure function: identical inputs yield
// identical results.
func (c *Criteria) Evaluate(obs Observation) Result {
	var res Result

	pairs := []struct {
		criterion Criterion
		re        *regexp.Regexp
		field     Field
	}{
		{CriterionFunction, c.function, obs.FunctionName},
		{CriterionModule, c.module, obs.ModuleFile},
		{CriterionSource, c.source, obs.SourceFile},
	}

	for _, p := range pairs {
		if p.re == nil {
			continue
		}
		v, ok := p.field.Value()
		if !ok {
			// Configured pattern with an absent field contributes
			// nothing, it neither allows nor blocks.
			continue
		}
		if p.re.MatchString(v) {
			res.Allow = true
			res.Matched = append(res.Matched, p.criterion)
		}
	}

	return res
}

// Allow reports whether the stop should surface. Shorthand for
// Evaluate(obs).Allow.
func (c *Criteria) Allow(obs Observation) bool {
	return c.Evaluate(obs).Allow
}
