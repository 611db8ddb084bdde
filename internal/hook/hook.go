package hook

import (
	"context"

	"github.com/google/uuid"

	"github.com/dshills/stopfilter/internal/filter"
	"github.com/dshills/stopfilter/internal/logging"
	"github.com/dshills/stopfilter/internal/session"
)

// Host is the debugger surface a stop-hook filter consumes. The handle is
// borrowed: filters walk it once per stop event and never cache what they
// find. *session.Session satisfies it.
type Host interface {
	// StoppedThread returns the first thread that caused the current
	// stop, if any.
	StoppedThread() (session.Thread, bool)

	// TopFrame returns the thread's top stack frame.
	TopFrame(ctx context.Context, threadID int) (*session.Frame, error)

	// ModulePath resolves a frame's module ID to a file path.
	ModulePath(moduleID any) (string, bool)

	// Continue resumes the debuggee.
	Continue(ctx context.Context, threadID int) error

	// Async and SetAsync expose the process-wide execution mode flag.
	Async() bool
	SetAsync(async bool)
}

// Filter is one registered stop-hook filter. It lives from registration
// until removal from its Registry.
type Filter struct {
	id       uuid.UUID
	criteria *filter.Criteria
	log      *logging.Logger
}

// NewFilter creates a filter from compiled criteria.
func NewFilter(criteria *filter.Criteria, log *logging.Logger) *Filter {
	if log == nil {
		log = logging.Nop
	}
	return &Filter{
		id:       uuid.New(),
		criteria: criteria,
		log:      log,
	}
}

// ID returns the filter's registration ID.
func (f *Filter) ID() uuid.UUID {
	return f.id
}

// Criteria returns the filter's compiled criteria.
func (f *Filter) Criteria() *filter.Criteria {
	return f.criteria
}

// Handle runs the filter against the current stop. It never blocks on
// the target and never propagates frame inspection failures: unreadable
// fields degrade to absent, and a missing thread or frame is an expected
// transient handled by doing nothing.
func (f *Filter) Handle(ctx context.Context, host Host) {
	thread, ok := host.StoppedThread()
	if !ok {
		// No thread carries a real stop reason. Happens on the first
		// stop after launch; leave the event alone.
		return
	}

	frame, err := host.TopFrame(ctx, thread.ID)
	if err != nil {
		f.log.Debug("no frame for thread %d: %v", thread.ID, err)
		return
	}

	res := f.evaluate(observe(frame, host))
	if res.Allow {
		return
	}

	resume(ctx, f.log, host, thread.ID)
}

// evaluate runs the criteria and emits a diagnostic per matched
// criterion.
func (f *Filter) evaluate(obs filter.Observation) filter.Result {
	res := f.criteria.Evaluate(obs)
	for _, c := range res.Matched {
		f.log.Info("stopping due to %s match", matchNotice(c))
	}
	return res
}

// resume continues the target under a temporarily forced asynchronous
// mode. The resume request is issued from inside the stop callback; in
// synchronous mode it would wait on the very dispatch goroutine it runs
// on. The prior mode is restored on every exit path.
func resume(ctx context.Context, log *logging.Logger, host Host, threadID int) {
	prior := host.Async()
	host.SetAsync(true)
	defer host.SetAsync(prior)

	if err := host.Continue(ctx, threadID); err != nil {
		// The target is now stopped without the user asking for it.
		// Surface the fault; do not retry, a retry could mask a
		// genuinely stuck target.
		log.Warn("resume failed, target remains stopped: %v", err)
	}
}

// observe builds the observation for one stop from a borrowed frame.
// Absent fields stay absent.
func observe(frame *session.Frame, host Host) filter.Observation {
	var obs filter.Observation

	if name, ok := frame.FunctionName(); ok {
		obs.FunctionName = filter.Observed(name)
	}
	if id, ok := frame.ModuleID(); ok {
		if path, ok := host.ModulePath(id); ok {
			obs.ModuleFile = filter.Observed(path)
		}
	}
	if path, ok := frame.SourcePath(); ok {
		obs.SourceFile = filter.Observed(path)
	}
	if line, ok := frame.Line(); ok {
		obs.Line = line
	}

	return obs
}

// matchNotice names a criterion in match diagnostics.
func matchNotice(c filter.Criterion) string {
	switch c {
	case filter.CriterionFunction:
		return "function name"
	case filter.CriterionModule:
		return "module name"
	default:
		return "source file name"
	}
}
