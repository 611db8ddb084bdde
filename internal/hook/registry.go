package hook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/stopfilter/internal/filter"
	"github.com/dshills/stopfilter/internal/logging"
	"github.com/dshills/stopfilter/internal/session"
)

// dispatchTimeout bounds the frame inspection and resume of one stop
// event.
const dispatchTimeout = 10 * time.Second

// Registry owns the installed stop-hook filters. Filters are dispatched
// in registration order.
type Registry struct {
	mu      sync.RWMutex
	filters []*Filter
	log     *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop
	}
	return &Registry{log: log.WithComponent("hook")}
}

// Add compiles spec and registers a filter for it. A malformed pattern
// fails the registration with a *filter.PatternError; nothing is
// installed.
func (r *Registry) Add(spec filter.Spec) (*Filter, error) {
	criteria, err := filter.New(spec)
	if err != nil {
		return nil, err
	}
	if criteria.Empty() {
		// Documented caveat: an empty filter suppresses every stop.
		r.log.Warn("filter registered with no criteria; every stop will be suppressed")
	}

	f := NewFilter(criteria, r.log)
	r.mu.Lock()
	r.filters = append(r.filters, f)
	r.mu.Unlock()

	r.log.Debug("registered stop filter %s", f.ID())
	return f, nil
}

// Remove uninstalls the filter with the given ID.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.filters {
		if f.id == id {
			r.filters = append(r.filters[:i], r.filters[i+1:]...)
			return true
		}
	}
	return false
}

// List returns the installed filters in registration order.
func (r *Registry) List() []*Filter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Filter{}, r.filters...)
}

// Len returns the number of installed filters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.filters)
}

// Replace swaps the installed filters for filters compiled from specs.
// All specs are compiled before anything is touched, so a malformed
// pattern leaves the previous filters active.
func (r *Registry) Replace(specs []filter.Spec) error {
	filters := make([]*Filter, 0, len(specs))
	for _, spec := range specs {
		criteria, err := filter.New(spec)
		if err != nil {
			return err
		}
		filters = append(filters, NewFilter(criteria, r.log))
	}

	r.mu.Lock()
	r.filters = filters
	r.mu.Unlock()
	return nil
}

// Dispatch runs every installed filter against the current stop, in
// registration order. The stop surfaces if any filter allows it; it is
// suppressed, and the target resumed, only when every filter suppresses.
// The frame is inspected once and every filter evaluates the same
// observation.
func (r *Registry) Dispatch(ctx context.Context, host Host) {
	r.mu.RLock()
	filters := append([]*Filter{}, r.filters...)
	r.mu.RUnlock()

	if len(filters) == 0 {
		return
	}

	thread, ok := host.StoppedThread()
	if !ok {
		return
	}
	frame, err := host.TopFrame(ctx, thread.ID)
	if err != nil {
		r.log.Debug("no frame for thread %d: %v", thread.ID, err)
		return
	}

	obs := observe(frame, host)
	allow := false
	for _, f := range filters {
		if f.evaluate(obs).Allow {
			allow = true
		}
	}
	if allow {
		return
	}

	resume(ctx, r.log, host, thread.ID)
}

// Bind adapts the registry into a session stop handler driving host.
func (r *Registry) Bind(host Host) session.StopHandler {
	return func(session.StopEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		r.Dispatch(ctx, host)
	}
}
