// Package session maintains a live debug session over a DAP client: the
// session state machine, the thread table with stop reasons, the loaded
// module table, and the synchronous/asynchronous execution mode that
// governs whether Continue blocks until the next stop.
package session

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/dshills/stopfilter/internal/dap"
	"github.com/dshills/stopfilter/internal/logging"
)

// State represents the current state of a debug session.
type State int

const (
	// StateInitializing is the initial state before the handshake.
	StateInitializing State = iota
	// StateConnected is after the transport is established.
	StateConnected
	// StateConfiguring is after initialize but before configurationDone.
	StateConfiguring
	// StateRunning is when the debuggee is running.
	StateRunning
	// StateStopped is when the debuggee is stopped.
	StateStopped
	// StateTerminated is when the debuggee has exited.
	StateTerminated
	// StateDisconnected is when the adapter has disconnected.
	StateDisconnected
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnected:
		return "connected"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Normalized stop reasons. An adapter that reports no reason for a thread
// leaves it at ReasonNone; such a thread did not cause the stop.
const (
	ReasonNone    = "none"
	ReasonInvalid = "invalid"
)

// Thread is one debuggee thread together with the reason it stopped, if
// it is the thread that caused the current stop.
type Thread struct {
	ID         int
	Name       string
	StopReason string
}

// CausedStop reports whether the thread carries a real stop reason, as
// opposed to being stopped merely because the rest of the process was.
func (t Thread) CausedStop() bool {
	return t.StopReason != "" && t.StopReason != ReasonNone && t.StopReason != ReasonInvalid
}

// StopEvent describes one stop notification as delivered to stop
// handlers.
type StopEvent struct {
	Reason            string
	ThreadID          int
	AllThreadsStopped bool
}

// StopHandler runs synchronously, in registration order, on the event
// dispatch goroutine for every stop of the debuggee.
type StopHandler func(StopEvent)

// ErrNoFrame indicates a thread had no stack frame available. This is an
// expected transient around target launch, not a fault.
var ErrNoFrame = errors.New("no stack frame available")

// refreshTimeout bounds the bookkeeping requests the session issues from
// its own event handlers.
const refreshTimeout = 5 * time.Second

// Config configures the session handshake.
type Config struct {
	// AdapterID is the debug adapter identifier.
	AdapterID string
	// ClientID is this client's identifier.
	ClientID string
	// ClientName is this client's human-readable name.
	ClientName string
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		AdapterID:  "generic",
		ClientID:   "stopfilter",
		ClientName: "stopfilter",
	}
}

// Session is a debug session over a DAP client.
type Session struct {
	client *dap.Client
	log    *logging.Logger

	mu            sync.RWMutex
	state         State
	async         bool
	currentThread int
	threads       []Thread
	modules       map[string]string
	caps          *dap.Capabilities

	handlerMu    sync.RWMutex
	stopHandlers []StopHandler

	waiterMu sync.Mutex
	waiters  []chan struct{}

	doneOnce sync.Once
	done     chan struct{}

	// Adapter subprocess, when launched over stdio.
	cmd *exec.Cmd
}

// New creates a session over an existing DAP client.
func New(client *dap.Client, log *logging.Logger) *Session {
	if log == nil {
		log = logging.Nop
	}
	s := &Session{
		client:  client,
		log:     log.WithComponent("session"),
		state:   StateConnected,
		modules: make(map[string]string),
		done:    make(chan struct{}),
	}

	client.OnInitialized(s.onInitialized)
	client.OnStopped(s.onStopped)
	client.OnContinued(s.onContinued)
	client.OnExited(s.onExited)
	client.OnTerminated(s.onTerminated)
	client.OnThread(s.onThread)
	client.OnModule(s.onModule)

	return s
}

// NewStdio starts the adapter subprocess and creates a session over its
// stdio.
func NewStdio(log *logging.Logger, command string, args ...string) (*Session, error) {
	return NewCommand(log, exec.Command(command, args...))
}

// NewCommand starts a prepared adapter command and creates a session
// over its stdio.
func NewCommand(log *logging.Logger, cmd *exec.Cmd) (*Session, error) {
	transport, err := dap.NewStdioTransport(cmd)
	if err != nil {
		return nil, fmt.Errorf("stdio transport: %w", err)
	}

	s := New(dap.NewClient(transport), log)
	s.cmd = cmd
	return s, nil
}

// NewSocket connects to an adapter listening at address.
func NewSocket(log *logging.Logger, address string) (*Session, error) {
	transport, err := dap.NewSocketTransport(address)
	if err != nil {
		return nil, fmt.Errorf("socket transport: %w", err)
	}
	return New(dap.NewClient(transport), log), nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Async reports the process-wide execution mode flag. When false,
// Continue blocks until the debuggee stops again.
func (s *Session) Async() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.async
}

// SetAsync sets the process-wide execution mode flag.
func (s *Session) SetAsync(async bool) {
	s.mu.Lock()
	s.async = async
	s.mu.Unlock()
}

// Capabilities returns the adapter capabilities, nil before Initialize.
func (s *Session) Capabilities() *dap.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// CurrentThread returns the thread the last stop event focused.
func (s *Session) CurrentThread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentThread
}

// Threads returns the thread table as of the last stop, in adapter
// order.
func (s *Session) Threads() []Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Thread{}, s.threads...)
}

// StoppedThread returns the first thread whose stop reason is real, in
// adapter order. First match wins; there is no ranking. ok is false when
// no thread caused the stop, an expected transient around target launch.
func (s *Session) StoppedThread() (Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.threads {
		if t.CausedStop() {
			return t, true
		}
	}
	return Thread{}, false
}

// ModulePath resolves a frame's module ID to the module's file path.
// ok is false when the adapter never announced the module or announced it
// without a path.
func (s *Session) ModulePath(moduleID any) (string, bool) {
	if moduleID == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	path, ok := s.modules[moduleKey(moduleID)]
	return path, ok && path != ""
}

// Done returns a channel closed when the session ends, by debuggee
// termination or disconnect.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// AddStopHandler registers a handler to run on every stop, after the
// session's own bookkeeping for the event. Handlers run in registration
// order.
func (s *Session) AddStopHandler(h StopHandler) {
	s.handlerMu.Lock()
	s.stopHandlers = append(s.stopHandlers, h)
	s.handlerMu.Unlock()
}

// Initialize performs the DAP handshake.
func (s *Session) Initialize(ctx context.Context, cfg Config) error {
	caps, err := s.client.Initialize(ctx, dap.InitializeRequestArguments{
		ClientID:        cfg.ClientID,
		ClientName:      cfg.ClientName,
		AdapterID:       cfg.AdapterID,
		LinesStartAt1:   true,
		ColumnsStartAt1: true,
		PathFormat:      "path",
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	s.mu.Lock()
	s.caps = caps
	s.state = StateConfiguring
	s.mu.Unlock()
	return nil
}

// Launch starts the debuggee with adapter-specific arguments.
func (s *Session) Launch(ctx context.Context, args any) error {
	if err := s.client.Launch(ctx, args); err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	return nil
}

// Attach attaches to a running debuggee with adapter-specific arguments.
func (s *Session) Attach(ctx context.Context, args any) error {
	if err := s.client.Attach(ctx, args); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	return nil
}

// ConfigurationDone ends the configuration sequence and lets the
// debuggee run.
func (s *Session) ConfigurationDone(ctx context.Context) error {
	if err := s.client.ConfigurationDone(ctx); err != nil {
		return fmt.Errorf("configurationDone: %w", err)
	}
	s.setState(StateRunning)
	return nil
}

// Disconnect ends the session, optionally terminating the debuggee.
func (s *Session) Disconnect(ctx context.Context, terminate bool) error {
	err := s.client.Disconnect(ctx, dap.DisconnectArguments{TerminateDebuggee: terminate})
	s.setState(StateDisconnected)
	s.notifyWaiters()
	if err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// Close tears the session down.
func (s *Session) Close() error {
	s.setState(StateDisconnected)
	s.notifyWaiters()
	return s.client.Close()
}

// Continue resumes the debuggee. In synchronous mode it blocks until the
// debuggee stops again or the session ends; in asynchronous mode it
// returns as soon as the adapter acknowledges the request. A Continue
// issued from inside a stop handler MUST run in asynchronous mode: the
// handler occupies the dispatch goroutine that would deliver the next
// stop, so a synchronous Continue there waits on itself.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	var wait chan struct{}
	if !s.Async() {
		wait = s.addWaiter()
	}

	if _, err := s.client.Continue(ctx, dap.ContinueArguments{ThreadID: threadID}); err != nil {
		if wait != nil {
			s.removeWaiter(wait)
		}
		return fmt.Errorf("continue: %w", err)
	}

	s.markRunning()

	if wait != nil {
		select {
		case <-ctx.Done():
			s.removeWaiter(wait)
			return ctx.Err()
		case <-wait:
		}
	}
	return nil
}

// TopFrame returns the top (index 0) stack frame of the given thread.
// Returns ErrNoFrame when the thread has no frames.
func (s *Session) TopFrame(ctx context.Context, threadID int) (*Frame, error) {
	body, err := s.client.StackTrace(ctx, dap.StackTraceArguments{
		ThreadID: threadID,
		Levels:   1,
	})
	if err != nil {
		return nil, err
	}
	if len(body.StackFrames) == 0 {
		return nil, ErrNoFrame
	}
	return NewFrame(body.StackFrames[0]), nil
}

// Event handlers. These run on the client's dispatch goroutine, so they
// may issue requests.

func (s *Session) onInitialized() {
	s.setState(StateConfiguring)
}

func (s *Session) onStopped(body dap.StoppedEventBody) {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	threads, err := s.client.Threads(ctx)
	cancel()
	if err != nil {
		// Degrade to the single thread named by the event; the scan
		// in StoppedThread still works.
		s.log.Warn("thread refresh failed: %v", err)
		threads = []dap.Thread{{ID: body.ThreadID}}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.currentThread = body.ThreadID
	s.threads = s.threads[:0]
	for _, t := range threads {
		reason := ReasonNone
		if t.ID == body.ThreadID {
			reason = body.Reason
		}
		s.threads = append(s.threads, Thread{ID: t.ID, Name: t.Name, StopReason: reason})
	}
	s.mu.Unlock()

	// Release synchronous Continues before handlers run.
	s.notifyWaiters()

	s.handlerMu.RLock()
	handlers := append([]StopHandler{}, s.stopHandlers...)
	s.handlerMu.RUnlock()

	evt := StopEvent{
		Reason:            body.Reason,
		ThreadID:          body.ThreadID,
		AllThreadsStopped: body.AllThreadsStopped,
	}
	for _, h := range handlers {
		h(evt)
	}
}

func (s *Session) onContinued(dap.ContinuedEventBody) {
	s.markRunning()
}

func (s *Session) onExited(body dap.ExitedEventBody) {
	s.log.Debug("debuggee exited with code %d", body.ExitCode)
	s.setState(StateTerminated)
	s.notifyWaiters()
}

func (s *Session) onTerminated(dap.TerminatedEventBody) {
	s.setState(StateTerminated)
	s.notifyWaiters()
}

func (s *Session) onThread(body dap.ThreadEventBody) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch body.Reason {
	case "started":
		s.threads = append(s.threads, Thread{ID: body.ThreadID, StopReason: ReasonNone})
	case "exited":
		for i, t := range s.threads {
			if t.ID == body.ThreadID {
				s.threads = append(s.threads[:i], s.threads[i+1:]...)
				break
			}
		}
	}
}

func (s *Session) onModule(body dap.ModuleEventBody) {
	key := moduleKey(body.Module.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch body.Reason {
	case "removed":
		delete(s.modules, key)
	default: // "new", "changed"
		s.modules[key] = body.Module.Path
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	if state == StateTerminated || state == StateDisconnected {
		s.doneOnce.Do(func() { close(s.done) })
	}
}

// markRunning flips the state to running and clears stale stop reasons.
func (s *Session) markRunning() {
	s.mu.Lock()
	s.state = StateRunning
	for i := range s.threads {
		s.threads[i].StopReason = ReasonNone
	}
	s.mu.Unlock()
}

func (s *Session) addWaiter() chan struct{} {
	ch := make(chan struct{})
	s.waiterMu.Lock()
	s.waiters = append(s.waiters, ch)
	s.waiterMu.Unlock()
	return ch
}

func (s *Session) removeWaiter(ch chan struct{}) {
	s.waiterMu.Lock()
	defer s.waiterMu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Session) notifyWaiters() {
	s.waiterMu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.waiterMu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// moduleKey normalizes the protocol's int-or-string module IDs into map
// keys.
func moduleKey(id any) string {
	// JSON numbers decode as float64; strip the fraction so the key
	// matches across int and float representations.
	if f, ok := id.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", id)
}
