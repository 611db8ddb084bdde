package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dshills/stopfilter/internal/dap"
)

// scriptedAdapter scripts adapter behavior for session tests.
type scriptedAdapter struct {
	mu     sync.Mutex
	sent   []dap.Request
	recv   chan []byte
	closed bool
	onSend func(dap.Request)
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{recv: make(chan []byte, 16)}
}

func (t *scriptedAdapter) Send(payload []byte) error {
	var req dap.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return err
	}

	t.mu.Lock()
	t.sent = append(t.sent, req)
	onSend := t.onSend
	t.mu.Unlock()

	if onSend != nil {
		onSend(req)
	}
	return nil
}

func (t *scriptedAdapter) Receive() ([]byte, error) {
	payload, ok := <-t.recv
	if !ok {
		return nil, io.EOF
	}
	return payload, nil
}

func (t *scriptedAdapter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.recv)
	}
	return nil
}

func (t *scriptedAdapter) respond(req dap.Request, body any) {
	var raw json.RawMessage
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	payload, _ := json.Marshal(dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      req.Seq,
		Success:         true,
		Command:         req.Command,
		Body:            raw,
	})
	t.recv <- payload
}

func (t *scriptedAdapter) fail(req dap.Request, message string) {
	payload, _ := json.Marshal(dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Type: "response"},
		RequestSeq:      req.Seq,
		Success:         false,
		Command:         req.Command,
		Message:         message,
	})
	t.recv <- payload
}

func (t *scriptedAdapter) event(name string, body any) {
	var raw json.RawMessage
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	payload, _ := json.Marshal(dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Type: "event"},
		Event:           name,
		Body:            raw,
	})
	t.recv <- payload
}

// newTestSession wires a session over a scripted adapter. The returned
// sync channel receives one value per dispatched event, after the
// session's own bookkeeping for it.
func newTestSession(t *testing.T) (*Session, *scriptedAdapter, chan string) {
	t.Helper()

	tr := newScriptedAdapter()
	client := dap.NewClient(tr)

	synced := make(chan string, 16)
	s := New(client, nil)
	client.OnAnyEvent(func(evt dap.Event) {
		synced <- evt.Event
	})

	t.Cleanup(func() { s.Close() })
	return s, tr, synced
}

// waitEvent blocks until the named event has been fully dispatched.
func waitEvent(t *testing.T, synced chan string, name string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-synced:
			if got == name {
				return
			}
		case <-deadline:
			t.Fatalf("event %q not dispatched", name)
		}
	}
}

func TestSessionStoppedThread(t *testing.T) {
	s, tr, synced := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "threads" {
			tr.respond(req, dap.ThreadsResponseBody{Threads: []dap.Thread{
				{ID: 1, Name: "main"},
				{ID: 2, Name: "worker"},
				{ID: 3, Name: "io"},
			}})
		}
	}

	tr.event("stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 2, AllThreadsStopped: true})
	waitEvent(t, synced, "stopped")

	if s.State() != StateStopped {
		t.Errorf("expected stopped state, got %s", s.State())
	}
	if s.CurrentThread() != 2 {
		t.Errorf("expected current thread 2, got %d", s.CurrentThread())
	}

	stopped, ok := s.StoppedThread()
	if !ok {
		t.Fatal("expected a stopped thread")
	}
	if stopped.ID != 2 || stopped.StopReason != "breakpoint" {
		t.Errorf("unexpected stopped thread %+v", stopped)
	}

	for _, th := range s.Threads() {
		if th.ID != 2 && th.CausedStop() {
			t.Errorf("thread %d must not carry a real stop reason", th.ID)
		}
	}
}

func TestSessionStoppedThreadRefreshFailure(t *testing.T) {
	// When the thread refresh fails the session degrades to the single
	// thread named by the event.
	s, tr, synced := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "threads" {
			tr.fail(req, "not available")
		}
	}

	tr.event("stopped", dap.StoppedEventBody{Reason: "pause", ThreadID: 7})
	waitEvent(t, synced, "stopped")

	stopped, ok := s.StoppedThread()
	if !ok {
		t.Fatal("expected a stopped thread despite refresh failure")
	}
	if stopped.ID != 7 || stopped.StopReason != "pause" {
		t.Errorf("unexpected stopped thread %+v", stopped)
	}
}

func TestSessionNoStoppedThreadBeforeFirstStop(t *testing.T) {
	s, _, _ := newTestSession(t)

	if _, ok := s.StoppedThread(); ok {
		t.Error("expected no stopped thread before any stop event")
	}
}

func TestSessionStopHandlerRuns(t *testing.T) {
	s, tr, synced := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "threads" {
			tr.respond(req, dap.ThreadsResponseBody{Threads: []dap.Thread{{ID: 1}}})
		}
	}

	events := make(chan StopEvent, 1)
	s.AddStopHandler(func(evt StopEvent) {
		events <- evt
	})

	tr.event("stopped", dap.StoppedEventBody{Reason: "step", ThreadID: 1})
	waitEvent(t, synced, "stopped")

	select {
	case evt := <-events:
		if evt.Reason != "step" || evt.ThreadID != 1 {
			t.Errorf("unexpected stop event %+v", evt)
		}
	default:
		t.Fatal("stop handler not called")
	}
}

func TestSessionSyncContinueBlocksUntilStop(t *testing.T) {
	s, tr, synced := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		switch req.Command {
		case "continue":
			tr.respond(req, dap.ContinueResponseBody{AllThreadsContinued: true})
		case "threads":
			tr.respond(req, dap.ThreadsResponseBody{Threads: []dap.Thread{{ID: 1}}})
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Continue(context.Background(), 1)
	}()

	select {
	case err := <-done:
		t.Fatalf("synchronous Continue returned before the next stop: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	tr.event("stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 1})
	waitEvent(t, synced, "stopped")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Continue failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("synchronous Continue not released by the stop")
	}
}

func TestSessionAsyncContinueReturnsImmediately(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "continue" {
			tr.respond(req, dap.ContinueResponseBody{})
		}
	}

	s.SetAsync(true)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Continue(ctx, 1); err != nil {
		t.Fatalf("asynchronous Continue failed: %v", err)
	}
	if s.State() != StateRunning {
		t.Errorf("expected running state, got %s", s.State())
	}
}

func TestSessionContinueClearsStopReasons(t *testing.T) {
	s, tr, synced := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		switch req.Command {
		case "continue":
			tr.respond(req, dap.ContinueResponseBody{})
		case "threads":
			tr.respond(req, dap.ThreadsResponseBody{Threads: []dap.Thread{{ID: 1}}})
		}
	}

	tr.event("stopped", dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 1})
	waitEvent(t, synced, "stopped")
	if _, ok := s.StoppedThread(); !ok {
		t.Fatal("expected a stopped thread")
	}

	s.SetAsync(true)
	if err := s.Continue(context.Background(), 1); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}

	if _, ok := s.StoppedThread(); ok {
		t.Error("stop reasons must be cleared on resume")
	}
}

func TestSessionSyncContinueReleasedByTermination(t *testing.T) {
	s, tr, synced := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "continue" {
			tr.respond(req, dap.ContinueResponseBody{})
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Continue(context.Background(), 1)
	}()

	time.Sleep(100 * time.Millisecond)
	tr.event("terminated", dap.TerminatedEventBody{})
	waitEvent(t, synced, "terminated")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Continue failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("synchronous Continue not released by termination")
	}
	if s.State() != StateTerminated {
		t.Errorf("expected terminated state, got %s", s.State())
	}

	select {
	case <-s.Done():
	default:
		t.Error("Done must be closed after termination")
	}
}

func TestSessionSyncContinueContextCancel(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "continue" {
			tr.respond(req, dap.ContinueResponseBody{})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Continue(ctx, 1)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Continue did not return")
	}
}

func TestSessionTopFrame(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "stackTrace" {
			tr.respond(req, dap.StackTraceResponseBody{
				StackFrames: []dap.StackFrame{{
					ID:       100,
					Name:     "compute",
					Source:   &dap.Source{Path: "/src/foo.c"},
					Line:     42,
					ModuleID: 1,
				}},
				TotalFrames: 30,
			})
		}
	}

	frame, err := s.TopFrame(context.Background(), 1)
	if err != nil {
		t.Fatalf("TopFrame failed: %v", err)
	}

	if name, ok := frame.FunctionName(); !ok || name != "compute" {
		t.Errorf("unexpected function name %q (ok=%v)", name, ok)
	}
	if path, ok := frame.SourcePath(); !ok || path != "/src/foo.c" {
		t.Errorf("unexpected source path %q (ok=%v)", path, ok)
	}
	if line, ok := frame.Line(); !ok || line != 42 {
		t.Errorf("unexpected line %d (ok=%v)", line, ok)
	}
	if _, ok := frame.ModuleID(); !ok {
		t.Error("expected a module ID")
	}
}

func TestSessionTopFrameEmptyStack(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "stackTrace" {
			tr.respond(req, dap.StackTraceResponseBody{})
		}
	}

	_, err := s.TopFrame(context.Background(), 1)
	if !errors.Is(err, ErrNoFrame) {
		t.Errorf("expected ErrNoFrame, got %v", err)
	}
}

func TestSessionModuleTable(t *testing.T) {
	s, tr, synced := newTestSession(t)

	tr.event("module", dap.ModuleEventBody{Reason: "new", Module: dap.Module{ID: 1, Name: "libfoo", Path: "/usr/lib/libfoo.so"}})
	tr.event("module", dap.ModuleEventBody{Reason: "new", Module: dap.Module{ID: "dyn", Name: "libdyn"}})
	waitEvent(t, synced, "module")
	waitEvent(t, synced, "module")

	// Module IDs arrive as JSON numbers from the wire; integral values
	// resolve regardless of int or float representation.
	if path, ok := s.ModulePath(float64(1)); !ok || path != "/usr/lib/libfoo.so" {
		t.Errorf("unexpected path %q (ok=%v)", path, ok)
	}
	if path, ok := s.ModulePath(1); !ok || path != "/usr/lib/libfoo.so" {
		t.Errorf("unexpected path %q (ok=%v) for int ID", path, ok)
	}

	// Announced without a path: not resolvable.
	if _, ok := s.ModulePath("dyn"); ok {
		t.Error("module without a path must not resolve")
	}
	if _, ok := s.ModulePath(nil); ok {
		t.Error("nil module ID must not resolve")
	}

	tr.event("module", dap.ModuleEventBody{Reason: "removed", Module: dap.Module{ID: 1}})
	waitEvent(t, synced, "module")

	if _, ok := s.ModulePath(float64(1)); ok {
		t.Error("removed module must not resolve")
	}
}

func TestSessionThreadEvents(t *testing.T) {
	s, tr, synced := newTestSession(t)

	tr.event("thread", dap.ThreadEventBody{Reason: "started", ThreadID: 4})
	tr.event("thread", dap.ThreadEventBody{Reason: "started", ThreadID: 5})
	waitEvent(t, synced, "thread")
	waitEvent(t, synced, "thread")

	if got := len(s.Threads()); got != 2 {
		t.Fatalf("expected 2 threads, got %d", got)
	}

	tr.event("thread", dap.ThreadEventBody{Reason: "exited", ThreadID: 4})
	waitEvent(t, synced, "thread")

	threads := s.Threads()
	if len(threads) != 1 || threads[0].ID != 5 {
		t.Errorf("unexpected threads %+v", threads)
	}
}

func TestSessionInitialize(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.onSend = func(req dap.Request) {
		if req.Command == "initialize" {
			tr.respond(req, dap.Capabilities{SupportsConfigurationDoneRequest: true})
		}
	}

	if err := s.Initialize(context.Background(), DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if s.State() != StateConfiguring {
		t.Errorf("expected configuring state, got %s", s.State())
	}
	caps := s.Capabilities()
	if caps == nil || !caps.SupportsConfigurationDoneRequest {
		t.Errorf("unexpected capabilities %+v", caps)
	}
}

func TestSessionAsyncFlag(t *testing.T) {
	s, _, _ := newTestSession(t)

	if s.Async() {
		t.Error("sessions must start in synchronous mode")
	}
	s.SetAsync(true)
	if !s.Async() {
		t.Error("SetAsync(true) not observed")
	}
	s.SetAsync(false)
	if s.Async() {
		t.Error("SetAsync(false) not observed")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInitializing, "initializing"},
		{StateConnected, "connected"},
		{StateConfiguring, "configuring"},
		{StateRunning, "running"},
		{StateStopped, "stopped"},
		{StateTerminated, "terminated"},
		{StateDisconnected, "disconnected"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, expected %q", tt.state, got, tt.want)
		}
	}
}
