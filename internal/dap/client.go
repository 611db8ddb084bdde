package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Client is a DAP client over a Transport. Responses are matched to
// requests by sequence number on the receive goroutine; events are handed
// to a separate dispatch goroutine, so event handlers are free to issue
// requests of their own. Handlers for a single client run sequentially, in
// arrival order.
type Client struct {
	transport Transport
	seq       int64

	pendingMu sync.Mutex
	pending   map[int]chan outcome

	handlerMu sync.RWMutex
	handlers  handlers

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.RWMutex
	err   error
}

type outcome struct {
	resp *Response
	err  error
}

type handlers struct {
	onInitialized func()
	onStopped     func(StoppedEventBody)
	onContinued   func(ContinuedEventBody)
	onExited      func(ExitedEventBody)
	onTerminated  func(TerminatedEventBody)
	onThread      func(ThreadEventBody)
	onModule      func(ModuleEventBody)
	onOutput      func(OutputEventBody)
	onAny         func(Event)
}

// eventQueueSize bounds events buffered between the receive and dispatch
// goroutines.
const eventQueueSize = 64

// NewClient creates a client and starts its receive and dispatch
// goroutines.
func NewClient(transport Transport) *Client {
	c := &Client{
		transport: transport,
		pending:   make(map[int]chan outcome),
		events:    make(chan Event, eventQueueSize),
		done:      make(chan struct{}),
	}
	go c.receiveLoop()
	go c.dispatchLoop()
	return c
}

// Close shuts the client down and closes the underlying transport.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return c.transport.Close()
}

// Err returns the receive error that terminated the client, if any.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

func (c *Client) receiveLoop() {
	for {
		payload, err := c.transport.Receive()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.errMu.Lock()
				c.err = err
				c.errMu.Unlock()
			}
			c.failPending(err)
			close(c.events)
			return
		}

		var base ProtocolMessage
		if err := json.Unmarshal(payload, &base); err != nil {
			continue
		}

		switch base.Type {
		case "response":
			var resp Response
			if err := json.Unmarshal(payload, &resp); err != nil {
				continue
			}
			c.deliver(&resp)
		case "event":
			var evt Event
			if err := json.Unmarshal(payload, &evt); err != nil {
				continue
			}
			select {
			case c.events <- evt:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) deliver(resp *Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- outcome{resp: resp}
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for seq, ch := range c.pending {
		ch <- outcome{err: err}
		delete(c.pending, seq)
	}
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case evt, ok := <-c.events:
			if !ok {
				return
			}
			c.dispatch(evt)
		}
	}
}

func (c *Client) dispatch(evt Event) {
	c.handlerMu.RLock()
	h := c.handlers
	c.handlerMu.RUnlock()

	switch evt.Event {
	case "initialized":
		if h.onInitialized != nil {
			h.onInitialized()
		}
	case "stopped":
		dispatchBody(evt, h.onStopped)
	case "continued":
		dispatchBody(evt, h.onContinued)
	case "exited":
		dispatchBody(evt, h.onExited)
	case "terminated":
		dispatchBody(evt, h.onTerminated)
	case "thread":
		dispatchBody(evt, h.onThread)
	case "module":
		dispatchBody(evt, h.onModule)
	case "output":
		dispatchBody(evt, h.onOutput)
	}

	if h.onAny != nil {
		h.onAny(evt)
	}
}

func dispatchBody[Body any](evt Event, handler func(Body)) {
	if handler == nil {
		return
	}
	var body Body
	if evt.Body != nil {
		if err := json.Unmarshal(evt.Body, &body); err != nil {
			return
		}
	}
	handler(body)
}

// OnInitialized sets the handler for the initialized event.
func (c *Client) OnInitialized(fn func()) {
	c.handlerMu.Lock()
	c.handlers.onInitialized = fn
	c.handlerMu.Unlock()
}

// OnStopped sets the handler for the stopped event.
func (c *Client) OnStopped(fn func(StoppedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onStopped = fn
	c.handlerMu.Unlock()
}

// OnContinued sets the handler for the continued event.
func (c *Client) OnContinued(fn func(ContinuedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onContinued = fn
	c.handlerMu.Unlock()
}

// OnExited sets the handler for the exited event.
func (c *Client) OnExited(fn func(ExitedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onExited = fn
	c.handlerMu.Unlock()
}

// OnTerminated sets the handler for the terminated event.
func (c *Client) OnTerminated(fn func(TerminatedEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onTerminated = fn
	c.handlerMu.Unlock()
}

// OnThread sets the handler for the thread event.
func (c *Client) OnThread(fn func(ThreadEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onThread = fn
	c.handlerMu.Unlock()
}

// OnModule sets the handler for the module event.
func (c *Client) OnModule(fn func(ModuleEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onModule = fn
	c.handlerMu.Unlock()
}

// OnOutput sets the handler for the output event.
func (c *Client) OnOutput(fn func(OutputEventBody)) {
	c.handlerMu.Lock()
	c.handlers.onOutput = fn
	c.handlerMu.Unlock()
}

// OnAnyEvent sets a catch-all handler called after the specific one.
func (c *Client) OnAnyEvent(fn func(Event)) {
	c.handlerMu.Lock()
	c.handlers.onAny = fn
	c.handlerMu.Unlock()
}

// send issues a request and waits for the matching response.
func (c *Client) send(ctx context.Context, command string, args any) (*Response, error) {
	seq := int(atomic.AddInt64(&c.seq, 1))

	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
	}

	payload, err := json.Marshal(Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
		Arguments:       argsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan outcome, 1)
	c.pendingMu.Lock()
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	if err := c.transport.Send(payload); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		if !out.resp.Success {
			return nil, fmt.Errorf("%s failed: %s", command, out.resp.Message)
		}
		return out.resp, nil
	}
}

// request issues a request and decodes the response body into Body.
func request[Body any](ctx context.Context, c *Client, command string, args any) (*Body, error) {
	resp, err := c.send(ctx, command, args)
	if err != nil {
		return nil, err
	}

	var body Body
	if resp.Body != nil {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, fmt.Errorf("unmarshal %s response: %w", command, err)
		}
	}
	return &body, nil
}

// Initialize sends the initialize request and returns the adapter
// capabilities.
func (c *Client) Initialize(ctx context.Context, args InitializeRequestArguments) (*Capabilities, error) {
	return request[Capabilities](ctx, c, "initialize", args)
}

// ConfigurationDone signals the end of the configuration sequence.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.send(ctx, "configurationDone", nil)
	return err
}

// Launch starts the debuggee with adapter-specific arguments.
func (c *Client) Launch(ctx context.Context, args any) error {
	_, err := c.send(ctx, "launch", args)
	return err
}

// Attach attaches to a running debuggee with adapter-specific arguments.
func (c *Client) Attach(ctx context.Context, args any) error {
	_, err := c.send(ctx, "attach", args)
	return err
}

// Disconnect ends the debug session.
func (c *Client) Disconnect(ctx context.Context, args DisconnectArguments) error {
	_, err := c.send(ctx, "disconnect", args)
	return err
}

// Continue resumes execution of the debuggee.
func (c *Client) Continue(ctx context.Context, args ContinueArguments) (*ContinueResponseBody, error) {
	return request[ContinueResponseBody](ctx, c, "continue", args)
}

// Threads returns the debuggee's current threads.
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	body, err := request[ThreadsResponseBody](ctx, c, "threads", nil)
	if err != nil {
		return nil, err
	}
	return body.Threads, nil
}

// StackTrace returns part of a thread's call stack.
func (c *Client) StackTrace(ctx context.Context, args StackTraceArguments) (*StackTraceResponseBody, error) {
	return request[StackTraceResponseBody](ctx, c, "stackTrace", args)
}
