// Package dap implements the client side of the Debug Adapter Protocol,
// trimmed to the surface stopfilter needs: session setup, stop events,
// thread and stack inspection, and resume.
package dap

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Transport carries raw DAP payloads to and from a debug adapter. Payloads
// are the JSON bodies; Content-Length framing is handled by the transport.
type Transport interface {
	// Send writes one framed payload to the adapter.
	Send(payload []byte) error

	// Receive reads the next framed payload from the adapter.
	Receive() ([]byte, error)

	// Close closes the transport.
	Close() error
}

// maxPayload bounds a single DAP message (10MB).
const maxPayload = 10 * 1024 * 1024

func writePayload(w io.Writer, payload []byte) error {
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(payload)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

func readPayload(r *bufio.Reader) ([]byte, error) {
	length := -1

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		if strings.EqualFold(name, "Content-Length") {
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("bad content-length: %w", err)
			}
			if n < 0 || n > maxPayload {
				return nil, fmt.Errorf("content-length %d out of range", n)
			}
			length = n
		}
		// Other headers (Content-Type) are permitted and ignored.
	}

	if length < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}

// StdioTransport talks to a debug adapter subprocess over its stdin/stdout.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewStdioTransport starts cmd and returns a transport over its pipes.
func NewStdioTransport(cmd *exec.Cmd) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("start adapter: %w", err)
	}

	return &StdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
	}, nil
}

// Send writes one payload to the adapter process.
func (t *StdioTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writePayload(t.stdin, payload)
}

// Receive reads the next payload from the adapter process.
func (t *StdioTransport) Receive() ([]byte, error) {
	return readPayload(t.reader)
}

// Close closes the pipes and terminates the adapter process.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stdin.Close()
	t.stdout.Close()

	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return t.cmd.Wait()
}

// SocketTransport talks to a debug adapter over a TCP connection.
type SocketTransport struct {
	conn   net.Conn
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewSocketTransport dials the adapter at address.
func NewSocketTransport(address string) (*SocketTransport, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return NewSocketTransportFromConn(conn), nil
}

// NewSocketTransportFromConn wraps an existing connection.
func NewSocketTransportFromConn(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}
}

// Send writes one payload to the connection.
func (t *SocketTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writePayload(t.conn, payload)
}

// Receive reads the next payload from the connection.
func (t *SocketTransport) Receive() ([]byte, error) {
	return readPayload(t.reader)
}

// Close closes the connection.
func (t *SocketTransport) Close() error {
	return t.conn.Close()
}

// RawTransport wraps any io.ReadWriteCloser as a Transport.
type RawTransport struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	mu     sync.Mutex
}

// NewRawTransport creates a transport from any ReadWriteCloser.
func NewRawTransport(rwc io.ReadWriteCloser) *RawTransport {
	return &RawTransport{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
	}
}

// Send writes one payload.
func (t *RawTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return writePayload(t.rwc, payload)
}

// Receive reads the next payload.
func (t *RawTransport) Receive() ([]byte, error) {
	return readPayload(t.reader)
}

// Close closes the underlying connection.
func (t *RawTransport) Close() error {
	return t.rwc.Close()
}
