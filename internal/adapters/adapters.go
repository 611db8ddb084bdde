// Package adapters builds launch and attach configurations for the debug
// adapters stopfilter knows how to drive.
package adapters

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"
)

// Type identifies a debug adapter.
type Type string

const (
	// TypeDelve is the Go debugger.
	TypeDelve Type = "delve"
	// TypeDebugpy is the Python debugger.
	TypeDebugpy Type = "debugpy"
	// TypeNode is the Node.js inspector.
	TypeNode Type = "node"
)

// Connection is how the session reaches the adapter process.
type Connection string

const (
	// ConnStdio talks DAP over the adapter's stdin/stdout.
	ConnStdio Connection = "stdio"
	// ConnSocket talks DAP over a TCP connection.
	ConnSocket Connection = "socket"
)

// Settings parameterize an adapter independent of its type.
type Settings struct {
	// Program is the debuggee to launch.
	Program string

	// Args are passed to the debuggee.
	Args []string

	// Cwd is the debuggee working directory.
	Cwd string

	// Env are additional environment variables for the adapter process.
	Env map[string]string

	// Host and Port address an already running adapter; Port > 0
	// selects attach over launch.
	Host string
	Port int

	// StopOnEntry stops at the program entry point.
	StopOnEntry bool
}

// Attaching reports whether the settings address a running adapter.
func (s Settings) Attaching() bool {
	return s.Port > 0
}

func (s Settings) host() string {
	if s.Host == "" {
		return "127.0.0.1"
	}
	return s.Host
}

func (s Settings) address() string {
	return fmt.Sprintf("%s:%d", s.host(), s.Port)
}

// Adapter describes how to start and address one debug adapter.
type Adapter interface {
	// Type returns the adapter type.
	Type() Type

	// ID is the DAP adapterID used in the initialize handshake.
	ID() string

	// Validate checks the settings before anything is started.
	Validate() error

	// Command builds the adapter process command. Not used when
	// attaching over a socket.
	Command() (*exec.Cmd, error)

	// Connection returns how the session reaches the adapter.
	Connection() Connection

	// Address returns the socket address for ConnSocket.
	Address() string

	// LaunchArgs returns the adapter-specific launch request body.
	LaunchArgs() any

	// AttachArgs returns the adapter-specific attach request body.
	AttachArgs() any
}

// Factory builds an adapter from settings.
type Factory func(Settings) (Adapter, error)

// Registry maps adapter types to factories.
type Registry struct {
	factories map[Type]Factory
}

// NewRegistry creates a registry with the built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Type]Factory)}
	r.Register(TypeDelve, NewDelve)
	r.Register(TypeDebugpy, NewDebugpy)
	r.Register(TypeNode, NewNode)
	return r
}

// Register adds a factory for an adapter type.
func (r *Registry) Register(t Type, f Factory) {
	r.factories[t] = f
}

// Create builds and validates an adapter.
func (r *Registry) Create(t Type, settings Settings) (Adapter, error) {
	factory, ok := r.factories[t]
	if !ok {
		return nil, fmt.Errorf("unknown adapter type %q", t)
	}
	a, err := factory(settings)
	if err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", t, err)
	}
	return a, nil
}

// Types returns the registered adapter types.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// findExecutable resolves a command name against PATH.
func findExecutable(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// commandEnv is the adapter process environment: the parent environment
// plus the configured overrides.
func commandEnv(settings Settings) []string {
	env := os.Environ()
	for k, v := range settings.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// WaitForPort polls until address accepts TCP connections or ctx ends.
func WaitForPort(ctx context.Context, address string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", address, ctx.Err())
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", address, 50*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
		}
	}
}
