package adapters

import (
	"fmt"
	"os/exec"
)

// defaultInspectPort is the Node.js inspector default.
const defaultInspectPort = 9229

// Node drives JavaScript targets through the js-debug DAP server
// (vscode-js-debug's dapDebugServer.js), or attaches to one already
// running.
type Node struct {
	settings Settings
}

// NewNode creates a Node.js adapter.
func NewNode(settings Settings) (Adapter, error) {
	return &Node{settings: settings}, nil
}

// Type returns the adapter type.
func (a *Node) Type() Type { return TypeNode }

// ID returns the DAP adapter identifier.
func (a *Node) ID() string { return "pwa-node" }

// Validate checks the settings.
func (a *Node) Validate() error {
	if !a.settings.Attaching() && a.settings.Program == "" {
		return fmt.Errorf("program is required to launch")
	}
	return nil
}

// Command builds the js-debug server command. The server speaks DAP on
// stdio when started without a port argument.
func (a *Node) Command() (*exec.Cmd, error) {
	node, err := findExecutable("node")
	if err != nil {
		return nil, fmt.Errorf("node not found: %w", err)
	}
	server, err := findExecutable("js-debug")
	if err != nil {
		return nil, fmt.Errorf("js-debug adapter not found: %w", err)
	}

	cmd := exec.Command(node, server)
	if a.settings.Cwd != "" {
		cmd.Dir = a.settings.Cwd
	}
	cmd.Env = commandEnv(a.settings)
	return cmd, nil
}

// Connection returns stdio for launch, socket for attach.
func (a *Node) Connection() Connection {
	if a.settings.Attaching() {
		return ConnSocket
	}
	return ConnStdio
}

// Address returns the attach address.
func (a *Node) Address() string { return a.settings.address() }

// LaunchArgs returns the js-debug launch request body.
func (a *Node) LaunchArgs() any {
	args := map[string]any{
		"type":        "pwa-node",
		"request":     "launch",
		"program":     a.settings.Program,
		"stopOnEntry": a.settings.StopOnEntry,
	}
	if len(a.settings.Args) > 0 {
		args["args"] = a.settings.Args
	}
	if a.settings.Cwd != "" {
		args["cwd"] = a.settings.Cwd
	}
	if len(a.settings.Env) > 0 {
		args["env"] = a.settings.Env
	}
	return args
}

// AttachArgs returns the js-debug attach request body, attaching to an
// inspector port.
func (a *Node) AttachArgs() any {
	port := a.settings.Port
	if port == 0 {
		port = defaultInspectPort
	}
	return map[string]any{
		"type":    "pwa-node",
		"request": "attach",
		"address": a.settings.host(),
		"port":    port,
	}
}
