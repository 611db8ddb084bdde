package adapters

import (
	"fmt"
	"os/exec"
)

// Delve drives Go targets through dlv's native DAP server.
type Delve struct {
	settings Settings
}

// NewDelve creates a delve adapter.
func NewDelve(settings Settings) (Adapter, error) {
	return &Delve{settings: settings}, nil
}

// Type returns the adapter type.
func (a *Delve) Type() Type { return TypeDelve }

// ID returns the DAP adapter identifier.
func (a *Delve) ID() string { return "go" }

// Validate checks the settings.
func (a *Delve) Validate() error {
	if !a.settings.Attaching() && a.settings.Program == "" {
		return fmt.Errorf("program is required to launch")
	}
	return nil
}

// Command builds the dlv dap command, speaking DAP on stdio.
func (a *Delve) Command() (*exec.Cmd, error) {
	dlv, err := findExecutable("dlv")
	if err != nil {
		return nil, fmt.Errorf("delve not found: %w", err)
	}

	cmd := exec.Command(dlv, "dap")
	if a.settings.Cwd != "" {
		cmd.Dir = a.settings.Cwd
	}
	cmd.Env = commandEnv(a.settings)
	return cmd, nil
}

// Connection returns stdio for launch, socket for attach.
func (a *Delve) Connection() Connection {
	if a.settings.Attaching() {
		return ConnSocket
	}
	return ConnStdio
}

// Address returns the attach address.
func (a *Delve) Address() string { return a.settings.address() }

// LaunchArgs returns the dlv launch request body.
func (a *Delve) LaunchArgs() any {
	args := map[string]any{
		"mode":        "debug",
		"program":     a.settings.Program,
		"stopOnEntry": a.settings.StopOnEntry,
	}
	if len(a.settings.Args) > 0 {
		args["args"] = a.settings.Args
	}
	if a.settings.Cwd != "" {
		args["cwd"] = a.settings.Cwd
	}
	return args
}

// AttachArgs returns the dlv attach request body. The attach target is
// the dlv process itself, reached over the socket.
func (a *Delve) AttachArgs() any {
	return map[string]any{"mode": "remote"}
}
