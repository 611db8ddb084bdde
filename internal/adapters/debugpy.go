package adapters

import (
	"fmt"
	"os/exec"
)

// Debugpy drives Python targets through the debugpy adapter.
type Debugpy struct {
	settings Settings
}

// NewDebugpy creates a debugpy adapter.
func NewDebugpy(settings Settings) (Adapter, error) {
	return &Debugpy{settings: settings}, nil
}

// Type returns the adapter type.
func (a *Debugpy) Type() Type { return TypeDebugpy }

// ID returns the DAP adapter identifier.
func (a *Debugpy) ID() string { return "python" }

// Validate checks the settings.
func (a *Debugpy) Validate() error {
	if !a.settings.Attaching() && a.settings.Program == "" {
		return fmt.Errorf("program is required to launch")
	}
	return nil
}

// Command builds the debugpy adapter command, speaking DAP on stdio.
func (a *Debugpy) Command() (*exec.Cmd, error) {
	python, err := findExecutable("python3")
	if err != nil {
		python, err = findExecutable("python")
		if err != nil {
			return nil, fmt.Errorf("python not found: %w", err)
		}
	}

	cmd := exec.Command(python, "-m", "debugpy.adapter")
	if a.settings.Cwd != "" {
		cmd.Dir = a.settings.Cwd
	}
	cmd.Env = commandEnv(a.settings)
	return cmd, nil
}

// Connection returns stdio for launch, socket for attach.
func (a *Debugpy) Connection() Connection {
	if a.settings.Attaching() {
		return ConnSocket
	}
	return ConnStdio
}

// Address returns the attach address.
func (a *Debugpy) Address() string { return a.settings.address() }

// LaunchArgs returns the debugpy launch request body.
func (a *Debugpy) LaunchArgs() any {
	args := map[string]any{
		"type":        "python",
		"request":     "launch",
		"program":     a.settings.Program,
		"console":     "internalConsole",
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

// AttachArgs returns the debugpy attach request body.
func (a *Debugpy) AttachArgs() any {
	return map[string]any{
		"type":    "python",
		"request": "attach",
		"connect": map[string]any{
			"host": a.settings.host(),
			"port": a.settings.Port,
		},
	}
}
