package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dshills/stopfilter/internal/adapters"
	"github.com/dshills/stopfilter/internal/command"
	"github.com/dshills/stopfilter/internal/config"
	"github.com/dshills/stopfilter/internal/filter"
	"github.com/dshills/stopfilter/internal/hook"
	"github.com/dshills/stopfilter/internal/logging"
	"github.com/dshills/stopfilter/internal/script"
	"github.com/dshills/stopfilter/internal/session"
)

// connectTimeout bounds the wait for a socket adapter to accept.
const connectTimeout = 15 * time.Second

// announceTimeout bounds the frame lookup for a stop announcement.
const announceTimeout = 5 * time.Second

// Options configure the application, typically from command line flags.
type Options struct {
	// ConfigPath is an optional TOML/YAML configuration file.
	ConfigPath string

	// Scripts are Lua files run at startup, after config scripts.
	Scripts []string

	// Adapter overrides the configured adapter type.
	Adapter string

	// Program is the debuggee to launch.
	Program string

	// Args are passed to the debuggee.
	Args []string

	// Attach is a host:port of a running adapter.
	Attach string

	// SourceFile, ModuleFile and Function form one filter installed
	// from the command line, after config filters.
	SourceFile string
	ModuleFile string
	Function   string

	// Async is the initial execution mode flag.
	Async bool

	// LogLevel overrides the configured log level.
	LogLevel string

	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer

	// Output receives stop announcements and command output. Defaults
	// to stdout.
	Output io.Writer
}

// Application owns the wired components for one debug session.
type Application struct {
	opts Options
	cfg  *config.Config
	log  *logging.Logger
	out  io.Writer

	hooks    *hook.Registry
	commands *command.Registry
	scripts  *script.Engine
	registry *adapters.Registry

	mu      sync.Mutex
	running bool
	session *session.Session
	watcher *config.Watcher
}

// New builds an application: configuration is loaded, filters compiled
// and installed, and startup scripts run. Nothing is launched yet.
func New(opts Options) (*Application, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, NewOpError("load config", opts.ConfigPath, err)
		}
		cfg = loaded
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logOut := opts.LogOutput
	if logOut == nil {
		logOut = os.Stderr
	}
	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(level),
		Output: logOut,
		Prefix: "stopfilter",
	})

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	a := &Application{
		opts:     opts,
		cfg:      cfg,
		log:      log,
		out:      out,
		hooks:    hook.NewRegistry(log),
		commands: command.NewRegistry(),
		registry: adapters.NewRegistry(),
	}
	a.scripts = script.New(a.hooks, log)

	if err := command.RegisterFilterCommands(a.commands, a.hooks, out); err != nil {
		return nil, NewOpError("register commands", "", err)
	}
	if err := a.installFilters(); err != nil {
		return nil, err
	}
	if err := a.runScripts(); err != nil {
		return nil, err
	}
	return a, nil
}

// installFilters installs the config rules in file order, then the
// command line filter, if any.
func (a *Application) installFilters() error {
	for i, spec := range a.cfg.Specs() {
		if _, err := a.hooks.Add(spec); err != nil {
			return NewOpError("install filter", strconv.Itoa(i), err)
		}
	}

	flagSpec := filter.Spec{
		SourceFile: a.opts.SourceFile,
		ModuleFile: a.opts.ModuleFile,
		Function:   a.opts.Function,
	}
	if !flagSpec.Empty() {
		if _, err := a.hooks.Add(flagSpec); err != nil {
			return NewOpError("install filter", "flags", err)
		}
	}
	return nil
}

// runScripts runs config scripts, then flag scripts, in order.
func (a *Application) runScripts() error {
	for _, path := range append(append([]string{}, a.cfg.Scripts...), a.opts.Scripts...) {
		if err := a.scripts.RunFile(path); err != nil {
			return NewOpError("run script", path, err)
		}
	}
	return nil
}

// Commands returns the command registry, for interactive front ends.
func (a *Application) Commands() *command.Registry {
	return a.commands
}

// Filters returns the hook registry.
func (a *Application) Filters() *hook.Registry {
	return a.hooks
}

// Run connects to the adapter, starts or attaches to the debuggee and
// blocks until the target exits, the session ends, or ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	adapter, attaching, err := a.buildAdapter()
	if err != nil {
		return err
	}

	sess, err := a.connect(ctx, adapter)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	defer sess.Close()

	sess.SetAsync(a.opts.Async || a.cfg.Session.Async)
	sess.AddStopHandler(a.hooks.Bind(sess))
	sess.AddStopHandler(a.announceStop)

	if err := sess.Initialize(ctx, session.Config{
		AdapterID:  adapter.ID(),
		ClientID:   "stopfilter",
		ClientName: "stopfilter",
	}); err != nil {
		return NewOpError("initialize", string(adapter.Type()), err)
	}

	if attaching {
		err = sess.Attach(ctx, adapter.AttachArgs())
	} else {
		err = sess.Launch(ctx, adapter.LaunchArgs())
	}
	if err != nil {
		return NewOpError("start", a.targetName(), err)
	}

	if err := sess.ConfigurationDone(ctx); err != nil {
		return NewOpError("configure", string(adapter.Type()), err)
	}

	if a.opts.ConfigPath != "" {
		w, err := config.Watch(a.opts.ConfigPath, a.log, a.applyConfig)
		if err != nil {
			a.log.Warn("config watch failed, live reload disabled: %v", err)
		} else {
			a.watcher = w
			defer w.Close()
		}
	}

	a.log.Info("debugging %s via %s", a.targetName(), adapter.Type())

	select {
	case <-ctx.Done():
		// Tear the target down only if we started it.
		dctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
		defer cancel()
		if err := sess.Disconnect(dctx, !attaching); err != nil {
			a.log.Warn("disconnect failed: %v", err)
		}
		return ctx.Err()
	case <-sess.Done():
		a.log.Info("session ended")
		return nil
	}
}

// Shutdown releases everything the application holds.
func (a *Application) Shutdown() {
	a.mu.Lock()
	sess := a.session
	w := a.watcher
	a.session = nil
	a.watcher = nil
	a.mu.Unlock()

	if w != nil {
		w.Close()
	}
	if sess != nil {
		sess.Close()
	}
	a.scripts.Close()
}

// buildAdapter resolves the adapter type and settings from options and
// configuration.
func (a *Application) buildAdapter() (adapters.Adapter, bool, error) {
	adapterType := a.cfg.Adapter.Type
	if a.opts.Adapter != "" {
		adapterType = a.opts.Adapter
	}

	settings := adapters.Settings{
		Program: a.cfg.Adapter.Program,
		Args:    a.cfg.Adapter.Args,
		Cwd:     a.cfg.Adapter.Cwd,
	}
	if a.opts.Program != "" {
		settings.Program = a.opts.Program
		settings.Args = a.opts.Args
	}

	attach := a.cfg.Adapter.Attach
	if a.opts.Attach != "" {
		attach = a.opts.Attach
	}
	if attach != "" {
		host, port, err := splitAddress(attach)
		if err != nil {
			return nil, false, NewOpError("parse attach address", attach, err)
		}
		settings.Host = host
		settings.Port = port
	}

	if settings.Program == "" && !settings.Attaching() {
		return nil, false, ErrNoTarget
	}

	adapter, err := a.registry.Create(adapters.Type(adapterType), settings)
	if err != nil {
		return nil, false, NewOpError("create adapter", adapterType, err)
	}
	return adapter, settings.Attaching(), nil
}

// connect establishes the DAP transport the adapter calls for.
func (a *Application) connect(ctx context.Context, adapter adapters.Adapter) (*session.Session, error) {
	switch adapter.Connection() {
	case adapters.ConnSocket:
		waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := adapters.WaitForPort(waitCtx, adapter.Address()); err != nil {
			return nil, NewOpError("connect", adapter.Address(), err)
		}
		sess, err := session.NewSocket(a.log, adapter.Address())
		if err != nil {
			return nil, NewOpError("connect", adapter.Address(), err)
		}
		return sess, nil
	default:
		cmd, err := adapter.Command()
		if err != nil {
			return nil, NewOpError("start adapter", string(adapter.Type()), err)
		}
		sess, err := session.NewCommand(a.log, cmd)
		if err != nil {
			return nil, NewOpError("start adapter", string(adapter.Type()), err)
		}
		return sess, nil
	}
}

// applyConfig swaps the installed filters for a reloaded rule set.
func (a *Application) applyConfig(cfg *config.Config) {
	if err := a.hooks.Replace(cfg.Specs()); err != nil {
		// Load already validated the patterns; a failure here means the
		// file changed between validation and swap.
		a.log.Warn("filter reload failed, keeping previous filters: %v", err)
		return
	}
	a.log.Info("installed %d filters from configuration", a.hooks.Len())
}

// announceStop prints the location of a stop that survived filtering.
// Runs after the filter dispatch handler; a suppressed stop has no
// stopped thread left by the time it runs.
func (a *Application) announceStop(session.StopEvent) {
	a.mu.Lock()
	sess := a.session
	a.mu.Unlock()
	if sess == nil {
		return
	}

	thread, ok := sess.StoppedThread()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	frame, err := sess.TopFrame(ctx, thread.ID)
	if err != nil {
		fmt.Fprintf(a.out, "stopped (%s) thread %d\n", thread.StopReason, thread.ID)
		return
	}

	name, _ := frame.FunctionName()
	if name == "" {
		name = "?"
	}
	location := "?"
	if path, ok := frame.SourcePath(); ok {
		location = path
		if line, ok := frame.Line(); ok {
			location = fmt.Sprintf("%s:%d", path, line)
		}
	}
	fmt.Fprintf(a.out, "stopped (%s) thread %d in %s at %s\n", thread.StopReason, thread.ID, name, location)
}

// targetName names the debuggee for logs and errors.
func (a *Application) targetName() string {
	if a.opts.Program != "" {
		return a.opts.Program
	}
	if a.cfg.Adapter.Program != "" {
		return a.cfg.Adapter.Program
	}
	if a.opts.Attach != "" {
		return a.opts.Attach
	}
	return a.cfg.Adapter.Attach
}

// splitAddress parses host:port, defaulting the host to loopback.
func splitAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return host, port, nil
}
