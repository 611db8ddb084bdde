// Package main is the entry point for stopfilter, a conditional stop
// filter for DAP debug sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dshills/stopfilter/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	application, err := app.New(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		return 1
	}
	defer application.Shutdown()

	// Cancel the run on SIGINT/SIGTERM; Run disconnects cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

func parseFlags() app.Options {
	var opts app.Options
	var scripts stringList
	var showVersion bool

	flag.StringVar(&opts.Adapter, "adapter", "", "Debug adapter type (delve, debugpy, node)")
	flag.StringVar(&opts.Program, "program", "", "Program to launch under the debugger")
	flag.StringVar(&opts.Attach, "attach", "", "host:port of a running debug adapter to attach to")
	flag.StringVar(&opts.SourceFile, "source-file", "", "Source file path pattern that allows a stop")
	flag.StringVar(&opts.ModuleFile, "module-file", "", "Module file path pattern that allows a stop")
	flag.StringVar(&opts.Function, "function", "", "Function name pattern that allows a stop")
	flag.StringVar(&opts.ConfigPath, "config", "", "Path to a TOML or YAML configuration file")
	flag.Var(&scripts, "script", "Lua script to run at startup (repeatable)")
	flag.BoolVar(&opts.Async, "async", false, "Start in asynchronous execution mode")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "stopfilter - conditional stop filtering for DAP debug sessions\n\n")
		fmt.Fprintf(os.Stderr, "Usage: stopfilter [options] [-- program args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  stopfilter --program ./app --function '^main\\.'\n")
		fmt.Fprintf(os.Stderr, "  stopfilter --adapter debugpy --attach :5678 --source-file 'handlers/.*\\.py'\n")
		fmt.Fprintf(os.Stderr, "  stopfilter --config rules.toml --program ./app\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("stopfilter %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	opts.Scripts = scripts
	opts.Args = flag.Args()
	return opts
}
