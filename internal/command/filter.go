package command

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/dshills/stopfilter/internal/filter"
	"github.com/dshills/stopfilter/internal/hook"
)

// Filter command names.
const (
	CmdAddFilter    = "filter-stop-hook"
	CmdRemoveFilter = "filter-stop-unhook"
	CmdListFilters  = "filter-stop-list"
)

// ParseSpec parses a serialized filter command argument string. The
// string is shell-word split, then parsed as the three pattern flags.
// Unknown flags, missing values and stray positionals are errors.
func ParseSpec(args string) (filter.Spec, error) {
	words, err := shlex.Split(args)
	if err != nil {
		return filter.Spec{}, fmt.Errorf("split arguments: %w", err)
	}

	fs := flag.NewFlagSet(CmdAddFilter, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var spec filter.Spec
	fs.StringVar(&spec.SourceFile, "source-file", "", "source file path pattern")
	fs.StringVar(&spec.ModuleFile, "module-file", "", "module file path pattern")
	fs.StringVar(&spec.Function, "function", "", "function name pattern")

	if err := fs.Parse(words); err != nil {
		return filter.Spec{}, err
	}
	if fs.NArg() > 0 {
		return filter.Spec{}, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return spec, nil
}

// FormatSpec renders a spec as a filter command argument string that
// ParseSpec accepts. Empty criteria are omitted.
func FormatSpec(spec filter.Spec) string {
	var parts []string
	if spec.SourceFile != "" {
		parts = append(parts, "--source-file", quoteWord(spec.SourceFile))
	}
	if spec.ModuleFile != "" {
		parts = append(parts, "--module-file", quoteWord(spec.ModuleFile))
	}
	if spec.Function != "" {
		parts = append(parts, "--function", quoteWord(spec.Function))
	}
	return strings.Join(parts, " ")
}

// quoteWord quotes a value for shell-word splitting. Regexp patterns
// routinely contain characters the splitter treats specially, so
// anything beyond a plain word is double-quoted.
func quoteWord(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\|&;()<>$`") {
		return s
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// RegisterFilterCommands installs the filter commands against a hook
// registry. Command output goes to out.
func RegisterFilterCommands(reg *Registry, hooks *hook.Registry, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}

	add := func(_ context.Context, args string) error {
		spec, err := ParseSpec(args)
		if err != nil {
			return err
		}
		f, err := hooks.Add(spec)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "installed stop filter %s\n", f.ID())
		return nil
	}

	remove := func(_ context.Context, args string) error {
		id, err := uuid.Parse(strings.TrimSpace(args))
		if err != nil {
			return fmt.Errorf("parse filter id: %w", err)
		}
		if !hooks.Remove(id) {
			return fmt.Errorf("no stop filter %s", id)
		}
		fmt.Fprintf(out, "removed stop filter %s\n", id)
		return nil
	}

	list := func(_ context.Context, _ string) error {
		filters := hooks.List()
		if len(filters) == 0 {
			fmt.Fprintln(out, "no stop filters installed")
			return nil
		}
		for _, f := range filters {
			fmt.Fprintf(out, "%s  %s\n", f.ID(), FormatSpec(f.Criteria().Spec()))
		}
		return nil
	}

	for name, h := range map[string]Handler{
		CmdAddFilter:    add,
		CmdRemoveFilter: remove,
		CmdListFilters:  list,
	} {
		if err := reg.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}
