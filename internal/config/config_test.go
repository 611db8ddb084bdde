package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/stopfilter/internal/filter"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "rules.toml", `
scripts = ["init.lua"]

[adapter]
type = "debugpy"
program = "app.py"
args = ["--serve"]

[session]
async = true

[logging]
level = "debug"

[[filter]]
function = "compute"

[[filter]]
source_file = '/src/.*\.c$'
module_file = 'libfoo\.so'
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Adapter.Type != "debugpy" || cfg.Adapter.Program != "app.py" {
		t.Errorf("unexpected adapter %+v", cfg.Adapter)
	}
	if len(cfg.Adapter.Args) != 1 || cfg.Adapter.Args[0] != "--serve" {
		t.Errorf("unexpected adapter args %v", cfg.Adapter.Args)
	}
	if !cfg.Session.Async {
		t.Error("expected async session")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level %q", cfg.Logging.Level)
	}
	if len(cfg.Scripts) != 1 || cfg.Scripts[0] != "init.lua" {
		t.Errorf("unexpected scripts %v", cfg.Scripts)
	}

	specs := cfg.Specs()
	want := []filter.Spec{
		{Function: "compute"},
		{SourceFile: `/src/.*\.c$`, ModuleFile: `libfoo\.so`},
	}
	if len(specs) != len(want) {
		t.Fatalf("expected %d specs, got %d", len(want), len(specs))
	}
	for i := range want {
		if specs[i] != want[i] {
			t.Errorf("spec %d: expected %+v, got %+v", i, want[i], specs[i])
		}
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "rules.yaml", `
adapter:
  type: node
  attach: "127.0.0.1:9229"
filters:
  - function: "^main$"
  - module_file: libbar
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Type != "node" || cfg.Adapter.Attach != "127.0.0.1:9229" {
		t.Errorf("unexpected adapter %+v", cfg.Adapter)
	}
	if len(cfg.Filters) != 2 || cfg.Filters[0].Function != "^main$" {
		t.Errorf("unexpected filters %+v", cfg.Filters)
	}
}

func TestLoadDefaultsApply(t *testing.T) {
	path := writeFile(t, "rules.toml", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter.Type != "delve" {
		t.Errorf("expected default adapter delve, got %q", cfg.Adapter.Type)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "rules.json", "{}")

	_, err := Load(path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsBadPattern(t *testing.T) {
	path := writeFile(t, "rules.toml", `
[[filter]]
function = "ok"

[[filter]]
source_file = "("
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected pattern error")
	}
	var perr *filter.PatternError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *filter.PatternError, got %T", err)
	}
	if !strings.Contains(err.Error(), "filter 1") {
		t.Errorf("error must name the offending rule, got %q", err.Error())
	}
}

func TestLoadRejectsUnknownAdapter(t *testing.T) {
	path := writeFile(t, "rules.toml", `
[adapter]
type = "gdbserver"
`)

	_, err := Load(path)
	if !errors.Is(err, ErrUnknownAdapter) {
		t.Errorf("expected ErrUnknownAdapter, got %v", err)
	}
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := writeFile(t, "rules.toml", "[adapter\ntype=")

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
