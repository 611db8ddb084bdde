package script

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/stopfilter/internal/filter"
	"github.com/dshills/stopfilter/internal/hook"
	"github.com/dshills/stopfilter/internal/logging"
)

// Engine is a sandboxed Lua state bound to a filter registry.
//
// gopher-lua's LState is not goroutine-safe; the engine serializes all
// script execution behind a mutex.
type Engine struct {
	mu     sync.Mutex
	state  *lua.LState
	hooks  *hook.Registry
	log    *logging.Logger
	closed bool
}

// New creates an engine bound to hooks.
func New(hooks *hook.Registry, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	seal(L)

	e := &Engine{
		state: L,
		hooks: hooks,
		log:   log.WithComponent("script"),
	}
	e.installModule()
	return e
}

// openSafeLibraries opens only side-effect-free standard libraries.
// io, os, debug and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// seal removes the base functions that load code from outside the
// script.
func seal(L *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// installModule exposes the stopfilter module to scripts.
func (e *Engine) installModule() {
	mod := e.state.NewTable()
	e.state.SetFuncs(mod, map[string]lua.LGFunction{
		"add":    e.luaAdd,
		"remove": e.luaRemove,
		"list":   e.luaList,
	})
	e.state.SetGlobal("stopfilter", mod)
}

// RunFile executes a script file.
func (e *Engine) RunFile(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("script engine closed")
	}

	e.log.Debug("running script %s", path)
	if err := e.state.DoFile(path); err != nil {
		return fmt.Errorf("script %s: %w", path, err)
	}
	return nil
}

// RunString executes script source.
func (e *Engine) RunString(source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("script engine closed")
	}

	if err := e.state.DoString(source); err != nil {
		return fmt.Errorf("script: %w", err)
	}
	return nil
}

// Close shuts the Lua state down.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.state.Close()
	}
}

// luaAdd implements stopfilter.add{ source_file=, module_file=, func= }.
// Returns the filter id as a string. A malformed pattern raises a Lua
// error naming the criterion.
func (e *Engine) luaAdd(L *lua.LState) int {
	tbl := L.CheckTable(1)

	spec := filter.Spec{
		SourceFile: stringField(L, tbl, "source_file"),
		ModuleFile: stringField(L, tbl, "module_file"),
		Function:   stringField(L, tbl, "func"),
	}

	f, err := e.hooks.Add(spec)
	if err != nil {
		L.RaiseError("%v", err)
		return 0
	}
	L.Push(lua.LString(f.ID().String()))
	return 1
}

// luaRemove implements stopfilter.remove(id). Returns whether a filter
// was removed.
func (e *Engine) luaRemove(L *lua.LState) int {
	raw := L.CheckString(1)
	id, err := uuid.Parse(raw)
	if err != nil {
		L.ArgError(1, fmt.Sprintf("malformed filter id %q", raw))
		return 0
	}
	L.Push(lua.LBool(e.hooks.Remove(id)))
	return 1
}

// luaList implements stopfilter.list(). Returns an array of tables with
// id and pattern fields.
func (e *Engine) luaList(L *lua.LState) int {
	list := L.NewTable()
	for _, f := range e.hooks.List() {
		spec := f.Criteria().Spec()
		entry := L.NewTable()
		entry.RawSetString("id", lua.LString(f.ID().String()))
		if spec.SourceFile != "" {
			entry.RawSetString("source_file", lua.LString(spec.SourceFile))
		}
		if spec.ModuleFile != "" {
			entry.RawSetString("module_file", lua.LString(spec.ModuleFile))
		}
		if spec.Function != "" {
			entry.RawSetString("func", lua.LString(spec.Function))
		}
		list.Append(entry)
	}
	L.Push(list)
	return 1
}

// stringField reads an optional string field from a table. A present
// non-string value is an argument error.
func stringField(L *lua.LState, tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if v == lua.LNil {
		return ""
	}
	s, ok := v.(lua.LString)
	if !ok {
		L.ArgError(1, fmt.Sprintf("%s must be a string, got %s", key, v.Type()))
	}
	return string(s)
}
