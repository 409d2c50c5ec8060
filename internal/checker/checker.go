package checker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Diagnostic is one finding reported by a checker module.
type Diagnostic struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Module is a loaded Lua checker. A module owns one Lua state; calls are
// serialized because Lua states are not goroutine-safe.
type Module struct {
	Name string
	Path string

	mu     sync.Mutex
	state  *lua.LState
	check  *lua.LFunction
	closed bool
}

// LoadModule loads <searchPath>/<name>.lua into a sandboxed Lua state and
// resolves its global check function.
func LoadModule(searchPath, name string) (*Module, error) {
	path := filepath.Join(searchPath, name+".lua")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}

	state := lua.NewState()
	sandbox(state)

	if err := state.DoFile(path); err != nil {
		state.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	fn, ok := state.GetGlobal("check").(*lua.LFunction)
	if !ok {
		state.Close()
		return nil, fmt.Errorf("%w: %s", ErrNoCheckFunction, path)
	}

	return &Module{Name: name, Path: path, state: state, check: fn}, nil
}

// sandbox removes the file-loading primitives and filesystem libraries so a
// checker can only compute over the source it is handed.
func sandbox(state *lua.LState) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		state.SetGlobal(name, lua.LNil)
	}
	if pkg, ok := state.GetGlobal("package").(*lua.LTable); ok {
		state.SetField(pkg, "path", lua.LString(""))
		state.SetField(pkg, "cpath", lua.LString(""))
	}
	state.SetGlobal("io", lua.LNil)
	state.SetGlobal("os", lua.LNil)
}

// Check runs the module's check function over one source file. Calls block
// while another check is in flight on the same module.
func (m *Module) Check(path, source string, options map[string]any) ([]Diagnostic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrModuleClosed
	}

	opts := m.state.NewTable()
	for k, v := range options {
		m.state.SetField(opts, k, luaValue(v))
	}

	if err := m.state.CallByParam(lua.P{
		Fn:      m.check,
		NRet:    1,
		Protect: true,
	}, lua.LString(path), lua.LString(source), opts); err != nil {
		return nil, fmt.Errorf("check %s: %w", path, err)
	}

	ret := m.state.Get(-1)
	m.state.Pop(1)
	return diagnosticsFromLua(ret)
}

// Close releases the module's Lua state. Close blocks until an in-flight
// check finishes; later checks fail with ErrModuleClosed.
func (m *Module) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.state.Close()
}

func luaValue(v any) lua.LValue {
	switch val := v.(type) {
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func diagnosticsFromLua(v lua.LValue) ([]Diagnostic, error) {
	if v == lua.LNil {
		return nil, nil
	}
	table, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrBadDiagnostics, v.Type())
	}

	var diags []Diagnostic
	var convErr error
	table.ForEach(func(_, entry lua.LValue) {
		if convErr != nil {
			return
		}
		row, ok := entry.(*lua.LTable)
		if !ok {
			convErr = fmt.Errorf("%w: entry is %s", ErrBadDiagnostics, entry.Type())
			return
		}
		diags = append(diags, Diagnostic{
			Line:    int(lua.LVAsNumber(row.RawGetString("line"))),
			Col:     int(lua.LVAsNumber(row.RawGetString("col"))),
			Code:    lua.LVAsString(row.RawGetString("code")),
			Message: lua.LVAsString(row.RawGetString("message")),
		})
	})
	return diags, convErr
}
