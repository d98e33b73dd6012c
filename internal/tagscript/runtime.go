// Package tagscript runs a user Lua script that derives river names from
// OSM tags. The script defines a global function:
//
//	function river_name(tags)
//	    return tags["name:en"] or tags.name
//	end
//
// Returning nil or an empty string means the way is unnamed.
package tagscript

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/paulmach/osm"
	lua "github.com/yuin/gopher-lua"
)

// EntryPoint is the global function the script must define
const EntryPoint = "river_name"

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Runtime wraps a Lua state holding a loaded name script
type Runtime struct {
	L  *lua.LState
	fn *lua.LFunction
	mu sync.Mutex
}

// NewRuntime creates a Lua state with the helper functions registered
func NewRuntime() *Runtime {
	L := lua.NewState()
	r := &Runtime{L: L}
	r.registerHelpers()
	return r
}

// Load creates a runtime and executes the script at path
func Load(path string) (*Runtime, error) {
	r := NewRuntime()
	if err := r.LoadFile(path); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

// LoadFile loads and executes a Lua script file
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	return r.extractEntryPoint()
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	return r.extractEntryPoint()
}

func (r *Runtime) extractEntryPoint() error {
	fn, ok := r.L.GetGlobal(EntryPoint).(*lua.LFunction)
	if !ok {
		return fmt.Errorf("script does not define function %s(tags)", EntryPoint)
	}
	r.fn = fn
	return nil
}

// ResolveName calls river_name(tags) and returns its trimmed result
func (r *Runtime) ResolveName(tags osm.Tags) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fn == nil {
		return "", fmt.Errorf("no script loaded")
	}

	tbl := r.L.NewTable()
	for _, t := range tags {
		tbl.RawSetString(t.Key, lua.LString(t.Value))
	}

	if err := r.L.CallByParam(lua.P{Fn: r.fn, NRet: 1, Protect: true}, tbl); err != nil {
		return "", fmt.Errorf("failed to call %s: %w", EntryPoint, err)
	}
	ret := r.L.Get(-1)
	r.L.Pop(1)

	switch v := ret.(type) {
	case lua.LString:
		return strings.TrimSpace(string(v)), nil
	case *lua.LNilType:
		return "", nil
	default:
		if ret == lua.LFalse {
			return "", nil
		}
		return "", fmt.Errorf("%s returned %s, want string or nil", EntryPoint, ret.Type())
	}
}

func (r *Runtime) registerHelpers() {
	r.L.SetGlobal("trim", r.L.NewFunction(luaTrim))
	r.L.SetGlobal("lower", r.L.NewFunction(luaLower))
	r.L.SetGlobal("upper", r.L.NewFunction(luaUpper))
	r.L.SetGlobal("clean_spaces", r.L.NewFunction(luaCleanSpaces))
	r.L.SetGlobal("first_of", r.L.NewFunction(luaFirstOf))
}

func luaTrim(L *lua.LState) int {
	L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
	return 1
}

func luaLower(L *lua.LState) int {
	L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
	return 1
}

func luaUpper(L *lua.LState) int {
	L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
	return 1
}

func luaCleanSpaces(L *lua.LState) int {
	s := whitespaceRegex.ReplaceAllString(L.CheckString(1), " ")
	L.Push(lua.LString(strings.TrimSpace(s)))
	return 1
}

// luaFirstOf(tags, key1, key2, ...) returns the first non-empty value
func luaFirstOf(L *lua.LState) int {
	tbl := L.CheckTable(1)
	for i := 2; i <= L.GetTop(); i++ {
		key := L.CheckString(i)
		if v, ok := tbl.RawGetString(key).(lua.LString); ok && strings.TrimSpace(string(v)) != "" {
			L.Push(v)
			return 1
		}
	}
	L.Push(lua.LNil)
	return 1
}
