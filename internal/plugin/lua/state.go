// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Garrulus Contributors

// Package lua runs scripted plugins. Each script directory carries a
// plugin.yaml manifest and an entry script; discovery turns them into
// ordinary plugin specs whose init executes the script inside a
// sandboxed interpreter.
package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary is a Lua library permitted inside the sandbox.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// Safe: base, table, string, math. Blocked: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions are base-library entrypoints that reach the
// filesystem and must not exist inside the sandbox.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// newState creates a Lua state with only the safe libraries loaded and
// the filesystem-reaching base functions removed.
func newState() (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range defaultSafeLibraries() {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	return L, nil
}
