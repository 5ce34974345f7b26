// Package policy evaluates an optional user-supplied Lua hook deciding
// whether kestrel may apply an update automatically.
//
// The hook file defines:
//
//	function allow_update(current, latest)
//	    return latest ~= "2.0.0" -- hold back a known-bad release
//	end
//
// Execution is sandboxed: functions that execute commands, touch the
// filesystem, or load external code are removed before the script runs.
package policy

import (
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
)

// hookFunction is the global the policy file must define.
const hookFunction = "allow_update"

// Evaluator runs the update policy hook.
type Evaluator struct {
	path string
}

// NewEvaluator creates an evaluator for the given policy file path.
func NewEvaluator(path string) *Evaluator {
	return &Evaluator{path: path}
}

// Allow reports whether the policy permits updating from current to
// latest. A missing policy file allows everything.
func (e *Evaluator) Allow(current, latest string) (bool, error) {
	script, err := os.ReadFile(e.path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("read policy: %w", err)
	}

	return evalScript(string(script), current, latest)
}

// evalScript runs the hook in a fresh sandboxed VM.
func evalScript(script, current, latest string) (bool, error) {
	L := newSandboxedVM()
	defer L.Close()

	if err := L.DoString(script); err != nil {
		return false, fmt.Errorf("policy syntax error: %w", err)
	}

	fn := L.GetGlobal(hookFunction)
	if fn.Type() == lua.LTNil {
		// No hook defined: the file is advisory only.
		return true, nil
	}
	if fn.Type() != lua.LTFunction {
		return false, fmt.Errorf("policy %s is a %s, expected function", hookFunction, fn.Type())
	}

	err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(current), lua.LString(latest))
	if err != nil {
		return false, fmt.Errorf("policy execution failed: %w", err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	// Lua truthiness: only nil and false deny.
	return ret != lua.LNil && ret != lua.LFalse, nil
}
