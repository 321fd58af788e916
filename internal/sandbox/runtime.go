// Package sandbox executes synthesized workflow programs inside a bounded
// pool of locked-down Lua runtimes. One instance serves one session at a
// time; only the bound-call functions a workflow declares are reachable from
// inside, and every session carries a wall-clock timeout plus a bound-call
// step ceiling.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/toolgate/toolgate/internal/catalog"
)

// Invoker dispatches one bound tool call to its owning server. The directory
// implements it; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, id catalog.ID, args json.RawMessage) (json.RawMessage, error)
}

var errStepCeiling = errors.New("step ceiling exceeded")

// BoundCallError carries the originating tool of a failed bound call, so a
// Failed session can distinguish "my workflow has a bug" from "a dependency
// tool failed".
type BoundCallError struct {
	Tool   catalog.ID
	Reason string
}

func (e *BoundCallError) Error() string {
	return fmt.Sprintf("bound call %s: %s", e.Tool, e.Reason)
}

// instance is one isolated runtime. The Lua state opens only the base,
// table, string, and math libraries, and the loader escape hatches left by
// the base library are nilled out.
type instance struct {
	state *lua.LState
}

func newInstance() (*instance, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("sandbox: opening %s: %w", lib.name, err)
		}
	}
	for _, g := range []string{
		"load", "loadstring", "dofile", "loadfile", "require",
		"collectgarbage", "print", "setmetatable", "getmetatable",
		"rawset", "rawget", "rawequal", "module",
	} {
		L.SetGlobal(g, lua.LNil)
	}
	return &instance{state: L}, nil
}

func (in *instance) close() {
	in.state.Close()
}

// runState is the per-execution bookkeeping shared with the bound-call
// closure.
type runState struct {
	steps    int
	maxSteps int
	lastErr  *BoundCallError
}

// run executes the workflow program with the given input. The bound-call
// closure checks the declared dependency set itself, so an undeclared call
// fails inside the program rather than reaching the wire.
func (in *instance) run(ctx context.Context, wf *catalog.Workflow, input json.RawMessage, invoker Invoker, maxSteps int) (json.RawMessage, error) {
	L := in.state
	L.SetContext(ctx)
	defer L.RemoveContext()

	declared := make(map[string]bool, len(wf.Deps))
	for _, d := range wf.Deps {
		declared[d.String()] = true
	}
	rs := &runState{maxSteps: maxSteps}

	L.SetGlobal("call", L.NewFunction(func(ls *lua.LState) int {
		server := ls.CheckString(1)
		tool := ls.CheckString(2)
		var args lua.LValue = lua.LNil
		if ls.GetTop() >= 3 {
			args = ls.Get(3)
		}

		rs.steps++
		if rs.maxSteps > 0 && rs.steps > rs.maxSteps {
			ls.RaiseError("%s", errStepCeiling.Error())
			return 0
		}

		id := catalog.ID{Server: server, Tool: tool}
		if !declared[id.String()] {
			rs.lastErr = &BoundCallError{Tool: id, Reason: "not bound"}
			ls.RaiseError("tool %s not bound", id)
			return 0
		}

		var argJSON json.RawMessage
		if args != lua.LNil {
			data, err := luaToRaw(args)
			if err != nil {
				rs.lastErr = &BoundCallError{Tool: id, Reason: err.Error()}
				ls.RaiseError("%s", err.Error())
				return 0
			}
			argJSON = data
		}

		result, err := invoker.Invoke(ctx, id, argJSON)
		if err != nil {
			rs.lastErr = &BoundCallError{Tool: id, Reason: err.Error()}
			ls.RaiseError("bound call %s: %s", id, err.Error())
			return 0
		}
		lv, err := rawToLua(ls, result)
		if err != nil {
			rs.lastErr = &BoundCallError{Tool: id, Reason: err.Error()}
			ls.RaiseError("%s", err.Error())
			return 0
		}
		ls.Push(lv)
		return 1
	}))

	if err := L.DoString(wf.Source); err != nil {
		return nil, in.classify(ctx, rs, fmt.Errorf("loading program: %w", err))
	}
	fn := L.GetGlobal("workflow")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("program defines no workflow(input) function")
	}

	inputVal, err := rawToLua(L, input)
	if err != nil {
		return nil, err
	}
	L.Push(fn)
	L.Push(inputVal)
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, in.classify(ctx, rs, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return luaToRaw(ret)
}

// classify maps a raw Lua error to the budget/fault error the pool's state
// machine distinguishes on.
func (in *instance) classify(ctx context.Context, rs *runState, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if strings.Contains(err.Error(), errStepCeiling.Error()) {
		return errStepCeiling
	}
	if rs.lastErr != nil && strings.Contains(err.Error(), rs.lastErr.Reason) {
		return rs.lastErr
	}
	return err
}
