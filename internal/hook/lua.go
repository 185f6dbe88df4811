package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/pipestatus/internal/models"
)

// runLua calls the global on_event(payload) of a Lua hook script in a
// sandboxed state.
func runLua(ctx context.Context, logger *slog.Logger, scriptPath string, payload models.Payload) error {
	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return errors.Wrap(err, "failed to read hook script")
	}

	// the script sees the payload exactly as an http hook would
	var generic map[string]any
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode payload")
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return errors.Wrap(err, "failed to decode payload")
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		logger.Info(L.CheckString(1), "script", scriptPath)
		return 0
	}))

	if err := L.DoString(string(script)); err != nil {
		return errors.Wrap(err, "failed to load hook script")
	}

	onEvent := L.GetGlobal("on_event")
	if onEvent.Type() != lua.LTFunction {
		return errors.New("hook script must define an 'on_event' function")
	}

	L.Push(onEvent)
	L.Push(goToLua(L, generic))
	if err := L.PCall(1, 0, nil); err != nil {
		return errors.Wrap(err, "hook script failed")
	}
	return nil
}

func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // use log()

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
