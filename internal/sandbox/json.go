package sandbox

import (
	"encoding/json"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// jsonToLua converts a decoded JSON value into a Lua value on the given
// state. Objects become tables with string keys, arrays become 1-indexed
// tables.
func jsonToLua(L *lua.LState, v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []interface{}:
		tbl := L.NewTable()
		for i, item := range val {
			tbl.RawSetInt(i+1, jsonToLua(L, item))
		}
		return tbl
	case map[string]interface{}:
		tbl := L.NewTable()
		for k, item := range val {
			tbl.RawSetString(k, jsonToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func rawToLua(L *lua.LState, raw json.RawMessage) (lua.LValue, error) {
	if len(raw) == 0 {
		return L.NewTable(), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("sandbox: decoding payload: %w", err)
	}
	return jsonToLua(L, v), nil
}

// luaToJSON converts a Lua value back into a JSON-encodable Go value. Tables
// with a dense 1..n integer keyspace become arrays, everything else becomes
// an object with stringified keys.
func luaToJSON(v lua.LValue) interface{} {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		return tableToJSON(val)
	default:
		return val.String()
	}
}

func tableToJSON(tbl *lua.LTable) interface{} {
	n := tbl.Len()
	if n > 0 {
		arr := make([]interface{}, 0, n)
		dense := true
		tbl.ForEach(func(k, _ lua.LValue) {
			if num, ok := k.(lua.LNumber); !ok || float64(num) != float64(int(num)) || int(num) < 1 || int(num) > n {
				dense = false
			}
		})
		if dense {
			for i := 1; i <= n; i++ {
				arr = append(arr, luaToJSON(tbl.RawGetInt(i)))
			}
			return arr
		}
	}
	obj := make(map[string]interface{})
	tbl.ForEach(func(k, v lua.LValue) {
		obj[k.String()] = luaToJSON(v)
	})
	return obj
}

func luaToRaw(v lua.LValue) (json.RawMessage, error) {
	data, err := json.Marshal(luaToJSON(v))
	if err != nil {
		return nil, fmt.Errorf("sandbox: encoding result: %w", err)
	}
	return data, nil
}
