package vm

import "github.com/xray-lang/xray/pkg/object"

// invokeMapMethod implements the map built-in method table:
// size/has/get/set/delete/clear for the core dictionary operations,
// keys/values/entries for snapshotting, and forEach for iteration. get's
// optional second argument is a default returned on a missing key.
func (vm *VM) invokeMapMethod(m *object.Map, method string, args []object.Value, line int) (object.Value, error) {
	switch method {
	case "size":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: size expects 0 arguments", line)
		}
		return object.Int(int64(m.Size())), nil

	case "has":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: has expects 1 argument", line)
		}
		return object.Bool(m.Has(args[0])), nil

	case "get":
		if len(args) < 1 || len(args) > 2 {
			return object.Null(), vm.runtimeError("line %d: get expects 1 or 2 arguments", line)
		}
		if v, ok := m.Get(args[0]); ok {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return object.Null(), nil

	case "set":
		if len(args) != 2 {
			return object.Null(), vm.runtimeError("line %d: set expects 2 arguments", line)
		}
		m.Set(args[0], args[1])
		return object.FromObj(m), nil

	case "delete":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: delete expects 1 argument", line)
		}
		return object.Bool(m.Delete(args[0])), nil

	case "clear":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: clear expects 0 arguments", line)
		}
		for _, k := range m.Keys() {
			m.Delete(k)
		}
		return object.Null(), nil

	case "keys":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: keys expects 0 arguments", line)
		}
		out := vm.newArray(m.Size())
		out.Items = m.Keys()
		return object.FromObj(out), nil

	case "values":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: values expects 0 arguments", line)
		}
		out := vm.newArray(m.Size())
		out.Items = m.Values()
		return object.FromObj(out), nil

	case "entries":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: entries expects 0 arguments", line)
		}
		entries := m.Entries()
		out := vm.newArray(len(entries))
		for _, e := range entries {
			pair := vm.newArray(2)
			pair.Push(e.Key)
			pair.Push(e.Value)
			out.Push(object.FromObj(pair))
		}
		return object.FromObj(out), nil

	case "forEach":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: forEach expects 1 argument", line)
		}
		cl, ok := asClosure(args[0])
		if !ok {
			return object.Null(), vm.runtimeError("line %d: forEach requires a function argument", line)
		}
		for _, e := range m.Entries() {
			if _, err := vm.callClosureSync(cl, []object.Value{e.Value, e.Key}); err != nil {
				return object.Null(), err
			}
		}
		return object.Null(), nil

	default:
		return object.Null(), vm.runtimeError("line %d: unknown map method '%s'", line, method)
	}
}
