package vm

import "github.com/xray-lang/xray/pkg/object"

// invokeArrayMethod implements the array built-in method table: push/pop/
// unshift/shift for mutation, indexOf/contains for search, forEach/map/
// filter/reduce for the functional-iteration surface, and join for
// rendering to a string. Arity mismatches raise the same runtime error
// shape every other INVOKE path uses.
func (vm *VM) invokeArrayMethod(arr *object.Array, method string, args []object.Value, line int) (object.Value, error) {
	switch method {
	case "push":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: push expects 1 argument", line)
		}
		arr.Push(args[0])
		return object.Int(int64(arr.Length())), nil

	case "pop":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: pop expects 0 arguments", line)
		}
		n := arr.Length()
		if n == 0 {
			return object.Null(), nil
		}
		v := arr.Items[n-1]
		arr.Items = arr.Items[:n-1]
		return v, nil

	case "unshift":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: unshift expects 1 argument", line)
		}
		arr.Items = append([]object.Value{args[0]}, arr.Items...)
		return object.Int(int64(arr.Length())), nil

	case "shift":
		if len(args) != 0 {
			return object.Null(), vm.runtimeError("line %d: shift expects 0 arguments", line)
		}
		if arr.Length() == 0 {
			return object.Null(), nil
		}
		v := arr.Items[0]
		arr.Items = arr.Items[1:]
		return v, nil

	case "get":
		if len(args) != 1 || !args[0].IsInt() {
			return object.Null(), vm.runtimeError("line %d: get expects 1 integer argument", line)
		}
		v, err := arr.Get(args[0].AsInt())
		if err != nil {
			return object.Null(), vm.runtimeError("line %d: %v", line, err)
		}
		return v, nil

	case "set":
		if len(args) != 2 || !args[0].IsInt() {
			return object.Null(), vm.runtimeError("line %d: set expects (int, value)", line)
		}
		if err := arr.Set(args[0].AsInt(), args[1]); err != nil {
			return object.Null(), vm.runtimeError("line %d: %v", line, err)
		}
		return args[1], nil

	case "length":
		return object.Int(int64(arr.Length())), nil

	case "indexOf":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: indexOf expects 1 argument", line)
		}
		for i, item := range arr.Items {
			if object.Equal(item, args[0]) {
				return object.Int(int64(i)), nil
			}
		}
		return object.Int(-1), nil

	case "contains":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: contains expects 1 argument", line)
		}
		for _, item := range arr.Items {
			if object.Equal(item, args[0]) {
				return object.Bool(true), nil
			}
		}
		return object.Bool(false), nil

	case "forEach":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: forEach expects 1 argument", line)
		}
		cl, ok := asClosure(args[0])
		if !ok {
			return object.Null(), vm.runtimeError("line %d: forEach requires a function argument", line)
		}
		for i, item := range arr.Items {
			if _, err := vm.callClosureSync(cl, []object.Value{item, object.Int(int64(i))}); err != nil {
				return object.Null(), err
			}
		}
		return object.Null(), nil

	case "map":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: map expects 1 argument", line)
		}
		cl, ok := asClosure(args[0])
		if !ok {
			return object.Null(), vm.runtimeError("line %d: map requires a function argument", line)
		}
		out := vm.newArray(arr.Length())
		for i, item := range arr.Items {
			v, err := vm.callClosureSync(cl, []object.Value{item, object.Int(int64(i))})
			if err != nil {
				return object.Null(), err
			}
			out.Push(v)
		}
		return object.FromObj(out), nil

	case "filter":
		if len(args) != 1 {
			return object.Null(), vm.runtimeError("line %d: filter expects 1 argument", line)
		}
		cl, ok := asClosure(args[0])
		if !ok {
			return object.Null(), vm.runtimeError("line %d: filter requires a function argument", line)
		}
		out := vm.newArray(0)
		for i, item := range arr.Items {
			keep, err := vm.callClosureSync(cl, []object.Value{item, object.Int(int64(i))})
			if err != nil {
				return object.Null(), err
			}
			if !keep.IsFalsey() {
				out.Push(item)
			}
		}
		return object.FromObj(out), nil

	case "reduce":
		if len(args) != 2 {
			return object.Null(), vm.runtimeError("line %d: reduce expects (function, initial)", line)
		}
		cl, ok := asClosure(args[0])
		if !ok {
			return object.Null(), vm.runtimeError("line %d: reduce requires a function as its first argument", line)
		}
		acc := args[1]
		for i, item := range arr.Items {
			v, err := vm.callClosureSync(cl, []object.Value{acc, item, object.Int(int64(i))})
			if err != nil {
				return object.Null(), err
			}
			acc = v
		}
		return acc, nil

	case "join":
		if len(args) != 1 || !args[0].IsObjType(object.ObjString) {
			return object.Null(), vm.runtimeError("line %d: join expects 1 string argument", line)
		}
		sep, _ := asString(args[0])
		s := ""
		for i, item := range arr.Items {
			if i > 0 {
				s += sep
			}
			s += vm.stringify(item)
		}
		return object.FromObj(vm.Strings.Intern(s, &vm.Objects)), nil

	default:
		return object.Null(), vm.runtimeError("line %d: unknown array method '%s'", line, method)
	}
}
