package vm

import (
	"strings"

	"github.com/xray-lang/xray/pkg/object"
)

// invokeStringMethod implements the string built-in method table:
// charAt/substring/indexOf/contains/startsWith/endsWith for inspection,
// toLowerCase/toUpperCase/trim/split/replace/replaceAll/repeat for
// transformation, and length. All of these operate byte-wise; the language
// has no separate rune type.
func (vm *VM) invokeStringMethod(s *object.String, method string, args []object.Value, line int) (object.Value, error) {
	str := s.Chars
	switch method {
	case "length":
		return object.Int(int64(len(str))), nil

	case "charAt":
		idx, ok := singleIntArg(args)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: charAt expects 1 integer argument", line)
		}
		if idx < 0 || int(idx) >= len(str) {
			return object.Null(), nil
		}
		return object.FromObj(vm.Strings.Intern(string(str[idx]), &vm.Objects)), nil

	case "substring":
		if len(args) < 1 || len(args) > 2 || !args[0].IsInt() {
			return object.Null(), vm.runtimeError("line %d: substring expects 1 or 2 integer arguments", line)
		}
		start := clampIndex(args[0].AsInt(), len(str))
		end := int64(len(str))
		if len(args) == 2 {
			if !args[1].IsInt() {
				return object.Null(), vm.runtimeError("line %d: substring's end index must be an integer", line)
			}
			end = clampIndex(args[1].AsInt(), len(str))
		}
		if end < start {
			end = start
		}
		return object.FromObj(vm.Strings.Intern(str[start:end], &vm.Objects)), nil

	case "indexOf":
		sub, ok := singleStringArg(args)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: indexOf expects 1 string argument", line)
		}
		return object.Int(int64(strings.Index(str, sub))), nil

	case "contains":
		sub, ok := singleStringArg(args)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: contains expects 1 string argument", line)
		}
		return object.Bool(strings.Contains(str, sub)), nil

	case "startsWith":
		sub, ok := singleStringArg(args)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: startsWith expects 1 string argument", line)
		}
		return object.Bool(strings.HasPrefix(str, sub)), nil

	case "endsWith":
		sub, ok := singleStringArg(args)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: endsWith expects 1 string argument", line)
		}
		return object.Bool(strings.HasSuffix(str, sub)), nil

	case "toLowerCase":
		return object.FromObj(vm.Strings.Intern(strings.ToLower(str), &vm.Objects)), nil

	case "toUpperCase":
		return object.FromObj(vm.Strings.Intern(strings.ToUpper(str), &vm.Objects)), nil

	case "trim":
		return object.FromObj(vm.Strings.Intern(strings.TrimSpace(str), &vm.Objects)), nil

	case "split":
		sep, ok := singleStringArg(args)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: split expects 1 string argument", line)
		}
		out := vm.newArray(0)
		for _, part := range strings.Split(str, sep) {
			out.Push(object.FromObj(vm.Strings.Intern(part, &vm.Objects)))
		}
		return object.FromObj(out), nil

	case "replace":
		if len(args) != 2 {
			return object.Null(), vm.runtimeError("line %d: replace expects 2 string arguments", line)
		}
		old, ok1 := asString(args[0])
		repl, ok2 := asString(args[1])
		if !ok1 || !ok2 {
			return object.Null(), vm.runtimeError("line %d: replace expects 2 string arguments", line)
		}
		return object.FromObj(vm.Strings.Intern(strings.Replace(str, old, repl, 1), &vm.Objects)), nil

	case "replaceAll":
		if len(args) != 2 {
			return object.Null(), vm.runtimeError("line %d: replaceAll expects 2 string arguments", line)
		}
		old, ok1 := asString(args[0])
		repl, ok2 := asString(args[1])
		if !ok1 || !ok2 {
			return object.Null(), vm.runtimeError("line %d: replaceAll expects 2 string arguments", line)
		}
		return object.FromObj(vm.Strings.Intern(strings.ReplaceAll(str, old, repl), &vm.Objects)), nil

	case "repeat":
		count, ok := singleIntArg(args)
		if !ok || count < 0 {
			return object.Null(), vm.runtimeError("line %d: repeat expects 1 non-negative integer argument", line)
		}
		return object.FromObj(vm.Strings.Intern(strings.Repeat(str, int(count)), &vm.Objects)), nil

	default:
		return object.Null(), vm.runtimeError("line %d: unknown string method '%s'", line, method)
	}
}

func singleIntArg(args []object.Value) (int64, bool) {
	if len(args) != 1 || !args[0].IsInt() {
		return 0, false
	}
	return args[0].AsInt(), true
}

func singleStringArg(args []object.Value) (string, bool) {
	if len(args) != 1 {
		return "", false
	}
	return asString(args[0])
}

func clampIndex(i int64, n int) int64 {
	if i < 0 {
		return 0
	}
	if i > int64(n) {
		return int64(n)
	}
	return i
}
