package vm

import "github.com/xray-lang/xray/pkg/object"

// callClosureSync runs a plain closure (a callback passed to forEach/map/
// filter/reduce) to completion and returns its result, using the same
// above-high-water-mark frame trick as callMethodSync so it can never
// alias a register a live frame still needs. Missing arguments are padded
// with null rather than left as stale stack contents.
func (vm *VM) callClosureSync(cl *object.Closure, args []object.Value) (object.Value, error) {
	base := vm.stackTop + 1
	if base+cl.Proto.MaxStack > StackMax {
		return object.Null(), vm.runtimeError("stack overflow")
	}
	padded := make([]object.Value, cl.Proto.NumParams)
	copy(padded, args)
	for i := len(args); i < len(padded); i++ {
		padded[i] = object.Null()
	}
	for i, a := range padded {
		vm.stack[base+i] = a
	}
	floor := vm.frameCount
	if !vm.pushFrame(cl, base) {
		return object.Null(), vm.runtimeError("stack overflow")
	}
	if _, err := vm.run(floor); err != nil {
		return object.Null(), err
	}
	return vm.stack[base-1], nil
}

func asClosure(v object.Value) (*object.Closure, bool) {
	cl, ok := v.AsObject().(*object.Closure)
	return cl, ok
}
