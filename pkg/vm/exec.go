package vm

import (
	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/symbol"
)

// callResult tells run whether the opcode that just executed pushed a new
// frame (so the dispatch loop should skip straight to re-fetching it) or
// completed synchronously in place (a native call, most INVOKE targets).
type callResult int

const (
	callNone callResult = iota
	callPushedFrame
)

// call implements OpCall/OpCallSelf: R[A] is the callee, args sit at
// R[A+1..A+argc]. A *object.Closure pushes a new frame reusing those
// registers as its own (base = f.base+A+1); a *object.Native runs
// synchronously and leaves its result in R[A]; a *object.BoundMethod
// (produced by GETPROP on a method or static method, or by GETSUPER) is
// handled by callBoundMethod: an instance method shifts its args right by
// one to make room
// for the bound receiver before pushing a frame, the same dance INVOKE
// does for a plain method call.
func (vm *VM) call(f *CallFrame, aReg uint8, argc uint8, wantResult bool, line int) (callResult, error) {
	callee := vm.reg(f, aReg)
	if !callee.IsObject() {
		return callNone, vm.runtimeError("line %d: attempt to call a %s value", line, kindName(callee))
	}
	switch fn := callee.AsObject().(type) {
	case *object.Native:
		args := vm.collectArgs(f, aReg, argc)
		res, err := fn.Fn(args)
		if err != nil {
			return callNone, vm.runtimeError("line %d: %v", line, err)
		}
		if wantResult {
			vm.setReg(f, aReg, res)
		}
		return callNone, nil
	case *object.Closure:
		if int(argc) != fn.Proto.NumParams {
			return callNone, vm.runtimeError("line %d: expected %d arguments but got %d", line, fn.Proto.NumParams, argc)
		}
		base := f.base + int(aReg) + 1
		if !vm.pushFrame(fn, base) {
			return callNone, vm.runtimeError("line %d: stack overflow", line)
		}
		return callPushedFrame, nil
	case *object.BoundMethod:
		return vm.callBoundMethod(f, aReg, argc, fn, line)
	default:
		return callNone, vm.runtimeError("line %d: attempt to call a %s value", line, callee.ObjType())
	}
}

// callBoundMethod inserts the bound receiver as the implicit `this`
// argument, shifting the caller-supplied args up by one register, then
// pushes a frame over the method's proto (skipped for a static method,
// which has no receiver to insert).
func (vm *VM) callBoundMethod(f *CallFrame, aReg uint8, argc uint8, bm *object.BoundMethod, line int) (callResult, error) {
	m := bm.Method
	if m.IsStatic {
		if int(argc) != m.Proto.NumParams {
			return callNone, vm.runtimeError("line %d: expected %d arguments but got %d", line, m.Proto.NumParams, argc)
		}
		cl := object.NewClosure(m.Proto, m.Upvalues)
		vm.Objects.Link(cl)
		base := f.base + int(aReg) + 1
		if !vm.pushFrame(cl, base) {
			return callNone, vm.runtimeError("line %d: stack overflow", line)
		}
		return callPushedFrame, nil
	}
	if int(argc)+1 != m.Proto.NumParams {
		return callNone, vm.runtimeError("line %d: expected %d arguments but got %d", line, m.Proto.NumParams-1, argc)
	}
	vm.shiftArgsForReceiver(f, aReg, argc)
	vm.setReg(f, aReg+1, bm.Receiver)
	cl := object.NewClosure(m.Proto, m.Upvalues)
	vm.Objects.Link(cl)
	base := f.base + int(aReg) + 1
	if !vm.pushFrame(cl, base) {
		return callNone, vm.runtimeError("line %d: stack overflow", line)
	}
	return callPushedFrame, nil
}

// shiftArgsForReceiver moves the argc values at R[aReg+1..aReg+argc] up by
// one register, opening R[aReg+1] for an implicit receiver. The top
// register written (aReg+1+argc) always lies within the generous fixed
// stack array even when it exceeds the enclosing proto's own recorded
// MaxStack, since nothing else is live there yet.
func (vm *VM) shiftArgsForReceiver(f *CallFrame, aReg uint8, argc uint8) {
	for i := int(argc); i >= 1; i-- {
		vm.setReg(f, aReg+1+uint8(i), vm.reg(f, aReg+uint8(i)))
	}
}

func (vm *VM) collectArgs(f *CallFrame, aReg uint8, argc uint8) []object.Value {
	args := make([]object.Value, argc)
	for i := uint8(0); i < argc; i++ {
		args[i] = vm.reg(f, aReg+1+i)
	}
	return args
}

// tailCall implements OpTailCall: it reuses the current frame's own base
// instead of pushing a new one, so tail-recursive functions run in
// constant stack space. Only closures participate in the
// optimization; calling a native function in tail position just runs it
// and returns its result through the current frame, which is
// observationally identical since natives never recurse through the VM.
func (vm *VM) tailCall(f *CallFrame, aReg uint8, argc uint8, line int) error {
	callee := vm.reg(f, aReg)
	if !callee.IsObject() {
		return vm.runtimeError("line %d: attempt to call a %s value", line, kindName(callee))
	}
	switch fn := callee.AsObject().(type) {
	case *object.Native:
		args := vm.collectArgs(f, aReg, argc)
		res, err := fn.Fn(args)
		if err != nil {
			return vm.runtimeError("line %d: %v", line, err)
		}
		vm.doReturnValue(f, res)
		return nil
	case *object.Closure:
		if int(argc) != fn.Proto.NumParams {
			return vm.runtimeError("line %d: expected %d arguments but got %d", line, fn.Proto.NumParams, argc)
		}
		vm.closeUpvalues(f.base)
		for i := uint8(0); i < argc; i++ {
			vm.stack[f.base+int(i)] = vm.reg(f, aReg+1+i)
		}
		f.closure = fn
		f.pc = 0
		vm.stackTop = f.base + fn.Proto.MaxStack
		return nil
	default:
		return vm.runtimeError("line %d: attempt to call a %s value", line, callee.ObjType())
	}
}

// doReturn implements OpReturn: it writes the returned value (or null)
// into the calling frame's call register — always f.base-1, since every
// call site (CALL, INVOKE, TAILCALL's predecessor) arranges its callee's
// base to sit exactly one past that register — closes any upvalues still
// open into the returning frame, and pops it.
func (vm *VM) doReturn(f *CallFrame, a uint8, b uint8) {
	ret := object.Null()
	if b != 0 {
		ret = vm.reg(f, a)
	}
	vm.doReturnValue(f, ret)
}

func (vm *VM) doReturnValue(f *CallFrame, ret object.Value) {
	vm.closeUpvalues(f.base)
	vm.frameCount--
	if f.base > 0 {
		vm.stack[f.base-1] = ret
	}
	// Shrink the stack back to the resumed frame's register window, so
	// synchronous re-entry (operator overloads, toString, callbacks) can't
	// creep the high-water mark toward the cap across many calls.
	if vm.frameCount > 0 {
		caller := &vm.frames[vm.frameCount-1]
		vm.stackTop = caller.base + caller.closure.Proto.MaxStack
	} else {
		vm.stackTop = 0
	}
}

// invoke implements OpInvoke: R[A] is the receiver, symbol B names the
// method, C is argc. Dispatch branches on the receiver's runtime type:
// a Class (via `new`) constructs an instance and calls its constructor; an
// Instance looks the symbol up through its class chain; Array/Map/String
// receivers dispatch to their built-in method set instead, since those
// three are exposed to user code as values with methods rather than class
// instances.
func (vm *VM) invoke(f *CallFrame, aReg uint8, sym int, argc uint8, line int) (callResult, error) {
	recv := vm.reg(f, aReg)
	if !recv.IsObject() {
		return callNone, vm.runtimeError("line %d: cannot invoke a method on a %s value", line, kindName(recv))
	}
	switch o := recv.AsObject().(type) {
	case *object.Class:
		return vm.invokeClass(f, aReg, o, sym, argc, line)
	case *object.Instance:
		return vm.invokeInstance(f, aReg, recv, o, sym, argc, line)
	case *object.Array:
		name, _ := vm.Symbols.Lookup(sym)
		args := vm.collectArgs(f, aReg, argc)
		res, err := vm.invokeArrayMethod(o, name, args, line)
		if err != nil {
			return callNone, err
		}
		vm.setReg(f, aReg, res)
		return callNone, nil
	case *object.Map:
		name, _ := vm.Symbols.Lookup(sym)
		args := vm.collectArgs(f, aReg, argc)
		res, err := vm.invokeMapMethod(o, name, args, line)
		if err != nil {
			return callNone, err
		}
		vm.setReg(f, aReg, res)
		return callNone, nil
	case *object.String:
		name, _ := vm.Symbols.Lookup(sym)
		args := vm.collectArgs(f, aReg, argc)
		res, err := vm.invokeStringMethod(o, name, args, line)
		if err != nil {
			return callNone, err
		}
		vm.setReg(f, aReg, res)
		return callNone, nil
	default:
		return callNone, vm.runtimeError("line %d: cannot invoke a method on a %s value", line, recv.ObjType())
	}
}

func (vm *VM) invokeClass(f *CallFrame, aReg uint8, cls *object.Class, sym int, argc uint8, line int) (callResult, error) {
	if sym != symbol.Constructor {
		m, ok := cls.StaticMethods[sym]
		if !ok {
			name, _ := vm.Symbols.Lookup(sym)
			return callNone, vm.runtimeError("line %d: method '%s' not found on class %s", line, name, cls.Name)
		}
		if int(argc) != m.Proto.NumParams {
			return callNone, vm.runtimeError("line %d: expected %d arguments but got %d", line, m.Proto.NumParams, argc)
		}
		cl := object.NewClosure(m.Proto, m.Upvalues)
		vm.Objects.Link(cl)
		base := f.base + int(aReg) + 1
		if !vm.pushFrame(cl, base) {
			return callNone, vm.runtimeError("line %d: stack overflow", line)
		}
		return callPushedFrame, nil
	}

	inst := object.NewInstance(cls)
	vm.Objects.Link(inst)
	ctor := cls.LookupMethod(symbol.Constructor)
	if ctor == nil {
		if argc != 0 {
			return callNone, vm.runtimeError("line %d: expected 0 arguments but got %d", line, argc)
		}
		vm.setReg(f, aReg, object.FromObj(inst))
		return callNone, nil
	}
	return vm.pushMethodFrame(f, aReg, object.FromObj(inst), ctor, argc, line)
}

func (vm *VM) invokeInstance(f *CallFrame, aReg uint8, recv object.Value, inst *object.Instance, sym int, argc uint8, line int) (callResult, error) {
	m := inst.Class.LookupMethod(sym)
	if m == nil {
		name, _ := vm.Symbols.Lookup(sym)
		return callNone, vm.runtimeError("line %d: method '%s' not found", line, name)
	}
	// A private method is callable only from other methods of the class
	// that declared it, wherever the receiver sits in the hierarchy.
	if m.IsPrivate && f.closure.Proto.OwnerClass != m.Proto.OwnerClass {
		name, _ := vm.Symbols.Lookup(sym)
		return callNone, vm.runtimeError("line %d: method '%s' not found", line, name)
	}
	return vm.pushMethodFrame(f, aReg, recv, m, argc, line)
}

// superInvoke implements OpSuperInvoke: R[A] holds the receiver (`this`),
// symbol B names the method, C is argc. Lookup starts one class above the
// one that declared the currently executing method — not above the
// receiver's dynamic class, which would recurse forever when the executing
// method is itself an override partway down the chain.
func (vm *VM) superInvoke(f *CallFrame, aReg uint8, sym int, argc uint8, line int) (callResult, error) {
	recv := vm.reg(f, aReg)
	inst, ok := recv.AsObject().(*object.Instance)
	if !recv.IsObject() || !ok {
		return callNone, vm.runtimeError("line %d: 'super' requires a method receiver", line)
	}
	declaring := inst.Class
	for declaring != nil && declaring.Name != f.closure.Proto.OwnerClass {
		declaring = declaring.Super
	}
	if declaring == nil || declaring.Super == nil {
		return callNone, vm.runtimeError("line %d: class has no superclass", line)
	}
	m := declaring.Super.LookupMethod(sym)
	if m == nil {
		name, _ := vm.Symbols.Lookup(sym)
		return callNone, vm.runtimeError("line %d: method '%s' not found on %s", line, name, declaring.Super.Name)
	}
	return vm.pushMethodFrame(f, aReg, recv, m, argc, line)
}

// pushMethodFrame finishes any instance-method dispatch: shift the args to
// open the receiver slot, close over the method's Proto and push the frame.
func (vm *VM) pushMethodFrame(f *CallFrame, aReg uint8, recv object.Value, m *object.Method, argc uint8, line int) (callResult, error) {
	if int(argc)+1 != m.Proto.NumParams {
		return callNone, vm.runtimeError("line %d: expected %d arguments but got %d", line, m.Proto.NumParams-1, argc)
	}
	vm.shiftArgsForReceiver(f, aReg, argc)
	vm.setReg(f, aReg+1, recv)
	cl := object.NewClosure(m.Proto, m.Upvalues)
	vm.Objects.Link(cl)
	base := f.base + int(aReg) + 1
	if !vm.pushFrame(cl, base) {
		return callNone, vm.runtimeError("line %d: stack overflow", line)
	}
	return callPushedFrame, nil
}

// callMethodSync runs a method to completion right now and returns its
// result, for contexts that need a value mid-instruction rather than a new
// top-level frame: operator overloading and toString dispatch. It
// pushes a frame above the VM's current high-water mark so it can never
// alias a register still live in an enclosing frame, then re-enters run
// with a floor pinned to the depth just below the pushed frame so the loop
// returns control here the instant that one frame returns.
func (vm *VM) callMethodSync(recv object.Value, m *object.Method, args []object.Value) (object.Value, error) {
	base := vm.stackTop + 1
	if base+m.Proto.MaxStack > StackMax {
		return object.Null(), vm.runtimeError("stack overflow")
	}
	vm.stack[base] = recv
	for i, a := range args {
		vm.stack[base+1+i] = a
	}
	cl := object.NewClosure(m.Proto, m.Upvalues)
	vm.Objects.Link(cl)
	floor := vm.frameCount
	if !vm.pushFrame(cl, base) {
		return object.Null(), vm.runtimeError("stack overflow")
	}
	if _, err := vm.run(floor); err != nil {
		return object.Null(), err
	}
	return vm.stack[base-1], nil
}

// ---- closures & upvalues ----

func (vm *VM) makeClosure(f *CallFrame, child *object.Proto) *object.Closure {
	ups := make([]*object.Upvalue, len(child.Upvalues))
	for i, d := range child.Upvalues {
		if d.IsLocal {
			ups[i] = vm.captureUpvalue(f.base + int(d.Index))
		} else {
			ups[i] = f.closure.Upvalues[d.Index]
		}
	}
	cl := object.NewClosure(child, ups)
	vm.Objects.Link(cl)
	return cl
}

// captureUpvalue returns the open upvalue for absolute stack slot absIdx,
// reusing one already on the list (keyed by Index, the address surrogate
// since Go gives no way to compare *Value pointers for order) or inserting
// a freshly-opened one in descending-Index order.
func (vm *VM) captureUpvalue(absIdx int) *object.Upvalue {
	var prev *object.Upvalue
	cur := vm.openUpvalues
	for cur != nil && cur.Index > absIdx {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Index == absIdx {
		return cur
	}
	uv := object.NewOpenUpvalue(&vm.stack[absIdx])
	uv.Index = absIdx
	uv.Next = cur
	if prev == nil {
		vm.openUpvalues = uv
	} else {
		prev.Next = uv
	}
	vm.Objects.Link(uv)
	return uv
}

// closeUpvalues closes every open upvalue at or above absolute stack index
// from, called on OpClose (a scope exit that captured a local) and on
// frame return/tail-call (the whole frame's registers are going away).
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Index >= from {
		vm.openUpvalues.Close()
		vm.openUpvalues = vm.openUpvalues.Next
	}
}

// ---- tables ----

func (vm *VM) newArray(capHint int) *object.Array {
	a := object.NewArray(capHint)
	vm.Objects.Link(a)
	return a
}

func (vm *VM) newMap(capHint int) *object.Map {
	m := object.NewMap(capHint)
	vm.Objects.Link(m)
	return m
}

func kindName(v object.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsBool():
		return "boolean"
	case v.IsInt(), v.IsFloat():
		return "number"
	default:
		return "value"
	}
}
