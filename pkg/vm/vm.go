// Package vm implements the register-based bytecode interpreter: a
// switch-dispatched main loop over object.Proto instructions, call-frame
// management, upvalue capture/close, and the class/instance operator
// dispatch.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/xray-lang/xray/pkg/compiler"
	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/symbol"
)

// FramesMax bounds call-frame depth; StackMax bounds the absolute register
// stack, both enforced by the stack-overflow detection below.
const (
	FramesMax = compiler.FramesMax
	StackMax  = FramesMax * 256
)

// Result mirrors the three outcomes `run` can report to a driver.
type Result int

const (
	ResultOK Result = iota
	ResultCompileError
	ResultRuntimeError
)

// CallFrame is one activation record: the executing closure, its program
// counter, and the absolute stack index its register window begins at.
type CallFrame struct {
	closure *object.Closure
	pc      int
	base    int
}

// VM owns every piece of mutable interpreter state: the register stack,
// the frame array, globals, the open-upvalue list, the live-object list,
// the string pool and the symbol table (one VM, no cross-VM sharing).
type VM struct {
	stack    []object.Value
	stackTop int

	frames     []CallFrame
	frameCount int

	globals []object.Value

	openUpvalues *object.Upvalue

	Objects object.ObjectList
	Strings *object.Pool
	Symbols *symbol.Table

	// RunID distinguishes this VM instance's stack traces and --trace
	// output from any other VM's when an embedder drives several at once;
	// nothing else ties a trace line to a particular instance.
	RunID uuid.UUID

	TraceExecution bool
	Out            io.Writer
	ErrOut         io.Writer
}

// New creates a VM. Passing the same symbols table used to compile proto
// keeps method/operator symbol ids consistent between compiler and VM.
func New(symbols *symbol.Table) *VM {
	if symbols == nil {
		symbols = symbol.New()
	}
	return &VM{
		stack:   make([]object.Value, StackMax),
		frames:  make([]CallFrame, 0, FramesMax),
		Strings: object.NewPool(),
		Symbols: symbols,
		RunID:   uuid.New(),
		Out:     os.Stdout,
		ErrOut:  os.Stderr,
	}
}

// Interpret wraps proto in a zero-upvalue closure, installs the initial
// frame and runs it to completion. String constants throughout the Proto
// tree are canonicalized against this VM's intern pool first, so string
// equality (pointer identity) holds between literals from any compilation
// or a decoded bytecode file and strings built at runtime.
func (vm *VM) Interpret(proto *object.Proto) (Result, error) {
	vm.internStringConstants(proto)
	closure := object.NewClosure(proto, nil)
	vm.Objects.Link(closure)
	if len(vm.globals) < proto.NumGlobals {
		grown := make([]object.Value, proto.NumGlobals)
		copy(grown, vm.globals)
		for i := len(vm.globals); i < len(grown); i++ {
			grown[i] = object.Null()
		}
		vm.globals = grown
	}
	if !vm.pushFrame(closure, 0) {
		return ResultRuntimeError, vm.wrapf(vm.stackTrace(), "stack overflow")
	}
	return vm.run(0)
}

func (vm *VM) internStringConstants(proto *object.Proto) {
	for i, k := range proto.Constants {
		if k.IsObjType(object.ObjString) {
			s := k.AsObject().(*object.String)
			proto.Constants[i] = object.FromObj(vm.Strings.Intern(s.Chars, &vm.Objects))
		}
	}
	for _, child := range proto.Children {
		vm.internStringConstants(child)
	}
}

func (vm *VM) pushFrame(closure *object.Closure, base int) bool {
	if vm.frameCount >= FramesMax {
		return false
	}
	if base+closure.Proto.MaxStack > StackMax {
		return false
	}
	if vm.frameCount < len(vm.frames) {
		vm.frames = vm.frames[:vm.frameCount+1]
	} else {
		vm.frames = append(vm.frames, CallFrame{})
	}
	vm.frames[vm.frameCount] = CallFrame{closure: closure, pc: 0, base: base}
	vm.frameCount++
	top := base + closure.Proto.MaxStack
	if top > vm.stackTop {
		vm.stackTop = top
	}
	return true
}

func (vm *VM) stackTrace() []StackFrame {
	out := make([]StackFrame, 0, vm.frameCount)
	for i := 0; i < vm.frameCount; i++ {
		f := &vm.frames[i]
		name := f.closure.Proto.Name
		if name == "" {
			name = "<script>"
		}
		line := 0
		if f.pc > 0 && f.pc-1 < len(f.closure.Proto.Lines) {
			line = int(f.closure.Proto.Lines[f.pc-1])
		}
		out = append(out, StackFrame{Name: name, SourceLine: line, PC: f.pc})
	}
	return out
}

func (vm *VM) runtimeError(format string, args ...interface{}) error {
	err := vm.wrapf(vm.stackTrace(), format, args...)
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
	return err
}

// ---- register access ----

func (vm *VM) reg(f *CallFrame, i uint8) object.Value { return vm.stack[f.base+int(i)] }
func (vm *VM) setReg(f *CallFrame, i uint8, v object.Value) {
	vm.stack[f.base+int(i)] = v
}

// run is the main dispatch loop. Call, return and tailcall swap or pop the
// current frame and `continue`; re-fetching the frame at the top of every
// iteration is the Go equivalent of a C interpreter's goto-based re-entry
// label, without needing one per call-affecting opcode.
func (vm *VM) run(floor int) (Result, error) {
	for vm.frameCount > floor {
		f := &vm.frames[vm.frameCount-1]
		proto := f.closure.Proto
		if f.pc >= len(proto.Code) {
			return ResultRuntimeError, vm.runtimeError("instruction pointer ran past end of code in %s", proto.Name)
		}
		instr := proto.Code[f.pc]
		line := int(proto.Lines[f.pc])
		f.pc++

		if vm.TraceExecution {
			vm.traceStep(f, instr, line)
		}

		op, a, b, c := object.DecodeABC(instr)
		switch op {
		case object.OpNop:

		case object.OpLoadI:
			_, ra, sbx := object.DecodeAsBx(instr)
			vm.setReg(f, ra, object.Int(int64(sbx)))
		case object.OpLoadF:
			_, ra, bx := object.DecodeABx(instr)
			vm.setReg(f, ra, proto.Constants[bx])
		case object.OpLoadK:
			_, ra, bx := object.DecodeABx(instr)
			vm.setReg(f, ra, proto.Constants[bx])
		case object.OpLoadNil:
			vm.setReg(f, a, object.Null())
		case object.OpLoadTrue:
			vm.setReg(f, a, object.Bool(true))
		case object.OpLoadFalse:
			vm.setReg(f, a, object.Bool(false))
		case object.OpMove:
			vm.setReg(f, a, vm.reg(f, b))

		case object.OpAdd, object.OpSub, object.OpMul, object.OpDiv, object.OpMod:
			result, err := vm.binaryArith(op, vm.reg(f, b), vm.reg(f, c), line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, result)
		case object.OpUnm:
			v := vm.reg(f, b)
			switch {
			case v.IsInt():
				vm.setReg(f, a, object.Int(-v.AsInt()))
			case v.IsFloat():
				vm.setReg(f, a, object.Float(-v.AsFloat()))
			default:
				return ResultRuntimeError, vm.runtimeError("line %d: unary '-' requires a number", line)
			}
		case object.OpNot:
			vm.setReg(f, a, object.Bool(vm.reg(f, b).IsFalsey()))

		case object.OpAddI, object.OpSubI, object.OpMulI:
			result, err := vm.binaryArith(immediateBase(op), vm.reg(f, b), object.Int(int64(int8(c))), line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, result)
		case object.OpAddK, object.OpSubK, object.OpMulK:
			result, err := vm.binaryArith(constBase(op), vm.reg(f, b), proto.Constants[c], line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, result)

		case object.OpEq, object.OpNe, object.OpLt, object.OpLe, object.OpGt, object.OpGe:
			res, err := vm.compare(op, vm.reg(f, a), vm.reg(f, b), line)
			if err != nil {
				return ResultRuntimeError, err
			}
			if res != object.DecodeK(instr) {
				f.pc++
			}
		case object.OpLtI, object.OpLeI, object.OpGtI, object.OpGeI:
			res, err := vm.compare(comparisonIBase(op), vm.reg(f, a), object.Int(int64(int8(b))), line)
			if err != nil {
				return ResultRuntimeError, err
			}
			if res != object.DecodeK(instr) {
				f.pc++
			}

		case object.OpJmp:
			_, sj := object.DecodeSJ(instr)
			f.pc += int(sj)
		case object.OpTest:
			if vm.reg(f, a).IsFalsey() == object.DecodeK(instr) {
				f.pc++
			}
		case object.OpTestSet:
			if vm.reg(f, b).IsFalsey() == object.DecodeK(instr) {
				f.pc++
			} else {
				vm.setReg(f, a, vm.reg(f, b))
			}

		case object.OpCall:
			res, err := vm.call(f, a, b, c != 0, line)
			if err != nil {
				return ResultRuntimeError, err
			}
			if res == callPushedFrame {
				continue
			}
		case object.OpCallSelf:
			calleeVal := object.FromObj(f.closure)
			vm.setReg(f, a, calleeVal)
			res, err := vm.call(f, a, b, c != 0, line)
			if err != nil {
				return ResultRuntimeError, err
			}
			if res == callPushedFrame {
				continue
			}
		case object.OpTailCall:
			if err := vm.tailCall(f, a, b, line); err != nil {
				return ResultRuntimeError, err
			}
			continue
		case object.OpReturn:
			vm.doReturn(f, a, b)
			continue

		case object.OpNewTable:
			if c == 1 {
				vm.setReg(f, a, object.FromObj(vm.newMap(int(b))))
			} else {
				vm.setReg(f, a, object.FromObj(vm.newArray(int(b))))
			}
		case object.OpGetTable:
			v, err := vm.getIndex(vm.reg(f, b), vm.reg(f, c), line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, v)
		case object.OpSetTable:
			if err := vm.setIndex(vm.reg(f, a), vm.reg(f, b), vm.reg(f, c), line); err != nil {
				return ResultRuntimeError, err
			}
		case object.OpGetI:
			v, err := vm.getIndex(vm.reg(f, b), object.Int(int64(c)), line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, v)
		case object.OpSetI:
			if err := vm.setIndex(vm.reg(f, a), object.Int(int64(b)), vm.reg(f, c), line); err != nil {
				return ResultRuntimeError, err
			}
		case object.OpGetField:
			v, err := vm.getField(vm.reg(f, b), proto.Constants[c], line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, v)
		case object.OpSetField:
			if err := vm.setIndex(vm.reg(f, a), proto.Constants[b], vm.reg(f, c), line); err != nil {
				return ResultRuntimeError, err
			}
		case object.OpSetList:
			arr, ok := vm.reg(f, a).AsObject().(*object.Array)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: SETLIST target is not an array", line)
			}
			for i := 1; i <= int(b); i++ {
				arr.Push(vm.reg(f, a+uint8(i)))
			}

		case object.OpClosure:
			_, ra, bx := object.DecodeABx(instr)
			child := proto.Children[bx]
			cl := vm.makeClosure(f, child)
			vm.setReg(f, ra, object.FromObj(cl))
		case object.OpGetUpval:
			vm.setReg(f, a, f.closure.Upvalues[b].Get())
		case object.OpSetUpval:
			f.closure.Upvalues[b].Set(vm.reg(f, a))
		case object.OpClose:
			vm.closeUpvalues(f.base + int(a))

		case object.OpClass:
			_, ra, bx := object.DecodeABx(instr)
			name, _ := asString(proto.Constants[bx])
			cls := object.NewClass(name)
			vm.Objects.Link(cls)
			vm.setReg(f, ra, object.FromObj(cls))
		case object.OpAddField:
			cls, ok := vm.reg(f, a).AsObject().(*object.Class)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: ADDFIELD target is not a class", line)
			}
			fname, _ := asString(proto.Constants[b])
			ftype, private := object.DecodeFieldTypeConst(proto.Constants[c].AsInt())
			cls.Fields = append(cls.Fields, object.FieldDesc{Name: fname, Type: ftype, Private: private, Owner: cls.Name})
		case object.OpInherit:
			sub, ok := vm.reg(f, a).AsObject().(*object.Class)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: INHERIT target is not a class", line)
			}
			super, ok := vm.reg(f, b).AsObject().(*object.Class)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: superclass value is not a class", line)
			}
			sub.Super = super
			sub.Fields = append(append([]object.FieldDesc{}, super.Fields...), sub.Fields...)
		case object.OpMethod:
			cls, ok := vm.reg(f, a).AsObject().(*object.Class)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: METHOD target is not a class", line)
			}
			cl, ok := vm.reg(f, c).AsObject().(*object.Closure)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: METHOD value is not a closure", line)
			}
			m := methodFromSymbol(cl, int(b), vm.Symbols)
			switch {
			case m.IsGetter:
				cls.Getters[int(b)] = m
			case m.IsSetter:
				cls.Setters[int(b)] = m
			default:
				cls.SetMethod(int(b), m)
			}
		case object.OpStaticMethod:
			cls, ok := vm.reg(f, a).AsObject().(*object.Class)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: STATICMETHOD target is not a class", line)
			}
			cl, ok := vm.reg(f, c).AsObject().(*object.Closure)
			if !ok {
				return ResultRuntimeError, vm.runtimeError("line %d: STATICMETHOD value is not a closure", line)
			}
			m := methodFromSymbol(cl, int(b), vm.Symbols)
			m.IsStatic = true
			cls.StaticMethods[int(b)] = m
		case object.OpGetProp:
			v, err := vm.getProp(f, vm.reg(f, b), proto.Constants[c], line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, v)
		case object.OpSetProp:
			if err := vm.setProp(f, vm.reg(f, a), proto.Constants[b], vm.reg(f, c), line); err != nil {
				return ResultRuntimeError, err
			}
		case object.OpGetSuper:
			v, err := vm.getSuper(f, vm.reg(f, b), proto.Constants[c], line)
			if err != nil {
				return ResultRuntimeError, err
			}
			vm.setReg(f, a, v)
		case object.OpInvoke:
			res, err := vm.invoke(f, a, int(b), c, line)
			if err != nil {
				return ResultRuntimeError, err
			}
			if res == callPushedFrame {
				continue
			}
		case object.OpSuperInvoke:
			res, err := vm.superInvoke(f, a, int(b), c, line)
			if err != nil {
				return ResultRuntimeError, err
			}
			if res == callPushedFrame {
				continue
			}

		case object.OpGetGlobal:
			_, ra, bx := object.DecodeABx(instr)
			if int(bx) >= len(vm.globals) {
				vm.setReg(f, ra, object.Null())
			} else {
				vm.setReg(f, ra, vm.globals[bx])
			}
		case object.OpSetGlobal, object.OpDefGlobal:
			_, ra, bx := object.DecodeABx(instr)
			vm.ensureGlobals(int(bx) + 1)
			vm.globals[bx] = vm.reg(f, ra)

		case object.OpPrint:
			fmt.Fprintln(vm.Out, vm.stringify(vm.reg(f, a)))

		default:
			return ResultRuntimeError, vm.runtimeError("line %d: unknown opcode %v", line, op)
		}
	}
	return ResultOK, nil
}

func (vm *VM) ensureGlobals(n int) {
	if n <= len(vm.globals) {
		return
	}
	grown := make([]object.Value, n)
	copy(grown, vm.globals)
	for i := len(vm.globals); i < n; i++ {
		grown[i] = object.Null()
	}
	vm.globals = grown
}

func immediateBase(op object.Opcode) object.Opcode {
	switch op {
	case object.OpAddI:
		return object.OpAdd
	case object.OpSubI:
		return object.OpSub
	default:
		return object.OpMul
	}
}

func constBase(op object.Opcode) object.Opcode {
	switch op {
	case object.OpAddK:
		return object.OpAdd
	case object.OpSubK:
		return object.OpSub
	default:
		return object.OpMul
	}
}

func comparisonIBase(op object.Opcode) object.Opcode {
	switch op {
	case object.OpLtI:
		return object.OpLt
	case object.OpLeI:
		return object.OpLe
	case object.OpGtI:
		return object.OpGt
	default:
		return object.OpGe
	}
}

func asString(v object.Value) (string, bool) {
	s, ok := v.AsObject().(*object.String)
	if !ok {
		return "", false
	}
	return s.Chars, true
}
