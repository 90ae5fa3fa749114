package vm

import (
	"fmt"
	"strconv"

	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/symbol"
)

// methodFromSymbol builds a Method record from a just-closed-over Proto and
// the symbol OpMethod/OpStaticMethod is storing it under. All the flags a
// Method carries were stamped onto the Proto at compile time (see
// compileMethodDecl), so this is a plain field copy plus the one
// derivation (IsConstructor) that only the runtime symbol value can answer.
func methodFromSymbol(cl *object.Closure, sym int, symbols *symbol.Table) *object.Method {
	name, ok := symbols.Lookup(sym)
	if !ok {
		name = cl.Proto.Name
	}
	return &object.Method{
		Name:          name,
		Proto:         cl.Proto,
		Upvalues:      cl.Upvalues,
		IsPrivate:     cl.Proto.IsPrivate,
		IsConstructor: sym == symbol.Constructor,
		IsGetter:      cl.Proto.IsGetter,
		IsSetter:      cl.Proto.IsSetter,
		IsOperator:    cl.Proto.IsOperator,
		Operator:      cl.Proto.OperatorKind,
	}
}

// ---- arithmetic & comparison ----

// binaryArith implements ADD/SUB/MUL/DIV/MOD (and their immediate/constant
// fusion variants, which call in with the already-materialized right
// operand). Numeric operands compute directly; a String operand on either
// side of '+' concatenates via stringify, matching the template-string
// desugaring's assumption that strings "overload + the same way numeric
// operands do"; an Instance operand dispatches to its class's overloaded
// operator method, receiver-first then right-operand, mirroring the single
// dispatch order most scripting languages use for binary operators.
func (vm *VM) binaryArith(op object.Opcode, l, r object.Value, line int) (object.Value, error) {
	if l.IsNumber() && r.IsNumber() {
		return vm.numericArith(op, l, r, line)
	}
	if op == object.OpAdd && (l.IsObjType(object.ObjString) || r.IsObjType(object.ObjString)) {
		s := vm.stringify(l) + vm.stringify(r)
		return object.FromObj(vm.Strings.Intern(s, &vm.Objects)), nil
	}
	if l.IsObjType(object.ObjInstance) {
		if v, ok, err := vm.tryOperatorOverload(l, operatorSymbolFor(op), r, line); ok || err != nil {
			return v, err
		}
	}
	if r.IsObjType(object.ObjInstance) {
		if v, ok, err := vm.tryOperatorOverload(r, operatorSymbolFor(op), l, line); ok || err != nil {
			return v, err
		}
	}
	return object.Null(), vm.runtimeError("line %d: unsupported operand types for %s", line, op)
}

func (vm *VM) numericArith(op object.Opcode, l, r object.Value, line int) (object.Value, error) {
	bothInt := l.IsInt() && r.IsInt()
	switch op {
	case object.OpAdd:
		if bothInt {
			return object.Int(l.AsInt() + r.AsInt()), nil
		}
		return object.Float(l.AsFloat64() + r.AsFloat64()), nil
	case object.OpSub:
		if bothInt {
			return object.Int(l.AsInt() - r.AsInt()), nil
		}
		return object.Float(l.AsFloat64() - r.AsFloat64()), nil
	case object.OpMul:
		if bothInt {
			return object.Int(l.AsInt() * r.AsInt()), nil
		}
		return object.Float(l.AsFloat64() * r.AsFloat64()), nil
	case object.OpDiv:
		if r.AsFloat64() == 0 {
			return object.Null(), vm.runtimeError("line %d: division by zero", line)
		}
		return object.Float(l.AsFloat64() / r.AsFloat64()), nil
	case object.OpMod:
		if r.AsFloat64() == 0 {
			return object.Null(), vm.runtimeError("line %d: division by zero", line)
		}
		if bothInt {
			return object.Int(l.AsInt() % r.AsInt()), nil
		}
		return object.Float(fmod(l.AsFloat64(), r.AsFloat64())), nil
	default:
		return object.Null(), vm.runtimeError("line %d: unsupported arithmetic opcode %s", line, op)
	}
}

func fmod(a, b float64) float64 {
	q := int64(a / b)
	return a - float64(q)*b
}

func operatorSymbolFor(op object.Opcode) int {
	switch op {
	case object.OpAdd:
		return symbol.OpAdd
	case object.OpSub:
		return symbol.OpSub
	case object.OpMul:
		return symbol.OpMul
	case object.OpDiv:
		return symbol.OpDiv
	case object.OpLt:
		return symbol.OpLt
	case object.OpLe:
		return symbol.OpLe
	case object.OpGt:
		return symbol.OpGt
	case object.OpGe:
		return symbol.OpGe
	default:
		return symbol.OpMod
	}
}

// tryOperatorOverload looks up sym on recv's class and, if present, calls
// it synchronously with other as the sole argument. The bool result tells
// the caller whether an overload was found at all, distinct from the error
// result (no overload is not itself an error; the caller falls through to
// try the other operand or finally fail).
func (vm *VM) tryOperatorOverload(recv object.Value, sym int, other object.Value, line int) (object.Value, bool, error) {
	inst := recv.AsObject().(*object.Instance)
	m := inst.Class.LookupMethod(sym)
	if m == nil {
		return object.Null(), false, nil
	}
	v, err := vm.callMethodSync(recv, m, []object.Value{other})
	if err != nil {
		return object.Null(), true, err
	}
	return v, true, nil
}

// compare implements EQ/NE/LT/LE/GT/GE (and their immediate forms, which
// call in with the already-materialized right operand). Equality always
// succeeds (on object.Equal) even across mismatched types; ordering
// comparisons require two numbers or dispatch to an overloaded operator
// method on an Instance operand.
func (vm *VM) compare(op object.Opcode, l, r object.Value, line int) (bool, error) {
	switch op {
	case object.OpEq:
		return vm.valuesEqual(l, r, line)
	case object.OpNe:
		eq, err := vm.valuesEqual(l, r, line)
		return !eq, err
	}
	if l.IsNumber() && r.IsNumber() {
		return numericCompare(op, l.AsFloat64(), r.AsFloat64()), nil
	}
	if l.IsObjType(object.ObjInstance) {
		if v, ok, err := vm.tryOperatorOverload(l, operatorSymbolFor(op), r, line); ok {
			return err == nil && !v.IsFalsey(), err
		}
	}
	return false, vm.runtimeError("line %d: unsupported operand types for comparison", line)
}

func (vm *VM) valuesEqual(l, r object.Value, line int) (bool, error) {
	if l.IsObjType(object.ObjInstance) {
		if inst := l.AsObject().(*object.Instance); inst.Class.LookupMethod(symbol.OpEq) != nil {
			v, _, err := vm.tryOperatorOverload(l, symbol.OpEq, r, line)
			return !v.IsFalsey(), err
		}
	}
	return object.Equal(l, r), nil
}

func numericCompare(op object.Opcode, l, r float64) bool {
	switch op {
	case object.OpLt:
		return l < r
	case object.OpLe:
		return l <= r
	case object.OpGt:
		return l > r
	default:
		return l >= r
	}
}

// ---- indexing (arrays/maps) ----

func (vm *VM) getIndex(obj, idx object.Value, line int) (object.Value, error) {
	switch o := obj.AsObject().(type) {
	case *object.Array:
		if !idx.IsInt() {
			return object.Null(), vm.runtimeError("line %d: array index must be an integer", line)
		}
		v, err := o.Get(idx.AsInt())
		if err != nil {
			return object.Null(), vm.runtimeError("line %d: %v", line, err)
		}
		return v, nil
	case *object.Map:
		v, ok := o.Get(idx)
		if !ok {
			return object.Null(), nil
		}
		return v, nil
	default:
		return object.Null(), vm.runtimeError("line %d: cannot index a %s value", line, kindName(obj))
	}
}

func (vm *VM) setIndex(obj, idx, val object.Value, line int) error {
	switch o := obj.AsObject().(type) {
	case *object.Array:
		if !idx.IsInt() {
			return vm.runtimeError("line %d: array index must be an integer", line)
		}
		if err := o.Set(idx.AsInt(), val); err != nil {
			return vm.runtimeError("line %d: %v", line, err)
		}
		return nil
	case *object.Map:
		o.Set(idx, val)
		return nil
	default:
		return vm.runtimeError("line %d: cannot index a %s value", line, kindName(obj))
	}
}

// getField implements GETFIELD, which the compiler emits only in its for-in
// desugaring, to read the "values"/"keys"/"length" pseudo-properties off an
// array or map so both container kinds iterate through the same loop
// shape. getProp also routes property reads on arrays and maps here.
func (vm *VM) getField(obj, nameConst object.Value, line int) (object.Value, error) {
	name, _ := asString(nameConst)
	switch o := obj.AsObject().(type) {
	case *object.Array:
		switch name {
		case "values":
			return obj, nil
		case "length":
			return object.Int(int64(o.Length())), nil
		case "keys":
			idxs := vm.newArray(o.Length())
			for i := 0; i < o.Length(); i++ {
				idxs.Push(object.Int(int64(i)))
			}
			return object.FromObj(idxs), nil
		}
	case *object.Map:
		switch name {
		case "values":
			arr := vm.newArray(o.Size())
			arr.Items = o.Values()
			return object.FromObj(arr), nil
		case "keys":
			arr := vm.newArray(o.Size())
			arr.Items = o.Keys()
			return object.FromObj(arr), nil
		case "length":
			return object.Int(int64(o.Size())), nil
		}
	}
	return object.Null(), vm.runtimeError("line %d: no field '%s' on %s", line, name, obj.ObjType())
}

// ---- instance/class property access ----

func (vm *VM) getProp(f *CallFrame, obj, nameConst object.Value, line int) (object.Value, error) {
	name, _ := asString(nameConst)
	if !obj.IsObject() {
		return object.Null(), vm.runtimeError("line %d: cannot access property '%s' on a %s value", line, name, kindName(obj))
	}
	switch o := obj.AsObject().(type) {
	case *object.Instance:
		if idx := o.Class.FieldIndex(name); idx >= 0 {
			fd := o.Class.Fields[idx]
			if fd.Private && f.closure.Proto.OwnerClass != fd.Owner {
				return object.Null(), vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
			}
			return o.Fields[idx], nil
		}
		sym, ok := vm.Symbols.IDFor(name)
		if !ok {
			return object.Null(), vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
		}
		if g := o.Class.LookupGetter(sym); g != nil {
			if g.IsPrivate && f.closure.Proto.OwnerClass != g.Proto.OwnerClass {
				return object.Null(), vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
			}
			return vm.callMethodSync(obj, g, nil)
		}
		if m := o.Class.LookupMethod(sym); m != nil {
			if m.IsPrivate && f.closure.Proto.OwnerClass != m.Proto.OwnerClass {
				return object.Null(), vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
			}
			bm := object.NewBoundMethod(obj, m)
			vm.Objects.Link(bm)
			return object.FromObj(bm), nil
		}
		return object.Null(), vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
	case *object.Class:
		if v, ok := o.StaticFields[name]; ok {
			return v, nil
		}
		if sym, ok := vm.Symbols.IDFor(name); ok {
			if m, ok := o.StaticMethods[sym]; ok {
				bm := object.NewBoundMethod(obj, m)
				vm.Objects.Link(bm)
				return object.FromObj(bm), nil
			}
		}
		return object.Null(), vm.runtimeError("line %d: undeclared static property '%s' on %s", line, name, o.Name)
	case *object.Array:
		v, err := vm.getField(obj, nameConst, line)
		return v, err
	case *object.Map:
		return vm.getField(obj, nameConst, line)
	default:
		return object.Null(), vm.runtimeError("line %d: cannot access property '%s' on a %s value", line, name, obj.ObjType())
	}
}

func (vm *VM) setProp(f *CallFrame, obj, nameConst, val object.Value, line int) error {
	name, _ := asString(nameConst)
	if !obj.IsObject() {
		return vm.runtimeError("line %d: cannot set property '%s' on a %s value", line, name, kindName(obj))
	}
	switch o := obj.AsObject().(type) {
	case *object.Instance:
		if idx := o.Class.FieldIndex(name); idx >= 0 {
			fd := o.Class.Fields[idx]
			if fd.Private && f.closure.Proto.OwnerClass != fd.Owner {
				return vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
			}
			if !fd.Type.Accepts(val) {
				return vm.runtimeError("line %d: field '%s' on %s expects %s", line, name, o.Class.Name, fieldTypeName(fd.Type))
			}
			o.Fields[idx] = val
			return nil
		}
		if sym, ok := vm.Symbols.IDFor(name); ok {
			if s := o.Class.LookupSetter(sym); s != nil {
				if s.IsPrivate && f.closure.Proto.OwnerClass != s.Proto.OwnerClass {
					return vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
				}
				_, err := vm.callMethodSync(obj, s, []object.Value{val})
				return err
			}
		}
		return vm.runtimeError("line %d: undeclared property '%s' on %s", line, name, o.Class.Name)
	case *object.Class:
		o.StaticFields[name] = val
		return nil
	default:
		return vm.runtimeError("line %d: cannot set property '%s' on a %s value", line, name, obj.ObjType())
	}
}

func fieldTypeName(t object.FieldType) string {
	switch t {
	case object.FieldInt:
		return "int"
	case object.FieldFloat:
		return "float"
	case object.FieldBool:
		return "bool"
	case object.FieldString:
		return "string"
	default:
		return "any"
	}
}

// getSuper implements GETSUPER: it binds local register 0 (`this` inside a
// method body) to a method looked up starting at the named superclass,
// producing a BoundMethod that a CALL invokes directly. The compiler lowers
// `super.method(...)` to SUPERINVOKE and emits no GETSUPER itself.
func (vm *VM) getSuper(f *CallFrame, superClass, nameConst object.Value, line int) (object.Value, error) {
	name, _ := asString(nameConst)
	super, ok := superClass.AsObject().(*object.Class)
	if !ok {
		return object.Null(), vm.runtimeError("line %d: 'super' target is not a class", line)
	}
	sym, ok := vm.Symbols.IDFor(name)
	if !ok {
		return object.Null(), vm.runtimeError("line %d: undeclared method '%s' on %s", line, name, super.Name)
	}
	m := super.LookupMethod(sym)
	if m == nil {
		return object.Null(), vm.runtimeError("line %d: undeclared method '%s' on %s", line, name, super.Name)
	}
	this := vm.reg(f, 0)
	bm := object.NewBoundMethod(this, m)
	vm.Objects.Link(bm)
	return object.FromObj(bm), nil
}

// ---- stringification ----

// stringify renders v for PRINT and for string concatenation via '+'. An
// Instance with a toString method is asked synchronously; one without
// falls back to "<ClassName instance>". Errors raised by a toString
// implementation are swallowed in favor of that fallback, since printing
// must never itself crash the VM.
func (vm *VM) stringify(v object.Value) string {
	switch {
	case v.IsNull():
		return "null"
	case v.IsBool():
		return strconv.FormatBool(v.AsBool())
	case v.IsInt():
		return strconv.FormatInt(v.AsInt(), 10)
	case v.IsFloat():
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case !v.IsObject():
		return ""
	}
	switch o := v.AsObject().(type) {
	case *object.String:
		return o.Chars
	case *object.Array:
		return vm.stringifyArray(o)
	case *object.Map:
		return vm.stringifyMap(o)
	case *object.Closure:
		return fmt.Sprintf("<function %s>", nameOr(o.Proto.Name, "anonymous"))
	case *object.Native:
		return fmt.Sprintf("<native %s>", o.Name)
	case *object.Class:
		return fmt.Sprintf("<class %s>", o.Name)
	case *object.BoundMethod:
		return fmt.Sprintf("<bound method %s>", nameOr(o.Method.Name, "anonymous"))
	case *object.Instance:
		if m := o.Class.LookupMethod(symbol.ToString); m != nil {
			if r, err := vm.callMethodSync(v, m, nil); err == nil {
				return vm.stringify(r)
			}
		}
		return fmt.Sprintf("<%s instance>", o.Class.Name)
	default:
		return fmt.Sprintf("<%s>", v.ObjType())
	}
}

func (vm *VM) stringifyArray(a *object.Array) string {
	s := "["
	for i, item := range a.Items {
		if i > 0 {
			s += ", "
		}
		if item.IsObjType(object.ObjString) {
			s += strconv.Quote(vm.stringify(item))
		} else {
			s += vm.stringify(item)
		}
	}
	return s + "]"
}

func (vm *VM) stringifyMap(m *object.Map) string {
	s := "{"
	for i, e := range m.Entries() {
		if i > 0 {
			s += ", "
		}
		s += vm.stringify(e.Key) + ": "
		if e.Value.IsObjType(object.ObjString) {
			s += strconv.Quote(vm.stringify(e.Value))
		} else {
			s += vm.stringify(e.Value)
		}
	}
	return s + "}"
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
