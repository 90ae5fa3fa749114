// Package object implements the tagged value representation and the heap
// object model shared by the compiler and the virtual machine: strings,
// arrays, maps, function prototypes, closures, upvalues, classes,
// instances, bound methods and native functions.
package object

import "math"

// Kind discriminates the primitive form a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindObject
)

// Value is a discriminated union (32 bytes on a 64-bit platform: kind tag,
// 64-bit payload, interface reference): a primitive payload stored in
// num (bit-reinterpreted for floats) plus a heap object reference. Only one
// of num/obj is meaningful at a time, selected by kind.
type Value struct {
	kind Kind
	num  uint64
	obj  Obj
}

func Null() Value  { return Value{kind: KindNull} }
func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}
func Int(i int64) Value     { return Value{kind: KindInt, num: uint64(i)} }
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }
func FromObj(o Obj) Value   { return Value{kind: KindObject, obj: o} }

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNull() bool    { return v.kind == KindNull }
func (v Value) IsBool() bool    { return v.kind == KindBool }
func (v Value) IsInt() bool     { return v.kind == KindInt }
func (v Value) IsFloat() bool   { return v.kind == KindFloat }
func (v Value) IsNumber() bool  { return v.kind == KindInt || v.kind == KindFloat }
func (v Value) IsObject() bool  { return v.kind == KindObject }

// AsBool/AsInt/AsFloat/AsObject are unchecked accessors for known-good
// values: callers must have verified the Kind first, via the Is*
// predicates.
func (v Value) AsBool() bool       { return v.num != 0 }
func (v Value) AsInt() int64       { return int64(v.num) }
func (v Value) AsFloat() float64   { return math.Float64frombits(v.num) }
func (v Value) AsObject() Obj      { return v.obj }

// AsFloat64 promotes an int-or-float Value to float64; callers must check
// IsNumber first.
func (v Value) AsFloat64() float64 {
	if v.kind == KindInt {
		return float64(int64(v.num))
	}
	return v.AsFloat()
}

func (v Value) ObjType() ObjType {
	if v.obj == nil {
		return 0
	}
	return v.obj.ObjType()
}

func (v Value) IsObjType(t ObjType) bool {
	return v.kind == KindObject && v.obj != nil && v.obj.ObjType() == t
}

// IsFalsey reports this language's truthiness rule: null or boolean false
// are falsey, everything else (including 0, 0.0 and "") is truthy.
func (v Value) IsFalsey() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.num == 0
	default:
		return false
	}
}

// Equal implements value equality: same primitive value for primitives,
// pointer identity for heap objects except interned strings, which compare
// by pointer too because interning guarantees canonical instances.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		// int/float mixed comparisons still compare equal on numeric value.
		if a.IsNumber() && b.IsNumber() {
			return a.AsFloat64() == b.AsFloat64()
		}
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.num == b.num
	case KindInt:
		return int64(a.num) == int64(b.num)
	case KindFloat:
		return a.AsFloat() == b.AsFloat()
	case KindObject:
		return a.obj == b.obj
	default:
		return false
	}
}
