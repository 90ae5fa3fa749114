package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeABC(t *testing.T) {
	instr := EncodeABC(OpAdd, 3, 200, 255)
	op, a, b, c := DecodeABC(instr)
	assert.Equal(t, OpAdd, op)
	assert.Equal(t, uint8(3), a)
	assert.Equal(t, uint8(200), b)
	assert.Equal(t, uint8(255), c)
}

func TestImmediateOperandKeepsSign(t *testing.T) {
	neg1 := int8(-1)
	instr := EncodeABC(OpAddI, 1, 2, uint8(neg1))
	_, _, _, c := DecodeABC(instr)
	assert.Equal(t, int8(-1), int8(c), "the full 8-bit C operand carries the immediate's sign")
}

func TestEncodeDecodeABCK(t *testing.T) {
	instr := EncodeABCK(OpLt, 7, 9, 0, true)
	op, a, b, _, k := DecodeABCK(instr)
	assert.Equal(t, OpLt, op)
	assert.Equal(t, uint8(7), a)
	assert.Equal(t, uint8(9), b)
	assert.True(t, k)
	assert.True(t, DecodeK(instr))
	assert.False(t, DecodeK(EncodeABCK(OpLt, 7, 9, 0, false)))
}

func TestEncodeDecodeSignedRanges(t *testing.T) {
	for _, sbx := range []int32{-32767, -1, 0, 1, 32768} {
		_, _, got := DecodeAsBx(EncodeAsBx(OpLoadI, 0, sbx))
		assert.Equal(t, sbx, got)
	}
	for _, sj := range []int32{-100000, -1, 0, 1, 100000} {
		_, got := DecodeSJ(EncodeSJ(OpJmp, sj))
		assert.Equal(t, sj, got)
	}
}

func TestValueEqualityMixesNumericKinds(t *testing.T) {
	assert.True(t, Equal(Int(3), Float(3.0)))
	assert.False(t, Equal(Int(3), Float(3.5)))
	assert.True(t, Equal(Null(), Null()))
	assert.False(t, Equal(Bool(false), Null()))
}

func TestIsFalsey(t *testing.T) {
	assert.True(t, Null().IsFalsey())
	assert.True(t, Bool(false).IsFalsey())
	assert.False(t, Bool(true).IsFalsey())
	assert.False(t, Int(0).IsFalsey(), "zero is truthy")
	assert.False(t, Float(0).IsFalsey())
}

func TestUpvalueCloseDetachesFromStackSlot(t *testing.T) {
	slot := Int(1)
	uv := NewOpenUpvalue(&slot)
	assert.True(t, uv.IsOpen())

	uv.Set(Int(2))
	assert.True(t, Equal(Int(2), slot), "an open upvalue writes through to the stack slot")

	uv.Close()
	assert.False(t, uv.IsOpen())
	slot = Int(99)
	assert.True(t, Equal(Int(2), uv.Get()), "a closed upvalue keeps the captured value")
}

func TestPoolInternReturnsCanonicalInstance(t *testing.T) {
	pool := NewPool()
	var objs ObjectList
	a := pool.Intern("hello", &objs)
	b := pool.Intern("hello", &objs)
	c := pool.Intern("world", &objs)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Positive(t, objs.Bytes)
}

func TestProtoConstantDeduplication(t *testing.T) {
	p := NewProto("test")
	i1 := p.AddConstant(Int(42))
	i2 := p.AddConstant(Int(42))
	f1 := p.AddConstant(Float(1.5))
	assert.Equal(t, i1, i2)
	assert.NotEqual(t, i1, f1)

	u1 := p.AddUpvalue(3, true)
	u2 := p.AddUpvalue(3, true)
	u3 := p.AddUpvalue(3, false)
	assert.Equal(t, u1, u2)
	assert.NotEqual(t, u1, u3)
}

func TestClassMethodLookupWalksSuperChain(t *testing.T) {
	super := NewClass("Base")
	sub := NewClass("Derived")
	sub.Super = super

	m := &Method{Name: "speak", Proto: NewProto("speak")}
	super.SetMethod(7, m)

	assert.Equal(t, m, sub.LookupMethod(7))
	assert.Nil(t, sub.LookupMethod(8))

	override := &Method{Name: "speak", Proto: NewProto("speak")}
	sub.SetMethod(7, override)
	assert.Equal(t, override, sub.LookupMethod(7))
	assert.Equal(t, m, super.LookupMethod(7))
}
