package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/parser"
)

func compileOK(t *testing.T, src string) *object.Proto {
	t.Helper()
	p := parser.New(src)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "unexpected parse errors: %v", p.Errors())
	c := New()
	proto, err := c.Compile(prog)
	require.NoError(t, err)
	return proto
}

func TestCompileConstantFolding(t *testing.T) {
	proto := compileOK(t, "print 1 + 2 * 3;")
	for _, instr := range proto.Code {
		op, _, _, _ := object.DecodeABC(instr)
		assert.NotEqual(t, object.OpAdd, op, "arithmetic on two constants should fold away")
		assert.NotEqual(t, object.OpMul, op, "arithmetic on two constants should fold away")
	}
}

func TestCompileSmallIntUsesImmediateLoad(t *testing.T) {
	proto := compileOK(t, "let x = 7;")
	var sawLoadI bool
	for _, instr := range proto.Code {
		op, _, sbx := object.DecodeAsBx(instr)
		if op == object.OpLoadI && sbx == 7 {
			sawLoadI = true
		}
	}
	assert.True(t, sawLoadI, "small int literal should compile to LOADI, not a constant load")
}

func TestCompileWhileLoopEmitsBackwardJump(t *testing.T) {
	proto := compileOK(t, "let i = 0; while (i < 3) { i = i + 1; }")
	var sawBackwardJump bool
	for pc, instr := range proto.Code {
		op, sj := object.DecodeSJ(instr)
		if op == object.OpJmp && pc+1+int(sj) < pc {
			sawBackwardJump = true
		}
	}
	assert.True(t, sawBackwardJump, "while loop should compile a backward jump to its condition")
}

func TestCompileTailCallEmitsTailCallOpcode(t *testing.T) {
	proto := compileOK(t, `fn sum(n, acc) { if (n == 0) { return acc; } return sum(n - 1, acc + n); }`)
	require.Len(t, proto.Children, 1)
	child := proto.Children[0]
	var sawTailCall bool
	for _, instr := range child.Code {
		op, _, _, _ := object.DecodeABC(instr)
		if op == object.OpTailCall {
			sawTailCall = true
		}
	}
	assert.True(t, sawTailCall, "`return f(...)` should compile to TAILCALL, not CALL+RETURN")
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	proto := compileOK(t, `
	fn makeCounter() {
		let n = 0;
		fn inc() { n = n + 1; return n; }
		return inc;
	}
	`)
	require.Len(t, proto.Children, 1)
	makeCounter := proto.Children[0]
	require.Len(t, makeCounter.Children, 1)
	inc := makeCounter.Children[0]
	require.Len(t, inc.Upvalues, 1)
	assert.True(t, inc.Upvalues[0].IsLocal)
}

func TestCompileClassStampsOperatorProto(t *testing.T) {
	proto := compileOK(t, `
	class Vec {
		x: int
		y: int
		constructor(x, y) { this.x = x; this.y = y; }
		+(other) { return new Vec(this.x + other.x, this.y + other.y); }
	}
	`)
	var opProto *object.Proto
	for _, child := range proto.Children {
		if child.IsOperator {
			opProto = child
		}
	}
	require.NotNil(t, opProto, "the `+` method should be compiled with IsOperator set")
	assert.Equal(t, "Vec", opProto.OwnerClass)
}

func TestCompileBreakOutsideLoopIsAnError(t *testing.T) {
	p := parser.New("break;")
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())
	c := New()
	_, err := c.Compile(prog)
	assert.Error(t, err)
}

func TestCompileUndeclaredGlobalAssignmentDeclaresIt(t *testing.T) {
	proto := compileOK(t, "x = 5; print x;")
	assert.Equal(t, 1, proto.NumGlobals)
}

func TestCompileReturnAtTopLevelIsAnError(t *testing.T) {
	p := parser.New("return 1;")
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())
	c := New()
	_, err := c.Compile(prog)
	assert.Error(t, err)
}

func hasOpcode(proto *object.Proto, want object.Opcode) bool {
	for _, instr := range proto.Code {
		if object.Opcode(instr&0xFF) == want {
			return true
		}
	}
	return false
}

func TestCompileSmallLiteralIndexUsesGetI(t *testing.T) {
	proto := compileOK(t, "let xs = [1, 2]; print xs[0]; xs[1] = 5;")
	assert.True(t, hasOpcode(proto, object.OpGetI), "literal index reads should use GETI")
	assert.True(t, hasOpcode(proto, object.OpSetI), "literal index writes should use SETI")
}

func TestCompileDirectRecursionUsesCallSelf(t *testing.T) {
	proto := compileOK(t, `fn fact(n) { if (n < 2) { return 1; } return n * fact(n - 1); }`)
	require.Len(t, proto.Children, 1)
	assert.True(t, hasOpcode(proto.Children[0], object.OpCallSelf),
		"a non-tail recursive self-call should compile to CALLSELF")
}

func TestCompileSuperCallUsesSuperInvoke(t *testing.T) {
	proto := compileOK(t, `
	class A { hi() { return 1; } }
	class B extends A { hi() { return super.hi(); } }
	`)
	var found bool
	for _, child := range proto.Children {
		if hasOpcode(child, object.OpSuperInvoke) {
			found = true
		}
	}
	assert.True(t, found, "super.method() should compile to SUPERINVOKE")
}

func TestPeepholeKeepsComparisonFalseArm(t *testing.T) {
	// The JMP following a comparison is conditional; unreachable-code
	// elimination must not treat it as the start of a dead region.
	proto := compileOK(t, `let a = 1; let b = 2; let r = a < b; print r;`)
	var loadFalse, loadTrue bool
	for _, instr := range proto.Code {
		switch object.Opcode(instr & 0xFF) {
		case object.OpLoadFalse:
			loadFalse = true
		case object.OpLoadTrue:
			loadTrue = true
		}
	}
	assert.True(t, loadFalse, "boolean materialization must keep its false arm")
	assert.True(t, loadTrue, "boolean materialization must keep its true arm")
}

func TestPeepholeIsIdempotent(t *testing.T) {
	proto := compileOK(t, `
	let i = 0;
	while (i < 10) {
		if (i == 5) { print i; } else { print 0 - i; }
		i = i + 1;
	}
	`)
	peephole(proto)
	first := make([]uint32, len(proto.Code))
	copy(first, proto.Code)
	peephole(proto)
	assert.Equal(t, first, proto.Code, "a second peephole run must not change the stream")
}

func TestFusionKeepsLoadWithASecondReader(t *testing.T) {
	// x's initializing load feeds the comparison, but x is printed later,
	// so the load must survive fusion.
	proto := compileOK(t, `
	fn f(i) {
		let x = 3;
		if (i < x) { print 1; }
		print x;
	}
	`)
	require.Len(t, proto.Children, 1)
	var kept bool
	for _, instr := range proto.Children[0].Code {
		op, _, sbx := object.DecodeAsBx(instr)
		if op == object.OpLoadI && sbx == 3 {
			kept = true
		}
	}
	assert.True(t, kept, "a load with readers beyond the comparison must not be fused away")
}

func TestCompileCallerLocalsSurviveArgumentPassing(t *testing.T) {
	// Arguments are laid out in fresh consecutive registers; a local used
	// as an argument must be copied up, never aliased into the call window.
	proto := compileOK(t, `
	fn add(a, b) { return a + b; }
	let x = 1;
	let y = 2;
	print add(x, y);
	print x + y;
	`)
	assert.Positive(t, proto.MaxStack)
	var moves int
	for _, instr := range proto.Code {
		if object.Opcode(instr&0xFF) == object.OpMove {
			moves++
		}
	}
	assert.GreaterOrEqual(t, moves, 2, "locals passed as arguments are copied into the call window")
}
