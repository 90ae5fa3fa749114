package compiler

import (
	"math"

	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/object"
)

// compileExpr lowers e and returns the register holding its value, per
// the rule that each expression kind returns the register holding its result.
func (c *Compiler) compileExpr(e ast.Expr) uint8 {
	line := e.Line()
	switch n := e.(type) {
	case *ast.IntLiteral:
		return c.emitConst(object.Int(n.Value), line)
	case *ast.FloatLiteral:
		return c.emitConst(object.Float(n.Value), line)
	case *ast.StringLiteral:
		return c.emitStringConst(n.Value, line)
	case *ast.BoolLiteral:
		ra := c.allocReg(line)
		if n.Value {
			c.emit(object.EncodeABC(object.OpLoadTrue, ra, 0, 0), line)
		} else {
			c.emit(object.EncodeABC(object.OpLoadFalse, ra, 0, 0), line)
		}
		return ra
	case *ast.NullLiteral:
		ra := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpLoadNil, ra, 0, 0), line)
		return ra
	case *ast.TemplateString:
		return c.compileTemplateString(n)
	case *ast.Identifier:
		return c.compileIdentifier(n)
	case *ast.Grouping:
		return c.compileExpr(n.Inner)
	case *ast.Unary:
		return c.compileUnary(n)
	case *ast.Binary:
		return c.compileBinary(n)
	case *ast.Assign:
		return c.compileAssign(n)
	case *ast.ArrayLiteral:
		return c.compileArrayLiteral(n)
	case *ast.MapLiteral:
		return c.compileMapLiteral(n)
	case *ast.Call:
		return c.compileCall(n)
	case *ast.FuncExpr:
		return c.compileFuncExpr(n)
	case *ast.IndexGet:
		return c.compileIndexGet(n)
	case *ast.IndexSet:
		return c.compileIndexSet(n)
	case *ast.MemberAccess:
		return c.compileMemberAccess(n)
	case *ast.MemberSet:
		return c.compileMemberSet(n)
	case *ast.MethodCall:
		return c.compileMethodCall(n)
	case *ast.New:
		return c.compileNew(n)
	case *ast.This:
		return c.compileThis(n)
	case *ast.SuperCall:
		return c.compileSuperCall(n)
	default:
		c.errorf(line, "unsupported expression %T", e)
		return c.allocReg(line)
	}
}

// compileExprTop compiles e and guarantees its result sits in a freshly
// allocated top-of-stack temporary, inserting a MOVE when the expression
// resolved to a pinned local (or otherwise non-top) register. Call sites
// that need consecutive registers — callees, arguments, array elements,
// variable initializers — go through here so a named local used as an
// operand is copied instead of aliased (CALL and INVOKE write their result
// over R[A], which must never be a live local).
func (c *Compiler) compileExprTop(e ast.Expr) uint8 {
	r := c.compileExpr(e)
	if r+1 == c.freeReg && r >= c.nActiveVars {
		return r
	}
	tmp := c.allocReg(e.Line())
	c.emit(object.EncodeABC(object.OpMove, tmp, r, 0), e.Line())
	return tmp
}

// ---- constants ----

func (c *Compiler) emitConst(v object.Value, line int) uint8 {
	ra := c.allocReg(line)
	switch v.Kind() {
	case object.KindInt:
		i := v.AsInt()
		if i >= -32767 && i <= 32768 {
			c.emit(object.EncodeAsBx(object.OpLoadI, ra, int32(i)), line)
			return ra
		}
		idx := c.proto.AddConstant(v)
		c.emit(object.EncodeABx(object.OpLoadK, ra, idx), line)
		return ra
	case object.KindFloat:
		idx := c.proto.AddConstant(v)
		c.emit(object.EncodeABx(object.OpLoadF, ra, idx), line)
		return ra
	default:
		idx := c.proto.AddConstant(v)
		c.emit(object.EncodeABx(object.OpLoadK, ra, idx), line)
		return ra
	}
}

func (c *Compiler) emitStringConst(s string, line int) uint8 {
	ra := c.allocReg(line)
	idx := c.proto.AddConstant(c.stringValue(s))
	c.emit(object.EncodeABx(object.OpLoadK, ra, idx), line)
	return ra
}

// compileTemplateString lowers an interpolated string into repeated
// concatenation; the VM has no dedicated CONCAT opcode, so this desugars
// to a chain of `+` operator applications (strings overload OpAdd at
// runtime the same way numeric operands do).
func (c *Compiler) compileTemplateString(n *ast.TemplateString) uint8 {
	line := n.Line()
	result := c.emitStringConst(n.Parts[0], line)
	for i, expr := range n.Exprs {
		rhs := c.compileExpr(expr)
		c.freeReg1(rhs)
		c.freeReg1(result)
		next := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpAdd, next, result, rhs), line)
		result = next
		if i+1 < len(n.Parts) && n.Parts[i+1] != "" {
			litReg := c.emitStringConst(n.Parts[i+1], line)
			c.freeReg1(litReg)
			c.freeReg1(result)
			joined := c.allocReg(line)
			c.emit(object.EncodeABC(object.OpAdd, joined, result, litReg), line)
			result = joined
		}
	}
	return result
}

// ---- identifiers & assignment ----

func (c *Compiler) compileIdentifier(n *ast.Identifier) uint8 {
	kind, idx := c.resolve(n.Name)
	switch kind {
	case varLocal:
		return uint8(idx)
	case varUpvalue:
		ra := c.allocReg(n.Line())
		c.emit(object.EncodeABC(object.OpGetUpval, ra, uint8(idx), 0), n.Line())
		return ra
	default:
		ra := c.allocReg(n.Line())
		c.emit(object.EncodeABx(object.OpGetGlobal, ra, uint16(idx)), n.Line())
		return ra
	}
}

func (c *Compiler) compileAssign(n *ast.Assign) uint8 {
	ident, ok := n.Target.(*ast.Identifier)
	if !ok {
		c.errorf(n.Line(), "invalid assignment target %T", n.Target)
		return c.compileExpr(n.Value)
	}
	for _, l := range c.locals {
		if l.Name == ident.Name && l.IsConst {
			c.errorf(n.Line(), "cannot assign to const %q", ident.Name)
		}
	}
	kind, idx := c.resolve(ident.Name)
	switch kind {
	case varLocal:
		reg := uint8(idx)
		vr := c.compileExpr(n.Value)
		if vr != reg {
			c.emit(object.EncodeABC(object.OpMove, reg, vr, 0), n.Line())
			c.freeReg1(vr)
		}
		return reg
	case varUpvalue:
		vr := c.compileExpr(n.Value)
		c.emit(object.EncodeABC(object.OpSetUpval, uint8(idx), vr, 0), n.Line())
		return vr
	default:
		vr := c.compileExpr(n.Value)
		c.emit(object.EncodeABx(object.OpSetGlobal, vr, uint16(idx)), n.Line())
		return vr
	}
}

// ---- unary / binary ----

func (c *Compiler) compileUnary(n *ast.Unary) uint8 {
	if v, ok := tryFoldConst(n); ok {
		return c.emitConst(v, n.Line())
	}
	r := c.compileExpr(n.Operand)
	c.freeReg1(r)
	ra := c.allocReg(n.Line())
	op := object.OpUnm
	if n.Op == ast.UnaryNot {
		op = object.OpNot
	}
	c.emit(object.EncodeABC(op, ra, r, 0), n.Line())
	return ra
}

func (c *Compiler) compileBinary(n *ast.Binary) uint8 {
	switch n.Op {
	case ast.OpAnd, ast.OpOr:
		return c.compileAndOr(n)
	case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
		return c.compileComparison(n)
	default:
		return c.compileArith(n)
	}
}

func (c *Compiler) compileAndOr(n *ast.Binary) uint8 {
	line := n.Line()
	r := c.compileExprTop(n.Left)
	k := n.Op == ast.OpOr
	c.emit(object.EncodeABCK(object.OpTestSet, r, r, 0, k), line)
	skip := c.emitJump(line)
	rhs := c.compileExpr(n.Right)
	if rhs != r {
		c.emit(object.EncodeABC(object.OpMove, r, rhs, 0), line)
	}
	c.freeReg1(rhs)
	c.patchJump(skip)
	return r
}

func comparisonOpcode(op ast.BinaryOp) object.Opcode {
	switch op {
	case ast.OpEq:
		return object.OpEq
	case ast.OpNe:
		return object.OpNe
	case ast.OpLt:
		return object.OpLt
	case ast.OpLe:
		return object.OpLe
	case ast.OpGt:
		return object.OpGt
	default:
		return object.OpGe
	}
}

func (c *Compiler) compileComparison(n *ast.Binary) uint8 {
	line := n.Line()
	rb := c.compileExpr(n.Left)
	rc := c.compileExpr(n.Right)
	c.freeReg1(rc)
	c.freeReg1(rb)
	ra := c.allocReg(line)
	c.emit(object.EncodeABCK(comparisonOpcode(n.Op), rb, rc, 0, true), line)
	trueJump := c.emitJump(line)
	c.emit(object.EncodeABC(object.OpLoadFalse, ra, 0, 0), line)
	endJump := c.emitJump(line)
	c.patchJump(trueJump)
	c.emit(object.EncodeABC(object.OpLoadTrue, ra, 0, 0), line)
	c.patchJump(endJump)
	return ra
}

func arithOpcode(op ast.BinaryOp) object.Opcode {
	switch op {
	case ast.OpAdd:
		return object.OpAdd
	case ast.OpSub:
		return object.OpSub
	case ast.OpMul:
		return object.OpMul
	case ast.OpDiv:
		return object.OpDiv
	default:
		return object.OpMod
	}
}

func immediateOpcode(op ast.BinaryOp) (object.Opcode, bool) {
	switch op {
	case ast.OpAdd:
		return object.OpAddI, true
	case ast.OpSub:
		return object.OpSubI, true
	case ast.OpMul:
		return object.OpMulI, true
	default:
		return 0, false
	}
}

func (c *Compiler) compileArith(n *ast.Binary) uint8 {
	line := n.Line()
	if v, ok := tryFoldConst(n); ok {
		return c.emitConst(v, line)
	}
	if lit, isInt := n.Right.(*ast.IntLiteral); isInt && lit.Value >= -128 && lit.Value <= 127 {
		if iop, ok := immediateOpcode(n.Op); ok {
			rb := c.compileExpr(n.Left)
			c.freeReg1(rb)
			ra := c.allocReg(line)
			c.emit(object.EncodeABC(iop, ra, rb, uint8(int8(lit.Value))), line)
			return ra
		}
	}
	rb := c.compileExpr(n.Left)
	rc := c.compileExpr(n.Right)
	c.freeReg1(rc)
	c.freeReg1(rb)
	ra := c.allocReg(line)
	c.emit(object.EncodeABC(arithOpcode(n.Op), ra, rb, rc), line)
	return ra
}

// tryFoldConst recursively evaluates a purely-numeric-literal expression
// tree at compile time via constant folding.
func tryFoldConst(e ast.Expr) (object.Value, bool) {
	switch n := e.(type) {
	case *ast.IntLiteral:
		return object.Int(n.Value), true
	case *ast.FloatLiteral:
		return object.Float(n.Value), true
	case *ast.Grouping:
		return tryFoldConst(n.Inner)
	case *ast.Unary:
		if n.Op != ast.UnaryNeg {
			return object.Null(), false
		}
		v, ok := tryFoldConst(n.Operand)
		if !ok {
			return object.Null(), false
		}
		if v.IsInt() {
			return object.Int(-v.AsInt()), true
		}
		return object.Float(-v.AsFloat()), true
	case *ast.Binary:
		switch n.Op {
		case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod:
		default:
			return object.Null(), false
		}
		l, ok := tryFoldConst(n.Left)
		if !ok {
			return object.Null(), false
		}
		r, ok := tryFoldConst(n.Right)
		if !ok {
			return object.Null(), false
		}
		return foldArith(n.Op, l, r)
	default:
		return object.Null(), false
	}
}

func foldArith(op ast.BinaryOp, l, r object.Value) (object.Value, bool) {
	bothInt := l.IsInt() && r.IsInt()
	switch op {
	case ast.OpDiv:
		if r.AsFloat64() == 0 {
			return object.Null(), false
		}
		return object.Float(l.AsFloat64() / r.AsFloat64()), true
	case ast.OpMod:
		if r.AsFloat64() == 0 {
			return object.Null(), false
		}
		if bothInt {
			return object.Int(l.AsInt() % r.AsInt()), true
		}
		return object.Float(math.Mod(l.AsFloat64(), r.AsFloat64())), true
	}
	if bothInt {
		switch op {
		case ast.OpAdd:
			return object.Int(l.AsInt() + r.AsInt()), true
		case ast.OpSub:
			return object.Int(l.AsInt() - r.AsInt()), true
		case ast.OpMul:
			return object.Int(l.AsInt() * r.AsInt()), true
		}
	}
	switch op {
	case ast.OpAdd:
		return object.Float(l.AsFloat64() + r.AsFloat64()), true
	case ast.OpSub:
		return object.Float(l.AsFloat64() - r.AsFloat64()), true
	case ast.OpMul:
		return object.Float(l.AsFloat64() * r.AsFloat64()), true
	}
	return object.Null(), false
}

// ---- collections ----

func (c *Compiler) freeRegsAbove(base uint8) {
	for c.freeReg > base+1 {
		c.freeReg1(c.freeReg - 1)
	}
}

// stringValue builds a constant-pool string. It is not interned here: the
// VM canonicalizes every string constant against its own pool when a Proto
// is installed, so identical literals from different compilations still
// compare by pointer at runtime.
func (c *Compiler) stringValue(s string) object.Value {
	return object.FromObj(object.NewConstantString(s))
}

// setListBatch bounds how many array-literal elements are materialized into
// registers before a SETLIST flushes them, so a long literal never runs the
// function out of registers (SETLIST appends, so batches compose).
const setListBatch = 120

func (c *Compiler) compileArrayLiteral(n *ast.ArrayLiteral) uint8 {
	line := n.Line()
	ra := c.allocReg(line)
	capHint := len(n.Elements)
	if capHint > 255 {
		capHint = 255
	}
	c.emit(object.EncodeABC(object.OpNewTable, ra, uint8(capHint), 0), line)
	for start := 0; start < len(n.Elements); start += setListBatch {
		end := start + setListBatch
		if end > len(n.Elements) {
			end = len(n.Elements)
		}
		for _, el := range n.Elements[start:end] {
			c.compileExprTop(el)
		}
		c.emit(object.EncodeABC(object.OpSetList, ra, uint8(end-start), 0), line)
		c.freeRegsAbove(ra)
	}
	return ra
}

func (c *Compiler) compileMapLiteral(n *ast.MapLiteral) uint8 {
	line := n.Line()
	ra := c.allocReg(line)
	capHint := len(n.Entries)
	if capHint > 255 {
		capHint = 255
	}
	c.emit(object.EncodeABC(object.OpNewTable, ra, uint8(capHint), 1), line)
	for _, entry := range n.Entries {
		rk := c.compileExpr(entry.Key)
		rv := c.compileExpr(entry.Value)
		c.emit(object.EncodeABC(object.OpSetTable, ra, rk, rv), line)
		c.freeReg1(rv)
		c.freeReg1(rk)
	}
	return ra
}

// ---- calls ----

func (c *Compiler) compileCall(n *ast.Call) uint8 {
	line := n.Line()
	if c.isSelfRecursion(n.Callee) {
		ra := c.allocReg(line)
		for _, a := range n.Args {
			c.compileExprTop(a)
		}
		c.emit(object.EncodeABC(object.OpCallSelf, ra, uint8(len(n.Args)), 1), line)
		c.freeRegsAbove(ra)
		return ra
	}
	calleeReg := c.compileExprTop(n.Callee)
	for _, a := range n.Args {
		c.compileExprTop(a)
	}
	c.emit(object.EncodeABC(object.OpCall, calleeReg, uint8(len(n.Args)), 1), line)
	c.freeRegsAbove(calleeReg)
	return calleeReg
}

// isSelfRecursion reports whether callee names the function currently being
// compiled, resolved as a global (a top-level `fn` calling itself). CALLSELF
// then reuses the executing closure without the GETGLOBAL load. Local
// function names are excluded: those resolve through a register or upvalue
// that a shadowing declaration could rebind.
func (c *Compiler) isSelfRecursion(callee ast.Expr) bool {
	ident, ok := callee.(*ast.Identifier)
	if !ok || c.enclosing == nil || c.isMethod {
		return false
	}
	if c.proto.Name == "" || ident.Name != c.proto.Name {
		return false
	}
	if _, isLocal := c.resolveLocal(ident.Name); isLocal {
		return false
	}
	for e := c.enclosing; e != nil; e = e.enclosing {
		if _, isLocal := e.resolveLocal(ident.Name); isLocal {
			return false
		}
	}
	return true
}

func (c *Compiler) compileFuncExpr(n *ast.FuncExpr) uint8 {
	line := n.Line()
	hasSelf := n.Name != ""
	var selfReg uint8
	if hasSelf {
		selfReg = c.allocReg(line)
		c.declareLocal(n.Name, false, line)
	}
	child := c.child(n.Name)
	proto := c.compileFunctionBody(child, n.Params, n.Body, false, false)
	idx := c.proto.AddChild(proto)
	dst := selfReg
	if !hasSelf {
		dst = c.allocReg(line)
	}
	c.emit(object.EncodeABx(object.OpClosure, dst, idx), line)
	return dst
}

// ---- indexing & members ----

// smallIndex reports an integer-literal index that fits GETI/SETI's 8-bit
// embedded operand.
func smallIndex(e ast.Expr) (uint8, bool) {
	lit, ok := e.(*ast.IntLiteral)
	if !ok || lit.Value < 0 || lit.Value > 255 {
		return 0, false
	}
	return uint8(lit.Value), true
}

func (c *Compiler) compileIndexGet(n *ast.IndexGet) uint8 {
	line := n.Line()
	ro := c.compileExpr(n.Object)
	if idx, ok := smallIndex(n.Index); ok {
		c.freeReg1(ro)
		ra := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpGetI, ra, ro, idx), line)
		return ra
	}
	ri := c.compileExpr(n.Index)
	c.freeReg1(ri)
	c.freeReg1(ro)
	ra := c.allocReg(line)
	c.emit(object.EncodeABC(object.OpGetTable, ra, ro, ri), line)
	return ra
}

func (c *Compiler) compileIndexSet(n *ast.IndexSet) uint8 {
	line := n.Line()
	ro := c.compileExpr(n.Object)
	if idx, ok := smallIndex(n.Index); ok {
		rv := c.compileExpr(n.Value)
		c.emit(object.EncodeABC(object.OpSetI, ro, idx, rv), line)
		c.freeReg1(rv)
		c.freeReg1(ro)
		return rv
	}
	ri := c.compileExpr(n.Index)
	rv := c.compileExpr(n.Value)
	c.emit(object.EncodeABC(object.OpSetTable, ro, ri, rv), line)
	c.freeReg1(rv)
	c.freeReg1(ri)
	c.freeReg1(ro)
	return rv
}

func (c *Compiler) compileMemberAccess(n *ast.MemberAccess) uint8 {
	line := n.Line()
	ro := c.compileExpr(n.Object)
	c.freeReg1(ro)
	ra := c.allocReg(line)
	nameIdx := c.constOp(c.proto.AddConstant(c.stringValue(n.Name)), line)
	c.emit(object.EncodeABC(object.OpGetProp, ra, ro, nameIdx), line)
	return ra
}

func (c *Compiler) compileMemberSet(n *ast.MemberSet) uint8 {
	line := n.Line()
	ro := c.compileExpr(n.Object)
	rv := c.compileExpr(n.Value)
	nameIdx := c.constOp(c.proto.AddConstant(c.stringValue(n.Name)), line)
	c.emit(object.EncodeABC(object.OpSetProp, ro, nameIdx, rv), line)
	c.freeReg1(rv)
	c.freeReg1(ro)
	return rv
}

func (c *Compiler) compileMethodCall(n *ast.MethodCall) uint8 {
	line := n.Line()
	objReg := c.compileExprTop(n.Object)
	for _, a := range n.Args {
		c.compileExprTop(a)
	}
	sym := c.symOp(c.shared.symbols.GetOrCreate(n.Name), line)
	c.emit(object.EncodeABC(object.OpInvoke, objReg, sym, uint8(len(n.Args))), line)
	c.freeRegsAbove(objReg)
	return objReg
}

func (c *Compiler) compileThis(n *ast.This) uint8 {
	kind, idx := c.resolve("this")
	switch kind {
	case varLocal:
		return uint8(idx)
	case varUpvalue:
		ra := c.allocReg(n.Line())
		c.emit(object.EncodeABC(object.OpGetUpval, ra, uint8(idx), 0), n.Line())
		return ra
	default:
		c.errorf(n.Line(), "'this' used outside a method")
		return c.allocReg(n.Line())
	}
}
