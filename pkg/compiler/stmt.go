package compiler

import (
	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/object"
)

func (c *Compiler) compileStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.Block:
		c.compileBlock(n)
	case *ast.VarDecl:
		c.compileVarDecl(n)
	case *ast.If:
		c.compileIf(n)
	case *ast.While:
		c.compileWhile(n)
	case *ast.For:
		c.compileFor(n)
	case *ast.ForIn:
		c.compileForIn(n)
	case *ast.Break:
		c.compileBreak(n)
	case *ast.Continue:
		c.compileContinue(n)
	case *ast.Return:
		c.compileReturn(n)
	case *ast.Print:
		c.compilePrint(n)
	case *ast.ExprStmt:
		c.compileExprStmt(n)
	case *ast.FuncDecl:
		c.compileFuncDecl(n)
	case *ast.ClassDecl:
		c.compileClassDecl(n)
	default:
		c.errorf(s.Line(), "unsupported statement %T", s)
	}
}

func (c *Compiler) compileBlock(b *ast.Block) {
	c.beginScope()
	for _, stmt := range b.Statements {
		c.compileStmt(stmt)
	}
	c.endScope(b.Line())
}

func (c *Compiler) compileVarDecl(n *ast.VarDecl) {
	line := n.Line()
	if n.Initializer != nil {
		c.compileExprTop(n.Initializer)
	} else {
		r := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpLoadNil, r, 0, 0), line)
	}
	c.declareLocal(n.Name, n.IsConst, line)
}

func (c *Compiler) compileExprStmt(n *ast.ExprStmt) {
	base := c.freeReg
	c.compileExpr(n.X)
	c.freeReg = base
}

func (c *Compiler) compilePrint(n *ast.Print) {
	r := c.compileExpr(n.Value)
	c.emit(object.EncodeABC(object.OpPrint, r, 0, 0), n.Line())
	c.freeReg1(r)
}

func (c *Compiler) compileReturn(n *ast.Return) {
	line := n.Line()
	if c.enclosing == nil {
		c.errorf(line, "cannot return from top-level code")
		return
	}
	// A constructor always yields its instance: any value the return
	// statement names is evaluated for its side effects and discarded, and
	// `this` (register 0) is returned instead.
	if c.isConstructor {
		if n.Value != nil {
			base := c.freeReg
			c.compileExpr(n.Value)
			c.freeReg = base
		}
		c.emit(object.EncodeABC(object.OpReturn, 0, 1, 0), line)
		return
	}
	if n.Value == nil {
		c.emit(object.EncodeABC(object.OpReturn, 0, 0, 0), line)
		return
	}
	// Tail-call optimization: `return f(...)` reuses the current frame
	// instead of pushing a new one.
	if call, ok := n.Value.(*ast.Call); ok {
		calleeReg := c.compileExprTop(call.Callee)
		for _, a := range call.Args {
			c.compileExprTop(a)
		}
		c.emit(object.EncodeABC(object.OpTailCall, calleeReg, uint8(len(call.Args)), 1), line)
		return
	}
	r := c.compileExpr(n.Value)
	c.emit(object.EncodeABC(object.OpReturn, r, 1, 0), line)
}

// ---- conditionals & loops ----

// compileCondJump compiles cond and emits a conditional jump that is taken
// when cond is false, returning the jump's pc for the caller to patch to
// the else/exit target. Comparison conditions are specialized to
// skip boolean materialization.
func (c *Compiler) compileCondJump(cond ast.Expr) int {
	line := cond.Line()
	if bin, ok := cond.(*ast.Binary); ok {
		switch bin.Op {
		case ast.OpEq, ast.OpNe, ast.OpLt, ast.OpLe, ast.OpGt, ast.OpGe:
			rb := c.compileExpr(bin.Left)
			rc := c.compileExpr(bin.Right)
			c.freeReg1(rc)
			c.freeReg1(rb)
			c.emit(object.EncodeABCK(comparisonOpcode(bin.Op), rb, rc, 0, false), line)
			return c.emitJump(line)
		}
	}
	r := c.compileExpr(cond)
	c.freeReg1(r)
	c.emit(object.EncodeABCK(object.OpTest, r, 0, 0, false), line)
	return c.emitJump(line)
}

func (c *Compiler) compileIf(n *ast.If) {
	elseJump := c.compileCondJump(n.Cond)
	c.compileBlock(n.Then)
	if n.Else == nil {
		c.patchJump(elseJump)
		return
	}
	endJump := c.emitJump(n.Line())
	c.patchJump(elseJump)
	c.compileStmt(n.Else)
	c.patchJump(endJump)
}

func (c *Compiler) compileWhile(n *ast.While) {
	start := len(c.proto.Code)
	exitJump := c.compileCondJump(n.Cond)
	loop := &loopScope{start: start, regBase: c.nActiveVars}
	c.loops = append(c.loops, loop)
	c.compileBlock(n.Body)
	back := c.emitJump(n.Line())
	c.patchJumpTo(back, start)
	c.patchJump(exitJump)
	for _, bj := range loop.breakJumps {
		c.patchJump(bj)
	}
	for _, cj := range loop.continueJumps {
		c.patchJumpTo(cj, start)
	}
	c.loops = c.loops[:len(c.loops)-1]
}

func (c *Compiler) compileFor(n *ast.For) {
	line := n.Line()
	c.beginScope()
	if n.Init != nil {
		c.compileStmt(n.Init)
	}
	start := len(c.proto.Code)
	hasCond := n.Cond != nil
	var exitJump int
	if hasCond {
		exitJump = c.compileCondJump(n.Cond)
	}
	loop := &loopScope{start: start, regBase: c.nActiveVars}
	c.loops = append(c.loops, loop)
	c.compileBlock(n.Body)
	updateStart := len(c.proto.Code)
	if n.Update != nil {
		base := c.freeReg
		c.compileExpr(n.Update)
		c.freeReg = base
	}
	back := c.emitJump(line)
	c.patchJumpTo(back, start)
	if hasCond {
		c.patchJump(exitJump)
	}
	for _, bj := range loop.breakJumps {
		c.patchJump(bj)
	}
	for _, cj := range loop.continueJumps {
		c.patchJumpTo(cj, updateStart)
	}
	c.loops = c.loops[:len(c.loops)-1]
	c.endScope(line)
}

// compileForIn desugars `for (v in iterable)` / `for (k, v in iterable)`
// into index-based iteration over the pseudo-properties `length`, `values`
// and (when a key binding is requested) `keys`. Both arrays and maps expose
// those via GETFIELD, so the loop shape is identical for either container
// and no dedicated iteration opcode is required.
func (c *Compiler) compileForIn(n *ast.ForIn) {
	line := n.Line()
	c.beginScope()

	iterReg := c.allocReg(line)
	r := c.compileExpr(n.Iterable)
	if r != iterReg {
		c.emit(object.EncodeABC(object.OpMove, iterReg, r, 0), line)
		c.freeReg1(r)
	}
	c.declareLocal("%iterable", false, line)

	valuesReg := c.allocReg(line)
	c.emit(object.EncodeABC(object.OpGetField, valuesReg, iterReg, c.constOp(c.proto.AddConstant(c.stringValue("values")), line)), line)
	c.declareLocal("%values", false, line)

	var keysReg uint8
	if n.KeyName != "" {
		keysReg = c.allocReg(line)
		c.emit(object.EncodeABC(object.OpGetField, keysReg, iterReg, c.constOp(c.proto.AddConstant(c.stringValue("keys")), line)), line)
		c.declareLocal("%keys", false, line)
	}

	idxReg := c.allocReg(line)
	c.emit(object.EncodeAsBx(object.OpLoadI, idxReg, 0), line)
	c.declareLocal("%idx", false, line)

	lenReg := c.allocReg(line)
	c.emit(object.EncodeABC(object.OpGetField, lenReg, valuesReg, c.constOp(c.proto.AddConstant(c.stringValue("length")), line)), line)
	c.declareLocal("%len", false, line)

	start := len(c.proto.Code)
	c.emit(object.EncodeABCK(object.OpLt, idxReg, lenReg, 0, false), line)
	exitJump := c.emitJump(line)

	loop := &loopScope{start: start, regBase: c.nActiveVars}
	c.loops = append(c.loops, loop)

	c.beginScope()
	valReg := c.allocReg(line)
	c.emit(object.EncodeABC(object.OpGetTable, valReg, valuesReg, idxReg), line)
	c.declareLocal(n.ValueName, false, line)
	if n.KeyName != "" {
		kReg := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpGetTable, kReg, keysReg, idxReg), line)
		c.declareLocal(n.KeyName, false, line)
	}
	for _, stmt := range n.Body.Statements {
		c.compileStmt(stmt)
	}
	c.endScope(line)

	incrPC := len(c.proto.Code)
	c.emit(object.EncodeABC(object.OpAddI, idxReg, idxReg, 1), line)
	back := c.emitJump(line)
	c.patchJumpTo(back, start)
	c.patchJump(exitJump)
	for _, bj := range loop.breakJumps {
		c.patchJump(bj)
	}
	for _, cj := range loop.continueJumps {
		c.patchJumpTo(cj, incrPC)
	}
	c.loops = c.loops[:len(c.loops)-1]

	c.endScope(line)
}

func (c *Compiler) compileBreak(n *ast.Break) {
	if len(c.loops) == 0 {
		c.errorf(n.Line(), "'break' used outside a loop")
		return
	}
	loop := c.loops[len(c.loops)-1]
	// The jump leaves every body scope without running their CLOSE
	// epilogues, so close any captured body locals here.
	c.emit(object.EncodeABC(object.OpClose, loop.regBase, 0, 0), n.Line())
	loop.breakJumps = append(loop.breakJumps, c.emitJump(n.Line()))
}

func (c *Compiler) compileContinue(n *ast.Continue) {
	if len(c.loops) == 0 {
		c.errorf(n.Line(), "'continue' used outside a loop")
		return
	}
	loop := c.loops[len(c.loops)-1]
	c.emit(object.EncodeABC(object.OpClose, loop.regBase, 0, 0), n.Line())
	loop.continueJumps = append(loop.continueJumps, c.emitJump(n.Line()))
}
