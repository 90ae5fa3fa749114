package compiler

import (
	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/symbol"
)

// compileFunctionBody compiles a function/method literal's parameter list
// and block into child's Proto, appends the trailing return (a plain
// RETURN for functions, `return this` for constructors) and runs the
// optimization passes before handing the Proto back.
func (c *Compiler) compileFunctionBody(child *Compiler, params []ast.Param, body *ast.Block, implicitThis, returnThis bool) *object.Proto {
	line := body.Line()
	child.isConstructor = returnThis
	if implicitThis {
		child.allocReg(line)
		child.declareLocal("this", false, line)
	}
	for _, p := range params {
		child.allocReg(line)
		child.declareLocal(p.Name, false, line)
	}
	for _, stmt := range body.Statements {
		child.compileStmt(stmt)
	}
	if returnThis {
		child.emit(object.EncodeABC(object.OpReturn, 0, 1, 0), line)
	} else {
		child.emitReturn(line)
	}
	child.proto.NumParams = len(params)
	if implicitThis {
		child.proto.NumParams++
	}
	c.runOptimizations(child.proto)
	return child.proto
}

// compileFuncDecl lowers a top-level or local named function declaration:
// `fn name(params) { body }`.
func (c *Compiler) compileFuncDecl(n *ast.FuncDecl) {
	line := n.Line()
	isTopLevel := c.enclosing == nil && c.scopeDepth == 0

	var selfReg uint8
	if !isTopLevel {
		selfReg = c.allocReg(line)
		c.declareLocal(n.Name, false, line)
	}

	child := c.child(n.Name)
	proto := c.compileFunctionBody(child, n.Params, n.Body, false, false)
	idx := c.proto.AddChild(proto)

	if isTopLevel {
		dst := c.allocReg(line)
		c.emit(object.EncodeABx(object.OpClosure, dst, idx), line)
		gidx := c.shared.getOrAddGlobal(n.Name)
		c.emit(object.EncodeABx(object.OpSetGlobal, dst, uint16(gidx)), line)
		c.freeReg1(dst)
		return
	}
	c.emit(object.EncodeABx(object.OpClosure, selfReg, idx), line)
}

// ---- classes ----

func fieldTypeConst(t ast.FieldType) object.FieldType {
	switch t {
	case ast.FieldInt:
		return object.FieldInt
	case ast.FieldFloat:
		return object.FieldFloat
	case ast.FieldBool:
		return object.FieldBool
	case ast.FieldString:
		return object.FieldString
	default:
		return object.FieldUntyped
	}
}

func operatorKindFor(name string) (int, bool) {
	switch name {
	case "+":
		return symbol.OpAdd, true
	case "-":
		return symbol.OpSub, true
	case "*":
		return symbol.OpMul, true
	case "/":
		return symbol.OpDiv, true
	case "%":
		return symbol.OpMod, true
	case "==":
		return symbol.OpEq, true
	case "!=":
		return symbol.OpNe, true
	case "<":
		return symbol.OpLt, true
	case "<=":
		return symbol.OpLe, true
	case ">":
		return symbol.OpGt, true
	case ">=":
		return symbol.OpGe, true
	default:
		return 0, false
	}
}

func operatorObjKind(name string) object.OperatorKind {
	switch name {
	case "+":
		return object.OpKindAdd
	case "-":
		return object.OpKindSub
	case "*":
		return object.OpKindMul
	case "/":
		return object.OpKindDiv
	case "%":
		return object.OpKindMod
	case "==":
		return object.OpKindEq
	case "!=":
		return object.OpKindNe
	case "<":
		return object.OpKindLt
	case "<=":
		return object.OpKindLe
	case ">":
		return object.OpKindGt
	case ">=":
		return object.OpKindGe
	default:
		return object.OpKindNone
	}
}

// compileClassDecl lowers a class declaration: CLASS, ADDFIELD per
// declared field, INHERIT for a superclass, then a CLOSURE+METHOD pair per
// declared method, finally storing the class as a global.
func (c *Compiler) compileClassDecl(n *ast.ClassDecl) {
	line := n.Line()
	classReg := c.allocReg(line)
	nameIdx := c.proto.AddConstant(c.stringValue(n.Name))
	c.emit(object.EncodeABx(object.OpClass, classReg, nameIdx), line)

	for _, f := range n.Fields {
		fnameIdx := c.constOp(c.proto.AddConstant(c.stringValue(f.Name)), line)
		packed := int64(fieldTypeConst(f.Type))
		if f.Private {
			packed |= object.FieldPrivateBit
		}
		ftypeIdx := c.constOp(c.proto.AddConstant(object.Int(packed)), line)
		c.emit(object.EncodeABC(object.OpAddField, classReg, fnameIdx, ftypeIdx), line)
	}

	if n.SuperClass != "" {
		kind, idx := c.resolve(n.SuperClass)
		superReg := c.loadVarInto(kind, idx, line)
		c.emit(object.EncodeABC(object.OpInherit, classReg, superReg, 0), line)
		c.freeReg1(superReg)
	}

	outerClass := c.class
	c.class = &classScope{
		name:      n.Name,
		fields:    derefFields(n.Fields),
		superName: n.SuperClass,
		hasSuper:  n.SuperClass != "",
	}

	for _, m := range n.Methods {
		c.compileMethodDecl(classReg, m)
	}

	c.class = outerClass

	gidx := c.shared.getOrAddGlobal(n.Name)
	c.emit(object.EncodeABx(object.OpSetGlobal, classReg, uint16(gidx)), line)
	c.freeReg1(classReg)
}

func derefFields(fields []*ast.FieldDecl) []ast.FieldDecl {
	out := make([]ast.FieldDecl, len(fields))
	for i, f := range fields {
		out[i] = *f
	}
	return out
}

func (c *Compiler) compileMethodDecl(classReg uint8, m *ast.MethodDecl) {
	line := m.Line()
	isConstructor := m.Name == "constructor" && !m.IsOperator
	isStatic := m.IsStatic && !isConstructor

	child := c.child(m.Name)
	child.isMethod = true
	proto := c.compileFunctionBody(child, m.Params, m.Body, !isStatic, isConstructor)
	proto.OwnerClass = c.class.name
	proto.IsPrivate = m.IsPrivate
	proto.IsGetter = m.IsGetter
	proto.IsSetter = m.IsSetter
	proto.IsOperator = m.IsOperator
	if m.IsOperator {
		proto.OperatorKind = operatorObjKind(m.Name)
	}
	idx := c.proto.AddChild(proto)

	methReg := c.allocReg(line)
	c.emit(object.EncodeABx(object.OpClosure, methReg, idx), line)

	var sym int
	switch {
	case isConstructor:
		sym = symbol.Constructor
	case m.IsOperator:
		if opSym, ok := operatorKindFor(m.Name); ok {
			sym = opSym
		} else {
			sym = c.shared.symbols.GetOrCreate(m.Name)
		}
	default:
		sym = c.shared.symbols.GetOrCreate(m.Name)
	}
	op := object.OpMethod
	if isStatic {
		op = object.OpStaticMethod
	}
	c.emit(object.EncodeABC(op, classReg, c.symOp(sym, line), methReg), line)
	c.freeReg1(methReg)
}

// loadVarInto materializes a resolved variable into a fresh register,
// copying it out if it is already a local so callers can treat the result
// as a disposable temporary.
func (c *Compiler) loadVarInto(kind varKind, idx int, line int) uint8 {
	switch kind {
	case varLocal:
		tmp := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpMove, tmp, uint8(idx), 0), line)
		return tmp
	case varUpvalue:
		tmp := c.allocReg(line)
		c.emit(object.EncodeABC(object.OpGetUpval, tmp, uint8(idx), 0), line)
		return tmp
	default:
		tmp := c.allocReg(line)
		c.emit(object.EncodeABx(object.OpGetGlobal, tmp, uint16(idx)), line)
		return tmp
	}
}

// ---- new / super ----

func (c *Compiler) compileNew(n *ast.New) uint8 {
	line := n.Line()
	kind, idx := c.resolve(n.ClassName)
	classReg := c.loadVarInto(kind, idx, line)
	for _, a := range n.Args {
		c.compileExprTop(a)
	}
	c.emit(object.EncodeABC(object.OpInvoke, classReg, uint8(symbol.Constructor), uint8(len(n.Args))), line)
	c.freeRegsAbove(classReg)
	return classReg
}

// compileSuperCall lowers `super.method(args)`: `this` is copied into a
// fresh register with the arguments laid out after it, and SUPERINVOKE
// starts the method lookup above the declaring class of the currently
// executing method. Dispatching straight off the receiver would loop
// forever when a subclass override calls the method it overrides.
func (c *Compiler) compileSuperCall(n *ast.SuperCall) uint8 {
	line := n.Line()
	if c.class == nil || !c.class.hasSuper {
		c.errorf(line, "'super' used outside a subclass method")
		return c.allocReg(line)
	}
	kind, idx := c.resolve("this")
	if kind == varGlobal {
		c.errorf(line, "'super' used outside a method")
		return c.allocReg(line)
	}
	thisReg := c.loadVarInto(kind, idx, line)
	for _, a := range n.Args {
		c.compileExprTop(a)
	}
	sym := c.symOp(c.shared.symbols.GetOrCreate(n.Method), line)
	c.emit(object.EncodeABC(object.OpSuperInvoke, thisReg, sym, uint8(len(n.Args))), line)
	c.freeRegsAbove(thisReg)
	return thisReg
}
