// Package compiler lowers an AST program into register-based bytecode: a
// tree of object.Proto values, one per function/method plus the top-level
// script. It performs register allocation, scope and upvalue resolution,
// global-index assignment, and a peephole/fusion optimization pass, all in
// a single walk over the tree.
package compiler

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/symbol"
)

// FramesMax bounds call-frame depth; the VM enforces it at frame push.
const FramesMax = 64

// Local is one entry in a compiler's scope stack: a named variable bound
// to a register at a given lexical depth.
type Local struct {
	Name       string
	Register   uint8
	Depth      int
	IsCaptured bool
	IsConst    bool
}

// loopScope tracks the patch points a break/continue inside the innermost
// loop needs to resolve once the loop's bounds are known. regBase is the
// register watermark at loop entry: break/continue close any upvalues over
// body locals (registers >= regBase) before jumping out of their scopes.
type loopScope struct {
	start         int
	regBase       uint8
	breakJumps    []int
	continueJumps []int
}

// classScope tracks the enclosing class while compiling a method body, so
// `this`/`super` and private-member checks can see the declaring class.
type classScope struct {
	name       string
	fields     []ast.FieldDecl
	superName  string
	hasSuper   bool
	methodSet  map[string]bool
	privateSet map[string]bool
}

// sharedState is threaded by pointer through every Compiler created for one
// top-level compilation (the root and every nested function/method
// compiler), so global indices, the symbol table and panic-mode error
// bookkeeping are consistent across the whole Proto tree.
type sharedState struct {
	symbols *symbol.Table

	globalIndex map[string]int
	globalCount int

	hadError       bool
	panicMode      bool
	firstErrorLine int
	firstErrorMsg  string
	errors         []string
}

func newSharedState(symbols *symbol.Table) *sharedState {
	if symbols == nil {
		symbols = symbol.New()
	}
	return &sharedState{symbols: symbols, globalIndex: make(map[string]int)}
}

func (s *sharedState) getOrAddGlobal(name string) int {
	if idx, ok := s.globalIndex[name]; ok {
		return idx
	}
	if s.globalCount > 65535 {
		s.errorf(0, "too many global variables")
		return 0
	}
	idx := s.globalCount
	s.globalIndex[name] = idx
	s.globalCount++
	return idx
}

// errorf records a compile error at line; the first error wins and
// subsequent ones are suppressed until the compiler recovers (we never
// recover mid-compilation, so in practice only the first is fatal — the
// rest are still collected for caller diagnostics).
func (s *sharedState) errorf(line int, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.errors = append(s.errors, fmt.Sprintf("line %d: %s", line, msg))
	if s.panicMode {
		return
	}
	s.panicMode = true
	s.hadError = true
	s.firstErrorLine = line
	s.firstErrorMsg = msg
}

// Compiler is a single-use, per-function compilation context. The top-level
// script and every nested function/method literal each gets its own
// Compiler, chained via enclosing for upvalue resolution.
type Compiler struct {
	shared    *sharedState
	enclosing *Compiler
	class     *classScope

	proto *object.Proto

	locals      []Local
	scopeDepth  int
	freeReg     uint8
	nActiveVars uint8

	// isConstructor makes every `return` in the body yield `this` (register
	// 0) regardless of any value the statement names. isMethod marks any
	// class-method body; it keeps CALLSELF out of methods, where a name
	// matching the proto's never refers back to the executing closure.
	isConstructor bool
	isMethod      bool

	loops []*loopScope
}

// New creates the root compiler for a fresh top-level compilation.
func New() *Compiler {
	return &Compiler{shared: newSharedState(nil), proto: object.NewProto("<script>")}
}

// NewWithSymbols lets a caller (the VM, the REPL) share one symbol table
// across multiple separately-compiled scripts, so `+`-style operator
// symbols and prior global names stay stable across compilations.
func NewWithSymbols(symbols *symbol.Table) *Compiler {
	return &Compiler{shared: newSharedState(symbols), proto: object.NewProto("<script>")}
}

// Symbols exposes the symbol table used by this compilation, so the VM can
// reuse it at runtime for dense method dispatch.
func (c *Compiler) Symbols() *symbol.Table { return c.shared.symbols }

// NewContinuation creates a fresh root compiler that keeps this one's
// symbol table and global-index assignments but starts with clean error
// state. The REPL threads one through every input so a global declared in
// an earlier line keeps its slot in later ones. The global map is copied,
// not shared: indices a failed compilation handed out must not leak into
// the next input.
func (c *Compiler) NewContinuation() *Compiler {
	globals := make(map[string]int, len(c.shared.globalIndex))
	for name, idx := range c.shared.globalIndex {
		globals[name] = idx
	}
	shared := &sharedState{
		symbols:     c.shared.symbols,
		globalIndex: globals,
		globalCount: c.shared.globalCount,
	}
	return &Compiler{shared: shared, proto: object.NewProto("<script>")}
}

// child creates a nested compiler for a function/method literal body.
func (c *Compiler) child(name string) *Compiler {
	return &Compiler{
		shared:    c.shared,
		enclosing: c,
		class:     c.class,
		proto:     object.NewProto(name),
	}
}

// Compile lowers a whole program into the root Proto. On any compile error
// it returns nil and a wrapped error describing the first failure.
func (c *Compiler) Compile(prog *ast.Program) (*object.Proto, error) {
	for _, stmt := range prog.Statements {
		c.compileStmt(stmt)
	}
	c.emitReturn(prog.Line())
	c.runOptimizations(c.proto)
	c.proto.NumGlobals = c.shared.globalCount

	if c.shared.hadError {
		return nil, errors.Errorf("compile error at line %d: %s", c.shared.firstErrorLine, c.shared.firstErrorMsg)
	}
	return c.proto, nil
}

// Errors returns every recorded compile diagnostic, most useful for tooling
// (the CLI's --dump-ast / lint-style paths) that wants more than the first.
func (c *Compiler) Errors() []string { return c.shared.errors }

func (c *Compiler) errorf(line int, format string, args ...interface{}) {
	c.shared.errorf(line, format, args...)
}

// ---- register allocator ----

func (c *Compiler) allocReg(line int) uint8 {
	if int(c.freeReg)+1 > 250 {
		c.errorf(line, "too many registers in function")
	}
	r := c.freeReg
	c.freeReg++
	if int(c.freeReg) > c.proto.MaxStack {
		c.proto.MaxStack = int(c.freeReg)
	}
	return r
}

// freeReg1 returns r to the pool only if it is the topmost stack-disciplined
// temporary: r must be the most recently allocated register and must not be
// a register pinned for a named local.
func (c *Compiler) freeReg1(r uint8) {
	if r == c.freeReg-1 && r >= c.nActiveVars {
		c.freeReg--
	}
}

// reserveReg pins the most recently allocated register as a named local's
// permanent home, promoting free_reg into n_active_vars.
func (c *Compiler) reserveReg() uint8 {
	c.nActiveVars = c.freeReg
	return c.freeReg - 1
}

// ---- scope management ----

func (c *Compiler) beginScope() {
	c.scopeDepth++
}

func (c *Compiler) endScope(line int) {
	c.scopeDepth--
	boundary := len(c.locals)
	for boundary > 0 && c.locals[boundary-1].Depth > c.scopeDepth {
		boundary--
	}
	popped := c.locals[boundary:]
	if len(popped) == 0 {
		return
	}
	lowest := popped[0].Register
	anyCaptured := false
	for _, l := range popped {
		if l.IsCaptured {
			anyCaptured = true
		}
	}
	if anyCaptured {
		c.emit(object.EncodeABC(object.OpClose, lowest, 0, 0), line)
	}
	c.locals = c.locals[:boundary]
	c.nActiveVars = lowest
	c.freeReg = lowest
}

func (c *Compiler) declareLocal(name string, isConst bool, line int) *Local {
	for _, l := range c.locals {
		if l.Depth == c.scopeDepth && l.Name == name {
			c.errorf(line, "variable %q already declared in this scope", name)
		}
	}
	reg := c.reserveReg()
	c.locals = append(c.locals, Local{Name: name, Register: reg, Depth: c.scopeDepth, IsConst: isConst})
	return &c.locals[len(c.locals)-1]
}

// ---- variable resolution ----

type varKind int

const (
	varLocal varKind = iota
	varUpvalue
	varGlobal
)

func (c *Compiler) resolveLocal(name string) (uint8, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].Name == name {
			return c.locals[i].Register, true
		}
	}
	return 0, false
}

func (c *Compiler) markCaptured(reg uint8) {
	for i := range c.locals {
		if c.locals[i].Register == reg {
			c.locals[i].IsCaptured = true
		}
	}
}

func resolveUpvalue(c *Compiler, name string) (uint8, bool) {
	if c.enclosing == nil {
		return 0, false
	}
	if reg, ok := c.enclosing.resolveLocal(name); ok {
		c.enclosing.markCaptured(reg)
		return c.addUpvalue(reg, true), true
	}
	if idx, ok := resolveUpvalue(c.enclosing, name); ok {
		return c.addUpvalue(idx, false), true
	}
	return 0, false
}

func (c *Compiler) addUpvalue(index uint8, isLocal bool) uint8 {
	if len(c.proto.Upvalues) >= 255 {
		c.errorf(0, "too many upvalues in function %s", c.proto.Name)
		return 0
	}
	return c.proto.AddUpvalue(index, isLocal)
}

// resolve classifies name and returns its slot: a register for a local, an
// upvalue index, or a global index.
func (c *Compiler) resolve(name string) (varKind, int) {
	if reg, ok := c.resolveLocal(name); ok {
		return varLocal, int(reg)
	}
	if idx, ok := resolveUpvalue(c, name); ok {
		return varUpvalue, int(idx)
	}
	return varGlobal, c.shared.getOrAddGlobal(name)
}

// ---- emission helpers ----

const maxJumpOffset = 1<<23 - 1

func (c *Compiler) emit(instr uint32, line int) int {
	return c.proto.Emit(instr, line)
}

func (c *Compiler) emitJump(line int) int {
	return c.emit(object.EncodeSJ(object.OpJmp, 0), line)
}

// patchJump rewrites the sJ operand of the jump at pc to land on the
// instruction about to be emitted next.
func (c *Compiler) patchJump(pc int) {
	c.patchJumpTo(pc, len(c.proto.Code))
}

// patchJumpTo rewrites the jump at pc to land exactly on instruction index
// target (used when the target is already known, e.g. a loop's back-edge).
func (c *Compiler) patchJumpTo(pc, target int) {
	offset := int32(target - pc - 1)
	if offset > maxJumpOffset || offset < -maxJumpOffset {
		c.errorf(int(c.proto.Lines[pc]), "jump too far")
		return
	}
	c.proto.Code[pc] = object.EncodeSJ(object.OpJmp, offset)
}

// constOp narrows a constant-pool index into an 8-bit instruction operand,
// reporting the overflow as a compile error instead of truncating.
func (c *Compiler) constOp(idx uint16, line int) uint8 {
	if idx > 255 {
		c.errorf(line, "too many constants in function %s", c.proto.Name)
		return 0
	}
	return uint8(idx)
}

// symOp narrows a method symbol into INVOKE's 8-bit B operand, reporting
// overflow as a compile error instead of dispatching to the wrong method.
func (c *Compiler) symOp(sym int, line int) uint8 {
	if sym > 255 {
		c.errorf(line, "too many method names in program")
		return 0
	}
	return uint8(sym)
}

func (c *Compiler) emitReturn(line int) {
	c.emit(object.EncodeABC(object.OpReturn, 0, 0, 0), line)
}
