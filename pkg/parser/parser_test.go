package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-lang/xray/pkg/ast"
)

func parseOK(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := New(src)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "unexpected parse errors: %v", p.Errors())
	return prog
}

func TestParseArithmeticPrecedence(t *testing.T) {
	prog := parseOK(t, "print 1 + 2 * 3;")
	require.Len(t, prog.Statements, 1)
	print, ok := prog.Statements[0].(*ast.Print)
	require.True(t, ok)
	bin, ok := print.Value.(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, ast.OpAdd, bin.Op)
	_, ok = bin.Left.(*ast.IntLiteral)
	assert.True(t, ok)
	mul, ok := bin.Right.(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, ast.OpMul, mul.Op)
}

func TestParseVarDeclAndAssignment(t *testing.T) {
	prog := parseOK(t, "let x = 1; x = x + 1;")
	require.Len(t, prog.Statements, 2)
	decl, ok := prog.Statements[0].(*ast.VarDecl)
	require.True(t, ok)
	assert.Equal(t, "x", decl.Name)

	stmt, ok := prog.Statements[1].(*ast.ExprStmt)
	require.True(t, ok)
	assign, ok := stmt.X.(*ast.Assign)
	require.True(t, ok)
	ident, ok := assign.Target.(*ast.Identifier)
	require.True(t, ok)
	assert.Equal(t, "x", ident.Name)
}

func TestParseWhileAndClosurePush(t *testing.T) {
	src := `
	let fs = [];
	let i = 0;
	while (i < 3) { let j = i; fs.push(fn() { return j; }); i = i + 1; }
	print fs[0]() + fs[1]() + fs[2]();
	`
	prog := parseOK(t, src)
	require.Len(t, prog.Statements, 4)
	wh, ok := prog.Statements[2].(*ast.While)
	require.True(t, ok)
	require.Len(t, wh.Body.Statements, 3)
}

func TestParseTailRecursiveFunction(t *testing.T) {
	prog := parseOK(t, `fn sum(n, acc) { if (n == 0) { return acc; } return sum(n - 1, acc + n); }`)
	require.Len(t, prog.Statements, 1)
	fn, ok := prog.Statements[0].(*ast.FuncDecl)
	require.True(t, ok)
	assert.Equal(t, "sum", fn.Name)
	assert.Equal(t, []ast.Param{{Name: "n"}, {Name: "acc"}}, fn.Params)
}

func TestParseClassWithInheritanceAndOperator(t *testing.T) {
	src := `
	class Vec {
		x: int
		y: int
		constructor(x, y) { this.x = x; this.y = y; }
		+(other) { return new Vec(this.x + other.x, this.y + other.y); }
	}
	class Dog extends Animal {
		speak() { return this.name; }
	}
	`
	prog := parseOK(t, src)
	require.Len(t, prog.Statements, 2)

	vec, ok := prog.Statements[0].(*ast.ClassDecl)
	require.True(t, ok)
	assert.Equal(t, "Vec", vec.Name)
	require.Len(t, vec.Fields, 2)
	require.Len(t, vec.Methods, 2)
	assert.True(t, vec.Methods[1].IsOperator)

	dog, ok := prog.Statements[1].(*ast.ClassDecl)
	require.True(t, ok)
	assert.Equal(t, "Animal", dog.SuperClass)
}

func TestParseForIn(t *testing.T) {
	prog := parseOK(t, `for (v in arr) { print v; }`)
	require.Len(t, prog.Statements, 1)
	fi, ok := prog.Statements[0].(*ast.ForIn)
	require.True(t, ok)
	assert.Equal(t, "v", fi.ValueName)
	assert.Equal(t, "", fi.KeyName)
}

func TestParseForInWithKey(t *testing.T) {
	prog := parseOK(t, `for (k, v in m) { print k; }`)
	require.Len(t, prog.Statements, 1)
	fi, ok := prog.Statements[0].(*ast.ForIn)
	require.True(t, ok)
	assert.Equal(t, "k", fi.KeyName)
	assert.Equal(t, "v", fi.ValueName)
}

func TestParseClassicForLoop(t *testing.T) {
	prog := parseOK(t, `for (let i = 0; i < 10; i = i + 1) { print i; }`)
	require.Len(t, prog.Statements, 1)
	f, ok := prog.Statements[0].(*ast.For)
	require.True(t, ok)
	require.NotNil(t, f.Init)
	require.NotNil(t, f.Cond)
	require.NotNil(t, f.Update)
}

func TestParseTemplateString(t *testing.T) {
	prog := parseOK(t, "print `hello ${name}, you are ${age + 1} next year`;")
	require.Len(t, prog.Statements, 1)
	print, ok := prog.Statements[0].(*ast.Print)
	require.True(t, ok)
	tmpl, ok := print.Value.(*ast.TemplateString)
	require.True(t, ok)
	require.Len(t, tmpl.Parts, 3)
	require.Len(t, tmpl.Exprs, 2)
	assert.Equal(t, "hello ", tmpl.Parts[0])
	assert.Equal(t, ", you are ", tmpl.Parts[1])
	assert.Equal(t, " next year", tmpl.Parts[2])

	ident, ok := tmpl.Exprs[0].(*ast.Identifier)
	require.True(t, ok)
	assert.Equal(t, "name", ident.Name)

	bin, ok := tmpl.Exprs[1].(*ast.Binary)
	require.True(t, ok)
	assert.Equal(t, ast.OpAdd, bin.Op)
}

func TestParseTemplateStringWithNestedBraces(t *testing.T) {
	prog := parseOK(t, "let m = `v=${{a: 1}.a}`;")
	require.Len(t, prog.Statements, 1)
	decl, ok := prog.Statements[0].(*ast.VarDecl)
	require.True(t, ok)
	tmpl, ok := decl.Initializer.(*ast.TemplateString)
	require.True(t, ok)
	require.Len(t, tmpl.Exprs, 1)
	_, ok = tmpl.Exprs[0].(*ast.MemberAccess)
	assert.True(t, ok)
}
