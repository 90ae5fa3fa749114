// Package parser implements a recursive-descent, Pratt-style parser that
// turns a token stream from pkg/lexer into the pkg/ast tree the compiler
// consumes. Like the lexer, it is an external collaborator to the core;
// it exists here to give the compiler/VM core a concrete, runnable
// front end.
package parser

import (
	"fmt"

	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/lexer"
)

type Parser struct {
	l    *lexer.Lexer
	cur  lexer.Token
	peek lexer.Token

	errors []string
}

func New(src string) *Parser {
	p := &Parser{l: lexer.New(src)}
	p.advance()
	p.advance()
	return p
}

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.l.Next()
}

func (p *Parser) Errors() []string { return p.errors }

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf("line %d: %s", p.cur.Line, fmt.Sprintf(format, args...)))
}

func (p *Parser) expect(t lexer.TokenType) lexer.Token {
	tok := p.cur
	if p.cur.Type != t {
		p.errorf("expected token %v, got %v (%q)", t, p.cur.Type, p.cur.Literal)
	}
	p.advance()
	return tok
}

// ParseProgram parses a whole source file into a *ast.Program. Parse
// errors are accumulated in p.Errors(); callers should check len(Errors())
// before handing the result to the compiler.
func (p *Parser) ParseProgram() *ast.Program {
	prog := &ast.Program{}
	for p.cur.Type != lexer.TokenEOF {
		prog.Statements = append(prog.Statements, p.parseStatement())
	}
	return prog
}

func (p *Parser) parseBlock() *ast.Block {
	line := p.cur.Line
	p.expect(lexer.TokenLBrace)
	b := &ast.Block{}
	b.L = line
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		b.Statements = append(b.Statements, p.parseStatement())
	}
	p.expect(lexer.TokenRBrace)
	return b
}

func (p *Parser) parseStatement() ast.Stmt {
	switch p.cur.Type {
	case lexer.TokenLet, lexer.TokenConst:
		return p.parseVarDecl()
	case lexer.TokenFn:
		return p.parseFuncDecl()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenBreak:
		line := p.cur.Line
		p.advance()
		p.consumeSemi()
		n := &ast.Break{}
		n.L = line
		return n
	case lexer.TokenContinue:
		line := p.cur.Line
		p.advance()
		p.consumeSemi()
		n := &ast.Continue{}
		n.L = line
		return n
	case lexer.TokenReturn:
		return p.parseReturn()
	case lexer.TokenPrint:
		return p.parsePrint()
	case lexer.TokenClass:
		return p.parseClassDecl()
	case lexer.TokenLBrace:
		return p.parseBlock()
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) consumeSemi() {
	if p.cur.Type == lexer.TokenSemicolon {
		p.advance()
	}
}

func (p *Parser) parseVarDecl() ast.Stmt {
	line := p.cur.Line
	isConst := p.cur.Type == lexer.TokenConst
	p.advance()
	name := p.expect(lexer.TokenIdentifier).Literal
	var init ast.Expr
	if p.cur.Type == lexer.TokenAssign {
		p.advance()
		init = p.parseExpr(precLowest)
	}
	p.consumeSemi()
	d := &ast.VarDecl{Name: name, Initializer: init, IsConst: isConst}
	d.L = line
	return d
}

func (p *Parser) parseParams() []ast.Param {
	p.expect(lexer.TokenLParen)
	var params []ast.Param
	for p.cur.Type != lexer.TokenRParen {
		params = append(params, ast.Param{Name: p.expect(lexer.TokenIdentifier).Literal})
		if p.cur.Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRParen)
	return params
}

func (p *Parser) parseFuncDecl() ast.Stmt {
	line := p.cur.Line
	p.advance()
	name := p.expect(lexer.TokenIdentifier).Literal
	params := p.parseParams()
	body := p.parseBlock()
	d := &ast.FuncDecl{Name: name, Params: params, Body: body}
	d.L = line
	return d
}

func (p *Parser) parseIf() ast.Stmt {
	line := p.cur.Line
	p.advance()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr(precLowest)
	p.expect(lexer.TokenRParen)
	then := p.parseBlock()
	n := &ast.If{Cond: cond, Then: then}
	n.L = line
	if p.cur.Type == lexer.TokenElse {
		p.advance()
		if p.cur.Type == lexer.TokenIf {
			n.Else = p.parseIf()
		} else {
			n.Else = p.parseBlock()
		}
	}
	return n
}

func (p *Parser) parseWhile() ast.Stmt {
	line := p.cur.Line
	p.advance()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr(precLowest)
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()
	n := &ast.While{Cond: cond, Body: body}
	n.L = line
	return n
}

func (p *Parser) parseFor() ast.Stmt {
	line := p.cur.Line
	p.advance()
	p.expect(lexer.TokenLParen)

	// for (v in iterable) / for (k, v in iterable)
	if p.cur.Type == lexer.TokenIdentifier {
		lexSnapshot := *p.l
		curSnap, peekSnap := p.cur, p.peek
		firstName := p.cur.Literal
		p.advance()
		if p.cur.Type == lexer.TokenIn {
			p.advance()
			iterable := p.parseExpr(precLowest)
			p.expect(lexer.TokenRParen)
			body := p.parseBlock()
			n := &ast.ForIn{ValueName: firstName, Iterable: iterable, Body: body}
			n.L = line
			return n
		}
		if p.cur.Type == lexer.TokenComma && p.peek.Type == lexer.TokenIdentifier {
			p.advance() // consume comma
			valueName := p.cur.Literal
			p.advance() // consume valueName, now cur should be 'in' if this really is for-in
			if p.cur.Type == lexer.TokenIn {
				p.advance()
				iterable := p.parseExpr(precLowest)
				p.expect(lexer.TokenRParen)
				body := p.parseBlock()
				n := &ast.ForIn{KeyName: firstName, ValueName: valueName, Iterable: iterable, Body: body}
				n.L = line
				return n
			}
		}
		// Not a for-in: rewind the lexer and token buffer and fall through
		// to the classic C-style for-loop parse.
		*p.l = lexSnapshot
		p.cur, p.peek = curSnap, peekSnap
	}

	var init ast.Stmt
	if p.cur.Type != lexer.TokenSemicolon {
		if p.cur.Type == lexer.TokenLet || p.cur.Type == lexer.TokenConst {
			init = p.parseVarDecl()
		} else {
			init = p.parseExprStatement()
		}
	} else {
		p.advance()
	}
	var cond ast.Expr
	if p.cur.Type != lexer.TokenSemicolon {
		cond = p.parseExpr(precLowest)
	}
	p.expect(lexer.TokenSemicolon)
	var update ast.Expr
	if p.cur.Type != lexer.TokenRParen {
		update = p.parseExpr(precLowest)
	}
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()
	n := &ast.For{Init: init, Cond: cond, Update: update, Body: body}
	n.L = line
	return n
}

func (p *Parser) parseReturn() ast.Stmt {
	line := p.cur.Line
	p.advance()
	var v ast.Expr
	if p.cur.Type != lexer.TokenSemicolon && p.cur.Type != lexer.TokenRBrace {
		v = p.parseExpr(precLowest)
	}
	p.consumeSemi()
	n := &ast.Return{Value: v}
	n.L = line
	return n
}

func (p *Parser) parsePrint() ast.Stmt {
	line := p.cur.Line
	p.advance()
	v := p.parseExpr(precLowest)
	p.consumeSemi()
	n := &ast.Print{Value: v}
	n.L = line
	return n
}

func (p *Parser) parseExprStatement() ast.Stmt {
	line := p.cur.Line
	e := p.parseExpr(precLowest)
	p.consumeSemi()
	n := &ast.ExprStmt{X: e}
	n.L = line
	return n
}

// ---- classes ----

func (p *Parser) parseFieldType() ast.FieldType {
	switch p.cur.Literal {
	case "int":
		p.advance()
		return ast.FieldInt
	case "float":
		p.advance()
		return ast.FieldFloat
	case "bool":
		p.advance()
		return ast.FieldBool
	case "string":
		p.advance()
		return ast.FieldString
	default:
		return ast.FieldUntyped
	}
}

func (p *Parser) parseClassDecl() ast.Stmt {
	line := p.cur.Line
	p.advance()
	name := p.expect(lexer.TokenIdentifier).Literal
	var super string
	if p.cur.Type == lexer.TokenExtends {
		p.advance()
		super = p.expect(lexer.TokenIdentifier).Literal
	}
	p.expect(lexer.TokenLBrace)

	decl := &ast.ClassDecl{Name: name, SuperClass: super}
	decl.L = line

	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		private := false
		static := false
		for p.cur.Type == lexer.TokenPrivate || p.cur.Type == lexer.TokenStatic {
			if p.cur.Type == lexer.TokenPrivate {
				private = true
			} else {
				static = true
			}
			p.advance()
		}
		isGetter, isSetter := false, false
		if p.cur.Type == lexer.TokenGet {
			isGetter = true
			p.advance()
		} else if p.cur.Type == lexer.TokenSet {
			isSetter = true
			p.advance()
		}

		if (p.cur.Type == lexer.TokenIdentifier || isOperatorStart(p.cur.Type)) && p.peek.Type == lexer.TokenLParen {
			decl.Methods = append(decl.Methods, p.parseMethodDecl(static, private, isGetter, isSetter))
			continue
		}
		if p.cur.Type == lexer.TokenIdentifier {
			decl.Fields = append(decl.Fields, p.parseFieldDecl(private))
			continue
		}
		p.errorf("unexpected token in class body: %v", p.cur.Type)
		p.advance()
	}
	p.expect(lexer.TokenRBrace)
	return decl
}

func isOperatorStart(t lexer.TokenType) bool {
	switch t {
	case lexer.TokenPlus, lexer.TokenMinus, lexer.TokenStar, lexer.TokenSlash,
		lexer.TokenPercent, lexer.TokenEq, lexer.TokenNe, lexer.TokenLt,
		lexer.TokenLe, lexer.TokenGt, lexer.TokenGe:
		return true
	}
	return false
}

func (p *Parser) parseFieldDecl(private bool) *ast.FieldDecl {
	line := p.cur.Line
	name := p.expect(lexer.TokenIdentifier).Literal
	ft := ast.FieldUntyped
	if p.cur.Type == lexer.TokenColon {
		p.advance()
		ft = p.parseFieldType()
	}
	p.consumeSemi()
	f := &ast.FieldDecl{Name: name, Type: ft, Private: private}
	f.L = line
	return f
}

func (p *Parser) parseMethodDecl(static, private, isGetter, isSetter bool) *ast.MethodDecl {
	line := p.cur.Line
	isOperator := isOperatorStart(p.cur.Type)
	name := p.cur.Literal
	p.advance()
	params := p.parseParams()
	body := p.parseBlock()
	m := &ast.MethodDecl{
		Name: name, Params: params, Body: body,
		IsStatic: static, IsPrivate: private,
		IsGetter: isGetter, IsSetter: isSetter, IsOperator: isOperator,
	}
	m.L = line
	return m
}
