package parser

import (
	"strconv"
	"strings"

	"github.com/xray-lang/xray/pkg/ast"
	"github.com/xray-lang/xray/pkg/lexer"
)

// Precedence levels, lowest to highest.
const (
	precLowest int = iota
	precAssign
	precOr
	precAnd
	precEquality
	precComparison
	precTerm
	precFactor
	precUnary
	precCall
)

var precedences = map[lexer.TokenType]int{
	lexer.TokenAssign:   precAssign,
	lexer.TokenOr:       precOr,
	lexer.TokenAnd:      precAnd,
	lexer.TokenEq:       precEquality,
	lexer.TokenNe:       precEquality,
	lexer.TokenLt:       precComparison,
	lexer.TokenLe:       precComparison,
	lexer.TokenGt:       precComparison,
	lexer.TokenGe:       precComparison,
	lexer.TokenPlus:     precTerm,
	lexer.TokenMinus:    precTerm,
	lexer.TokenStar:     precFactor,
	lexer.TokenSlash:    precFactor,
	lexer.TokenPercent:  precFactor,
	lexer.TokenLParen:   precCall,
	lexer.TokenDot:      precCall,
	lexer.TokenLBracket: precCall,
}

func (p *Parser) curPrecedence() int {
	if pr, ok := precedences[p.cur.Type]; ok {
		return pr
	}
	return precLowest
}

// parseExpr is the Pratt-parser core: parse a prefix expression, then fold
// in infix/postfix operators whose precedence exceeds minPrec. Every parse
// function leaves p.cur on the first token after what it consumed, so the
// loop tests the current token and parseInfix advances past the operator
// itself.
func (p *Parser) parseExpr(minPrec int) ast.Expr {
	left := p.parsePrefix()
	for minPrec < p.curPrecedence() {
		left = p.parseInfix(left)
	}
	return left
}

func (p *Parser) parsePrefix() ast.Expr {
	line := p.cur.Line
	switch p.cur.Type {
	case lexer.TokenInt:
		v, _ := strconv.ParseInt(p.cur.Literal, 10, 64)
		p.advance()
		n := &ast.IntLiteral{Value: v}
		n.L = line
		return n
	case lexer.TokenFloat:
		v, _ := strconv.ParseFloat(p.cur.Literal, 64)
		p.advance()
		n := &ast.FloatLiteral{Value: v}
		n.L = line
		return n
	case lexer.TokenString:
		v := p.cur.Literal
		p.advance()
		n := &ast.StringLiteral{Value: v}
		n.L = line
		return n
	case lexer.TokenTemplateString:
		n := p.parseTemplateString(line)
		p.advance()
		return n
	case lexer.TokenTrue:
		p.advance()
		n := &ast.BoolLiteral{Value: true}
		n.L = line
		return n
	case lexer.TokenFalse:
		p.advance()
		n := &ast.BoolLiteral{Value: false}
		n.L = line
		return n
	case lexer.TokenNull:
		p.advance()
		n := &ast.NullLiteral{}
		n.L = line
		return n
	case lexer.TokenThis:
		p.advance()
		n := &ast.This{}
		n.L = line
		return n
	case lexer.TokenIdentifier:
		name := p.cur.Literal
		p.advance()
		n := &ast.Identifier{Name: name}
		n.L = line
		return n
	case lexer.TokenMinus:
		p.advance()
		operand := p.parseExpr(precUnary)
		n := &ast.Unary{Op: ast.UnaryNeg, Operand: operand}
		n.L = line
		return n
	case lexer.TokenBang:
		p.advance()
		operand := p.parseExpr(precUnary)
		n := &ast.Unary{Op: ast.UnaryNot, Operand: operand}
		n.L = line
		return n
	case lexer.TokenLParen:
		p.advance()
		inner := p.parseExpr(precLowest)
		p.expect(lexer.TokenRParen)
		n := &ast.Grouping{Inner: inner}
		n.L = line
		return n
	case lexer.TokenLBracket:
		return p.parseArrayLiteral(line)
	case lexer.TokenLBrace:
		return p.parseMapLiteral(line)
	case lexer.TokenFn:
		return p.parseFuncExpr(line)
	case lexer.TokenNew:
		return p.parseNew(line)
	case lexer.TokenSuper:
		return p.parseSuperCall(line)
	default:
		p.errorf("unexpected token in expression: %v (%q)", p.cur.Type, p.cur.Literal)
		p.advance()
		n := &ast.NullLiteral{}
		n.L = line
		return n
	}
}

// parseTemplateString splits a template token's raw literal (literal chunks
// with `${expr}` markers preserved verbatim by the lexer) into alternating
// Parts/Exprs, parsing each interpolation's source with its own throwaway
// sub-parser so embedded expressions get the full expression grammar
// without threading template state through the main parser's token stream.
func (p *Parser) parseTemplateString(line int) ast.Expr {
	raw := p.cur.Literal
	n := &ast.TemplateString{}
	n.L = line

	var lit strings.Builder
	for i := 0; i < len(raw); {
		if raw[i] == '$' && i+1 < len(raw) && raw[i+1] == '{' {
			n.Parts = append(n.Parts, lit.String())
			lit.Reset()
			depth := 1
			j := i + 2
			start := j
			for j < len(raw) && depth > 0 {
				switch raw[j] {
				case '{':
					depth++
				case '}':
					depth--
				}
				if depth == 0 {
					break
				}
				j++
			}
			src := raw[start:j]
			sub := New(src)
			expr := sub.parseExpr(precLowest)
			for _, e := range sub.Errors() {
				p.errors = append(p.errors, e)
			}
			n.Exprs = append(n.Exprs, expr)
			i = j + 1
			continue
		}
		lit.WriteByte(raw[i])
		i++
	}
	n.Parts = append(n.Parts, lit.String())
	return n
}

func (p *Parser) parseArrayLiteral(line int) ast.Expr {
	p.advance() // [
	var elems []ast.Expr
	for p.cur.Type != lexer.TokenRBracket {
		elems = append(elems, p.parseExpr(precLowest))
		if p.cur.Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRBracket)
	n := &ast.ArrayLiteral{Elements: elems}
	n.L = line
	return n
}

func (p *Parser) parseMapLiteral(line int) ast.Expr {
	p.advance() // {
	var entries []ast.MapEntry
	for p.cur.Type != lexer.TokenRBrace {
		key := p.parseExpr(precAssign + 1)
		p.expect(lexer.TokenColon)
		val := p.parseExpr(precAssign + 1)
		entries = append(entries, ast.MapEntry{Key: key, Value: val})
		if p.cur.Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRBrace)
	n := &ast.MapLiteral{Entries: entries}
	n.L = line
	return n
}

func (p *Parser) parseFuncExpr(line int) ast.Expr {
	p.advance() // fn
	name := ""
	if p.cur.Type == lexer.TokenIdentifier {
		name = p.cur.Literal
		p.advance()
	}
	params := p.parseParams()
	body := p.parseBlock()
	n := &ast.FuncExpr{Name: name, Params: params, Body: body}
	n.L = line
	return n
}

func (p *Parser) parseArgs() []ast.Expr {
	p.expect(lexer.TokenLParen)
	var args []ast.Expr
	for p.cur.Type != lexer.TokenRParen {
		args = append(args, p.parseExpr(precAssign+1))
		if p.cur.Type == lexer.TokenComma {
			p.advance()
		}
	}
	p.expect(lexer.TokenRParen)
	return args
}

func (p *Parser) parseNew(line int) ast.Expr {
	p.advance() // new
	name := p.expect(lexer.TokenIdentifier).Literal
	args := p.parseArgs()
	n := &ast.New{ClassName: name, Args: args}
	n.L = line
	return n
}

func (p *Parser) parseSuperCall(line int) ast.Expr {
	p.advance() // super
	p.expect(lexer.TokenDot)
	method := p.expect(lexer.TokenIdentifier).Literal
	args := p.parseArgs()
	n := &ast.SuperCall{Method: method, Args: args}
	n.L = line
	return n
}

func (p *Parser) parseInfix(left ast.Expr) ast.Expr {
	line := p.cur.Line
	switch p.cur.Type {
	case lexer.TokenAssign:
		p.advance()
		value := p.parseExpr(precAssign - 1)
		n := &ast.Assign{Target: left, Value: value}
		n.L = line
		return n
	case lexer.TokenAnd:
		p.advance()
		right := p.parseExpr(precAnd)
		n := &ast.Binary{Op: ast.OpAnd, Left: left, Right: right}
		n.L = line
		return n
	case lexer.TokenOr:
		p.advance()
		right := p.parseExpr(precOr)
		n := &ast.Binary{Op: ast.OpOr, Left: left, Right: right}
		n.L = line
		return n
	case lexer.TokenPlus, lexer.TokenMinus, lexer.TokenStar, lexer.TokenSlash, lexer.TokenPercent,
		lexer.TokenEq, lexer.TokenNe, lexer.TokenLt, lexer.TokenLe, lexer.TokenGt, lexer.TokenGe:
		op := binaryOpFor(p.cur.Type)
		prec := precedences[p.cur.Type]
		p.advance()
		right := p.parseExpr(prec)
		n := &ast.Binary{Op: op, Left: left, Right: right}
		n.L = line
		return n
	case lexer.TokenLParen:
		args := p.parseArgs()
		n := &ast.Call{Callee: left, Args: args}
		n.L = line
		return n
	case lexer.TokenLBracket:
		p.advance()
		idx := p.parseExpr(precLowest)
		p.expect(lexer.TokenRBracket)
		if p.cur.Type == lexer.TokenAssign {
			p.advance()
			value := p.parseExpr(precAssign - 1)
			n := &ast.IndexSet{Object: left, Index: idx, Value: value}
			n.L = line
			return n
		}
		n := &ast.IndexGet{Object: left, Index: idx}
		n.L = line
		return n
	case lexer.TokenDot:
		p.advance()
		name := p.expect(lexer.TokenIdentifier).Literal
		if p.cur.Type == lexer.TokenLParen {
			args := p.parseArgs()
			n := &ast.MethodCall{Object: left, Name: name, Args: args}
			n.L = line
			return n
		}
		if p.cur.Type == lexer.TokenAssign {
			p.advance()
			value := p.parseExpr(precAssign - 1)
			n := &ast.MemberSet{Object: left, Name: name, Value: value}
			n.L = line
			return n
		}
		n := &ast.MemberAccess{Object: left, Name: name}
		n.L = line
		return n
	default:
		p.errorf("unexpected infix token: %v", p.cur.Type)
		p.advance()
		return left
	}
}

func binaryOpFor(t lexer.TokenType) ast.BinaryOp {
	switch t {
	case lexer.TokenPlus:
		return ast.OpAdd
	case lexer.TokenMinus:
		return ast.OpSub
	case lexer.TokenStar:
		return ast.OpMul
	case lexer.TokenSlash:
		return ast.OpDiv
	case lexer.TokenPercent:
		return ast.OpMod
	case lexer.TokenEq:
		return ast.OpEq
	case lexer.TokenNe:
		return ast.OpNe
	case lexer.TokenLt:
		return ast.OpLt
	case lexer.TokenLe:
		return ast.OpLe
	case lexer.TokenGt:
		return ast.OpGt
	case lexer.TokenGe:
		return ast.OpGe
	default:
		return ""
	}
}
