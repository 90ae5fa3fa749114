package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextBasicTokens(t *testing.T) {
	input := `+ - * / % = == != < <= > >= ! , . : ; ( ) { } [ ]`

	want := []TokenType{
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent,
		TokenAssign, TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe,
		TokenBang, TokenComma, TokenDot, TokenColon, TokenSemicolon,
		TokenLParen, TokenRParen, TokenLBrace, TokenRBrace, TokenLBracket, TokenRBracket,
		TokenEOF,
	}

	l := New(input)
	for i, tt := range want {
		tok := l.Next()
		assert.Equalf(t, tt, tok.Type, "token %d", i)
	}
}

func TestNextKeywordsAndIdentifiers(t *testing.T) {
	input := `let x = fn class extends new this super static private get set and or`
	l := New(input)

	assert.Equal(t, TokenLet, l.Next().Type)
	assert.Equal(t, TokenIdentifier, l.Next().Type)
	assert.Equal(t, TokenAssign, l.Next().Type)
	assert.Equal(t, TokenFn, l.Next().Type)
	assert.Equal(t, TokenClass, l.Next().Type)
	assert.Equal(t, TokenExtends, l.Next().Type)
	assert.Equal(t, TokenNew, l.Next().Type)
	assert.Equal(t, TokenThis, l.Next().Type)
	assert.Equal(t, TokenSuper, l.Next().Type)
	assert.Equal(t, TokenStatic, l.Next().Type)
	assert.Equal(t, TokenPrivate, l.Next().Type)
	assert.Equal(t, TokenGet, l.Next().Type)
	assert.Equal(t, TokenSet, l.Next().Type)
	assert.Equal(t, TokenAnd, l.Next().Type)
	assert.Equal(t, TokenOr, l.Next().Type)
}

func TestNextNumbers(t *testing.T) {
	l := New(`10 2.5 0 10.0`)
	tok := l.Next()
	assert.Equal(t, TokenInt, tok.Type)
	assert.Equal(t, "10", tok.Literal)

	tok = l.Next()
	assert.Equal(t, TokenFloat, tok.Type)
	assert.Equal(t, "2.5", tok.Literal)

	tok = l.Next()
	assert.Equal(t, TokenInt, tok.Type)
	assert.Equal(t, "0", tok.Literal)

	tok = l.Next()
	assert.Equal(t, TokenFloat, tok.Type)
	assert.Equal(t, "10.0", tok.Literal)
}

func TestNextStringEscapes(t *testing.T) {
	l := New(`"Rex woof\n"`)
	tok := l.Next()
	assert.Equal(t, TokenString, tok.Type)
	assert.Equal(t, "Rex woof\n", tok.Literal)
}

func TestNextSkipsComments(t *testing.T) {
	l := New("1 // a comment\n+ 2")
	assert.Equal(t, TokenInt, l.Next().Type)
	assert.Equal(t, TokenPlus, l.Next().Type)
	assert.Equal(t, TokenInt, l.Next().Type)
}

func TestNextTemplateString(t *testing.T) {
	l := New("`hello ${name}!`")
	tok := l.Next()
	assert.Equal(t, TokenTemplateString, tok.Type)
	assert.Equal(t, "hello ${name}!", tok.Literal)
	assert.Equal(t, TokenEOF, l.Next().Type)
}

func TestNextTemplateStringWithNestedBraces(t *testing.T) {
	l := New("`v=${{a: 1}.a}`")
	tok := l.Next()
	assert.Equal(t, TokenTemplateString, tok.Type)
	assert.Equal(t, "v=${{a: 1}.a}", tok.Literal)
}

func TestLineTracking(t *testing.T) {
	l := New("1\n2\n3")
	assert.Equal(t, 1, l.Next().Line)
	assert.Equal(t, 2, l.Next().Line)
	assert.Equal(t, 3, l.Next().Line)
}
