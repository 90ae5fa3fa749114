package bytecode

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-lang/xray/pkg/compiler"
	"github.com/xray-lang/xray/pkg/object"
	"github.com/xray-lang/xray/pkg/parser"
)

func compileSource(t *testing.T, src string) Module {
	t.Helper()
	p := parser.New(src)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "unexpected parse errors: %v", p.Errors())
	c := compiler.New()
	root, err := c.Compile(prog)
	require.NoError(t, err)
	return Module{Root: root, Symbols: []string{"greet", "twice"}}
}

// assertProtoEqual compares the fields the wire format carries, recursing
// into children. The in-memory Proto also holds a constant-dedup index the
// format deliberately drops, so whole-struct equality is not the contract.
func assertProtoEqual(t *testing.T, want, got *object.Proto) {
	t.Helper()
	assert.Equal(t, want.Name, got.Name)
	assert.Equal(t, want.OwnerClass, got.OwnerClass)
	assert.Equal(t, want.NumParams, got.NumParams)
	assert.Equal(t, want.MaxStack, got.MaxStack)
	assert.Equal(t, want.NumGlobals, got.NumGlobals)
	assert.Equal(t, want.IsVararg, got.IsVararg)
	assert.Equal(t, want.IsPrivate, got.IsPrivate)
	assert.Equal(t, want.IsGetter, got.IsGetter)
	assert.Equal(t, want.IsSetter, got.IsSetter)
	assert.Equal(t, want.IsOperator, got.IsOperator)
	assert.Equal(t, want.OperatorKind, got.OperatorKind)
	assert.Equal(t, want.Code, got.Code)
	assert.Equal(t, want.Lines, got.Lines)
	assert.Equal(t, want.Upvalues, got.Upvalues)

	require.Len(t, got.Constants, len(want.Constants))
	for i := range want.Constants {
		w, g := want.Constants[i], got.Constants[i]
		assert.Equal(t, w.Kind(), g.Kind(), "constant %d kind", i)
		if w.IsObjType(object.ObjString) {
			ws := w.AsObject().(*object.String)
			gs := g.AsObject().(*object.String)
			assert.Equal(t, ws.Chars, gs.Chars, "constant %d", i)
		} else {
			assert.True(t, object.Equal(w, g), "constant %d", i)
		}
	}

	require.Len(t, got.Children, len(want.Children))
	for i := range want.Children {
		assertProtoEqual(t, want.Children[i], got.Children[i])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	mod := compileSource(t, `
	class Greeter {
		name: string
		constructor(n) { this.name = n; }
		greet() { return "hi " + this.name; }
	}
	fn twice(x) { return x * 2; }
	print twice(21);
	`)

	var buf bytes.Buffer
	require.NoError(t, Encode(mod, &buf))

	got, err := Decode(&buf)
	require.NoError(t, err)

	assert.Equal(t, mod.Symbols, got.Symbols)
	assertProtoEqual(t, mod.Root, got.Root)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("NOPE\x00\x00\x00\x00")))
	assert.Error(t, err)
}

func TestDecodeRejectsTruncatedFile(t *testing.T) {
	mod := compileSource(t, "print 1 + 2;")
	var buf bytes.Buffer
	require.NoError(t, Encode(mod, &buf))
	_, err := Decode(bytes.NewReader(buf.Bytes()[:buf.Len()/2]))
	assert.Error(t, err)
}
