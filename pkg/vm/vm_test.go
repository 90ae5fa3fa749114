package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xray-lang/xray/pkg/compiler"
	"github.com/xray-lang/xray/pkg/parser"
)

// run parses, compiles and runs src against a fresh VM, returning everything
// printed to stdout. Compile errors fail the test immediately since none of
// these scenarios are expected to fail compilation.
func run(t *testing.T, src string) (string, Result, error) {
	t.Helper()
	p := parser.New(src)
	prog := p.ParseProgram()
	require.Empty(t, p.Errors(), "unexpected parse errors: %v", p.Errors())

	c := compiler.New()
	proto, err := c.Compile(prog)
	require.NoError(t, err, "unexpected compile error")

	v := New(c.Symbols())
	var out bytes.Buffer
	v.Out = &out
	result, runErr := v.Interpret(proto)
	return out.String(), result, runErr
}

func TestArithmeticAndPrint(t *testing.T) {
	out, result, err := run(t, "print 2 + 3 * 4;")
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "14\n", out)
}

func TestClosureOverLoopVariableCapturesDistinctBindings(t *testing.T) {
	out, result, err := run(t, `
	let fs = [];
	let i = 0;
	while (i < 3) {
		let j = i;
		fs.push(fn() { return j; });
		i = i + 1;
	}
	print fs[0]() + fs[1]() + fs[2]();
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "3\n", out)
}

func TestTailRecursiveSumIsStackSafe(t *testing.T) {
	out, result, err := run(t, `
	fn sum(n, acc) {
		if (n == 0) { return acc; }
		return sum(n - 1, acc + n);
	}
	print sum(100000, 0);
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "5000050000\n", out)
}

func TestInheritanceAndVirtualDispatch(t *testing.T) {
	out, result, err := run(t, `
	class Animal {
		name: string
		constructor(name) { this.name = name; }
		speak() { return "..."; }
		describe() { return this.name + " says " + this.speak(); }
	}
	class Dog extends Animal {
		speak() { return "Woof"; }
	}
	let a = new Animal("Generic");
	let d = new Dog("Rex");
	print a.describe();
	print d.describe();
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "Generic says ...\nRex says Woof\n", out)
}

func TestOperatorOverload(t *testing.T) {
	out, result, err := run(t, `
	class Vec {
		x: int
		y: int
		constructor(x, y) { this.x = x; this.y = y; }
		+(other) { return new Vec(this.x + other.x, this.y + other.y); }
		toString() { return "(" + this.x + ", " + this.y + ")"; }
	}
	let a = new Vec(1, 2);
	let b = new Vec(3, 4);
	print a + b;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "(4, 6)\n", out)
}

func TestRuntimeErrorRecoversCleanly(t *testing.T) {
	p := parser.New("let x = 1 / 0; print x;")
	prog := p.ParseProgram()
	require.Empty(t, p.Errors())
	c := compiler.New()
	proto, err := c.Compile(prog)
	require.NoError(t, err)

	v := New(c.Symbols())
	result, runErr := v.Interpret(proto)
	assert.Equal(t, ResultRuntimeError, result)
	require.Error(t, runErr)
	assert.True(t, strings.Contains(runErr.Error(), "division by zero") || strings.Contains(runErr.Error(), "divide"))
	assert.Equal(t, 0, v.frameCount, "a runtime error must leave the VM's frame stack empty")
}

func TestPrivateFieldAccessFromOutsideIsARuntimeError(t *testing.T) {
	_, result, err := run(t, `
	class Box {
		private value: int
		constructor(v) { this.value = v; }
	}
	let b = new Box(5);
	print b.value;
	`)
	assert.Equal(t, ResultRuntimeError, result)
	require.Error(t, err)
}

func TestSuperCallDispatchesAboveDeclaringClass(t *testing.T) {
	out, result, err := run(t, `
	class Animal {
		name: string
		constructor(name) { this.name = name; }
		speak() { return this.name + " makes a sound"; }
	}
	class Dog extends Animal {
		speak() { return super.speak() + " (woof)"; }
	}
	print new Dog("Rex").speak();
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "Rex makes a sound (woof)\n", out)
}

func TestConstructorReturnYieldsInstance(t *testing.T) {
	out, result, err := run(t, `
	class Counter {
		n: int
		constructor(limit) {
			this.n = limit;
			if (limit < 0) { return; }
			this.n = limit * 2;
		}
	}
	print new Counter(-1).n;
	print new Counter(3).n;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "-1\n6\n", out)
}

func TestLocalFunctionValueSurvivesCalls(t *testing.T) {
	out, result, err := run(t, `
	let twice = fn(x) { return x * 2; };
	print twice(3);
	print twice(twice(5));
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "6\n20\n", out)
}

func TestNonTailSelfRecursion(t *testing.T) {
	out, result, err := run(t, `
	fn fact(n) {
		if (n < 2) { return 1; }
		return n * fact(n - 1);
	}
	print fact(10);
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "3628800\n", out)
}

func TestForInOverArrayAndMap(t *testing.T) {
	out, result, err := run(t, `
	let total = 0;
	for (v in [1, 2, 3, 4]) { total = total + v; }
	print total;
	let m = {"a": 1, "b": 2};
	let keys = "";
	for (k, v in m) { keys = keys + k; }
	print keys;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "10\nab\n", out)
}

func TestStringEqualityAcrossCompilationUnits(t *testing.T) {
	out, result, err := run(t, `
	fn tag() { return "ok"; }
	let joined = "o" + "k";
	print tag() == joined;
	print tag() == "nope";
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "true\nfalse\n", out)
}

func TestShortCircuitPreservesLocals(t *testing.T) {
	out, result, err := run(t, `
	let a = false;
	let b = true;
	print a or b;
	print a;
	print b and false;
	print b;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "true\nfalse\nfalse\ntrue\n", out)
}

func TestBreakAndContinue(t *testing.T) {
	out, result, err := run(t, `
	let sum = 0;
	for (let i = 0; i < 10; i = i + 1) {
		if (i == 3) { continue; }
		if (i == 6) { break; }
		sum = sum + i;
	}
	print sum;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "12\n", out)
}

func TestTemplateStringInterpolation(t *testing.T) {
	out, result, err := run(t, "let name = \"world\"; print `hello ${name}, ${1 + 1} times`;")
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "hello world, 2 times\n", out)
}

func TestStaticMethodAndGetter(t *testing.T) {
	out, result, err := run(t, `
	class Circle {
		r: float
		constructor(r) { this.r = r; }
		get area() { return 3 * this.r * this.r; }
		static unit() { return new Circle(1.0); }
	}
	print Circle.unit().area;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "3\n", out)
}

func TestTypedFieldRejectsWrongKind(t *testing.T) {
	_, result, err := run(t, `
	class Box {
		n: int
		constructor() { this.n = "nope"; }
	}
	let b = new Box();
	`)
	assert.Equal(t, ResultRuntimeError, result)
	require.Error(t, err)
}

func TestArrayAndMapBuiltinMethods(t *testing.T) {
	out, result, err := run(t, `
	let xs = [1, 2, 3];
	print xs.map(fn(x) { return x * 2; }).reduce(fn(acc, x) { return acc + x; }, 0);
	let m = {"a": 1, "b": 2};
	print m.length;
	`)
	require.NoError(t, err)
	assert.Equal(t, ResultOK, result)
	assert.Equal(t, "12\n2\n", out)
}
