package vm_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/petrel/compiler"
	"github.com/chazu/petrel/vm"
)

// interpret compiles and runs source on a fresh VM, returning stdout,
// stderr, and the result.
func interpret(t *testing.T, source string) (string, string, vm.InterpretResult) {
	t.Helper()
	return interpretWith(t, source, vm.HeapConfig{})
}

func interpretWith(t *testing.T, source string, config vm.HeapConfig) (string, string, vm.InterpretResult) {
	t.Helper()
	heap := vm.NewHeap(config)
	machine := vm.NewVM(heap)
	machine.UseCompiler(func(src string, h *vm.Heap) *vm.ObjFunction {
		var compileErrors bytes.Buffer
		fn := compiler.CompileTo(src, h, &compileErrors)
		if fn == nil {
			t.Logf("compile errors:\n%s", compileErrors.String())
		}
		return fn
	})

	var stdout, stderr bytes.Buffer
	machine.SetOutput(&stdout, &stderr)
	result := machine.Interpret(source)
	return stdout.String(), stderr.String(), result
}

// expectOutput asserts a program runs cleanly and prints exactly want.
func expectOutput(t *testing.T, source, want string) {
	t.Helper()
	stdout, stderr, result := interpret(t, source)
	if result != vm.InterpretOK {
		t.Fatalf("result = %v, stderr:\n%s", result, stderr)
	}
	if stdout != want {
		t.Errorf("output = %q, want %q", stdout, want)
	}
}

// expectRuntimeError asserts a program fails at run time mentioning message.
func expectRuntimeError(t *testing.T, source, message string) {
	t.Helper()
	_, stderr, result := interpret(t, source)
	if result != vm.InterpretRuntimeError {
		t.Fatalf("result = %v, want runtime error; stderr:\n%s", result, stderr)
	}
	if !strings.Contains(stderr, message) {
		t.Errorf("stderr %q missing %q", stderr, message)
	}
}

// ---------------------------------------------------------------------------
// Language scenarios
// ---------------------------------------------------------------------------

func TestArithmeticPrecedence(t *testing.T) {
	expectOutput(t, `print 1 + 2 * 3;`, "7\n")
}

func TestGlobalReassignment(t *testing.T) {
	expectOutput(t, `var a = 1; a = a + 41; print a;`, "42\n")
}

func TestClosuresCaptureByReference(t *testing.T) {
	expectOutput(t, `
fun makeCounter() { var i = 0; fun count() { i = i + 1; print i; } return count; }
var c = makeCounter(); c(); c(); c();
`, "1\n2\n3\n")
}

func TestClassWithInitializerAndMethod(t *testing.T) {
	expectOutput(t, `
class Greeter { init(n) { this.n = n; } hi() { print "hi " + this.n; } }
Greeter("world").hi();
`, "hi world\n")
}

func TestInheritanceWithSuperCall(t *testing.T) {
	expectOutput(t, `
class A { say() { print "A"; } }
class B < A { say() { super.say(); print "B"; } }
B().say();
`, "A\nB\n")
}

func TestStringInterningViaEquality(t *testing.T) {
	expectOutput(t, `print "ab" + "c" == "abc";`, "true\n")
}

func TestGroupingAndUnary(t *testing.T) {
	expectOutput(t, `print -(1 + 2) * 3;`, "-9\n")
	expectOutput(t, `print !nil;`, "true\n")
	expectOutput(t, `print !!0;`, "true\n")
}

func TestComparisonOperators(t *testing.T) {
	expectOutput(t, `print 1 <= 1; print 2 >= 3; print 1 != 2; print "a" == "a";`,
		"true\nfalse\ntrue\ntrue\n")
}

func TestShortCircuitEvaluation(t *testing.T) {
	expectOutput(t, `
fun loud(v) { print "eval"; return v; }
print false and loud(true);
print true or loud(false);
`, "false\ntrue\n")
	expectOutput(t, `print nil or "fallback"; print 1 and 2;`, "fallback\n2\n")
}

func TestIfElse(t *testing.T) {
	expectOutput(t, `if (1 < 2) { print "then"; } else { print "else"; }`, "then\n")
	expectOutput(t, `if (nil) { print "then"; } else { print "else"; }`, "else\n")
}

func TestWhileLoop(t *testing.T) {
	expectOutput(t, `var i = 0; while (i < 3) { print i; i = i + 1; }`, "0\n1\n2\n")
}

func TestForLoop(t *testing.T) {
	expectOutput(t, `for (var i = 0; i < 3; i = i + 1) { print i; }`, "0\n1\n2\n")
	// Increment runs even though it is emitted before the body.
	expectOutput(t, `var total = 0; for (var i = 1; i <= 4; i = i + 1) { total = total + i; } print total;`, "10\n")
}

func TestBlockScoping(t *testing.T) {
	expectOutput(t, `
var a = "outer";
{ var a = "inner"; print a; }
print a;
`, "inner\nouter\n")
}

func TestFunctionsAreFirstClass(t *testing.T) {
	expectOutput(t, `
fun add(a, b) { return a + b; }
var op = add;
print op(2, 3);
print add;
`, "5\n<fn add>\n")
}

func TestRecursion(t *testing.T) {
	expectOutput(t, `
fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
print fib(10);
`, "55\n")
}

func TestClosureSharingBetweenSiblings(t *testing.T) {
	expectOutput(t, `
var get; var set;
fun pair() {
  var shared = "initial";
  fun g() { print shared; }
  fun s(v) { shared = v; }
  get = g; set = s;
}
pair();
get();
set("updated");
get();
`, "initial\nupdated\n")
}

func TestClosureCapturesLoopVariablePerIteration(t *testing.T) {
	expectOutput(t, `
var fns;
var first;
for (var i = 0; i < 2; i = i + 1) {
  var j = i;
  fun show() { print j; }
  if (first == nil) first = show;
  fns = show;
}
first();
fns();
`, "0\n1\n")
}

func TestMethodsBindTheirReceiver(t *testing.T) {
	expectOutput(t, `
class Cake { taste() { print "The " + this.flavor + " cake is delicious"; } }
var cake = Cake();
cake.flavor = "chocolate";
var bite = cake.taste;
bite();
`, "The chocolate cake is delicious\n")
}

func TestFieldsShadowMethodsOnInvoke(t *testing.T) {
	expectOutput(t, `
class Box { op() { print "method"; } }
var box = Box();
fun other() { print "field"; }
box.op = other;
box.op();
`, "field\n")
}

func TestInitializerReturnsReceiver(t *testing.T) {
	expectOutput(t, `
class Thing { init() { this.ready = true; } }
var a = Thing();
var b = a.init();
print a == b;
`, "true\n")
}

func TestInheritedMethodsAndOverrides(t *testing.T) {
	expectOutput(t, `
class Animal { speak() { print "..."; } legs() { print 4; } }
class Dog < Animal { speak() { print "woof"; } }
var d = Dog();
d.speak();
d.legs();
`, "woof\n4\n")
}

func TestSuperCallsGrandparentChain(t *testing.T) {
	expectOutput(t, `
class A { hello() { print "A"; } }
class B < A { hello() { super.hello(); print "B"; } }
class C < B { hello() { super.hello(); print "C"; } }
C().hello();
`, "A\nB\nC\n")
}

func TestClockNativeIsCallable(t *testing.T) {
	expectOutput(t, `print clock() >= 0;`, "true\n")
}

func TestPrintedNumberFormats(t *testing.T) {
	expectOutput(t, `print 1; print 1.5; print 10 / 4; print 0 - 7;`, "1\n1.5\n2.5\n-7\n")
}

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

func TestRuntimeErrorAddingStringAndNumber(t *testing.T) {
	expectRuntimeError(t, `print "s" + 1;`, "Operands must be two numbers or two strings.")
}

func TestRuntimeErrorUndefinedVariable(t *testing.T) {
	expectRuntimeError(t, `print ghost;`, "Undefined variable 'ghost'.")
	expectRuntimeError(t, `ghost = 1;`, "Undefined variable 'ghost'.")
}

func TestRuntimeErrorUndefinedProperty(t *testing.T) {
	expectRuntimeError(t, `class C {} C().missing;`, "Undefined property 'missing'.")
	expectRuntimeError(t, `class C {} C().missing();`, "Undefined property 'missing'.")
}

func TestRuntimeErrorPropertyOnNonInstance(t *testing.T) {
	expectRuntimeError(t, `var x = 3; x.field;`, "Only instances have properties.")
	expectRuntimeError(t, `var x = 3; x.field = 1;`, "Only instances have fields.")
	expectRuntimeError(t, `var x = 3; x.method();`, "Only instances have methods.")
}

func TestRuntimeErrorArityMismatch(t *testing.T) {
	expectRuntimeError(t, `fun two(a, b) {} two(1);`, "Expected 2 arguments but got 1.")
	expectRuntimeError(t, `class C {} C(1);`, "Expected 0 arguments but got 1.")
}

func TestRuntimeErrorInheritFromNonClass(t *testing.T) {
	expectRuntimeError(t, `var NotAClass = 7; class Sub < NotAClass {}`, "Superclass must be a class.")
}

func TestRuntimeErrorCallNonCallable(t *testing.T) {
	expectRuntimeError(t, `var x = nil; x();`, "Can only call functions and classes.")
}

func TestRuntimeErrorIncludesStackTrace(t *testing.T) {
	_, stderr, result := interpret(t, `
fun inner() { missing; }
fun outer() { inner(); }
outer();
`)
	if result != vm.InterpretRuntimeError {
		t.Fatalf("result = %v", result)
	}
	for _, frame := range []string{"in inner()", "in outer()", "in script"} {
		if !strings.Contains(stderr, frame) {
			t.Errorf("stack trace missing %q:\n%s", frame, stderr)
		}
	}
	// Most recent call first.
	if strings.Index(stderr, "in inner()") > strings.Index(stderr, "in outer()") {
		t.Error("stack trace not ordered most recent first")
	}
}

func TestMaxArityRuns(t *testing.T) {
	// 255 parameters is the widest legal signature, and it must execute.
	// Arguments are locals: 255 literal arguments would not fit the
	// script chunk's 256-entry constant pool.
	params := make([]string, 255)
	args := make([]string, 255)
	for i := range params {
		params[i] = fmt.Sprintf("p%d", i)
		args[i] = "mid"
	}
	args[0] = "first"
	args[254] = "last"
	source := fmt.Sprintf("fun wide(%s) { return p0 + p254; }\n{ var first = 1; var mid = 0; var last = 255; print wide(%s); }",
		strings.Join(params, ", "), strings.Join(args, ", "))
	expectOutput(t, source, "256\n")
}

func TestFrameDepthBoundary(t *testing.T) {
	// The script frame plus 63 calls fills the frame stack exactly.
	expectOutput(t, `
fun descend(n) { if (n > 1) { descend(n - 1); } else { print "bottom"; } }
descend(63);
`, "bottom\n")

	expectRuntimeError(t, `
fun descend(n) { if (n > 1) { descend(n - 1); } else { print "bottom"; } }
descend(64);
`, "Stack overflow.")
}

// ---------------------------------------------------------------------------
// GC integration
// ---------------------------------------------------------------------------

// A stressed collector runs before every allocation, so any root the
// compiler or interpreter fails to report becomes a use-after-free. These
// programs exercise every allocation site under stress.
func TestProgramsSurviveGCStress(t *testing.T) {
	programs := map[string]struct {
		source string
		want   string
	}{
		"strings": {
			`var s = "a"; s = s + "b"; s = s + "c"; print s;`,
			"abc\n",
		},
		"closures": {
			`fun make() { var n = 0; fun bump() { n = n + 1; return n; } return bump; }
			 var f = make(); f(); f(); print f();`,
			"3\n",
		},
		"classes": {
			`class P { init(x) { this.x = x; } show() { print this.x; } }
			 P("alpha" + "beta").show();`,
			"alphabeta\n",
		},
		"inheritance": {
			`class A { tag() { return "A"; } }
			 class B < A { tag() { return super.tag() + "B"; } }
			 print B().tag();`,
			"AB\n",
		},
		"bound methods": {
			`class K { init() { this.v = "k"; } get() { return this.v; } }
			 var m = K().get; print m();`,
			"k\n",
		},
	}

	for name, tt := range programs {
		t.Run(name, func(t *testing.T) {
			stdout, stderr, result := interpretWith(t, tt.source, vm.HeapConfig{StressGC: true})
			if result != vm.InterpretOK {
				t.Fatalf("result = %v, stderr:\n%s", result, stderr)
			}
			if stdout != tt.want {
				t.Errorf("output = %q, want %q", stdout, tt.want)
			}
		})
	}
}

func TestOutputIsDeterministic(t *testing.T) {
	source := `
fun fib(n) { if (n < 2) return n; return fib(n - 1) + fib(n - 2); }
for (var i = 0; i < 8; i = i + 1) { print fib(i); }
`
	first, _, result := interpret(t, source)
	if result != vm.InterpretOK {
		t.Fatal("program failed")
	}
	for i := 0; i < 3; i++ {
		again, _, _ := interpret(t, source)
		if again != first {
			t.Fatalf("run %d differed:\n%s\nvs\n%s", i+2, again, first)
		}
	}
}

func TestManyGlobalsAndCollections(t *testing.T) {
	// Enough distinct strings and objects to push past a tiny threshold
	// repeatedly; everything reachable must still be intact at the end.
	var sb strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&sb, "var v%d = \"value-%d\";\n", i, i)
	}
	sb.WriteString("print v0; print v99;")

	stdout, stderr, result := interpretWith(t, sb.String(), vm.HeapConfig{InitialGCThreshold: 1024})
	if result != vm.InterpretOK {
		t.Fatalf("result = %v, stderr:\n%s", result, stderr)
	}
	if stdout != "value-0\nvalue-99\n" {
		t.Errorf("output = %q", stdout)
	}
}
