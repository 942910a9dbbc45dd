package vm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kungfooman/gamescript/pkg/ast"
	"github.com/kungfooman/gamescript/pkg/compiler"
	"github.com/kungfooman/gamescript/pkg/lexer"
	"github.com/kungfooman/gamescript/pkg/parser"
	"github.com/kungfooman/gamescript/pkg/vm"
)

// compile runs one source string through the whole front half of the
// pipeline and returns the compiled form, keyed under the file name "test".
func compile(t *testing.T, source string) vm.CompiledFiles {
	t.Helper()
	tokens, err := lexer.New("test", []byte(source), lexer.Options{BackslashIdentifiers: true}).Scan()
	require.NoError(t, err)
	program, err := parser.NewParser(tokens, parser.Options{}).Parse()
	require.NoError(t, err)
	compiled, err := compiler.NewCompiler().Compile(map[string]*ast.Program{"test": program})
	require.NoError(t, err)
	return compiled
}

// machine builds a VM over the source with runtime errors collected instead
// of logged.
func machine(t *testing.T, source string) (*vm.VirtualMachine, *[]error) {
	t.Helper()
	errs := &[]error{}
	m := vm.NewVirtualMachine(compile(t, source), vm.WithErrorHandler(func(err error) {
		*errs = append(*errs, err)
	}))
	return m, errs
}

// run spawns 'main' and ticks the machine to completion, returning the
// thread result.
func run(t *testing.T, source string) vm.Variant {
	t.Helper()
	m, errs := machine(t, source)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(64)
	for _, e := range *errs {
		t.Fatalf("runtime error: %v", e)
	}
	require.True(t, thread.Done(), "main did not run to completion")
	return thread.Result()
}

func TestArithmetic(t *testing.T) {
	require.Equal(t, vm.Integer(7), run(t, `main() { a = 1 + 2 * 3; return a; }`))
	require.Equal(t, vm.Integer(10), run(t, `main() { return (1 << 3) | 2; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { return 3 % 2; }`))
	require.Equal(t, vm.Number(2.5), run(t, `main() { return 5 / 2.0; }`))
	require.Equal(t, vm.Integer(2), run(t, `main() { return 5 / 2; }`))
	require.Equal(t, vm.Integer(-4), run(t, `main() { return -4; }`))
	require.Equal(t, vm.Integer(-3), run(t, `main() { return ~2; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { return !0; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { return !undefined; }`))
}

func TestStrings(t *testing.T) {
	require.Equal(t, vm.String("ab"), run(t, `main() { return "a" + "b"; }`))
	require.Equal(t, vm.String("a1"), run(t, `main() { return "a" + 1; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { return "x" == "x"; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { return "x" != "y"; }`))
}

func TestVectors(t *testing.T) {
	// Component access through both the letter and the index spelling.
	require.Equal(t, vm.Number(5), run(t, `main() { v = (1, 2, 3); return v.y + v[2]; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { v = (4, 5, 6); return (v.x == v[0]) && (v["y"] == v[1]); }`))
	// Componentwise arithmetic.
	require.Equal(t, vm.Vector{X: 5, Y: 7, Z: 9},
		run(t, `main() { return (1, 2, 3) + (4, 5, 6); }`))
	// Component store rewrites the vector in place.
	require.Equal(t, vm.Number(9), run(t, `main() { v = (1, 2, 3); v.x = 9; return v[0]; }`))
}

func TestVectorScalarIsAnError(t *testing.T) {
	m, errs := machine(t, `main() { return (1, 2, 3) + 1; }`)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(8)
	require.NotEmpty(t, *errs)
	require.False(t, thread.Done())
}

func TestAssignments(t *testing.T) {
	require.Equal(t, vm.Integer(7), run(t, `main() { a = b = 2; a += 3; return a + b; }`))
	require.Equal(t, vm.Integer(2), run(t, `main() { a = 1; a++; return a; }`))
	require.Equal(t, vm.Integer(0), run(t, `main() { a = 1; a--; return a; }`))
	require.Equal(t, vm.Integer(8), run(t, `main() { a = 2; a *= 4; return a; }`))
}

func TestConditionals(t *testing.T) {
	require.Equal(t, vm.String("a"), run(t, `main() { return 1 ? "a" : "b"; }`))
	require.Equal(t, vm.String("b"), run(t, `main() { return 0 ? "a" : "b"; }`))
	require.Equal(t, vm.Integer(5), run(t, `main() { if (2 > 1) return 5; return 6; }`))
	require.Equal(t, vm.Integer(6), run(t, `main() { if (1 > 2) return 5; else return 6; }`))
}

func TestShortCircuit(t *testing.T) {
	// The right side must not be evaluated, 'boom' does not exist.
	require.Equal(t, vm.Integer(1), run(t, `main() { a = 0; a && boom(); return 1; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { a = 1; a || boom(); return 1; }`))
	require.Equal(t, vm.Integer(1), run(t, `main() { return 0 || 1; }`))
	require.Equal(t, vm.Integer(0), run(t, `main() { return 1 && 0; }`))
}

func TestLoops(t *testing.T) {
	require.Equal(t, vm.Integer(3),
		run(t, `main() { s = 0; for (i = 0; i < 5; i = i + 1) { if (i == 3) continue; if (i == 4) break; s = s + i; } return s; }`))
	require.Equal(t, vm.Integer(10),
		run(t, `main() { s = 0; i = 0; while (i < 5) { s = s + i; i = i + 1; } return s; }`))
}

func TestSwitchFallThrough(t *testing.T) {
	source := `main() { switch(2) { case 1: case 2: a = "x"; case 3: a = a + "y"; break; case 4: a = "z"; } return a; }`
	require.Equal(t, vm.String("xy"), run(t, source))

	require.Equal(t, vm.String("z"),
		run(t, `main() { switch(4) { case 1: case 2: a = "x"; case 3: a = a + "y"; break; case 4: a = "z"; } return a; }`))
	require.Equal(t, vm.String("pick"),
		run(t, `main() { switch("k") { case "j": return "no"; default: a = "pick"; } return a; }`))
}

func TestUndefinedBoxing(t *testing.T) {
	require.Equal(t, vm.String("hi"), run(t, `a() { b = undefined; b.name = "hi"; return b.name; } main() { return a(); }`))
	// The boxed object is bound back into the variable, later reads see it.
	require.Equal(t, vm.Integer(3), run(t, `main() { a = undefined; a.b = 3; return a.b; }`))
}

func TestCaseInsensitiveNames(t *testing.T) {
	require.Equal(t, vm.Integer(5), run(t, `main() { Foo = 5; return fOO; }`))
	require.Equal(t, vm.String("z"), run(t, `main() { o = undefined; o.Name = "z"; return o.nAmE; }`))
}

func TestObjectSize(t *testing.T) {
	require.Equal(t, vm.Integer(2), run(t, `main() { o = undefined; o.a = 1; o.b = 2; return o.size; }`))

	m, errs := machine(t, `main() { o = undefined; o.a = 1; o.size = 3; }`)
	_, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(8)
	require.NotEmpty(t, *errs)
	require.Contains(t, (*errs)[0].Error(), "size is read-only")
}

func TestFunctionCalls(t *testing.T) {
	require.Equal(t, vm.Integer(9), run(t, `sq(x) { return x * x; } main() { return sq(3); }`))
	require.Equal(t, vm.Integer(9), run(t, `sq(x) { return x * x; } main() { return test::sq(3); }`))
	// Missing arguments read as undefined, extra ones are dropped.
	require.Equal(t, vm.Integer(1), run(t, `probe(a, b) { return b == undefined; } main() { return probe(1); }`))
	require.Equal(t, vm.Integer(3), run(t, `add(a, b) { return a + b; } main() { return add(1, 2, 9); }`))
}

func TestMethodCallBindsSelf(t *testing.T) {
	source := `
	getname() { return self.label; }
	main() { level.label = "x"; return level getname(); }
	`
	require.Equal(t, vm.String("x"), run(t, source))
}

func TestFunctionPointerCall(t *testing.T) {
	require.Equal(t, vm.Integer(9), run(t, `sq(x) { return x * x; } main() { f = ::sq; return [[f]](3); }`))
	require.Equal(t, vm.Integer(9), run(t, `sq(x) { return x * x; } main() { f = ::test::sq; return [[f]](3); }`))

	// Calling through a non-pointer value aborts the thread.
	m, errs := machine(t, `main() { f = 5; return [[f]](3); }`)
	_, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(8)
	require.NotEmpty(t, *errs)
	require.Contains(t, (*errs)[0].Error(), "not a function pointer")
}

func TestThreadedCallTimeline(t *testing.T) {
	source := `
	worker() { level notify("go"); }
	main() { self thread worker(); wait 0.0; return 1; }
	`
	m, errs := machine(t, source)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)

	// Tick 1: main stages the child and suspends on the wait.
	m.Tick()
	m.AdvanceFrame()
	require.False(t, thread.Done())

	// Tick 2: the child runs and notifies, main sheds its expired lock.
	m.Tick()
	m.AdvanceFrame()
	require.False(t, thread.Done())

	// Tick 3: main resumes and returns.
	m.Tick()
	m.AdvanceFrame()
	require.True(t, thread.Done())
	require.Empty(t, *errs)
	require.Equal(t, vm.Integer(1), thread.Result())
}

func TestThreadedFunctionPointer(t *testing.T) {
	source := `
	worker(x) { level.out = x; }
	main() { f = ::worker; thread [[f]](5); wait 0; return 1; }
	`
	m, errs := machine(t, source)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(16)
	require.Empty(t, *errs)
	require.True(t, thread.Done())
	require.Equal(t, vm.Integer(1), thread.Result())
	require.Equal(t, vm.Integer(5), m.Level().GetField("out"))
}

func TestWaitTillReceivesPayload(t *testing.T) {
	source := `
	listener() { level waittill("msg", x); level.got = x; }
	main() { level thread listener(); wait 0; level notify("msg", 42); wait 0; wait 0; return level.got; }
	`
	require.Equal(t, vm.Integer(42), run(t, source))
}

func TestNotifyWithoutListenerIsDropped(t *testing.T) {
	source := `
	w() { level.seen = 1; level waittill("x"); level.seen = 2; }
	main() { level notify("x"); level thread w(); wait 0; wait 0; return level.seen; }
	`
	m, errs := machine(t, source)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(16)
	require.Empty(t, *errs)
	require.True(t, thread.Done())
	// The early notify found no listener, the late waiter never woke.
	require.Equal(t, vm.Integer(1), thread.Result())
}

func TestEndonCancelsThread(t *testing.T) {
	source := `
	victim() { level endon("stop"); level.alive = 1; level waittill("never"); level.alive = 2; }
	main() { level thread victim(); wait 0; wait 0; level notify("stop"); wait 0; return level.alive; }
	`
	require.Equal(t, vm.Integer(1), run(t, source))
}

func TestRuntimeErrorAbortsOnlyOneThread(t *testing.T) {
	source := `
	bad() { return 1 / 0; }
	good() { level.ok = 1; }
	main() { thread bad(); thread good(); wait 0; wait 0; return 1; }
	`
	m, errs := machine(t, source)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(16)
	require.NotEmpty(t, *errs)
	require.Contains(t, (*errs)[0].Error(), "division by zero")
	require.True(t, thread.Done())
	require.Equal(t, vm.Integer(1), m.Level().GetField("ok"))
}

func TestUnknownFunctionIsRuntimeError(t *testing.T) {
	m, errs := machine(t, `main() { nosuch(); }`)
	_, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(8)
	require.NotEmpty(t, *errs)
	require.Contains(t, (*errs)[0].Error(), "not found")
}

func TestHostFunctionBridge(t *testing.T) {
	m, errs := machine(t, `main() { return double(21); }`)
	m.RegisterFunction("double", func(ctx vm.VMContext, self *vm.Object) (int, error) {
		n, err := ctx.GetInt(0)
		if err != nil {
			return 0, err
		}
		ctx.AddInt(n * 2)
		return 1, nil
	})
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(8)
	require.Empty(t, *errs)
	require.Equal(t, vm.Integer(42), thread.Result())
}

func TestHostFunctionWithoutReturnYieldsUndefined(t *testing.T) {
	m, errs := machine(t, `main() { return poke(); }`)
	called := false
	m.RegisterFunction("poke", func(ctx vm.VMContext, self *vm.Object) (int, error) {
		called = true
		return 0, nil
	})
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)
	m.Run(8)
	require.Empty(t, *errs)
	require.True(t, called)
	require.Equal(t, vm.Undefined{}, thread.Result())
}

func TestWaitTillFrameEnd(t *testing.T) {
	source := `main() { waittillframeend; return 1; }`
	m, errs := machine(t, source)
	thread, err := m.Spawn("test", "main")
	require.NoError(t, err)

	m.Tick() // installs the frame lock
	require.False(t, thread.Done())
	m.AdvanceFrame()
	m.Tick() // lock expired with the frame, shed this tick
	require.False(t, thread.Done())
	m.Tick() // resumes
	require.True(t, thread.Done())
	require.Empty(t, *errs)
}

func TestImplicitReturnIsUndefined(t *testing.T) {
	require.Equal(t, vm.Undefined{}, run(t, `noop() { } main() { return noop(); }`))
	require.Equal(t, vm.Undefined{}, run(t, `main() { a = 1; }`))
}
