package compiler_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clover-lang/clover/internal/compiler"
	"github.com/clover-lang/clover/internal/native"
	"github.com/clover-lang/clover/internal/vm"
)

// run compiles src and executes "test"'s Init() entry point through a
// fresh VM, returning its result.
func run(t *testing.T, src string) int32 {
	t.Helper()
	img, err := compiler.Compile(src, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
	data, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	host := vm.NewByteHost(data, func(string) {})
	m := vm.New(host, []vm.NativeModule{native.NewCore(nil)})
	result, err := m.Init("test", nil)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return result
}

// TestEndToEndScenarios exercises spec.md §8's canonical programs
// end to end: source text in, a single VM-executed int32 result out.
func TestEndToEndScenarios(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want int32
	}{
		{
			name: "command dispatch",
			src: `
command test Init Loop;
function int Init() { return 42; }
function int Loop() { return 0; }
`,
			want: 42,
		},
		{
			name: "local decl and pre-increment",
			src: `
command test Init Loop;
function int Init() { int x = 3; return ++x * 2; }
function int Loop() { return 0; }
`,
			want: 8,
		},
		{
			name: "global array indexing",
			src: `
command test Init Loop;
var int a[4];
function int Init() {
	a[0] = 10;
	a[1] = 20;
	a[2] = 30;
	a[3] = 40;
	return a[2] + a[1];
}
function int Loop() { return 0; }
`,
			want: 50,
		},
		{
			name: "struct field access",
			src: `
command test Init Loop;
struct P { int x; int y; }
var P p;
function int Init() {
	p.x = 7;
	p.y = 11;
	return p.x + p.y;
}
function int Loop() { return 0; }
`,
			want: 18,
		},
		{
			name: "for loop with break and continue",
			src: `
command test Init Loop;
function int Init() {
	int s = 0;
	for (int i = 0; i < 10; ++i) {
		if (i == 5) break;
		if (i == 2) continue;
		s += i;
	}
	return s;
}
function int Loop() { return 0; }
`,
			want: 8,
		},
		{
			name: "native MaxInt/MinInt calls",
			src: `
command test Init Loop;
function int Init() { return MaxInt(3, 7) + MinInt(4, 9); }
function int Loop() { return 0; }
`,
			want: 11,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := run(t, tc.src)
			if got != tc.want {
				t.Errorf("got %d, want %d", got, tc.want)
			}
		})
	}
}

// TestForwardFunctionCall exercises the two-pass compile that lets a
// function call one declared later in the same file.
func TestForwardFunctionCall(t *testing.T) {
	src := `
command test Init Loop;
function int Init() { return helper() + 1; }
function int helper() { return 41; }
function int Loop() { return 0; }
`
	if got := run(t, src); got != 42 {
		t.Errorf("got %d, want 42", got)
	}
}

// TestWhileAndLoop covers the while/loop statement forms alongside for.
func TestWhileAndLoop(t *testing.T) {
	src := `
command test Init Loop;
function int Init() {
	int n = 5;
	int total = 0;
	while (n > 0) {
		total += n;
		--n;
	}
	loop {
		if (n == 3) break;
		++n;
	}
	return total + n;
}
function int Loop() { return 0; }
`
	if got := run(t, src); got != 18 {
		t.Errorf("got %d, want 18", got)
	}
}

// TestPointerAssignment exercises the extra-dereference splice for
// storing through a pointer versus reassigning the pointer itself.
func TestPointerAssignment(t *testing.T) {
	src := `
command test Init Loop;
function int Init() {
	int v = 5;
	int* p = &v;
	p = 9;
	return v;
}
function int Loop() { return 0; }
`
	if got := run(t, src); got != 9 {
		t.Errorf("got %d, want 9", got)
	}
}

// TestCallWithExistingPointerVariable passes an already-pointer-typed
// local (not a fresh &expr) as a call argument. parseCall must bake it
// with wantPtr=true for a pointer-typed formal parameter, or bakeRight
// inserts a spurious PushDeref and the callee receives the pointee's
// value instead of its address.
func TestCallWithExistingPointerVariable(t *testing.T) {
	src := `
command test Init Loop;
function int bump(int* p) {
	p = p + 1;
	return 0;
}
function int Init() {
	int v = 5;
	int* p = &v;
	bump(p);
	return v;
}
function int Loop() { return 0; }
`
	if got := run(t, src); got != 6 {
		t.Errorf("got %d, want 6", got)
	}
}

// TestCallArgumentTypeMismatchFails checks that passing a plain int
// where a pointer-typed formal is declared is rejected at compile time
// rather than silently miscompiling (mirrors the original's
// argumentList: `expect(bakeExpr(...) == t, MismatchedType)`).
func TestCallArgumentTypeMismatchFails(t *testing.T) {
	src := `
command test Init Loop;
function int bump(int* p) { return 0; }
function int Init() {
	int v = 5;
	return bump(v);
}
function int Loop() { return 0; }
`
	_, err := compiler.Compile(src, compiler.DefaultOptions())
	if err == nil {
		t.Fatal("expected a compile error for a non-pointer argument passed to a pointer parameter")
	}
	cerr, ok := err.(*compiler.Error)
	if !ok {
		t.Fatalf("expected *compiler.Error, got %T", err)
	}
	if cerr.Kind != compiler.MismatchedType {
		t.Errorf("got %v, want MismatchedType", cerr.Kind)
	}
}

// TestCompileErrorUndefinedIdentifier checks that referencing an
// undeclared name surfaces a compile error rather than panicking.
func TestCompileErrorUndefinedIdentifier(t *testing.T) {
	src := `
command test Init Loop;
function int Init() { return doesNotExist(); }
function int Loop() { return 0; }
`
	if _, err := compiler.Compile(src, compiler.DefaultOptions()); err == nil {
		t.Fatal("expected a compile error, got nil")
	}
}

// TestCommandParamCountRoundTrips checks that an explicit command
// parameter-byte count (the original's `command <id> <integer> <id>
// <id>` form) survives into the encoded image's command table.
func TestCommandParamCountRoundTrips(t *testing.T) {
	src := `
command test 2 Init Loop;
function int Init() { return Param(0) + Param(1); }
function int Loop() { return 0; }
`
	img, err := compiler.Compile(src, compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	cmd, ok := img.FindCommand("test")
	if !ok {
		t.Fatal("expected a command named test")
	}
	if cmd.ParamBytes != 2 {
		t.Errorf("got ParamBytes=%d, want 2", cmd.ParamBytes)
	}
}

// TestCompileDeduplicatesConstantPool checks the constant pool and
// command table structurally, the same way the teacher's own
// expectBytecode compares a whole instructions/constants slice at once
// rather than element by element.
func TestCompileDeduplicatesConstantPool(t *testing.T) {
	src := `
command test Init Loop;
function int Init() { return 1000 + 1000 + 2000; }
function int Loop() { return 0; }
`
	img, err := compiler.Compile(src, compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	// Literals in [0,255] are baked as inline immediates and never reach
	// the ROM constant pool; only 1000 and 2000 do, and 1000 is pooled
	// once despite appearing twice.
	assert.ElementsMatch(t, []int32{1000, 2000}, img.Constants, "repeated literal 1000 should be pooled once")
	assert.Len(t, img.Commands, 1)
	assert.Equal(t, "test", img.Commands[0].Name)
	assert.EqualValues(t, 0, img.Commands[0].ParamBytes)
}

// TestOptionsTraceEmitsOneLinePerDeclaration checks Options.Trace, the
// cmd/clover -v facility's hook into the compiler.
func TestOptionsTraceEmitsOneLinePerDeclaration(t *testing.T) {
	src := `
command test Init helper;
const int limit = 3;
struct P { int x; }
var P p;
function int Init() { return 0; }
function int helper() { return 0; }
`
	var trace bytes.Buffer
	opt := compiler.DefaultOptions()
	opt.Trace = &trace
	if _, err := compiler.Compile(src, opt); err != nil {
		t.Fatal(err)
	}
	out := trace.String()
	for _, want := range []string{
		"compiled command test",
		"compiled const limit",
		"compiled struct P",
		"compiled var p",
		"compiled function Init",
		"compiled function helper",
	} {
		assert.Contains(t, out, want)
	}
}

func TestCommandParamCountOutOfRangeFails(t *testing.T) {
	src := `
command test 17 Init Loop;
function int Init() { return 0; }
function int Loop() { return 0; }
`
	_, err := compiler.Compile(src, compiler.DefaultOptions())
	if err == nil {
		t.Fatal("expected a compile error for a parameter count above 16")
	}
	cerr, ok := err.(*compiler.Error)
	if !ok {
		t.Fatalf("expected *compiler.Error, got %T", err)
	}
	if cerr.Kind != compiler.InvalidParamCount {
		t.Errorf("got %v, want InvalidParamCount", cerr.Kind)
	}
}
