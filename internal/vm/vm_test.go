package vm_test

import (
	"testing"

	"github.com/clover-lang/clover/internal/compiler"
	"github.com/clover-lang/clover/internal/native"
	"github.com/clover-lang/clover/internal/vm"
)

func compileAndInit(t *testing.T, src, cmd string, params []byte) (int32, error) {
	t.Helper()
	img, err := compiler.Compile(src, compiler.DefaultOptions())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	data, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	host := vm.NewByteHost(data, func(string) {})
	m := vm.New(host, []vm.NativeModule{native.NewCore(nil)})
	return m.Init(cmd, params)
}

func TestInitUnknownCommandFaults(t *testing.T) {
	src := `
command test Init Loop;
function int Init() { return 1; }
function int Loop() { return 0; }
`
	_, err := compileAndInit(t, src, "nope", nil)
	if err == nil {
		t.Fatal("expected a CmdNotFound fault")
	}
	fault, ok := err.(*vm.Fault)
	if !ok {
		t.Fatalf("expected *vm.Fault, got %T", err)
	}
	if fault.Kind != vm.CmdNotFound {
		t.Errorf("got %v, want CmdNotFound", fault.Kind)
	}
}

func TestLoopReusesLastInitCommand(t *testing.T) {
	src := `
command test Init Loop;
function int Init() { return 1; }
function int Loop() { return 2; }
`
	img, err := compiler.Compile(src, compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	data, err := img.Encode()
	if err != nil {
		t.Fatal(err)
	}
	host := vm.NewByteHost(data, func(string) {})
	m := vm.New(host, []vm.NativeModule{native.NewCore(nil)})

	if _, err := m.Init("test", nil); err != nil {
		t.Fatal(err)
	}
	got, err := m.Loop()
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("Loop() = %d, want 2", got)
	}
}

func TestLoopBeforeInitFaults(t *testing.T) {
	host := vm.NewByteHost(nil, func(string) {})
	m := vm.New(host, []vm.NativeModule{native.NewCore(nil)})
	if _, err := m.Loop(); err == nil {
		t.Fatal("expected a fault calling Loop before Init")
	}
}

func TestParamPassthrough(t *testing.T) {
	src := `
command test 2 Init Loop;
function int Init() { return Param(0) + Param(1); }
function int Loop() { return 0; }
`
	got, err := compileAndInit(t, src, "test", []byte{5, 9})
	if err != nil {
		t.Fatal(err)
	}
	if got != 14 {
		t.Errorf("got %d, want 14", got)
	}
}

func TestParamOutOfRangeReturnsZero(t *testing.T) {
	src := `
command test 1 Init Loop;
function int Init() { return Param(7); }
function int Loop() { return 0; }
`
	got, err := compileAndInit(t, src, "test", []byte{5})
	if err != nil {
		t.Fatal(err)
	}
	if got != 0 {
		t.Errorf("got %d, want 0 (Param out of range)", got)
	}
}

func TestInitRejectsWrongParamCount(t *testing.T) {
	src := `
command test 2 Init Loop;
function int Init() { return Param(0) + Param(1); }
function int Loop() { return 0; }
`
	_, err := compileAndInit(t, src, "test", []byte{5})
	if err == nil {
		t.Fatal("expected a WrongNumberOfArgs fault")
	}
	fault, ok := err.(*vm.Fault)
	if !ok {
		t.Fatalf("expected *vm.Fault, got %T", err)
	}
	if fault.Kind != vm.WrongNumberOfArgs {
		t.Errorf("got %v, want WrongNumberOfArgs", fault.Kind)
	}
}

func TestNestedFunctionCallsPreserveFrames(t *testing.T) {
	src := `
command test Init Loop;
function int add(int a, int b) { return a + b; }
function int addThree(int a, int b, int c) { return add(add(a, b), c); }
function int Init() { return addThree(1, 2, 3); }
function int Loop() { return 0; }
`
	got, err := compileAndInit(t, src, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 6 {
		t.Errorf("got %d, want 6", got)
	}
}

func TestRecursiveFunctionCall(t *testing.T) {
	src := `
command test Init Loop;
function int fact(int n) {
	if (n <= 1) return 1;
	return n * fact(n - 1);
}
function int Init() { return fact(5); }
function int Loop() { return 0; }
`
	got, err := compileAndInit(t, src, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 120 {
		t.Errorf("got %d, want 120", got)
	}
}

func TestFloatArithmeticAndConversion(t *testing.T) {
	src := `
command test Init Loop;
function int Init() {
	float f = 2.5;
	f = f + 1.5;
	return Int(f);
}
function int Loop() { return 0; }
`
	got, err := compileAndInit(t, src, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != 4 {
		t.Errorf("got %d, want 4", got)
	}
}
