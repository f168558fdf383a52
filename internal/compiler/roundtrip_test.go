package compiler_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/clover-lang/clover/internal/compiler"
	"github.com/clover-lang/clover/internal/decompile"
	"github.com/clover-lang/clover/internal/image"
	"github.com/clover-lang/clover/internal/native"
	"github.com/clover-lang/clover/internal/vm"
)

// TestRoundTripThroughEncodeDecode exercises spec.md §8's "Round-trip"
// testable property: compile(src) -> exec; run(exec, params) must equal
// run(exec', params) where exec' is exec serialized and deserialized
// through the ROM image format. The decompiler's listing of exec and
// exec' is compared structurally with go-cmp, the same tool
// `xplshn/gbc`'s test helpers use to diff a compiler's AST/IR across a
// transformation.
func TestRoundTripThroughEncodeDecode(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{
			name: "struct and array access",
			src: `
command test Init Loop;
struct P { int x; int y; }
var P p;
var int a[4];
function int helper(int n) { return n * 2; }
function int Init() {
	p.x = 7;
	p.y = 11;
	a[0] = 10;
	a[1] = 20;
	int s = 0;
	for (int i = 0; i < 4; ++i) {
		if (i == 2) continue;
		s += helper(i);
	}
	return s + p.x + p.y + a[0] + a[1];
}
function int Loop() { return 0; }
`,
		},
		{
			name: "recursion and natives",
			src: `
command test Init Loop;
function int fact(int n) { if (n <= 1) return 1; return n * fact(n - 1); }
function int Init() { return fact(5) + MaxInt(3, 7) + MinInt(4, 9); }
function int Loop() { return 0; }
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := compiler.Compile(tc.src, compiler.DefaultOptions())
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}

			data, err := img.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			roundTripped, err := image.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			wantListing := decompile.Decompile(img).Lines
			gotListing := decompile.Decompile(roundTripped).Lines
			if diff := cmp.Diff(wantListing, gotListing); diff != "" {
				t.Errorf("decompiled listing changed across an encode/decode round trip (-want +got):\n%s", diff)
			}

			wantResult := runImage(t, img, "test", nil)
			gotResult := runImage(t, roundTripped, "test", nil)
			if diff := cmp.Diff(wantResult, gotResult); diff != "" {
				t.Errorf("VM result changed across an encode/decode round trip (-want +got):\n%s", diff)
			}
		})
	}
}

func runImage(t *testing.T, img *image.Image, cmd string, params []byte) int32 {
	t.Helper()
	data, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	host := vm.NewByteHost(data, func(string) {})
	m := vm.New(host, []vm.NativeModule{native.NewCore(nil)})
	result, err := m.Init(cmd, params)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	return result
}
