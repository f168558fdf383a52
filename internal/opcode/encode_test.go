package opcode

import "testing"

func TestRelTargRoundTrip(t *testing.T) {
	cases := []int{0, 1, -1, MinRelTarg, MaxRelTarg, 17, -17}
	for _, offset := range cases {
		buf, err := EncodeRelTarg(nil, If, offset)
		if err != nil {
			t.Fatalf("EncodeRelTarg(%d): %v", offset, err)
		}
		op, index := Split(buf[0])
		if op != If {
			t.Fatalf("Split: got op %v, want If", op)
		}
		got := DecodeRelTarg(index, buf[1])
		if got != offset {
			t.Errorf("round trip %d: got %d", offset, got)
		}
	}
}

func TestRelTargOutOfRange(t *testing.T) {
	if _, err := EncodeRelTarg(nil, If, MaxRelTarg+1); err != ErrJumpTooBig {
		t.Errorf("expected ErrJumpTooBig, got %v", err)
	}
	if _, err := EncodeRelTarg(nil, If, MinRelTarg-1); err != ErrJumpTooBig {
		t.Errorf("expected ErrJumpTooBig, got %v", err)
	}
}

func TestAbsTargRoundTrip(t *testing.T) {
	cases := []int{0, 1, MaxAbsTarg, 2048}
	for _, target := range cases {
		buf, err := EncodeAbsTarg(nil, Call, target)
		if err != nil {
			t.Fatalf("EncodeAbsTarg(%d): %v", target, err)
		}
		_, index := Split(buf[0])
		got := DecodeAbsTarg(index, buf[1])
		if got != target {
			t.Errorf("round trip %d: got %d", target, got)
		}
	}
	if _, err := EncodeAbsTarg(nil, Call, MaxAbsTarg+1); err != ErrJumpTooBig {
		t.Errorf("expected ErrJumpTooBig, got %v", err)
	}
	if _, err := EncodeAbsTarg(nil, Call, -1); err != ErrJumpTooBig {
		t.Errorf("expected ErrJumpTooBig, got %v", err)
	}
}

func TestPatchRelTarg(t *testing.T) {
	buf, err := EncodeRelTarg(nil, Jump, 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := PatchRelTarg(buf, 0, -100); err != nil {
		t.Fatal(err)
	}
	op, index := Split(buf[0])
	if op != Jump {
		t.Fatalf("PatchRelTarg clobbered the family nibble: got %v", op)
	}
	if got := DecodeRelTarg(index, buf[1]); got != -100 {
		t.Errorf("got %d, want -100", got)
	}
}

func TestPatchAbsTarg(t *testing.T) {
	buf, err := EncodeAbsTarg(nil, Call, 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := PatchAbsTarg(buf, 0, 4000); err != nil {
		t.Fatal(err)
	}
	op, index := Split(buf[0])
	if op != Call {
		t.Fatalf("PatchAbsTarg clobbered the family nibble: got %v", op)
	}
	if got := DecodeAbsTarg(index, buf[1]); got != 4000 {
		t.Errorf("got %d, want 4000", got)
	}
}

func TestEncodePLRoundTrip(t *testing.T) {
	buf := EncodePL(nil, 3, 7)
	_, index := Split(buf[0])
	p, l := DecodePL(buf[1])
	_ = index
	if p != 3 || l != 7 {
		t.Errorf("got p=%d l=%d, want 3,7", p, l)
	}
}

func TestEncodePLOverflowPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range param/local count")
		}
	}()
	EncodePL(nil, 16, 0)
}

func TestEncodeIndexImmBounds(t *testing.T) {
	if _, err := EncodeIndexImm(nil, Index, 15); err != nil {
		t.Errorf("15 should fit in 4 bits: %v", err)
	}
	if _, err := EncodeIndexImm(nil, Index, 16); err == nil {
		t.Error("expected an error for a 4-bit overflow")
	}
}

func TestEncodeLogAndSize(t *testing.T) {
	buf, err := EncodeLog(nil, 2, "x=%i y=%i")
	if err != nil {
		t.Fatal(err)
	}
	_, argc := Split(buf[0])
	if int(argc) != 2 {
		t.Errorf("argc: got %d, want 2", argc)
	}
	strLen := int(buf[1])
	if strLen != len("x=%i y=%i") {
		t.Errorf("format length: got %d", strLen)
	}
	if string(buf[2:2+strLen]) != "x=%i y=%i" {
		t.Errorf("format text: got %q", buf[2:2+strLen])
	}
	if got := Size(ShapeIdxLenS, strLen); got != len(buf) {
		t.Errorf("Size: got %d, want %d", got, len(buf))
	}
}

func TestEncodeLogArgCountOverflow(t *testing.T) {
	if _, err := EncodeLog(nil, 16, ""); err == nil {
		t.Error("expected an error for a 4-bit argument-count overflow")
	}
}

func TestSizeFixedShapes(t *testing.T) {
	cases := map[Shape]int{
		ShapeNone:     1,
		ShapeIndexImm: 1,
		ShapeId:       2,
		ShapeConst:    2,
		ShapeRelTarg:  2,
		ShapeAbsTarg:  2,
		ShapePL:       2,
	}
	for shape, want := range cases {
		if got := Size(shape, 0); got != want {
			t.Errorf("Size(%d): got %d, want %d", shape, got, want)
		}
	}
}

func TestLookupAndMnemonic(t *testing.T) {
	info, ok := Lookup(AddInt)
	if !ok || info.Mnemonic == "" {
		t.Fatalf("Lookup(AddInt): ok=%v info=%+v", ok, info)
	}
	byName, ok := LookupMnemonic(info.Mnemonic)
	if !ok || byName.Mnemonic != info.Mnemonic {
		t.Errorf("LookupMnemonic(%q) did not round trip", info.Mnemonic)
	}
}

func TestOpStringFallsBackForUnknownByte(t *testing.T) {
	unknown := Op(0x3F) // Nop..family spans to 49; pick a plausibly unused simple byte
	if _, ok := Lookup(unknown); ok {
		t.Skip("byte happens to be a real opcode in this table; nothing to assert")
	}
	if s := unknown.String(); s == "" {
		t.Error("String() returned empty for an unknown opcode")
	}
}

func TestIsExtended(t *testing.T) {
	if IsExtended(0x3F) {
		t.Error("0x3F should be a simple opcode")
	}
	if !IsExtended(0x40) {
		t.Error("0x40 should be the first extended family")
	}
}
