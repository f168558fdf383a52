package image

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	img := &Image{
		Constants: []int32{1, -2, 1000},
		Global:    3,
		Stack:     64,
		Commands: []Command{
			{Name: "blink", ParamBytes: 2, InitEntry: 4, LoopEntry: 10},
		},
		Code: []byte{0x0C, 0x30, 0x0B}, // SetFrame params=3 locals=0; Return
	}

	data, err := img.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	assert.Equal(t, img.Constants, got.Constants)
	assert.Equal(t, img.Global, got.Global)
	assert.Equal(t, img.Stack, got.Stack)
	assert.Equal(t, img.Commands, got.Commands)
	assert.Equal(t, img.Code, got.Code)

	if found, ok := got.FindCommand("blink"); !ok || found.InitEntry != 4 {
		t.Errorf("FindCommand(blink): got %+v ok=%v", found, ok)
	}
	if _, ok := got.FindCommand("nope"); ok {
		t.Error("FindCommand should fail for an undeclared command")
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := []byte("xxxx\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	if _, err := Decode(data); err == nil {
		t.Error("expected an error for bad magic bytes")
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte("arly")); err == nil {
		t.Error("expected an error for a truncated header")
	}
}

func TestEncodeRejectsOverlongCommandName(t *testing.T) {
	img := &Image{Commands: []Command{{Name: "toolongname"}}}
	if _, err := img.Encode(); err == nil {
		t.Error("expected an error for a command name over 7 bytes")
	}
}

func TestConstByteOffset(t *testing.T) {
	if got := ConstByteOffset(0); got != ConstOffset {
		t.Errorf("ConstByteOffset(0): got %d, want %d", got, ConstOffset)
	}
	if got := ConstByteOffset(3); got != ConstOffset+12 {
		t.Errorf("ConstByteOffset(3): got %d, want %d", got, ConstOffset+12)
	}
}

func TestSplitAndEncodeSegmentFile(t *testing.T) {
	data := make([]byte, MaxSegmentSize+10)
	for i := range data {
		data[i] = byte(i)
	}
	segs := Split(data)
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].LoadAddress != 0 || len(segs[0].Data) != MaxSegmentSize {
		t.Errorf("segment 0: got addr=%d len=%d", segs[0].LoadAddress, len(segs[0].Data))
	}
	if segs[1].LoadAddress != MaxSegmentSize || len(segs[1].Data) != 10 {
		t.Errorf("segment 1: got addr=%d len=%d", segs[1].LoadAddress, len(segs[1].Data))
	}

	file := EncodeSegmentFile(segs[1])
	if len(file) != 2+10 {
		t.Fatalf("got %d bytes, want %d", len(file), 12)
	}
	if file[0] != byte(MaxSegmentSize) || file[1] != 0 {
		t.Errorf("load address header: got %v", file[:2])
	}
	if !bytes.Equal(file[2:], segs[1].Data) {
		t.Error("segment payload mismatch")
	}
}

func TestEmitCHeader(t *testing.T) {
	out := EmitCHeader("blink", []byte{0x01, 0x02, 0x03})
	if !strings.Contains(out, "EEPROM_Upload_blink[]") {
		t.Errorf("missing array declaration: %q", out)
	}
	if !strings.Contains(out, "0x01,") || !strings.Contains(out, "0x02,") || !strings.Contains(out, "0x03,") {
		t.Errorf("missing byte literals: %q", out)
	}
	if !strings.Contains(out, "EEPROM_Upload_blink_size = 3") {
		t.Errorf("missing size constant: %q", out)
	}
}
