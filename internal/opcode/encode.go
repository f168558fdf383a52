package opcode

import "fmt"

// MaxRelTarg/MinRelTarg bound the signed 12-bit branch offset (spec.md
// §4.1: "-2048 ≤ offset ≤ 2047").
const (
	MaxRelTarg = 2047
	MinRelTarg = -2048
	MaxAbsTarg = 4095
)

// ErrJumpTooBig is returned by the RelTarg/AbsTarg encode and patch
// helpers when a branch/call target does not
// fit the 12-bit operand; the compiler surfaces this as the
// JumpTooBig compile error (spec.md §7).
var ErrJumpTooBig = fmt.Errorf("opcode: branch or call target out of 12-bit range")

// Encode appends the bytes for one instruction to buf and returns the
// extended result. index is the inline 4-bit immediate for extended
// opcodes (ignored for simple opcodes); operand is the shape-specific
// payload (a memory id, a constant byte, a branch offset, etc. — see
// EncodeXxx helpers below for the typed variants compiler code should
// prefer).
func Encode(buf []byte, op Op, index byte, shape Shape, operand []byte) ([]byte, error) {
	info, ok := Lookup(op)
	if !ok {
		return nil, fmt.Errorf("opcode: unknown opcode %#02x", byte(op))
	}
	if info.Shape != shape {
		return nil, fmt.Errorf("opcode: %s expects shape %d, got %d", info.Mnemonic, info.Shape, shape)
	}
	if info.Extended {
		buf = append(buf, byte(op)|(index&0x0F))
	} else {
		buf = append(buf, byte(op))
	}
	buf = append(buf, operand...)
	return buf, nil
}

// EncodeNone emits a no-operand instruction (e.g. Dup, Return, AddInt).
func EncodeNone(buf []byte, op Op) []byte {
	buf, err := Encode(buf, op, 0, ShapeNone, nil)
	if err != nil {
		panic(err) // programmer error: wrong shape for a fixed mnemonic
	}
	return buf
}

// EncodeId emits Push/Pop/PushRef with an 8-bit memory id operand.
func EncodeId(buf []byte, op Op, id byte) []byte {
	buf, err := Encode(buf, op, 0, ShapeId, []byte{id})
	if err != nil {
		panic(err)
	}
	return buf
}

// EncodeConst emits an 8-bit immediate operand (PushIntConst, CallNative).
func EncodeConst(buf []byte, op Op, c byte) []byte {
	buf, err := Encode(buf, op, 0, ShapeConst, []byte{c})
	if err != nil {
		panic(err)
	}
	return buf
}

// EncodePL emits SetFrame's packed param-count/local-count byte.
func EncodePL(buf []byte, paramCount, localCount byte) []byte {
	if paramCount > 0x0F || localCount > 0x0F {
		panic("opcode: SetFrame param/local count exceeds 4 bits")
	}
	buf, err := Encode(buf, SetFrame, 0, ShapePL, []byte{paramCount<<4 | localCount})
	if err != nil {
		panic(err)
	}
	return buf
}

// DecodePL splits SetFrame's operand byte.
func DecodePL(b byte) (paramCount, localCount int) {
	return int(b >> 4), int(b & 0x0F)
}

// EncodeIndexImm emits an opcode whose entire operand is the inline
// 4-bit immediate (Offset, Index, PushIntConstS).
func EncodeIndexImm(buf []byte, op Op, index byte) ([]byte, error) {
	if index > 0x0F {
		return nil, fmt.Errorf("opcode: inline index %d exceeds 4 bits", index)
	}
	return Encode(buf, op, index, ShapeIndexImm, nil)
}

// EncodeRelTarg emits If/Jump with a signed 12-bit relative offset,
// measured from the byte following this instruction's operand (spec.md
// §4.1). The offset is split into its inline high nibble and trailing
// low byte.
func EncodeRelTarg(buf []byte, op Op, offset int) ([]byte, error) {
	if offset < MinRelTarg || offset > MaxRelTarg {
		return nil, ErrJumpTooBig
	}
	u := uint16(offset) & 0x0FFF
	index := byte(u >> 8)
	low := byte(u)
	return Encode(buf, op, index, ShapeRelTarg, []byte{low})
}

// DecodeRelTarg reconstructs the signed 12-bit offset from the inline
// index nibble and trailing byte.
func DecodeRelTarg(index, low byte) int {
	u := uint16(index&0x0F)<<8 | uint16(low)
	if u&0x0800 != 0 {
		return int(u) - 0x1000
	}
	return int(u)
}

// EncodeAbsTarg emits Call with a 12-bit unsigned code-section offset.
func EncodeAbsTarg(buf []byte, op Op, target int) ([]byte, error) {
	if target < 0 || target > MaxAbsTarg {
		return nil, ErrJumpTooBig
	}
	u := uint16(target)
	index := byte(u >> 8)
	low := byte(u)
	return Encode(buf, op, index, ShapeAbsTarg, []byte{low})
}

// DecodeAbsTarg reconstructs the unsigned 12-bit code offset.
func DecodeAbsTarg(index, low byte) int {
	return int(index&0x0F)<<8 | int(low)
}

// PatchRelTarg overwrites an already-emitted If/Jump instruction's offset
// in place, used to resolve forward branches once the target address is
// known (spec.md §4.4's backpatch sequences). pos is the byte offset of
// the instruction's leading byte; the family nibble already there is
// preserved.
func PatchRelTarg(buf []byte, pos int, offset int) error {
	if offset < MinRelTarg || offset > MaxRelTarg {
		return ErrJumpTooBig
	}
	u := uint16(offset) & 0x0FFF
	buf[pos] = (buf[pos] & ExtendedMask) | byte(u>>8)
	buf[pos+1] = byte(u)
	return nil
}

// PatchAbsTarg overwrites an already-emitted Call instruction's target
// in place, used once the callee's final code offset is known.
func PatchAbsTarg(buf []byte, pos int, target int) error {
	if target < 0 || target > MaxAbsTarg {
		return ErrJumpTooBig
	}
	u := uint16(target)
	buf[pos] = (buf[pos] & ExtendedMask) | byte(u>>8)
	buf[pos+1] = byte(u)
	return nil
}

// EncodeLog emits Log's variable-length payload: inline index = argument
// count, next byte = format-string length, then that many bytes.
func EncodeLog(buf []byte, argCount byte, format string) ([]byte, error) {
	if argCount > 0x0F {
		return nil, fmt.Errorf("opcode: Log argument count %d exceeds 4 bits", argCount)
	}
	if len(format) > 0xFF {
		return nil, fmt.Errorf("opcode: Log format string too long (%d bytes)", len(format))
	}
	operand := make([]byte, 0, 1+len(format))
	operand = append(operand, byte(len(format)))
	operand = append(operand, format...)
	return Encode(buf, Log, argCount, ShapeIdxLenS, operand)
}

// Size returns the total encoded size in bytes of one instruction given
// its shape and, for Idx_Len_S, the format-string length.
func Size(shape Shape, strLen int) int {
	switch shape {
	case ShapeNone, ShapeIndexImm:
		return 1
	case ShapeId, ShapeConst, ShapeRelTarg, ShapeAbsTarg, ShapePL:
		return 2
	case ShapeIdxLenS:
		return 2 + strLen
	default:
		panic("opcode: unknown shape")
	}
}
