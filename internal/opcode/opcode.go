// Package opcode is the single source of truth for Clover's instruction
// encoding (spec.md §4.1): the mnemonic↔opcode↔operand-shape mapping used
// by the compiler (emission), the VM (decode), and the decompiler (parsing).
// It mirrors the teacher's own opcode-table-driven encode/decode split
// (inoxlang/inox's compiler.go `MakeInstruction`/`addInstruction` and
// vm.go's fixed-width operand reads) even though the table itself — unlike
// Inox's, which lives in a separate file not present in the retrieved
// snapshot — is authored here directly from spec.md.
package opcode

import "fmt"

// Op identifies an opcode independent of its 4-bit inline immediate.
// For simple opcodes (0x00-0x3F) Op is the raw byte. For extended
// opcodes (0x40-0xFF) Op is the family nibble (byte & 0xF0); the low
// nibble of the encoded byte carries the inline `index` operand.
type Op byte

// Simple opcodes: the whole byte is the opcode, no inline immediate.
// iota drives the sequence explicitly — omitting it here would make Go
// repeat the literal 0x00 expression for every subsequent identifier
// instead of incrementing.
const (
	Nop Op = iota
	Push
	Pop
	PushRef
	PushDeref
	PopDeref
	PushIntConst
	Dup
	Drop
	Swap
	CallNative
	Return
	SetFrame

	AddInt
	SubInt
	MulInt
	DivInt
	NegInt

	AddFloat
	SubFloat
	MulFloat
	DivFloat
	NegFloat

	LtInt
	LeInt
	EqInt
	NeInt
	GeInt
	GtInt

	LtFloat
	LeFloat
	EqFloat
	NeFloat
	GeFloat
	GtFloat

	BitAnd
	BitOr
	BitXor
	BitNot

	LogicAnd
	LogicOr
	LogicNot

	PreIncInt
	PreDecInt
	PostIncInt
	PostDecInt

	PreIncFloat
	PreDecFloat
	PostIncFloat
	PostDecFloat
)

// Extended opcode families (spec.md §4.1): high nibble selects the
// family, low nibble carries the inline 4-bit immediate.
const (
	If           Op = 0x40
	Jump         Op = 0x50
	Call         Op = 0x60
	Offset       Op = 0x70
	Index        Op = 0x80
	PushIntConstS Op = 0x90
	Log          Op = 0xA0
)

// ExtendedMask isolates the family nibble of a raw encoded byte.
const ExtendedMask = 0xF0

// IsExtended reports whether a raw instruction byte belongs to the
// extended family (0x40 and above, per spec.md §4.1).
func IsExtended(raw byte) bool { return raw >= 0x40 }

// Split decodes a raw leading instruction byte into its family opcode
// and inline 4-bit immediate, per spec.md §4.5 "Fetch/decode".
func Split(raw byte) (op Op, index byte) {
	if IsExtended(raw) {
		return Op(raw & ExtendedMask), raw & 0x0F
	}
	return Op(raw), 0
}

// Shape is the operand encoding for an opcode (spec.md §4.1 table).
type Shape int

const (
	ShapeNone    Shape = iota // no trailing bytes
	ShapeId                   // 1 byte: 8-bit memory id
	ShapeConst                // 1 byte: 8-bit immediate
	ShapeRelTarg              // 1 byte + inline index: 12-bit signed branch offset
	ShapeAbsTarg              // 1 byte + inline index: 12-bit unsigned code offset
	ShapePL                   // 1 byte: high nibble = param count, low nibble = local count
	ShapeIndexImm             // 0 bytes: inline 4-bit index is the whole operand
	ShapeIdxLenS              // 1+Len bytes: inline index = arg count, next byte = string length, then bytes
)

// Info describes one opcode: its mnemonic, its operand shape, and
// whether it is an extended (family+index) opcode.
type Info struct {
	Op       Op
	Mnemonic string
	Shape    Shape
	Extended bool
}

// table is the static array the compiler emits from and the decompiler
// parses against (spec.md §9 "Opcode table as data").
var table = []Info{
	{Nop, "Nop", ShapeNone, false},
	{Push, "Push", ShapeId, false},
	{Pop, "Pop", ShapeId, false},
	{PushRef, "PushRef", ShapeId, false},
	{PushDeref, "PushDeref", ShapeNone, false},
	{PopDeref, "PopDeref", ShapeNone, false},
	{PushIntConst, "PushIntConst", ShapeConst, false},
	{Dup, "Dup", ShapeNone, false},
	{Drop, "Drop", ShapeNone, false},
	{Swap, "Swap", ShapeNone, false},
	{CallNative, "CallNative", ShapeConst, false},
	{Return, "Return", ShapeNone, false},
	{SetFrame, "SetFrame", ShapePL, false},

	{AddInt, "AddInt", ShapeNone, false},
	{SubInt, "SubInt", ShapeNone, false},
	{MulInt, "MulInt", ShapeNone, false},
	{DivInt, "DivInt", ShapeNone, false},
	{NegInt, "NegInt", ShapeNone, false},

	{AddFloat, "AddFloat", ShapeNone, false},
	{SubFloat, "SubFloat", ShapeNone, false},
	{MulFloat, "MulFloat", ShapeNone, false},
	{DivFloat, "DivFloat", ShapeNone, false},
	{NegFloat, "NegFloat", ShapeNone, false},

	{LtInt, "LtInt", ShapeNone, false},
	{LeInt, "LeInt", ShapeNone, false},
	{EqInt, "EqInt", ShapeNone, false},
	{NeInt, "NeInt", ShapeNone, false},
	{GeInt, "GeInt", ShapeNone, false},
	{GtInt, "GtInt", ShapeNone, false},

	{LtFloat, "LtFloat", ShapeNone, false},
	{LeFloat, "LeFloat", ShapeNone, false},
	{EqFloat, "EqFloat", ShapeNone, false},
	{NeFloat, "NeFloat", ShapeNone, false},
	{GeFloat, "GeFloat", ShapeNone, false},
	{GtFloat, "GtFloat", ShapeNone, false},

	{BitAnd, "And", ShapeNone, false},
	{BitOr, "Or", ShapeNone, false},
	{BitXor, "Xor", ShapeNone, false},
	{BitNot, "Not", ShapeNone, false},

	{LogicAnd, "LAnd", ShapeNone, false},
	{LogicOr, "LOr", ShapeNone, false},
	{LogicNot, "LNot", ShapeNone, false},

	{PreIncInt, "PreIncInt", ShapeNone, false},
	{PreDecInt, "PreDecInt", ShapeNone, false},
	{PostIncInt, "PostIncInt", ShapeNone, false},
	{PostDecInt, "PostDecInt", ShapeNone, false},

	{PreIncFloat, "PreIncFloat", ShapeNone, false},
	{PreDecFloat, "PreDecFloat", ShapeNone, false},
	{PostIncFloat, "PostIncFloat", ShapeNone, false},
	{PostDecFloat, "PostDecFloat", ShapeNone, false},

	{If, "If", ShapeRelTarg, true},
	{Jump, "Jump", ShapeRelTarg, true},
	{Call, "Call", ShapeAbsTarg, true},
	{Offset, "Offset", ShapeIndexImm, true},
	{Index, "Index", ShapeIndexImm, true},
	{PushIntConstS, "PushIntConstS", ShapeIndexImm, true},
	{Log, "Log", ShapeIdxLenS, true},
}

var byOp = func() map[Op]Info {
	m := make(map[Op]Info, len(table))
	for _, info := range table {
		m[info.Op] = info
	}
	return m
}()

var byMnemonic = func() map[string]Info {
	m := make(map[string]Info, len(table))
	for _, info := range table {
		m[info.Mnemonic] = info
	}
	return m
}()

// Lookup returns the table entry for a decoded family opcode.
func Lookup(op Op) (Info, bool) {
	info, ok := byOp[op]
	return info, ok
}

// LookupMnemonic resolves a mnemonic string, used by the frontend's
// emission helpers and by a decompiler re-parsing assembly text.
func LookupMnemonic(name string) (Info, bool) {
	info, ok := byMnemonic[name]
	return info, ok
}

// String renders an opcode by its table mnemonic, falling back to its
// raw byte value for anything not in the table (decoded garbage).
func (op Op) String() string {
	if info, ok := byOp[op]; ok {
		return info.Mnemonic
	}
	return fmt.Sprintf("Op(%#02x)", byte(op))
}

// MustLookup is Lookup but panics on an unknown opcode; only used where
// the opcode value is a package-internal constant, never on decoded
// untrusted bytes (which must go through Lookup and handle the error).
func MustLookup(op Op) Info {
	info, ok := Lookup(op)
	if !ok {
		panic(fmt.Sprintf("opcode: no table entry for %#02x", byte(op)))
	}
	return info
}
