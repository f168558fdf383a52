// Package decompile re-parses a Clover ROM image using the opcode table
// and produces annotated assembly-like text (spec.md §6.1's inverse),
// grounded on the same table-driven decode shape internal/vm's fetch
// loop uses, but without any of the VM's execution semantics — this
// package only ever reads bytes and formats text.
package decompile

import (
	"fmt"
	"strings"

	"github.com/clover-lang/clover/internal/addr"
	"github.com/clover-lang/clover/internal/image"
	"github.com/clover-lang/clover/internal/opcode"
)

// Listing is the textual result of decompiling one image: a header
// summary, then Lines, which opens with the constant and command summary
// lines and continues with one annotated line per instruction in the code
// area, offsets relative to the start of the code area.
type Listing struct {
	Header string
	Lines  []string
}

// String joins the header and instruction lines into one printable
// listing, the form the CLI's -d flag writes to stdout.
func (l *Listing) String() string {
	var sb strings.Builder
	sb.WriteString(l.Header)
	sb.WriteByte('\n')
	for _, line := range l.Lines {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Decompile parses img (already decoded by internal/image) into a
// Listing. It never fails on a well-formed image; a byte sequence that
// does not match any table entry is rendered as a "???" line rather
// than aborting, so a partially-corrupt image can still be inspected.
func Decompile(img *image.Image) *Listing {
	header := fmt.Sprintf(
		"; constants=%d globals=%d stack=%d commands=%d code_bytes=%d",
		len(img.Constants), img.Global, img.Stack, len(img.Commands), len(img.Code),
	)

	var lines []string
	lines = append(lines, constantLines(img)...)
	lines = append(lines, commandLines(img)...)

	code := img.Code
	for off := 0; off < len(code); {
		line, size := decodeOne(code, off)
		lines = append(lines, line)
		if size <= 0 {
			size = 1
		}
		off += size
	}
	return &Listing{Header: header, Lines: lines}
}

func constantLines(img *image.Image) []string {
	lines := make([]string, 0, len(img.Constants))
	for i, v := range img.Constants {
		lines = append(lines, fmt.Sprintf("; const[%d] = %d (%#08x)", i, v, uint32(v)))
	}
	return lines
}

func commandLines(img *image.Image) []string {
	lines := make([]string, 0, len(img.Commands))
	for _, c := range img.Commands {
		lines = append(lines, fmt.Sprintf(
			"; command %q params=%d init=@%d loop=@%d",
			c.Name, c.ParamBytes, c.InitEntry, c.LoopEntry,
		))
	}
	return lines
}

// decodeOne renders one instruction starting at code[off] and returns
// its rendering alongside its total size in bytes (including the
// leading opcode byte), so the caller can advance past it.
func decodeOne(code []byte, off int) (string, int) {
	raw := code[off]
	op, index := opcode.Split(raw)
	info, ok := opcode.Lookup(op)
	if !ok {
		return fmt.Sprintf("%5d: %#02x  ??? unknown opcode", off, raw), 1
	}

	switch info.Shape {
	case opcode.ShapeNone:
		return fmt.Sprintf("%5d: %-14s", off, info.Mnemonic), 1

	case opcode.ShapeIndexImm:
		return fmt.Sprintf("%5d: %-14s %d", off, info.Mnemonic, index), 1

	case opcode.ShapeId, opcode.ShapeConst:
		if off+1 >= len(code) {
			return fmt.Sprintf("%5d: %-14s <truncated>", off, info.Mnemonic), len(code) - off
		}
		operand := code[off+1]
		if info.Shape == opcode.ShapeId {
			a := addr.Decode(operand)
			return fmt.Sprintf("%5d: %-14s %s", off, info.Mnemonic, a), 2
		}
		return fmt.Sprintf("%5d: %-14s %d", off, info.Mnemonic, operand), 2

	case opcode.ShapePL:
		if off+1 >= len(code) {
			return fmt.Sprintf("%5d: %-14s <truncated>", off, info.Mnemonic), len(code) - off
		}
		p, l := opcode.DecodePL(code[off+1])
		return fmt.Sprintf("%5d: %-14s params=%d locals=%d", off, info.Mnemonic, p, l), 2

	case opcode.ShapeRelTarg:
		if off+1 >= len(code) {
			return fmt.Sprintf("%5d: %-14s <truncated>", off, info.Mnemonic), len(code) - off
		}
		rel := opcode.DecodeRelTarg(index, code[off+1])
		target := off + 2 + rel
		return fmt.Sprintf("%5d: %-14s %+d (-> %d)", off, info.Mnemonic, rel, target), 2

	case opcode.ShapeAbsTarg:
		if off+1 >= len(code) {
			return fmt.Sprintf("%5d: %-14s <truncated>", off, info.Mnemonic), len(code) - off
		}
		target := opcode.DecodeAbsTarg(index, code[off+1])
		return fmt.Sprintf("%5d: %-14s -> %d", off, info.Mnemonic, target), 2

	case opcode.ShapeIdxLenS:
		if off+1 >= len(code) {
			return fmt.Sprintf("%5d: %-14s <truncated>", off, info.Mnemonic), len(code) - off
		}
		strLen := int(code[off+1])
		end := off + 2 + strLen
		if end > len(code) {
			return fmt.Sprintf("%5d: %-14s <truncated format string>", off, info.Mnemonic), len(code) - off
		}
		format := string(code[off+2 : end])
		return fmt.Sprintf("%5d: %-14s argc=%d %q", off, info.Mnemonic, index, format), 2 + strLen
	}

	return fmt.Sprintf("%5d: %-14s <unhandled shape>", off, info.Mnemonic), 1
}
