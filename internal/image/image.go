// Package image implements the Clover executable file format of
// spec.md §6.1: the "arly" header, constants area, command table, and
// code area, plus the segment splitter and C-header emission modes of
// §6.2. None of this has an analogue in the teacher (inoxlang/inox's
// Bytecode container is in-memory only, with no fixed binary layout), so
// the layout below is authored directly from spec.md's normative byte
// table.
package image

import (
	"encoding/binary"
	"fmt"
)

const (
	Magic       = "arly"
	HeaderSize  = 12
	ConstOffset = HeaderSize
	CommandSize = 12
	CommandNameLen = 7
)

// Command is one entry of the command table (spec.md §6.1).
type Command struct {
	Name       string // ≤7 bytes, NUL-padded on encode
	ParamBytes byte
	InitEntry  uint16 // byte offset into the code area
	LoopEntry  uint16
}

// Image is the decoded form of a Clover executable.
type Image struct {
	Constants []int32 // one 32-bit word per ROM constant slot
	Global    uint16  // word count
	Stack     uint16  // word count
	Commands  []Command
	Code      []byte
}

// ConstByteOffset computes the byte offset of constant id i, matching
// spec.md §6.1: "the runtime computes the byte offset as
// id*4 + ConstOffset".
func ConstByteOffset(id int) int { return id*4 + ConstOffset }

// Encode serializes an Image to the on-disk byte layout.
func (img *Image) Encode() ([]byte, error) {
	if len(img.Constants) > 0xFFFF {
		return nil, fmt.Errorf("image: too many constants (%d)", len(img.Constants))
	}
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(img.Constants)))
	binary.LittleEndian.PutUint16(buf[6:8], img.Global)
	binary.LittleEndian.PutUint16(buf[8:10], img.Stack)
	// buf[10:12] reserved, zero

	for _, c := range img.Constants {
		var w [4]byte
		binary.LittleEndian.PutUint32(w[:], uint32(c))
		buf = append(buf, w[:]...)
	}

	for _, cmd := range img.Commands {
		if len(cmd.Name) > CommandNameLen {
			return nil, fmt.Errorf("image: command name %q longer than %d bytes", cmd.Name, CommandNameLen)
		}
		entry := make([]byte, CommandSize)
		copy(entry[:CommandNameLen], cmd.Name)
		entry[CommandNameLen] = cmd.ParamBytes
		binary.LittleEndian.PutUint16(entry[8:10], cmd.InitEntry)
		binary.LittleEndian.PutUint16(entry[10:12], cmd.LoopEntry)
		buf = append(buf, entry...)
	}
	buf = append(buf, 0) // command table terminator

	buf = append(buf, img.Code...)
	return buf, nil
}

// Decode parses an on-disk image, used by the VM loader and the
// decompiler.
func Decode(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("image: truncated header")
	}
	if string(data[0:4]) != Magic {
		return nil, fmt.Errorf("image: bad magic %q", data[0:4])
	}
	constWords := binary.LittleEndian.Uint16(data[4:6])
	global := binary.LittleEndian.Uint16(data[6:8])
	stack := binary.LittleEndian.Uint16(data[8:10])

	img := &Image{Global: global, Stack: stack}

	off := HeaderSize
	need := off + int(constWords)*4
	if len(data) < need {
		return nil, fmt.Errorf("image: truncated constants area")
	}
	img.Constants = make([]int32, constWords)
	for i := 0; i < int(constWords); i++ {
		img.Constants[i] = int32(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
	}

	for {
		if off >= len(data) {
			return nil, fmt.Errorf("image: command table missing terminator")
		}
		if data[off] == 0 {
			off++
			break
		}
		if off+CommandSize > len(data) {
			return nil, fmt.Errorf("image: truncated command entry")
		}
		entry := data[off : off+CommandSize]
		name := string(entry[:CommandNameLen])
		for i := 0; i < len(name); i++ {
			if name[i] == 0 {
				name = name[:i]
				break
			}
		}
		img.Commands = append(img.Commands, Command{
			Name:       name,
			ParamBytes: entry[CommandNameLen],
			InitEntry:  binary.LittleEndian.Uint16(entry[8:10]),
			LoopEntry:  binary.LittleEndian.Uint16(entry[10:12]),
		})
		off += CommandSize
	}

	img.Code = data[off:]
	return img, nil
}

// FindCommand resolves a command by name, per spec.md §4.6 init()/loop().
func (img *Image) FindCommand(name string) (Command, bool) {
	for _, c := range img.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// MaxSegmentSize bounds the -s CLI mode's split output (spec.md §6.2).
const MaxSegmentSize = 64

// Segment is one ≤64-byte chunk of a split image, prefixed on disk by
// its 16-bit little-endian load address.
type Segment struct {
	LoadAddress uint16
	Data        []byte
}

// Split breaks an encoded image into load-addressed segments for the
// -s CLI mode.
func Split(encoded []byte) []Segment {
	var segs []Segment
	for off := 0; off < len(encoded); off += MaxSegmentSize {
		end := off + MaxSegmentSize
		if end > len(encoded) {
			end = len(encoded)
		}
		segs = append(segs, Segment{LoadAddress: uint16(off), Data: encoded[off:end]})
	}
	return segs
}

// EncodeSegmentFile serializes one segment as written to a <base>NN.arlx file:
// a 16-bit little-endian load address followed by the segment bytes.
func EncodeSegmentFile(seg Segment) []byte {
	buf := make([]byte, 2+len(seg.Data))
	binary.LittleEndian.PutUint16(buf[0:2], seg.LoadAddress)
	copy(buf[2:], seg.Data)
	return buf
}

// EmitCHeader renders the image as a C include file defining
// EEPROM_Upload_<base>[] and its size, for the -h CLI mode (spec.md
// §6.2).
func EmitCHeader(base string, encoded []byte) string {
	out := fmt.Sprintf("// generated by clover -h, do not edit\nconst unsigned char EEPROM_Upload_%s[] = {\n", base)
	for i, b := range encoded {
		if i%12 == 0 {
			out += "    "
		}
		out += fmt.Sprintf("0x%02X,", b)
		if i%12 == 11 {
			out += "\n"
		} else {
			out += " "
		}
	}
	out += fmt.Sprintf("\n};\nconst unsigned int EEPROM_Upload_%s_size = %d;\n", base, len(encoded))
	return out
}
